/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package engine implements the Engine Pair and the crossfade protocol of
// §4.6: two independent playback engines sharing one output graph, with
// volume automation, filter sweeps, rate ramping, and an idempotent UI
// commit. It is the Go-side successor to the teacher's PCM-mixing
// pcmCrossfadeSession, generalised from a fixed linear fade to the full
// equal-power/bass-swap/custom-automation protocol the planner can produce.
package engine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/automixengine/internal/automix/gain"
	"github.com/friendsincode/automixengine/internal/automix/model"
	"github.com/friendsincode/automixengine/internal/automix/scheduler"
	"github.com/friendsincode/automixengine/internal/events"
)

// FadeCurve mirrors the three shapes the playback engine contract accepts
// for rampVolumeTo; kept distinct from model.FadeCurve so this package does
// not need to import the planner's vocabulary for a transport-level detail.
type FadeCurve string

const (
	CurveLinear      FadeCurve = "linear"
	CurveExponential FadeCurve = "exponential"
	CurveEqualPower  FadeCurve = "equalPower"
)

// Engine is the playback engine contract consumed by the Engine Pair (§6).
// A concrete implementation wraps one real decoder/gain-node chain; this
// package only ever holds at most two live Engines (primary, pending).
type Engine interface {
	Play(ctx context.Context, url string, seekSec float64, autoPlay bool) error
	Pause(ctx context.Context, fadeDurationSec float64, curve FadeCurve) error
	Seek(ctx context.Context, sec float64) error
	Stop(ctx context.Context) error

	SetVolume(v float64)
	RampVolumeTo(target float64, durationSec float64, curve FadeCurve)
	SetReplayGain(linear float64)

	SupportsRate() bool
	SetRate(multiplier float64)

	SetHighPassFilter(hz float64, rampSec float64)
	SetHighPassQ(q float64)
	SetHighPassFilterAt(hz float64, whenSec float64)
	RampHighPassFilterToAt(hz float64, whenSec float64)

	SupportsSinkID() bool
	SetSinkID(deviceID string) error

	Close() error
}

// primeArmLead is how long after Execute the crossfade volume ramps start,
// to avoid glitches from simultaneous reads/writes on the audio clock (§4.6).
const primeArmLead = 20 * time.Millisecond

// bassSwapLowHz and bassSwapHighHz bound the exponential high-pass sweep
// used for the "Bass Swap" mix type.
const (
	bassSwapLowHz  = 10.0
	bassSwapHighHz = 400.0
)

// teardownGrace is the extra delay after crossfade end before the old
// primary engine is destroyed, during which its terminal events are ignored.
const teardownGrace = 1 * time.Second

// rateRestoreDuration is how long the rate ramp back to 1.0x (or the
// user-configured rate) takes once a crossfade with initial_rate != 1 ends.
const rateRestoreDuration = 2 * time.Second

// abortRampDuration is the fade length used when a user skip aborts an
// in-flight crossfade (§4.7 "User skip during TRANSITIONING").
const abortRampDuration = 200 * time.Millisecond

// NewEngineFunc constructs a fresh Engine for a track. Supplied by the
// caller so this package stays decoupled from any concrete audio backend.
type NewEngineFunc func() (Engine, error)

// OnSwitch is invoked exactly once at the UI-commit point (§4.6 step 8).
type OnSwitch func(plan *model.TransitionPlan)

// Pair owns the AutoMix Engine's at-most-two playback engines and drives
// the crossfade protocol between them.
type Pair struct {
	mu      sync.Mutex
	primary Engine
	pending Engine

	sched  *scheduler.Scheduler
	bus    *events.Bus
	logger zerolog.Logger
}

// New creates an Engine Pair. sched must already be started by the caller;
// the Pair only ever calls Schedule/Run/ClearGroup on it.
func New(sched *scheduler.Scheduler, bus *events.Bus, logger zerolog.Logger) *Pair {
	return &Pair{
		sched:  sched,
		bus:    bus,
		logger: logger.With().Str("component", "automix.engine").Logger(),
	}
}

// SetPrimary installs the currently-playing engine outside of any
// crossfade — used once at startup or after a hard cut.
func (p *Pair) SetPrimary(e Engine) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.primary = e
}

// Primary returns the current primary engine, or nil if none is set.
func (p *Pair) Primary() Engine {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.primary
}

// LoudnessInput carries the values step 3 needs to compute the pending
// engine's pre-fade target gain.
type LoudnessInput struct {
	CurrentLoudness float64
	NextLoudness    float64
	ReplayGainLin   float64
	NextPeak        float64
}

// Execute runs the full 10-step crossfade protocol for plan. groupID names
// the scheduler group used for every job this crossfade schedules, so a
// later seek/skip/abort can clear them all atomically via ClearGroup.
func (p *Pair) Execute(ctx context.Context, plan *model.TransitionPlan, nextURL string, loud LoudnessInput, newEngine NewEngineFunc, onSwitch OnSwitch, groupID string) error {
	// Step 1: instantiate pending, gain 0, rate = plan.initial_rate.
	pending, err := newEngine()
	if err != nil {
		return p.handlePendingStartFailure(onSwitch, plan, err)
	}
	pending.SetVolume(0)
	if pending.SupportsRate() && plan.InitialRate != 1.0 {
		pending.SetRate(plan.InitialRate)
	}

	p.mu.Lock()
	primary := p.primary
	p.pending = pending
	p.mu.Unlock()

	// Step 2: prime filters for bassSwap.
	bassSwap := plan.MixType == model.MixTypeBassSwap
	if bassSwap {
		pending.SetHighPassQ(1.0)
		primary.SetHighPassQ(1.0)
		pending.SetHighPassFilter(bassSwapHighHz, 0)
	}

	// Step 3: pre-apply loudness compensation.
	targetGain, clipped := gain.LoudnessCompensation(loud.CurrentLoudness, loud.NextLoudness, loud.ReplayGainLin, loud.NextPeak)
	if clipped {
		p.logger.Warn().Str("next_song_ref", plan.NextSongRef).Msg("pending engine gain reduced to avoid peak clipping")
	}

	// Step 4: start pending at start_seek, autoplay, no fade.
	seekSec := plan.StartSeekMillis / 1000.0
	if err := pending.Play(ctx, nextURL, seekSec, true); err != nil {
		return p.handlePendingStartFailure(onSwitch, plan, err)
	}

	duration := plan.CrossfadeDuration
	p.armAndRamp(primary, pending, targetGain, duration, groupID)

	if bassSwap {
		p.scheduleFilterSweep(primary, pending, duration, groupID)
	}
	if len(plan.AutomationCurrent) > 0 || len(plan.AutomationNext) > 0 {
		p.scheduleCustomAutomation(primary, pending, plan, groupID)
	}

	now := p.sched.Now()
	fadeStart := now

	// Step 8: UI commit at trigger_time + ui_switch_delay, measured from fade start.
	p.sched.Run(groupID, fadeStart.Add(time.Duration(plan.UISwitchDelay*float64(time.Second))), func() {
		if onSwitch != nil {
			onSwitch(plan)
		}
	}, nil)

	// Step 9: rate restoration.
	if plan.InitialRate != 1.0 && pending.SupportsRate() {
		rampStart := fadeStart.Add(time.Duration(duration * float64(time.Second)))
		p.sched.Run(groupID, rampStart, func() {
			p.scheduleRateRamp(pending, groupID, plan.InitialRate, plan.PlaybackRate, rateRestoreDuration)
		}, nil)
	}

	// Step 10: old-engine teardown; terminal events from primary are
	// suppressed by the caller (the TRANSITIONING state ignores them)
	// until this fires.
	teardownAt := fadeStart.Add(time.Duration(duration*float64(time.Second)) + teardownGrace)
	p.sched.Run(groupID, teardownAt, func() {
		p.mu.Lock()
		old := p.primary
		p.primary = p.pending
		p.pending = nil
		p.mu.Unlock()
		if old != nil {
			_ = old.Close()
		}
		if p.bus != nil {
			p.bus.Publish(events.EventAutomixTransitionEnd, events.Payload{
				"next_song_ref": plan.NextSongRef,
			})
		}
	}, nil)

	if p.bus != nil {
		p.bus.Publish(events.EventAutomixTransitionStart, events.Payload{
			"next_song_ref":      plan.NextSongRef,
			"crossfade_duration": duration,
			"mix_type":           string(plan.MixType),
		})
	}
	return nil
}

// armAndRamp schedules the equal-power volume crossfade (step 5) to start
// primeArmLead (20ms) from now. No anchor value is set on either engine
// before the ramps begin.
func (p *Pair) armAndRamp(primary, pending Engine, targetGain, duration float64, groupID string) {
	curveName := CurveEqualPower

	p.sched.Run(groupID, p.sched.Now().Add(primeArmLead), func() {
		pending.RampVolumeTo(targetGain, duration, curveName)
		if primary != nil {
			primary.RampVolumeTo(0, duration, curveName)
		}
	}, nil)
}

// scheduleFilterSweep implements step 6: exponential high-pass crossover
// for the bass-swap mix type, queued as a handful of setValueAtTime-style
// waypoints aligned to the audio clock via the scheduler.
func (p *Pair) scheduleFilterSweep(primary, pending Engine, duration float64, groupID string) {
	const steps = 8
	now := p.sched.Now()
	for i := 1; i <= steps; i++ {
		frac := float64(i) / float64(steps)
		at := now.Add(time.Duration(frac * duration * float64(time.Second)))
		primaryHz := expSweep(bassSwapLowHz, bassSwapHighHz, frac)
		pendingHz := expSweep(bassSwapHighHz, bassSwapLowHz, frac)
		p.sched.Schedule(groupID, at, func() {
			if primary != nil {
				primary.RampHighPassFilterToAt(primaryHz, 0)
			}
			pending.RampHighPassFilterToAt(pendingHz, 0)
		}, nil)
	}
}

// expSweep interpolates exponentially between from and to at progress
// frac in [0,1]; both bounds must be > 0. This is from^(1-frac) * to^frac,
// the standard log-domain-linear sweep used for filter cutoff automation.
func expSweep(from, to, frac float64) float64 {
	if from <= 0 {
		from = 1
	}
	if to <= 0 {
		to = 1
	}
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return from * math.Pow(to/from, frac)
}

// scheduleCustomAutomation implements step 7: each AutomationPoint in the
// plan's automation sequences fires at trigger_time + entry.time, applied
// to whichever parameter the point carries (gain, filter, or Q).
func (p *Pair) scheduleCustomAutomation(primary, pending Engine, plan *model.TransitionPlan, groupID string) {
	now := p.sched.Now()
	schedulePoints := func(e Engine, points []model.AutomationPoint) {
		for _, pt := range points {
			pt := pt
			at := now.Add(time.Duration(pt.Time * float64(time.Second)))
			p.sched.Schedule(groupID, at, func() {
				if pt.Gain != nil {
					e.RampVolumeTo(*pt.Gain, 0, CurveLinear)
				}
				if pt.FilterHz != nil {
					e.RampHighPassFilterToAt(*pt.FilterHz, 0)
				}
				if pt.Q != nil {
					e.SetHighPassQ(*pt.Q)
				}
			}, nil)
		}
	}
	schedulePoints(primary, plan.AutomationCurrent)
	schedulePoints(pending, plan.AutomationNext)
}

// scheduleRateRamp implements step 9: a linear ramp of e's playback rate
// from fromRate back to toRate over the interval, queued as waypoints under
// groupID the same way scheduleFilterSweep queues the bass-swap filter
// sweep. Called from within the step-9 job itself, so p.sched.Now() here is
// the ramp's start instant.
func (p *Pair) scheduleRateRamp(e Engine, groupID string, fromRate, toRate float64, over time.Duration) {
	if toRate == 0 {
		toRate = 1.0
	}
	const steps = 8
	now := p.sched.Now()
	for i := 1; i <= steps; i++ {
		frac := float64(i) / float64(steps)
		at := now.Add(time.Duration(frac * float64(over)))
		rate := fromRate + (toRate-fromRate)*frac
		p.sched.Schedule(groupID, at, func() {
			e.SetRate(rate)
		}, nil)
	}
}

// handlePendingStartFailure implements §4.7's "pending engine fails to
// start" row: fire onSwitch immediately with no crossfade and mark the old
// engine for teardown.
func (p *Pair) handlePendingStartFailure(onSwitch OnSwitch, plan *model.TransitionPlan, cause error) error {
	p.mu.Lock()
	old := p.primary
	p.pending = nil
	p.mu.Unlock()

	if onSwitch != nil {
		onSwitch(plan)
	}
	if old != nil {
		_ = old.Close()
	}
	if p.bus != nil {
		p.bus.Publish(events.EventAutomixFallback, events.Payload{
			"reason":        "pending_engine_start_failed",
			"next_song_ref": plan.NextSongRef,
		})
	}
	return fmt.Errorf("pending engine failed to start: %w", cause)
}

// Abort implements §4.7's "user skip during TRANSITIONING": ramp both
// engines' gain to 0 over 200ms in parallel, then tear both down.
func (p *Pair) Abort(groupID string) {
	p.mu.Lock()
	primary := p.primary
	pending := p.pending
	p.primary = nil
	p.pending = nil
	p.mu.Unlock()

	p.sched.ClearGroup(groupID)

	if primary != nil {
		primary.RampVolumeTo(0, abortRampDuration.Seconds(), CurveLinear)
	}
	if pending != nil {
		pending.RampVolumeTo(0, abortRampDuration.Seconds(), CurveLinear)
	}

	p.sched.Run(groupID+".abort", p.sched.Now().Add(abortRampDuration), func() {
		if primary != nil {
			_ = primary.Close()
		}
		if pending != nil {
			_ = pending.Close()
		}
	}, nil)

	if p.bus != nil {
		p.bus.Publish(events.EventAutomixTransitionAbort, events.Payload{"reason": "user_skip"})
	}
}
