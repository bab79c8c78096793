/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package service wires the analysis cache, the analyser gateway, the
// planner, the state machine, the scheduler, and the Engine Pair into a
// single cooperative main loop: the AutoMix Engine itself.
package service

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/automixengine/internal/automix"
	"github.com/friendsincode/automixengine/internal/automix/cache"
	"github.com/friendsincode/automixengine/internal/automix/engine"
	"github.com/friendsincode/automixengine/internal/automix/gain"
	"github.com/friendsincode/automixengine/internal/automix/gateway"
	"github.com/friendsincode/automixengine/internal/automix/model"
	"github.com/friendsincode/automixengine/internal/automix/planner"
	"github.com/friendsincode/automixengine/internal/automix/scheduler"
	"github.com/friendsincode/automixengine/internal/automix/statemachine"
	"github.com/friendsincode/automixengine/internal/events"
	"github.com/friendsincode/automixengine/internal/telemetry"
)

// MonitorTickInterval is how often the main loop re-evaluates the current
// boundary while in MONITORING.
const MonitorTickInterval = 500 * time.Millisecond

// CooldownDuration is how long the engine stays in COOLDOWN before
// re-entering MONITORING. COOLDOWN is entered as soon as Execute has started
// the crossfade; it does not wait for the fade to finish.
const CooldownDuration = 500 * time.Millisecond

// monitorWindowMinSec and monitorWindowMaxSec bound the remaining-time
// window (§4.3) during which a boundary may transition MONITORING to
// SCHEDULED; outside it evaluateBoundary defers to the next tick.
const (
	monitorWindowMinSec = 30.0
	monitorWindowMaxSec = 300.0
)

// crossfadeGroup is the scheduler group name used for a single boundary's
// jobs; suffixed with the session token so stale groups never collide.
func crossfadeGroup(token int64) string {
	return fmt.Sprintf("automix.xfade.%d", token)
}

// Track is the minimal view of a queued item the Service needs to drive a
// boundary: its filesystem path (for the analyser and cache) and a stream
// URL the playback engine contract can open.
type Track struct {
	SongRef string
	Path    string
	URL     string
	Index   int
}

// PlaybackSource abstracts the "now playing" state the Service reads every
// tick. A real implementation is backed by the station's playout pipeline.
type PlaybackSource interface {
	CurrentTrack() (Track, bool)
	NextTrack() (Track, bool)
	PositionSec() float64
	ReplayGainLinear() float64
}

// Config configures a Service.
type Config struct {
	AnalyzeWindowSec float64
	AnalyserBinPath  string
}

// DefaultConfig returns sane defaults.
func DefaultConfig() Config {
	return Config{AnalyzeWindowSec: 30.0}
}

// Service is the AutoMix Engine: it owns the analysis cache, the analyser
// gateway, the planner, the state machine, the scheduler, and the Engine
// Pair, and drives them from a single cooperative main loop, per §5.
type Service struct {
	cfg Config

	cache   *cache.Cache
	gateway *gateway.Gateway
	sched   *scheduler.Scheduler
	sm      *statemachine.Machine
	pair    *engine.Pair
	bus     *events.Bus
	logger  zerolog.Logger

	source        PlaybackSource
	engineFactory engine.NewEngineFunc

	token atomic.Int64

	mu          sync.Mutex
	lastPlanned string // "<current path>|<next path>" of the last evaluated boundary, to avoid re-planning every tick
}

// New wires up a Service from its constituent parts. The caller owns the
// lifetime of db/redis/sched beyond Service.Run; Service only Starts/Stops
// the scheduler it is given.
func New(cfg Config, c *cache.Cache, gw *gateway.Gateway, sched *scheduler.Scheduler, bus *events.Bus, source PlaybackSource, logger zerolog.Logger) *Service {
	logger = logger.With().Str("component", "automix.service").Logger()
	sm := statemachine.New(bus, logger)
	pair := engine.New(sched, bus, logger)
	return &Service{
		cfg:     cfg,
		cache:   c,
		gateway: gw,
		sched:   sched,
		sm:      sm,
		pair:    pair,
		bus:     bus,
		logger:  logger,
		source:  source,
	}
}

// Pair exposes the Engine Pair so the station's playout layer can install
// the initial primary engine (SetPrimary) before Run starts.
func (s *Service) Pair() *engine.Pair { return s.pair }

// SetEngineFactory installs the constructor used to build the pending
// engine for each crossfade. It must be called before Run; without one,
// every boundary falls back to a hard cut via the pending-start-failure path.
func (s *Service) SetEngineFactory(f engine.NewEngineFunc) { s.engineFactory = f }

// State returns the current AutoMix state, for the debug HTTP surface.
func (s *Service) State() statemachine.State { return s.sm.State() }

// Run drives the main loop until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.sched.Start(ctx)
	defer s.sched.Stop()

	s.sm.Fire(statemachine.TriggerEnterMonitoring)

	ticker := time.NewTicker(MonitorTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	switch s.sm.State() {
	case statemachine.Monitoring:
		s.evaluateBoundary(ctx)
	default:
		// SCHEDULED/TRANSITIONING/COOLDOWN are driven by scheduler callbacks,
		// not the monitor tick.
	}
}

// evaluateBoundary attempts to produce a plan for the current/next pair and,
// if one results, arms the scheduler for it.
func (s *Service) evaluateBoundary(ctx context.Context) {
	current, ok := s.source.CurrentTrack()
	if !ok {
		return
	}
	next, hasNext := s.source.NextTrack()
	if !hasNext {
		return
	}

	s.mu.Lock()
	already := s.lastPlanned == current.Path+"|"+next.Path
	s.mu.Unlock()
	if already {
		return
	}

	currentAnalysis, err := s.analyze(ctx, current.Path)
	if err != nil {
		s.logger.Debug().Err(err).Str("path", current.Path).Msg("current track analysis unavailable, skipping boundary")
		return
	}

	remaining := currentAnalysis.Duration - s.source.PositionSec()
	if remaining < monitorWindowMinSec || remaining > monitorWindowMaxSec {
		return
	}

	nextAnalysis, err := s.analyze(ctx, next.Path)
	if err != nil {
		s.logger.Debug().Err(err).Str("path", next.Path).Msg("next track analysis unavailable, skipping boundary")
		return
	}

	var proposal *model.TransitionProposal
	if p, err := s.gateway.SuggestTransition(ctx, current.Path, next.Path); err == nil {
		proposal = &p
	}
	var advanced *model.AdvancedTransition
	if a, err := s.gateway.SuggestLongMix(ctx, current.Path, next.Path); err == nil {
		advanced = &a
	}

	token := s.token.Load()
	plan, ok := planner.Plan(planner.Input{
		Current:      currentAnalysis,
		Next:         nextAnalysis,
		Proposal:     proposal,
		Advanced:     advanced,
		PlaybackPos:  s.source.PositionSec(),
		SessionToken: token,
		NextSongRef:  next.SongRef,
		NextIndex:    next.Index,
	})

	s.mu.Lock()
	s.lastPlanned = current.Path + "|" + next.Path
	s.mu.Unlock()

	if !ok {
		telemetry.AutomixBoundaryEvaluations.WithLabelValues("rejected").Inc()
		if s.bus != nil {
			s.bus.Publish(events.EventAutomixPlanRejected, events.Payload{
				"current_path": current.Path,
				"next_path":    next.Path,
			})
		}
		return
	}

	telemetry.AutomixBoundaryEvaluations.WithLabelValues("scheduled").Inc()
	s.arm(ctx, plan, next, currentAnalysis, nextAnalysis)
}

// analyze resolves a path's AudioAnalysis via the cache, single-flighted and
// falling through to the gateway on a miss (§4.1/§4.2).
func (s *Service) analyze(ctx context.Context, path string) (model.AudioAnalysis, error) {
	info, err := os.Stat(path)
	if err != nil {
		return model.AudioAnalysis{}, fmt.Errorf("%w: stat %s: %v", automix.ErrAnalyserUnavailable, path, err)
	}
	mtime := info.ModTime()
	size := info.Size()

	if analysis, hit := s.cache.Get(ctx, path, mtime, size, s.cfg.AnalyzeWindowSec); hit {
		telemetry.AutomixCacheHits.WithLabelValues("hit").Inc()
		return analysis, nil
	}
	telemetry.AutomixCacheHits.WithLabelValues("miss").Inc()

	key := cache.Key(path, s.cfg.AnalyzeWindowSec)
	analysis, err := s.cache.SingleFlight(ctx, key, func(ctx context.Context) (model.AudioAnalysis, error) {
		a, err := s.gateway.Analyze(ctx, path, s.cfg.AnalyzeWindowSec)
		if err != nil {
			return model.AudioAnalysis{}, err
		}
		if putErr := s.cache.Put(ctx, path, mtime, size, a); putErr != nil {
			s.logger.Warn().Err(putErr).Str("path", path).Msg("failed to persist analysis")
		}
		return a, nil
	})
	return analysis, err
}

// arm schedules the crossfade for plan, choosing Schedule vs Run depending
// on how close trigger_time already is to the live playback position.
func (s *Service) arm(ctx context.Context, plan *model.TransitionPlan, next Track, current, nextAnalysis model.AudioAnalysis) {
	group := crossfadeGroup(plan.Token)
	fireAt := s.sched.Now().Add(time.Duration((plan.TriggerTime - s.source.PositionSec()) * float64(time.Second)))

	action := func() {
		s.fireCrossfade(ctx, plan, next, current, nextAnalysis, group)
	}

	if plan.TriggerTime <= s.source.PositionSec() {
		s.sm.Fire(statemachine.TriggerPlanFireImmediate)
		s.sched.Run(group, s.sched.Now(), action, nil)
		return
	}

	s.sm.Fire(statemachine.TriggerPlanScheduled)
	s.sched.Schedule(group, fireAt, action, nil)
}

// fireCrossfade validates the session token and, if still current, fires the
// state machine and runs the Engine Pair's crossfade protocol (§4.7 "Plan's
// token != current session token at scheduler fire").
func (s *Service) fireCrossfade(ctx context.Context, plan *model.TransitionPlan, next Track, current, nextAnalysis model.AudioAnalysis, group string) {
	if plan.Token != s.token.Load() {
		s.sm.Fire(statemachine.TriggerTokenMismatch)
		return
	}

	s.sm.Fire(statemachine.TriggerSchedulerFired)

	replayLin := s.source.ReplayGainLinear()
	loud := engine.LoudnessInput{
		CurrentLoudness: current.Loudness,
		NextLoudness:    nextAnalysis.Loudness,
		ReplayGainLin:   replayLin,
	}

	newEngine := s.engineFactory
	if newEngine == nil {
		newEngine = func() (engine.Engine, error) {
			return nil, fmt.Errorf("automix: no engine factory installed")
		}
	}

	onSwitch := func(p *model.TransitionPlan) {
		s.sm.Fire(statemachine.TriggerUISwitchCommitted)
	}

	if err := s.pair.Execute(ctx, plan, next.URL, loud, newEngine, onSwitch, group); err != nil {
		s.logger.Warn().Err(err).Str("next_song_ref", plan.NextSongRef).Msg("crossfade execution failed, hard cut")
		telemetry.AutomixCrossfadesTotal.WithLabelValues(string(plan.MixType), "true").Inc()
		s.sm.Fire(statemachine.TriggerUISwitchCommitted)
		return
	}

	telemetry.AutomixCrossfadesTotal.WithLabelValues(string(plan.MixType), "false").Inc()
	s.completeCrossfade(plan, group)
}

func (s *Service) completeCrossfade(plan *model.TransitionPlan, group string) {
	s.sm.Fire(statemachine.TriggerCrossfadeComplete)
	s.sched.Run(group+".cooldown", s.sched.Now().Add(CooldownDuration), func() {
		s.sm.Fire(statemachine.TriggerCooldownExpired)
		s.mu.Lock()
		s.lastPlanned = ""
		s.mu.Unlock()
	}, nil)
}

// HandleSeek implements §4.7's "user seek during MONITORING/SCHEDULED":
// clear the scheduler group for the live token and return to MONITORING.
func (s *Service) HandleSeek() {
	token := s.token.Load()
	s.sched.ClearGroup(crossfadeGroup(token))
	if s.sm.State() == statemachine.Scheduled {
		s.sm.Fire(statemachine.TriggerSeekInvalidated)
	}
	s.mu.Lock()
	s.lastPlanned = ""
	s.mu.Unlock()
}

// HandleSkip implements §4.7's "user skip during TRANSITIONING": abort the
// in-flight crossfade and bump the session token so any still-scheduled
// jobs from the aborted boundary are recognised as stale.
func (s *Service) HandleSkip() {
	token := s.token.Load()
	if s.sm.State() == statemachine.Transitioning {
		s.pair.Abort(crossfadeGroup(token))
	}
	s.token.Add(1)
	s.mu.Lock()
	s.lastPlanned = ""
	s.mu.Unlock()
}

// NewPlayRequest bumps the session token, as required whenever a new play
// request begins outside of an AutoMix-driven transition (§5 Cancellation).
func (s *Service) NewPlayRequest() int64 {
	return s.token.Add(1)
}

// CurveFromModel converts a model.FadeCurve to the engine package's curve
// vocabulary, used when wiring a concrete Engine implementation's ramp calls.
func CurveFromModel(c model.FadeCurve) engine.FadeCurve {
	switch c {
	case model.FadeCurveLinear:
		return engine.CurveLinear
	case model.FadeCurveExponential:
		return engine.CurveExponential
	default:
		return engine.CurveEqualPower
	}
}

// LoudnessCompensation re-exports gain.LoudnessCompensation for callers that
// only have a Service reference, matching §4.6 step 3.
func LoudnessCompensation(currentLoudness, nextLoudness, replayGainLinear, nextPeak float64) (float64, bool) {
	return gain.LoudnessCompensation(currentLoudness, nextLoudness, replayGainLinear, nextPeak)
}
