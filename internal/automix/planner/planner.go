/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package planner turns two audio analyses and a live playback position into
// a concrete transition plan. It is intentionally stateless: every input it
// needs is a parameter, every output is a return value, so that two calls
// with identical inputs are guaranteed to produce identical plans.
package planner

import (
	"math"
	"strings"

	"github.com/friendsincode/automixengine/internal/automix/model"
)

// Input bundles everything the planner needs for a single decision.
type Input struct {
	Current     model.AudioAnalysis
	Next        model.AudioAnalysis
	Proposal    *model.TransitionProposal
	Advanced    *model.AdvancedTransition
	PlaybackPos float64 // seconds into the current track
	SessionToken int64
	NextSongRef  string
	NextIndex    int
}

const (
	minCrossfadeDuration     = 0.5
	defaultFallbackDuration  = 8.0
	bpmAlignConfidenceFloor  = 0.4
	bpmAlignRatioLow         = 0.97
	bpmAlignRatioHigh        = 1.03
	aggressiveOutroTailFloor = 8.0
	highEnergyThresholdDB    = -12.0
)

// Plan chooses exactly one strategy, in priority order (mashup, native
// proposal, snap-to-bar fallback), applies BPM alignment, the aggressive
// outro post-process, and the final safety clamp. It returns (nil, false)
// when no valid plan can be produced yet — the caller should keep monitoring.
func Plan(in Input) (*model.TransitionPlan, bool) {
	if in.Current.Duration <= 0 {
		return nil, false
	}

	var plan model.TransitionPlan
	var ok bool

	switch {
	case in.Advanced != nil:
		plan, ok = planMashup(*in.Advanced)
	case in.Proposal != nil && in.Proposal.Duration > minCrossfadeDuration:
		plan, ok = planNativeProposal(in.Current, in.Next, *in.Proposal)
		if ok {
			applyBPMAlignment(&plan, in.Current, in.Next)
			applyAggressiveOutro(&plan, in.Current)
		}
	default:
		plan, ok = planFallback(in.Current, in.Next)
		if ok {
			applyBPMAlignment(&plan, in.Current, in.Next)
			applyAggressiveOutro(&plan, in.Current)
		}
	}
	if !ok {
		return nil, false
	}

	applySafetyClamp(&plan, in.Current.Duration)

	if plan.StartSeekMillis > in.Next.Duration*1000 && in.Next.Duration > 0 {
		return nil, false
	}
	if plan.TriggerTime < 0 || plan.CrossfadeDuration < minCrossfadeDuration {
		return nil, false
	}
	if plan.TriggerTime+plan.CrossfadeDuration > in.Current.Duration+1e-9 {
		return nil, false
	}

	plan.Token = in.SessionToken
	plan.NextSongRef = in.NextSongRef
	plan.NextIndex = in.NextIndex
	return &plan, true
}

// planMashup implements Strategy A: copy the mashup plan's fields verbatim.
func planMashup(adv model.AdvancedTransition) (model.TransitionPlan, bool) {
	mixType := model.MixTypeDefault
	if containsBassSwap(adv.Strategy) {
		mixType = model.MixTypeBassSwap
	}
	plan := model.TransitionPlan{
		TriggerTime:       adv.StartTimeCurrent,
		StartSeekMillis:   adv.StartTimeNext * 1000,
		CrossfadeDuration: adv.Duration,
		PitchShift:        adv.PitchShiftSemitones,
		PlaybackRate:      adv.PlaybackRate,
		InitialRate:        adv.PlaybackRate,
		MixType:            mixType,
		AutomationCurrent:  adv.AutomationCurrent,
		AutomationNext:     adv.AutomationNext,
	}
	plan.UISwitchDelay = plan.CrossfadeDuration * 0.5
	return plan, true
}

// planNativeProposal implements Strategy B.
func planNativeProposal(current, next model.AudioAnalysis, prop model.TransitionProposal) (model.TransitionPlan, bool) {
	trigger := math.Min(prop.CurrentTrackMixOut, current.Duration-1.0)
	if trigger < 0 {
		trigger = 0
	}
	duration := math.Min(prop.Duration, current.Duration-trigger)
	if duration < minCrossfadeDuration {
		return model.TransitionPlan{}, false
	}
	mixType := model.MixTypeDefault
	if containsBassSwap(prop.FilterStrategy) {
		mixType = model.MixTypeBassSwap
	}
	plan := model.TransitionPlan{
		TriggerTime:       trigger,
		CrossfadeDuration: duration,
		StartSeekMillis:   prop.NextTrackMixIn * 1000,
		MixType:           mixType,
		InitialRate:       1.0,
		PlaybackRate:      1.0,
	}
	return plan, true
}

// planFallback implements Strategy C.
func planFallback(current, next model.AudioAnalysis) (model.TransitionPlan, bool) {
	exitPoint := exitPointOf(current)

	rawTrigger := exitPoint - defaultFallbackDuration
	trigger := rawTrigger
	if current.HasBPM && next.HasBPM && current.BPM > 0 {
		snapped := snapToBar(rawTrigger, current.BPM, current.FirstBeatPos)
		if current.Duration-snapped >= 4.0 {
			trigger = snapped
		}
	}
	if trigger < 0 {
		trigger = 0
	}

	duration := defaultFallbackDuration

	startSeek := 0.0
	if next.FadeInPos > 0 {
		startSeek = next.FadeInPos
	}

	plan := model.TransitionPlan{
		TriggerTime:       trigger,
		CrossfadeDuration: duration,
		StartSeekMillis:   startSeek * 1000,
		MixType:           model.MixTypeDefault,
		InitialRate:       1.0,
		PlaybackRate:      1.0,
	}
	return plan, true
}

// exitPointOf computes the "exit point" used by Strategy C, per §4.4 steps 1-3.
func exitPointOf(current model.AudioAnalysis) float64 {
	exitPoint := current.FadeOutPos
	if exitPoint > current.Duration {
		exitPoint = current.Duration
	}

	if current.HasVocalOut && exitPoint < current.VocalOutPos-0.1 {
		exitPoint = current.Duration
	}

	if current.HasCutOut && current.CutOutPos > 0 && current.CutOutPos <= current.Duration {
		lowerBound := 0.0
		if current.HasCutIn {
			lowerBound = current.CutInPos
		} else if current.FadeInPos > 0 {
			lowerBound = current.FadeInPos
		}
		longEnough := current.CutOutPos-lowerBound > 30.0
		vocalOK := !current.HasVocalOut || current.CutOutPos >= current.VocalOutPos-0.1
		if longEnough && vocalOK {
			exitPoint = current.CutOutPos
		}
	}

	return exitPoint
}

// snapToBar rounds t to the nearest bar (4 beats) of the given tempo,
// anchored at firstBeat.
func snapToBar(t, bpm, firstBeat float64) float64 {
	bar := 4 * 60 / bpm
	if bar <= 0 {
		return t
	}
	n := math.Round((t - firstBeat) / bar)
	return firstBeat + n*bar
}

// applyBPMAlignment sets InitialRate when both tracks' BPM are confidently
// known and their ratio is within the alignable band (inclusive bounds).
func applyBPMAlignment(plan *model.TransitionPlan, current, next model.AudioAnalysis) {
	plan.InitialRate = 1.0
	if !current.HasBPM || !next.HasBPM {
		return
	}
	if current.BPMConfidence <= bpmAlignConfidenceFloor || next.BPMConfidence <= bpmAlignConfidenceFloor {
		return
	}
	if next.BPM == 0 {
		return
	}
	ratio := current.BPM / next.BPM
	if ratio >= bpmAlignRatioLow && ratio <= bpmAlignRatioHigh {
		plan.InitialRate = ratio
	}
}

// applyAggressiveOutro implements the post-processing step, which only
// applies to full (non-head) analyses with a known vocal-out position.
func applyAggressiveOutro(plan *model.TransitionPlan, current model.AudioAnalysis) {
	if current.IsHeadOnly || !current.HasVocalOut {
		return
	}
	exitPoint := exitPointOf(current)
	tail := exitPoint - current.VocalOutPos
	if tail <= aggressiveOutroTailFloor {
		return
	}

	highEnergy := current.HasOutroEnergy && current.OutroEnergyLevel > highEnergyThresholdDB
	beatsToWait := 1.0
	if highEnergy {
		beatsToWait = 8.0
	}

	var newTrigger float64
	if current.HasBPM && current.BPM > 0 {
		beatLen := 60 / current.BPM
		beatIndex := (current.VocalOutPos - current.FirstBeatPos) / beatLen
		rounded := math.Floor(beatIndex)
		frac := beatIndex - rounded
		if frac > 0.9 {
			rounded++
		}
		target := rounded + beatsToWait
		if highEnergy {
			target = math.Ceil(target/4) * 4
		}
		newTrigger = current.FirstBeatPos + target*beatLen
	} else {
		extra := 0.5
		if highEnergy {
			extra = 4.0
		}
		newTrigger = current.VocalOutPos + extra
	}

	if newTrigger >= plan.TriggerTime {
		return
	}
	if newTrigger > exitPoint-1.0 {
		return
	}

	maxDuration := 5.0
	if highEnergy {
		maxDuration = 8.0
	}
	duration := math.Min(plan.CrossfadeDuration, math.Min(maxDuration, exitPoint-newTrigger))
	if duration < minCrossfadeDuration {
		return
	}

	plan.TriggerTime = newTrigger
	plan.CrossfadeDuration = duration
}

// applySafetyClamp enforces the final invariant: the plan never runs past
// the current track's end, and the crossfade is never shorter than 0.5s.
func applySafetyClamp(plan *model.TransitionPlan, currentDuration float64) {
	if plan.TriggerTime+plan.CrossfadeDuration > currentDuration {
		plan.CrossfadeDuration = math.Max(minCrossfadeDuration, currentDuration-plan.TriggerTime)
	}
	if plan.UISwitchDelay == 0 {
		plan.UISwitchDelay = plan.CrossfadeDuration * 0.5
	}
}

func containsBassSwap(s string) bool {
	return strings.Contains(s, "Bass Swap")
}
