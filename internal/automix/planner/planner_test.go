/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package planner

import (
	"math"
	"reflect"
	"testing"

	"github.com/friendsincode/automixengine/internal/automix/model"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestPlan_CleanBarAlignedFallback(t *testing.T) {
	current := model.AudioAnalysis{
		Duration: 180, BPM: 128, HasBPM: true, FirstBeatPos: 0,
		FadeOutPos: 175, VocalOutPos: 170, HasVocalOut: true,
		CutOutPos: 176, HasCutOut: true, CutInPos: 4, HasCutIn: true,
		FadeInPos: 2, Loudness: -9,
	}
	next := model.AudioAnalysis{Duration: 200, BPM: 128, HasBPM: true, FadeInPos: 5, Loudness: -9}

	plan, ok := Plan(Input{Current: current, Next: next})
	if !ok {
		t.Fatalf("expected a plan")
	}
	if !almostEqual(plan.TriggerTime, 168.75, 1e-6) {
		t.Errorf("trigger_time = %v, want 168.75", plan.TriggerTime)
	}
	if !almostEqual(plan.CrossfadeDuration, 8.0, 1e-6) {
		t.Errorf("crossfade_duration = %v, want 8.0", plan.CrossfadeDuration)
	}
	if !almostEqual(plan.StartSeekMillis, 5000, 1e-6) {
		t.Errorf("start_seek_ms = %v, want 5000", plan.StartSeekMillis)
	}
	if !almostEqual(plan.InitialRate, 1.0, 1e-6) {
		t.Errorf("initial_rate = %v, want 1.0", plan.InitialRate)
	}
	if plan.MixType != model.MixTypeDefault {
		t.Errorf("mix_type = %v, want default", plan.MixType)
	}
}

func TestPlan_AggressiveOutroHighEnergyMovesTriggerEarlier(t *testing.T) {
	current := model.AudioAnalysis{
		Duration: 240, BPM: 120, HasBPM: true, FirstBeatPos: 0,
		FadeOutPos: 235, VocalOutPos: 180, HasVocalOut: true,
		OutroEnergyLevel: -8, HasOutroEnergy: true,
		CutOutPos: 235, HasCutOut: true,
	}
	next := model.AudioAnalysis{Duration: 300}

	plan, ok := Plan(Input{Current: current, Next: next})
	if !ok {
		t.Fatalf("expected a plan")
	}
	// The fallback trigger before aggressive-outro post-processing is 227
	// (exit_point 235 minus the default 8s duration); the high-energy
	// aggressive-outro rule must pull it strictly earlier and cap the
	// crossfade at 8s, matching the bar-aligned beat arithmetic.
	if plan.TriggerTime >= 227 {
		t.Errorf("trigger_time = %v, want earlier than the unprocessed 227", plan.TriggerTime)
	}
	if !almostEqual(plan.CrossfadeDuration, 8.0, 1e-6) {
		t.Errorf("crossfade_duration = %v, want 8.0", plan.CrossfadeDuration)
	}
}

func TestPlan_MashupStrategyWins(t *testing.T) {
	adv := model.AdvancedTransition{
		StartTimeCurrent: 100, StartTimeNext: 30, Duration: 16,
		PitchShiftSemitones: -1, PlaybackRate: 0.98, Strategy: "Bass Swap+Mashup",
	}
	current := model.AudioAnalysis{Duration: 200}
	next := model.AudioAnalysis{Duration: 200}

	plan, ok := Plan(Input{Current: current, Next: next, Advanced: &adv})
	if !ok {
		t.Fatalf("expected a plan")
	}
	if plan.TriggerTime != 100 || plan.CrossfadeDuration != 16 {
		t.Errorf("trigger/duration = %v/%v, want 100/16", plan.TriggerTime, plan.CrossfadeDuration)
	}
	if plan.StartSeekMillis != 30000 {
		t.Errorf("start_seek_ms = %v, want 30000", plan.StartSeekMillis)
	}
	if plan.InitialRate != 0.98 {
		t.Errorf("initial_rate = %v, want 0.98", plan.InitialRate)
	}
	if plan.UISwitchDelay != 8.0 {
		t.Errorf("ui_switch_delay = %v, want 8.0", plan.UISwitchDelay)
	}
	if plan.MixType != model.MixTypeBassSwap {
		t.Errorf("mix_type = %v, want bassSwap", plan.MixType)
	}
	if len(plan.AutomationCurrent) != 0 || len(plan.AutomationNext) != 0 {
		t.Errorf("expected empty automation arrays to round-trip as empty")
	}
}

func TestPlan_BPMAlignmentRatioInclusiveBounds(t *testing.T) {
	current := model.AudioAnalysis{Duration: 200, BPM: 128, BPMConfidence: 0.8, HasBPM: true, FadeOutPos: 190}
	next := model.AudioAnalysis{Duration: 200, BPM: 130, BPMConfidence: 0.8, HasBPM: true}

	plan, ok := Plan(Input{Current: current, Next: next})
	if !ok {
		t.Fatalf("expected a plan")
	}
	want := 128.0 / 130.0
	if !almostEqual(plan.InitialRate, want, 1e-4) {
		t.Errorf("initial_rate = %v, want %v", plan.InitialRate, want)
	}
}

func TestPlan_BPMRatioExactlyAtBoundsIsApplied(t *testing.T) {
	current := model.AudioAnalysis{Duration: 200, BPM: 100, BPMConfidence: 0.9, HasBPM: true, FadeOutPos: 190}
	next := model.AudioAnalysis{Duration: 200, BPM: 100.0 / 0.97, BPMConfidence: 0.9, HasBPM: true}

	plan, ok := Plan(Input{Current: current, Next: next})
	if !ok {
		t.Fatalf("expected a plan")
	}
	if !almostEqual(plan.InitialRate, 0.97, 1e-6) {
		t.Errorf("initial_rate = %v, want 0.97 (inclusive boundary)", plan.InitialRate)
	}
}

func TestPlan_CurrentTrackTooShortReturnsNone(t *testing.T) {
	// Even the 0.5s floor crossfade cannot fit inside a 0.3s track.
	current := model.AudioAnalysis{Duration: 0.3, FadeOutPos: 0.3}
	next := model.AudioAnalysis{Duration: 200}

	if _, ok := Plan(Input{Current: current, Next: next}); ok {
		t.Errorf("expected no plan for a track shorter than the minimum crossfade window")
	}
}

func TestPlan_NextStartSeekExceedsDurationReturnsNone(t *testing.T) {
	current := model.AudioAnalysis{Duration: 200, FadeOutPos: 190}
	next := model.AudioAnalysis{Duration: 10, FadeInPos: 50}

	if _, ok := Plan(Input{Current: current, Next: next}); ok {
		t.Errorf("expected no plan when start_seek exceeds next track duration")
	}
}

func TestPlan_Deterministic(t *testing.T) {
	current := model.AudioAnalysis{
		Duration: 180, BPM: 128, HasBPM: true, FadeOutPos: 175,
		VocalOutPos: 170, HasVocalOut: true,
	}
	next := model.AudioAnalysis{Duration: 200, BPM: 128, HasBPM: true, FadeInPos: 5}
	in := Input{Current: current, Next: next, SessionToken: 7, NextSongRef: "track-2"}

	first, ok1 := Plan(in)
	second, ok2 := Plan(in)
	if !ok1 || !ok2 {
		t.Fatalf("expected both calls to produce a plan")
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("plans differ across identical inputs: %+v vs %+v", first, second)
	}
}

func TestPlan_CrossfadeNeverBelowHalfSecond(t *testing.T) {
	current := model.AudioAnalysis{Duration: 5, FadeOutPos: 5}
	next := model.AudioAnalysis{Duration: 200}

	plan, ok := Plan(Input{Current: current, Next: next})
	if !ok {
		t.Fatalf("expected a plan")
	}
	if plan.CrossfadeDuration < minCrossfadeDuration-1e-9 {
		t.Errorf("crossfade_duration = %v, must be >= %v", plan.CrossfadeDuration, minCrossfadeDuration)
	}
	if plan.TriggerTime+plan.CrossfadeDuration > current.Duration+1e-9 {
		t.Errorf("trigger_time+crossfade_duration = %v exceeds current duration %v",
			plan.TriggerTime+plan.CrossfadeDuration, current.Duration)
	}
}
