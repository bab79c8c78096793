/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package statemachine

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/automixengine/internal/events"
)

func TestMachine_InitialStateIsIdle(t *testing.T) {
	m := New(events.NewBus(), zerolog.Nop())
	if m.State() != Idle {
		t.Errorf("initial state = %v, want IDLE", m.State())
	}
}

func TestMachine_FullHappyPathCycle(t *testing.T) {
	m := New(events.NewBus(), zerolog.Nop())

	steps := []struct {
		trigger Trigger
		want    State
	}{
		{TriggerEnterMonitoring, Monitoring},
		{TriggerPlanScheduled, Scheduled},
		{TriggerSchedulerFired, Transitioning},
		{TriggerUISwitchCommitted, Monitoring},
	}
	for _, step := range steps {
		got, ok := m.Fire(step.trigger)
		if !ok {
			t.Fatalf("trigger %v rejected from state %v", step.trigger, got)
		}
		if got != step.want {
			t.Fatalf("after %v: state = %v, want %v", step.trigger, got, step.want)
		}
	}
}

func TestMachine_TransitioningToCooldownThenMonitoring(t *testing.T) {
	m := New(events.NewBus(), zerolog.Nop())
	m.Fire(TriggerEnterMonitoring)
	m.Fire(TriggerPlanFireImmediate)
	if m.State() != Transitioning {
		t.Fatalf("state = %v, want TRANSITIONING", m.State())
	}
	if got, ok := m.Fire(TriggerCrossfadeComplete); !ok || got != Cooldown {
		t.Fatalf("state = %v ok=%v, want COOLDOWN", got, ok)
	}
	if got, ok := m.Fire(TriggerCooldownExpired); !ok || got != Monitoring {
		t.Fatalf("state = %v ok=%v, want MONITORING", got, ok)
	}
}

func TestMachine_UnknownTriggerIsNoOp(t *testing.T) {
	m := New(events.NewBus(), zerolog.Nop())
	got, ok := m.Fire(TriggerSchedulerFired)
	if ok {
		t.Fatalf("expected no-op, got transition to %v", got)
	}
	if got != Idle {
		t.Fatalf("state = %v, want unchanged IDLE", got)
	}
}

func TestMachine_TokenMismatchReturnsToMonitoring(t *testing.T) {
	m := New(events.NewBus(), zerolog.Nop())
	m.Fire(TriggerEnterMonitoring)
	m.Fire(TriggerPlanScheduled)
	got, ok := m.Fire(TriggerTokenMismatch)
	if !ok || got != Monitoring {
		t.Fatalf("state = %v ok=%v, want MONITORING", got, ok)
	}
}
