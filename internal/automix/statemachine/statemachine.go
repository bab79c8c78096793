/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package statemachine implements the AutoMix state machine:
// IDLE -> MONITORING -> SCHEDULED -> TRANSITIONING -> COOLDOWN -> MONITORING.
package statemachine

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/automixengine/internal/events"
)

// State is one of the five AutoMix states.
type State string

const (
	Idle          State = "IDLE"
	Monitoring    State = "MONITORING"
	Scheduled     State = "SCHEDULED"
	Transitioning State = "TRANSITIONING"
	Cooldown      State = "COOLDOWN"
)

// Trigger names the event driving a transition attempt.
type Trigger string

const (
	TriggerEnterMonitoring   Trigger = "enter_monitoring"
	TriggerPreconditionLost  Trigger = "precondition_lost"
	TriggerPlanScheduled     Trigger = "plan_scheduled"
	TriggerPlanFireImmediate Trigger = "plan_fire_immediate"
	TriggerSchedulerFired    Trigger = "scheduler_fired"
	TriggerSeekInvalidated   Trigger = "seek_invalidated"
	TriggerTokenMismatch     Trigger = "token_mismatch"
	TriggerUISwitchCommitted Trigger = "ui_switch_committed"
	TriggerCrossfadeComplete Trigger = "crossfade_complete"
	TriggerCooldownExpired   Trigger = "cooldown_expired"
)

// transitions enumerates every legal (from, trigger) -> to edge from §4.3.
// All triggers not present for a given state are no-ops.
var transitions = map[State]map[Trigger]State{
	Idle: {
		TriggerEnterMonitoring: Monitoring,
	},
	Monitoring: {
		TriggerPreconditionLost:  Idle,
		TriggerPlanScheduled:     Scheduled,
		TriggerPlanFireImmediate: Transitioning,
	},
	Scheduled: {
		TriggerSchedulerFired:  Transitioning,
		TriggerSeekInvalidated: Monitoring,
		TriggerTokenMismatch:   Monitoring,
	},
	Transitioning: {
		TriggerUISwitchCommitted: Monitoring,
		TriggerCrossfadeComplete: Cooldown,
	},
	Cooldown: {
		TriggerCooldownExpired: Monitoring,
	},
}

// Machine is a thread-safe AutoMix state machine. Triggers are fired from
// more than one goroutine (the Service's monitor loop and scheduler jobs on
// the Scheduler's ticker goroutine); the mutex serialises them.
type Machine struct {
	mu     sync.Mutex
	state  State
	bus    *events.Bus
	logger zerolog.Logger
}

// New creates a state machine starting in IDLE.
func New(bus *events.Bus, logger zerolog.Logger) *Machine {
	return &Machine{
		state:  Idle,
		bus:    bus,
		logger: logger.With().Str("component", "automix.statemachine").Logger(),
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Fire attempts the named trigger. It returns the resulting state and
// whether a transition actually happened; an unrecognised trigger for the
// current state is a no-op, matching "all others are no-ops" in §4.3.
func (m *Machine) Fire(trigger Trigger) (State, bool) {
	m.mu.Lock()
	from := m.state
	to, ok := transitions[from][trigger]
	if ok {
		m.state = to
	}
	m.mu.Unlock()

	if !ok {
		return from, false
	}

	m.logger.Debug().Str("from", string(from)).Str("to", string(to)).Str("trigger", string(trigger)).Msg("automix state transition")
	if m.bus != nil {
		m.bus.Publish(events.EventAutomixStateChanged, events.Payload{
			"from":    string(from),
			"to":      string(to),
			"trigger": string(trigger),
		})
	}
	return to, true
}
