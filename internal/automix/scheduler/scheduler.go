/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package scheduler implements the audio-clock driven tick source that
// fires AutoMix transition actions at a chosen time. It is a
// single-producer, many-consumer job queue drained by a dedicated
// background ticker goroutine, the same shape as the teacher's
// ticker-driven service loops, generalised from "compile a playlist" to
// "fire scheduled audio-graph actions".
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTickInterval is how often the scheduler drains due jobs.
const DefaultTickInterval = 75 * time.Millisecond

// DefaultHorizon is the look-ahead window for schedule().
const DefaultHorizon = 1500 * time.Millisecond

// Clock abstracts "now" so tests can drive the scheduler without real time.
// The production clock is the audio output clock; here it is realised as
// wall-clock time, since the engine has no sample-accurate clock source of
// its own to consult.
type Clock func() time.Time

// Action is a scheduled job's payload. Actions that panic are recovered,
// logged, and discarded — they never take down the ticker goroutine.
type Action func()

// JobID opaquely identifies a scheduled job.
type JobID uint64

type jobKind int

const (
	kindSchedule jobKind = iota
	kindRun
)

type job struct {
	id       JobID
	group    string
	kind     jobKind
	fireAt   time.Time
	action   Action
	cleanup  Action
	canceled bool
}

// Scheduler is the AutoMix tick-driven job queue.
type Scheduler struct {
	clock    Clock
	horizon  time.Duration
	interval time.Duration
	logger   zerolog.Logger

	mu     sync.Mutex
	jobs   []*job
	nextID JobID

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Scheduler. Call Start to begin the background ticker.
func New(clock Clock, logger zerolog.Logger) *Scheduler {
	if clock == nil {
		clock = time.Now
	}
	return &Scheduler{
		clock:    clock,
		horizon:  DefaultHorizon,
		interval: DefaultTickInterval,
		logger:   logger.With().Str("component", "automix.scheduler").Logger(),
	}
}

// Start launches the dedicated ticker goroutine. It is the "worker-backed
// timer source" the design calls for; there is no UI thread in this process
// to throttle it, so no main-thread fallback path exists (see DESIGN.md).
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.drainDue()
			}
		}
	}()
}

// Stop halts the background ticker and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

// Schedule arms action to fire once the scheduler observes time is within
// the horizon of now — i.e. time <= now + horizon. Used for pre-roll arming.
func (s *Scheduler) Schedule(group string, at time.Time, action, cleanup Action) JobID {
	return s.enqueue(group, kindSchedule, at, action, cleanup)
}

// Run arms action to fire once time <= now. Used for hard-deadline events.
func (s *Scheduler) Run(group string, at time.Time, action, cleanup Action) JobID {
	return s.enqueue(group, kindRun, at, action, cleanup)
}

func (s *Scheduler) enqueue(group string, kind jobKind, at time.Time, action, cleanup Action) JobID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	j := &job{
		id:      s.nextID,
		group:   group,
		kind:    kind,
		fireAt:  at,
		action:  action,
		cleanup: cleanup,
	}
	s.jobs = append(s.jobs, j)
	return j.id
}

// Cancel cancels a single job by id. Cancelling a job that is currently
// executing has no effect on the in-flight call but prevents any future
// fire (trivially true for single-shot jobs).
func (s *Scheduler) Cancel(id JobID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.id == id {
			j.canceled = true
			return
		}
	}
}

// ClearGroup cancels every job in group and invokes each job's cleanup.
// It is idempotent: clearing an already-empty or already-cleared group is a
// no-op. A job already "due" on the tick that performs the clear must not
// fire — achieved by marking it canceled before the drain loop inspects it.
func (s *Scheduler) ClearGroup(group string) {
	s.mu.Lock()
	var cleanups []Action
	for _, j := range s.jobs {
		if j.group == group && !j.canceled {
			j.canceled = true
			if j.cleanup != nil {
				cleanups = append(cleanups, j.cleanup)
			}
		}
	}
	s.mu.Unlock()

	for _, c := range cleanups {
		s.safeRun(c)
	}
}

// drainDue fires every due, non-canceled job in insertion order.
func (s *Scheduler) drainDue() {
	now := s.clock()

	s.mu.Lock()
	var due []*job
	remaining := s.jobs[:0]
	for _, j := range s.jobs {
		if j.canceled {
			continue
		}
		ready := false
		switch j.kind {
		case kindSchedule:
			ready = !j.fireAt.After(now.Add(s.horizon))
		case kindRun:
			ready = !j.fireAt.After(now)
		}
		if ready {
			due = append(due, j)
		} else {
			remaining = append(remaining, j)
		}
	}
	s.jobs = remaining
	s.mu.Unlock()

	for _, j := range due {
		s.runJob(j)
	}
}

func (s *Scheduler) runJob(j *job) {
	s.mu.Lock()
	canceled := j.canceled
	s.mu.Unlock()
	if canceled {
		return
	}
	s.safeRun(j.action)
}

func (s *Scheduler) safeRun(action Action) {
	if action == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("scheduled action panicked")
		}
	}()
	action()
}

// Tick runs one synchronous drain pass; exposed for deterministic tests that
// do not want to depend on the background ticker's 75ms cadence.
func (s *Scheduler) Tick() {
	s.drainDue()
}

// Now returns the scheduler's current notion of time, i.e. the injected
// Clock's value. Callers computing fire times relative to "now" (rather
// than an absolute wall-clock instant) should use this instead of
// time.Now(), so that scheduling stays deterministic under a test clock.
func (s *Scheduler) Now() time.Time {
	return s.clock()
}
