/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package automix

import "errors"

// Sentinel error kinds, in ascending severity. Callers use errors.Is against
// these; wrapped context is added with fmt.Errorf("...: %w", ErrX).
var (
	// ErrPlanRejected means the planner returned no plan, or a candidate
	// plan failed the safety clamp. The engine stays in MONITORING.
	ErrPlanRejected = errors.New("automix: plan rejected")

	// ErrAnalyserUnavailable covers worker crash, timeout, missing export,
	// or a cache parse failure. AutoMix degrades to a hard cut.
	ErrAnalyserUnavailable = errors.New("automix: analyser unavailable")

	// ErrEnginePrimeFailure means the pending engine failed to start or
	// seek. The crossfade is aborted and the UI switch committed immediately.
	ErrEnginePrimeFailure = errors.New("automix: engine prime failure")

	// ErrSessionStale means a session token mismatched on resumption. It is
	// never surfaced to the caller beyond a silent drop.
	ErrSessionStale = errors.New("automix: session token stale")

	// ErrPeakClip is a warning-only condition; gain was reduced automatically.
	ErrPeakClip = errors.New("automix: peak clip averted")
)
