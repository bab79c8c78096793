/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package gain implements loudness matching, peak clamping, and the
// equal-power/linear/exponential curves used by the crossfade engine.
package gain

import (
	"math"

	"github.com/friendsincode/automixengine/internal/automix/model"
	"github.com/friendsincode/automixengine/internal/telemetry"
)

// DBToLinear converts decibels to a linear amplitude multiplier.
func DBToLinear(db float64) float64 {
	return math.Pow(10, db/20.0)
}

// LinearToDB converts a linear amplitude multiplier to decibels. linear must
// be > 0; callers with a possibly-zero gain should special-case it first.
func LinearToDB(linear float64) float64 {
	return 20 * math.Log10(linear)
}

// ClampDB clamps a dB value to [lo, hi].
func ClampDB(db, lo, hi float64) float64 {
	if db < lo {
		return lo
	}
	if db > hi {
		return hi
	}
	return db
}

// LoudnessCompensation computes the §4.6 step 3 pre-fade target gain: the
// linear gain that equalises current and next track loudness, multiplied by
// replayGain, and peak-clamped so the next track's peak never clips.
//
// nextPeak <= 0 means "no peak metadata available" and disables the clamp,
// per the design note that absence of peak metadata means "no clamp".
func LoudnessCompensation(currentLoudness, nextLoudness, replayGainLinear, nextPeak float64) (linearGain float64, clipped bool) {
	gainDB := ClampDB(currentLoudness-nextLoudness, -9, 9)
	linearGain = DBToLinear(gainDB) * replayGainLinear

	if nextPeak > 0 && linearGain*nextPeak > 1.0 {
		linearGain = 1.0 / nextPeak
		clipped = true
		telemetry.AutomixGainClips.Inc()
	}
	return linearGain, clipped
}

// CurveAt evaluates one side of a crossfade curve at progress t (seconds
// since fade start) out of a total duration D, scaled by target.
//
//   - equalPower: g(t) = target * sin(pi*t/(2D))   (fade in)
//                 g(t) = target * cos(pi*t/(2D))   (fade out)
//   - linear:     g(t) = target * t/D               (fade in)
//                 g(t) = target * (1 - t/D)          (fade out)
//   - exponential: a perceptually-even approximation using t² / (1-t)² shaping
func CurveAt(curve model.FadeCurve, t, duration, target float64, fadeIn bool) float64 {
	if duration <= 0 {
		return target
	}
	progress := t / duration
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}

	switch curve {
	case model.FadeCurveLinear:
		if fadeIn {
			return target * progress
		}
		return target * (1 - progress)
	case model.FadeCurveExponential:
		if fadeIn {
			return target * progress * progress
		}
		rem := 1 - progress
		return target * rem * rem
	default: // equalPower
		angle := math.Pi * progress / 2
		if fadeIn {
			return target * math.Sin(angle)
		}
		return target * math.Cos(angle)
	}
}
