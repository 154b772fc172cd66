// Package validator filters malformed or out-of-order bars before any
// stateful component sees them. Modeled on the sequential named-check
// style used by the teacher's pattern/volume/delta filter chain, applied
// here to bars instead of candlestick patterns.
package validator

import (
	"math"

	"quantengine/internal/market"
)

// Result is the outcome of validating one bar.
type Result struct {
	Accepted bool
	Reason   string
}

func reject(reason string) Result { return Result{Accepted: false, Reason: reason} }

var accepted = Result{Accepted: true}

// Validator rejects structurally invalid bars: null/NaN field, H < L, close
// outside [L,H], volume < 0, or an open-time that does not strictly
// increase per instrument.
type Validator struct {
	lastOpenTime map[string]int64
}

// New builds an empty Validator. An instrument has no watermark until
// its first bar is accepted, so that first bar passes the open-time
// check whatever its open time.
func New() *Validator {
	return &Validator{lastOpenTime: make(map[string]int64)}
}

// Check evaluates b against every rule in order and returns the first
// failure, or Accepted=true if b passes all of them. On acceptance the
// validator records b's open time as the new watermark for its
// instrument, so callers must not call Check twice for the same bar.
func (v *Validator) Check(b market.Bar) Result {
	if checkNaN(b.Open) || checkNaN(b.High) || checkNaN(b.Low) || checkNaN(b.Close) || checkNaN(b.Volume) {
		return reject("null_or_nan_field")
	}
	if b.High < b.Low {
		return reject("high_below_low")
	}
	if b.Close < b.Low || b.Close > b.High {
		return reject("close_outside_range")
	}
	if b.Volume < 0 {
		return reject("negative_volume")
	}
	last, seen := v.lastOpenTime[b.Instrument]
	if seen && b.OpenTimeMs <= last {
		return reject("open_time_not_increasing")
	}
	v.lastOpenTime[b.Instrument] = b.OpenTimeMs
	return accepted
}

func checkNaN(f float64) bool {
	return math.IsNaN(f) || math.IsInf(f, 0)
}
