// Package frontend implements the producer front-end logic of spec
// §4.5 that is shared by every producer instance: bypass classification
// for send, and bundle-splitting for send_immediate. It holds no state
// and no rings — callers (the root Producer) own those.
package frontend

import (
	"github.com/go-oscring/oscring/internal/wire"
)

// Kind is the bypass classification of spec §4.4/§4.5.
type Kind int

const (
	// NonBundle is a plain OSC message — always bypasses the scheduler.
	NonBundle Kind = iota
	// Immediate is a bundle whose NTP timetag is 0 or 1 — bypasses.
	Immediate
	// NearFuture is a bundle due within bypass_lookahead — bypasses.
	NearFuture
	// Late is a bundle whose timetag has already passed — bypasses.
	Late
	// FarFuture is a bundle due beyond bypass_lookahead — enqueued.
	FarFuture
)

func (k Kind) String() string {
	switch k {
	case NonBundle:
		return "nonBundle"
	case Immediate:
		return "immediate"
	case NearFuture:
		return "nearFuture"
	case Late:
		return "late"
	case FarFuture:
		return "farFuture"
	default:
		return "unknown"
	}
}

// Bypasses reports whether k should be written directly to IN instead of
// handed to the scheduler. Only FarFuture does not bypass.
func (k Kind) Bypasses() bool { return k != FarFuture }

// Classify implements spec §4.4/§4.5's classification: non-bundle
// messages are always NonBundle; a bundle's NTP timetag of <=1 is always
// Immediate regardless of nowNTP; otherwise the timetag is compared to
// nowNTP and bypassLookahead (both in seconds) to pick NearFuture, Late,
// or FarFuture. ntpTime is 0 for NonBundle.
func Classify(payload []byte, nowNTP, bypassLookahead float64) (kind Kind, ntpTime float64, err error) {
	if !wire.IsBundle(payload) {
		return NonBundle, 0, nil
	}

	tt, err := wire.BundleTimetag(payload)
	if err != nil {
		return NonBundle, 0, err
	}

	if tt <= 1 {
		return Immediate, tt, nil
	}

	delta := tt - nowNTP
	switch {
	case delta < 0:
		return Late, tt, nil
	case delta <= bypassLookahead:
		return NearFuture, tt, nil
	default:
		return FarFuture, tt, nil
	}
}

// SplitForImmediate implements send_immediate's framing rule: a bundle
// is split into its contained messages (each written as its own IN
// frame); anything else is returned as the single element it already is.
func SplitForImmediate(payload []byte) ([][]byte, error) {
	if !wire.IsBundle(payload) {
		return [][]byte{payload}, nil
	}
	return wire.BundleElements(payload)
}
