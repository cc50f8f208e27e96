package controller

import (
	"fmt"
	"time"
)

// State is a capture loop state.
type State int

const (
	StateIdle State = iota
	StateChecking
	StateRecording
	StateReconfiguring
	StateCooldown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateChecking:
		return "CHECKING"
	case StateRecording:
		return "RECORDING"
	case StateReconfiguring:
		return "RECONFIGURING"
	case StateCooldown:
		return "COOLDOWN"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Timings are the waits of the capture loop.
type Timings struct {
	Tick              time.Duration // gate poll interval in IDLE
	NegativeDelay     time.Duration // after a negative classification
	ClassifierBackoff time.Duration // after a frame or inference error
	Settle            time.Duration // between camera stop and restart
	Cooldown          time.Duration // after a recording, before re-arming
}

// DefaultTimings returns the stock waits.
func DefaultTimings() Timings {
	return Timings{
		Tick:              200 * time.Millisecond,
		NegativeDelay:     500 * time.Millisecond,
		ClassifierBackoff: time.Second,
		Settle:            1500 * time.Millisecond,
		Cooldown:          3 * time.Second,
	}
}

// withDefaults fills zero fields.
func (t Timings) withDefaults() Timings {
	d := DefaultTimings()
	if t.Tick <= 0 {
		t.Tick = d.Tick
	}
	if t.NegativeDelay <= 0 {
		t.NegativeDelay = d.NegativeDelay
	}
	if t.ClassifierBackoff <= 0 {
		t.ClassifierBackoff = d.ClassifierBackoff
	}
	if t.Settle <= 0 {
		t.Settle = d.Settle
	}
	if t.Cooldown <= 0 {
		t.Cooldown = d.Cooldown
	}
	return t
}

// FatalError stops the capture loop. The device cannot record anymore
// and the process should exit non-zero.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return "controller: " + e.Op + ": " + e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}
