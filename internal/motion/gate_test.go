package motion

import (
	"testing"

	"go.uber.org/zap/zaptest"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

func setLevel(p *gpiotest.Pin, l gpio.Level) {
	p.Lock()
	p.L = l
	p.Unlock()
}

func TestGatePoll(t *testing.T) {
	pin := &gpiotest.Pin{N: "GPIO14", Num: 14}
	g, err := NewGate(pin, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create gate: %v", err)
	}
	defer g.Close()

	if pin.P != gpio.PullDown {
		t.Fatalf("pull = %v, want PullDown", pin.P)
	}

	levels := []gpio.Level{gpio.Low, gpio.High, gpio.High, gpio.Low, gpio.High}
	want := []bool{false, true, true, false, true}
	for i, l := range levels {
		setLevel(pin, l)
		if got := g.Poll(); got != want[i] {
			t.Fatalf("poll %d = %v, want %v", i, got, want[i])
		}
	}

	stats := g.Stats()
	if stats.Polls != int64(len(levels)) {
		t.Fatalf("Polls = %d, want %d", stats.Polls, len(levels))
	}
	if stats.RisingEdges != 2 {
		t.Fatalf("RisingEdges = %d, want 2", stats.RisingEdges)
	}
	if stats.LastMotionAt.IsZero() {
		t.Fatal("LastMotionAt not set")
	}
}

func TestGateStartsLow(t *testing.T) {
	pin := &gpiotest.Pin{N: "GPIO14", Num: 14, L: gpio.High}
	g, err := NewGate(pin, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create gate: %v", err)
	}
	// configuring the pull-down resets the fake line
	if g.Poll() {
		t.Fatal("expected no motion right after configuring the pin")
	}
}
