package timeutil

import (
	"testing"
	"time"
)

func TestRealClock_Since(t *testing.T) {
	clock := RealClock{}
	past := time.Now().Add(-time.Second)
	if d := clock.Since(past); d < time.Second {
		t.Errorf("Since() returned %v, expected >= 1s", d)
	}
}

func TestRealClock_NewTicker(t *testing.T) {
	clock := RealClock{}
	ticker := clock.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Error("ticker did not fire")
	}
}

func TestMockClock_SetAndSince(t *testing.T) {
	start := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	clock := NewMockClock(start)
	if !clock.Now().Equal(start) {
		t.Fatalf("got %v, want %v", clock.Now(), start)
	}

	clock.Set(start.Add(90 * time.Second))
	if got := clock.Since(start); got != 90*time.Second {
		t.Errorf("Since() = %v, want 90s", got)
	}
}

func TestMockClock_TickerFiresOnAdvance(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	ticker := clock.NewTicker(10 * time.Second)

	clock.Advance(5 * time.Second)
	select {
	case <-ticker.C():
		t.Fatal("ticker fired early")
	default:
	}

	clock.Advance(5 * time.Second)
	select {
	case got := <-ticker.C():
		if !got.Equal(time.Unix(10, 0)) {
			t.Errorf("tick time = %v, want %v", got, time.Unix(10, 0))
		}
	default:
		t.Fatal("ticker did not fire at interval")
	}

	// Next tick is scheduled relative to the previous one.
	clock.Advance(9 * time.Second)
	select {
	case <-ticker.C():
		t.Fatal("ticker fired before second interval")
	default:
	}
}

func TestMockTicker_StopAndTrigger(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	ticker := clock.NewTicker(time.Second)
	ticker.Stop()

	clock.Advance(5 * time.Second)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}

	mt := clock.Tickers()[0]
	if !mt.Stopped() {
		t.Error("Stopped() = false after Stop")
	}

	mt.Trigger(time.Unix(42, 0))
	mt.Trigger(time.Unix(43, 0)) // dropped; channel holds one tick
	if got := <-ticker.C(); !got.Equal(time.Unix(42, 0)) {
		t.Errorf("Trigger tick = %v, want %v", got, time.Unix(42, 0))
	}

	ticker.Reset(time.Second)
	if mt.Stopped() {
		t.Error("Stopped() = true after Reset")
	}
}
