package coin

import (
	"context"
	"testing"
	"time"
)

const (
	testDebounce = 5 * time.Millisecond
	testSettle   = 60 * time.Millisecond
)

var testDenoms = map[int]int{1: 1, 5: 5, 10: 10}

// startAggregator runs an aggregator whose credits arrive on the returned
// channel. The cancel func stops it.
func startAggregator(t *testing.T, denoms map[int]int, fallback bool) (*Aggregator, <-chan Credit, context.CancelFunc) {
	t.Helper()
	credits := make(chan Credit, 16)
	agg := NewAggregator(testDebounce, testSettle, denoms, fallback, func(c Credit) {
		credits <- c
	})
	ctx, cancel := context.WithCancel(context.Background())
	go agg.Run(ctx)
	return agg, credits, cancel
}

// feedBurst sends n pulses on a line, spaced wider than the debounce but
// tighter than the settle gap, starting at the given timestamp.
func feedBurst(agg *Aggregator, line, n int, start time.Time) time.Time {
	at := start
	for i := 0; i < n; i++ {
		agg.Pulse(PulseEvent{Line: line, At: at})
		at = at.Add(2 * testDebounce)
	}
	return at
}

func waitCredit(t *testing.T, credits <-chan Credit) Credit {
	t.Helper()
	select {
	case c := <-credits:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for credit")
		return Credit{}
	}
}

func TestCalibratedDenominations(t *testing.T) {
	agg, credits, cancel := startAggregator(t, testDenoms, true)
	defer cancel()

	for _, tc := range []struct {
		pulses int
		pesos  int
	}{
		{1, 1},
		{5, 5},
		{10, 10},
	} {
		feedBurst(agg, 0, tc.pulses, time.Now())
		c := waitCredit(t, credits)
		if c.Pulses != tc.pulses {
			t.Errorf("counted %d pulses, want %d", c.Pulses, tc.pulses)
		}
		if c.Amount != tc.pesos {
			t.Errorf("%d pulses valued at %d pesos, want %d", tc.pulses, c.Amount, tc.pesos)
		}
	}
}

func TestUncalibratedCountFallsBack(t *testing.T) {
	agg, credits, cancel := startAggregator(t, testDenoms, true)
	defer cancel()

	feedBurst(agg, 0, 7, time.Now())
	c := waitCredit(t, credits)
	if c.Amount != 7 {
		t.Errorf("7 uncalibrated pulses valued at %d pesos, want 7 via fallback", c.Amount)
	}
}

func TestUncalibratedCountWithoutFallback(t *testing.T) {
	agg, credits, cancel := startAggregator(t, map[int]int{2: 4, 6: 20}, false)
	defer cancel()

	feedBurst(agg, 0, 3, time.Now())
	c := waitCredit(t, credits)
	// Smallest configured denomination is 4 pesos per window unit.
	if c.Amount != 12 {
		t.Errorf("3 pulses valued at %d pesos, want 12", c.Amount)
	}
	if c.Amount == 0 {
		t.Error("uncalibrated window must never yield zero credit")
	}
}

func TestDebounceFoldsContactBounce(t *testing.T) {
	agg, credits, cancel := startAggregator(t, testDenoms, true)
	defer cancel()

	// One real pulse followed by two bounces inside the debounce interval,
	// then a second real pulse.
	start := time.Now()
	agg.Pulse(PulseEvent{Line: 0, At: start})
	agg.Pulse(PulseEvent{Line: 0, At: start.Add(1 * time.Millisecond)})
	agg.Pulse(PulseEvent{Line: 0, At: start.Add(2 * time.Millisecond)})
	agg.Pulse(PulseEvent{Line: 0, At: start.Add(2 * testDebounce)})

	c := waitCredit(t, credits)
	if c.Pulses != 2 {
		t.Errorf("counted %d pulses, want 2 after debounce folding", c.Pulses)
	}
}

func TestTimestampGapClosesWindow(t *testing.T) {
	agg, credits, cancel := startAggregator(t, testDenoms, true)
	defer cancel()

	// Two bursts whose firmware timestamps are separated by more than the
	// settle interval arrive back to back on the wire. They must still close
	// as two windows.
	start := time.Now()
	end := feedBurst(agg, 0, 5, start)
	feedBurst(agg, 0, 1, end.Add(2*testSettle))

	first := waitCredit(t, credits)
	second := waitCredit(t, credits)
	if first.Pulses != 5 || first.Amount != 5 {
		t.Errorf("first window = %d pulses / %d pesos, want 5/5", first.Pulses, first.Amount)
	}
	if second.Pulses != 1 || second.Amount != 1 {
		t.Errorf("second window = %d pulses / %d pesos, want 1/1", second.Pulses, second.Amount)
	}
}

func TestLinesAccumulateIndependently(t *testing.T) {
	agg, credits, cancel := startAggregator(t, testDenoms, true)
	defer cancel()

	now := time.Now()
	feedBurst(agg, 0, 5, now)
	feedBurst(agg, 1, 1, now)

	got := map[int]Credit{}
	for i := 0; i < 2; i++ {
		c := waitCredit(t, credits)
		got[c.Line] = c
	}
	if got[0].Pulses != 5 {
		t.Errorf("line 0 counted %d pulses, want 5", got[0].Pulses)
	}
	if got[1].Pulses != 1 {
		t.Errorf("line 1 counted %d pulses, want 1", got[1].Pulses)
	}
}

func TestShutdownClosesOpenWindow(t *testing.T) {
	agg, credits, cancel := startAggregator(t, testDenoms, true)

	feedBurst(agg, 0, 5, time.Now())
	// Give the router a moment to hand the pulses to the line goroutine,
	// then cancel before the settle timer fires.
	time.Sleep(20 * time.Millisecond)
	cancel()

	c := waitCredit(t, credits)
	if c.Pulses != 5 || c.Amount != 5 {
		t.Errorf("window at shutdown = %d pulses / %d pesos, want 5/5", c.Pulses, c.Amount)
	}
}

func TestSlotClaimExpires(t *testing.T) {
	slot := NewSlot(30 * time.Millisecond)

	slot.Claim("aa:bb:cc:dd:ee:ff", "10.0.0.2", "dev-1")
	if mac, _, _, ok := slot.Current(); !ok || mac != "aa:bb:cc:dd:ee:ff" {
		t.Fatalf("Current() = %q, %v; want live claim", mac, ok)
	}

	time.Sleep(50 * time.Millisecond)
	if _, _, _, ok := slot.Current(); ok {
		t.Error("claim still live after TTL elapsed")
	}
}

func TestSlotReleaseOnlyByOwner(t *testing.T) {
	slot := NewSlot(time.Minute)

	slot.Claim("aa:bb:cc:dd:ee:ff", "10.0.0.2", "dev-1")
	slot.Release("11:22:33:44:55:66")
	if _, _, _, ok := slot.Current(); !ok {
		t.Error("release by a non-owner dropped the claim")
	}

	slot.Release("aa:bb:cc:dd:ee:ff")
	if _, _, _, ok := slot.Current(); ok {
		t.Error("claim survived release by its owner")
	}
}
