// Package coin turns raw electrical pulses from the coin acceptor into
// discrete peso credits and routes them to the device currently claiming the
// slot.
package coin

import (
	"context"
	"log"
	"sync"
	"time"
)

// PulseEvent is one electrical transition on a coin line, timestamped by the
// firmware's monotonic clock.
type PulseEvent struct {
	Line int       `json:"line"`
	At   time.Time `json:"at"`
}

// Credit is one closed pulse window converted to pesos.
type Credit struct {
	Line   int
	Pulses int
	Amount int
}

// CreditFunc receives each closed window. It must not block for long; the
// line goroutine calls it inline.
type CreditFunc func(Credit)

// Aggregator owns one accumulation window per coin line. Window state is
// owned exclusively by the goroutine driving that line's timer; lines share
// nothing.
type Aggregator struct {
	events   chan PulseEvent
	emit     CreditFunc
	debounce time.Duration
	settle   time.Duration
	denoms   map[int]int
	fallback bool

	mu    sync.Mutex
	lines map[int]chan PulseEvent
	wg    sync.WaitGroup
}

// NewAggregator creates an aggregator. denoms maps pulse counts to pesos;
// counts not in the table fall back to a 1:1 pulse-to-peso mapping when
// fallback is set, and to the smallest configured denomination per pulse
// otherwise. Either way an uncalibrated window yields credit, never zero and
// never an error.
func NewAggregator(debounce, settle time.Duration, denoms map[int]int, fallback bool, emit CreditFunc) *Aggregator {
	return &Aggregator{
		events:   make(chan PulseEvent, 64),
		emit:     emit,
		debounce: debounce,
		settle:   settle,
		denoms:   denoms,
		fallback: fallback,
		lines:    make(map[int]chan PulseEvent),
	}
}

// Pulse feeds one event into the aggregator. Safe for concurrent use; the
// channel is bounded so a wedged consumer surfaces as drops in the log rather
// than unbounded memory growth.
func (a *Aggregator) Pulse(ev PulseEvent) {
	select {
	case a.events <- ev:
	default:
		log.Printf("coin: pulse buffer full, dropping pulse on line %d", ev.Line)
	}
}

// Run routes pulses to per-line goroutines until ctx is cancelled, then
// waits for every open window to close.
func (a *Aggregator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			a.mu.Lock()
			for _, ch := range a.lines {
				close(ch)
			}
			a.lines = make(map[int]chan PulseEvent)
			a.mu.Unlock()
			a.wg.Wait()
			return
		case ev := <-a.events:
			a.lineChannel(ctx, ev.Line) <- ev
		}
	}
}

func (a *Aggregator) lineChannel(ctx context.Context, line int) chan PulseEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	ch, ok := a.lines[line]
	if !ok {
		ch = make(chan PulseEvent, 16)
		a.lines[line] = ch
		a.wg.Add(1)
		go a.runLine(line, ch)
	}
	return ch
}

// runLine is the single owner of one line's window state.
func (a *Aggregator) runLine(line int, ch chan PulseEvent) {
	defer a.wg.Done()

	var (
		count  int
		last   time.Time // timestamp of the last counted pulse
		settle *time.Timer
	)

	closeWindow := func() {
		if count > 0 {
			a.emit(Credit{Line: line, Pulses: count, Amount: a.amount(count)})
		}
		count = 0
		settle = nil
	}

	for {
		var settleC <-chan time.Time
		if settle != nil {
			settleC = settle.C
		}

		select {
		case ev, ok := <-ch:
			if !ok {
				if settle != nil {
					settle.Stop()
				}
				closeWindow()
				return
			}

			if count > 0 && ev.At.Sub(last) >= a.settle {
				// Silence between the firmware timestamps already closed the
				// previous window; this pulse starts a new one.
				if settle != nil {
					settle.Stop()
				}
				closeWindow()
			}

			if count > 0 && ev.At.Sub(last) < a.debounce {
				// Contact bounce: fold into the window, keep the timer alive.
				continue
			}

			count++
			last = ev.At
			if settle == nil {
				settle = time.NewTimer(a.settle)
			} else {
				if !settle.Stop() {
					select {
					case <-settle.C:
					default:
					}
				}
				settle.Reset(a.settle)
			}

		case <-settleC:
			closeWindow()
		}
	}
}

// amount maps a pulse count to pesos
func (a *Aggregator) amount(count int) int {
	if pesos, ok := a.denoms[count]; ok {
		return pesos
	}
	if a.fallback {
		return count
	}
	smallest := 0
	for _, pesos := range a.denoms {
		if smallest == 0 || pesos < smallest {
			smallest = pesos
		}
	}
	if smallest == 0 {
		smallest = 1
	}
	return count * smallest
}
