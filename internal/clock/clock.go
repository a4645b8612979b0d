// Package clock provides an injectable time source. Production code uses
// Real(); tests use Fake() and move time forward with Advance.
package clock

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time

	// NewTicker delivers ticks on C every d. C has capacity 1; ticks are
	// dropped when the reader falls behind.
	NewTicker(d time.Duration) *Ticker
}

type Ticker struct {
	C <-chan time.Time

	stop func()
}

func (t *Ticker) Stop() { t.stop() }

func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) *Ticker {
	t := time.NewTicker(d)
	return &Ticker{C: t.C, stop: t.Stop}
}

// FakeClock only moves when Advance or Set is called. Safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	tickers map[*fakeTicker]struct{}
}

type fakeTicker struct {
	period time.Duration
	next   time.Time
	c      chan time.Time
}

func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial, tickers: make(map[*fakeTicker]struct{})}
}

func (f *FakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker interval")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ft := &fakeTicker{period: d, next: f.current.Add(d), c: make(chan time.Time, 1)}
	f.tickers[ft] = struct{}{}
	return &Ticker{C: ft.c, stop: func() {
		f.mu.Lock()
		delete(f.tickers, ft)
		f.mu.Unlock()
	}}
}

// Advance moves the clock forward and fires every ticker whose deadline
// has passed. A ticker that missed several periods fires once.
func (f *FakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = f.current.Add(d)
	for ft := range f.tickers {
		if ft.next.After(f.current) {
			continue
		}
		for !ft.next.After(f.current) {
			ft.next = ft.next.Add(ft.period)
		}
		select {
		case ft.c <- f.current:
		default:
		}
	}
}

// Tickers reports how many tickers are live.
func (f *FakeClock) Tickers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tickers)
}
