package lim

import (
	"sync"
	"time"

	"github.com/YanivGeorgePerez/dapim/metrics"
	"github.com/YanivGeorgePerez/dapim/svc/util"
)

const (
	watchdogBuckets   = 5
	watchdogTick      = time.Minute
	watchdogMinSample = 10
	watchdogThreshold = 5.0 // percent of requests answered 5xx
)

// Watchdog tracks the server-error rate over a sliding window and fires a
// callback when it crosses the threshold. The callback typically tightens
// the rate limiter until the spike passes.
type Watchdog struct {
	mu        sync.Mutex
	window    [watchdogBuckets]counts
	current   int
	onAnomaly func()
	quit      chan struct{}
	stopOnce  sync.Once
}

type counts struct {
	requests int64
	errors   int64
}

func NewWatchdog(onAnomaly func()) *Watchdog {
	return &Watchdog{
		onAnomaly: onAnomaly,
		quit:      make(chan struct{}),
	}
}

func (w *Watchdog) Start() {
	go func() {
		ticker := time.NewTicker(watchdogTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.advance()
			case <-w.quit:
				return
			}
		}
	}()
}

func (w *Watchdog) Stop() {
	w.stopOnce.Do(func() { close(w.quit) })
}

func (w *Watchdog) RecordRequest() {
	w.mu.Lock()
	w.window[w.current].requests++
	w.mu.Unlock()
}

func (w *Watchdog) RecordError() {
	w.mu.Lock()
	w.window[w.current].errors++
	w.mu.Unlock()
}

// advance evaluates the whole window, then rotates to a fresh bucket.
func (w *Watchdog) advance() {
	w.mu.Lock()
	var reqs, errs int64
	for _, b := range w.window {
		reqs += b.requests
		errs += b.errors
	}
	w.current = (w.current + 1) % watchdogBuckets
	w.window[w.current] = counts{}
	w.mu.Unlock()

	var errorRate float64
	if reqs > 0 {
		errorRate = float64(errs) / float64(reqs) * 100.0
	}
	metrics.RecentErrorRate.Set(errorRate)
	if reqs > watchdogMinSample && errorRate > watchdogThreshold {
		util.Warn().
			Float64("error_rate", errorRate).
			Int64("requests", reqs).
			Int64("errors", errs).
			Msg("error rate spike, tightening rate limit")
		if w.onAnomaly != nil {
			w.onAnomaly()
		}
	}
}
