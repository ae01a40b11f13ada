package stats

import (
	"time"

	"github.com/nainya/pagestore/internal/logger"
)

// Daemon runs fn on a fixed interval until Stop is called, logging
// (rather than propagating) any error fn returns.
//
// Grounded on the teacher's pkg/wal/checkpoint.go Checkpointer: a
// goroutine blocked on a time.Ticker and a stop channel, torn down with
// close(stopCh) + a wait on doneCh. The original C++ StatisticsReporter
// is a DaemonThread whose repeatable() method swallows its own
// exceptions into an error log line rather than letting them kill the
// thread; onError here is that same swallow-and-log policy.
type Daemon struct {
	interval time.Duration
	fn       func() error
	onError  func(error)

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewDaemon builds a Daemon that calls fn every interval. onError may
// be nil, in which case errors are silently dropped.
func NewDaemon(interval time.Duration, fn func() error, onError func(error)) *Daemon {
	return &Daemon{
		interval: interval,
		fn:       fn,
		onError:  onError,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the daemon's goroutine. Start must be called at most once.
func (d *Daemon) Start() { go d.run() }

// Stop signals the daemon to exit and blocks until its goroutine returns.
func (d *Daemon) Stop() {
	close(d.stopCh)
	<-d.doneCh
}

func (d *Daemon) run() {
	defer close(d.doneCh)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := d.fn(); err != nil && d.onError != nil {
				d.onError(err)
			}
		case <-d.stopCh:
			return
		}
	}
}

// NewReporter builds the StatisticsReporter daemon of spec.md §4.6: on
// each tick it drains stats and logs one line per non-empty category,
// exactly mirroring printLog's copy-then-clear-then-log structure.
func NewReporter(stats *Statistics, log *logger.Logger, interval time.Duration) *Daemon {
	return NewDaemon(interval, func() error {
		for _, snap := range stats.Drain() {
			if snap.Count == 0 {
				continue
			}
			log.Debug("buffer statistics").
				Str("category", snap.Category.String()).
				Uint64("count", snap.Count).
				Uint64("bytes", snap.Bytes).
				Send()
		}
		return nil
	}, func(err error) {
		log.Error("statistics reporter failed").Err(err).Send()
	})
}
