// Package autoapply keeps a page continuously compliant with its rule set as
// the DOM changes underneath it.
//
// The scheduler consumes mutation records from the page binding, coalesces
// bursts (infinite scroll, hydration) behind a debounce window, and runs one
// re-apply pass per burst. Passes are cheap by construction: already-marked
// elements are no-ops in the applicator, so cost tracks newly-matched
// elements, not total DOM size.
package autoapply

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/quellhq/quell/mutation"
)

// Pass re-applies every rule of the active rule set, in persisted order.
type Pass func(ctx context.Context)

// Config controls the batching behaviour.
type Config struct {
	// Window is the debounce time. Default: 180ms.
	Window time.Duration `yaml:"window"`
	// MaxBuffer forces an immediate pass when this many records accumulate
	// within one window. Default: 500.
	MaxBuffer int `yaml:"max_buffer"`
}

func (c *Config) defaults() {
	if c.Window <= 0 {
		c.Window = 180 * time.Millisecond
	}
	if c.MaxBuffer <= 0 {
		c.MaxBuffer = 500
	}
}

// Scheduler debounces mutation bursts into single re-apply passes.
type Scheduler struct {
	cfg    Config
	pass   Pass
	recCh  chan mutation.Record
	logger *slog.Logger
	passes atomic.Uint64
}

// New creates a Scheduler. Call Run to start the loop.
func New(cfg Config, pass Pass, logger *slog.Logger) *Scheduler {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:    cfg,
		pass:   pass,
		recCh:  make(chan mutation.Record, 4096),
		logger: logger,
	}
}

// Notify feeds mutation records into the scheduler. Never blocks page event
// delivery: when the channel is full, records are dropped — the next pass
// re-applies everything anyway. Mutations caused by the runtime's own marker
// attributes are filtered here so the applicator cannot feed itself.
func (s *Scheduler) Notify(records []mutation.Record) {
	for _, rec := range records {
		if ownMutation(rec) {
			continue
		}
		select {
		case s.recCh <- rec:
		default:
			s.logger.Warn("autoapply: record buffer full, dropping")
			return
		}
	}
}

// Run is the scheduler loop: collect, debounce, pass. Returns when the
// context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	var (
		pending int
		timer   *time.Timer
		timerC  <-chan time.Time
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}
	defer stopTimer()

	flush := func() {
		if pending == 0 {
			return
		}
		pending = 0
		stopTimer()
		s.passes.Add(1)
		s.pass(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-s.recCh:
			pending++
			if pending >= s.cfg.MaxBuffer {
				flush()
				continue
			}
			stopTimer()
			timer = time.NewTimer(s.cfg.Window)
			timerC = timer.C

		case <-timerC:
			flush()
		}
	}
}

// Passes returns the number of re-apply passes run so far.
func (s *Scheduler) Passes() uint64 {
	return s.passes.Load()
}

// ownMutation reports whether the record was caused by the runtime's own
// bookkeeping attributes — reacting to those would loop through the observer.
func ownMutation(rec mutation.Record) bool {
	return rec.Op == mutation.OpAttr && strings.HasPrefix(rec.Name, "data-quell-")
}
