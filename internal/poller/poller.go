// Package poller drives the detection side: it periodically queries the
// diagnostic store for failure events, deduplicates them, and fans each
// qualifying event out to its own analysis run.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"crashwatch/internal/event"
)

// EventSource is the slice of the diagnostic store the poller needs.
type EventSource interface {
	QueryEvents(ctx context.Context, since time.Time, reasons, excludeNamespaces []string) ([]event.FailureEvent, error)
}

// RunFunc executes one analysis run for an event. It must handle its own
// errors; the poller only bounds and isolates it.
type RunFunc func(ctx context.Context, ev event.FailureEvent)

// Poller polls on a fixed interval. Each non-duplicate event gets its own
// goroutine with a wall-clock deadline; a failed or stuck run never blocks
// the next cycle.
type Poller struct {
	Source            EventSource
	Dedup             *event.DedupState
	Run               RunFunc
	Interval          time.Duration
	RunDeadline       time.Duration
	Reasons           []string
	ExcludeNamespaces []string

	cursor time.Time
	wg     sync.WaitGroup
}

// Start polls until ctx is cancelled, then waits for in-flight runs.
func (p *Poller) Start(ctx context.Context) {
	if p.cursor.IsZero() {
		p.cursor = time.Now().Add(-p.Interval)
	}
	slog.Info("poller started", "interval", p.Interval, "reasons", p.Reasons)

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	p.cycle(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			slog.Info("poller stopping, waiting for in-flight runs")
			p.wg.Wait()
			return
		case now := <-ticker.C:
			p.cycle(ctx, now)
		}
	}
}

// cycle runs one poll iteration. The cursor advances to the maximum event
// timestamp seen, and only when the query succeeded, so a failed window is
// re-read next cycle rather than dropped.
func (p *Poller) cycle(ctx context.Context, now time.Time) {
	events, err := p.Source.QueryEvents(ctx, p.cursor, p.Reasons, p.ExcludeNamespaces)
	if err != nil {
		slog.Warn("event query failed, cursor not advanced", "err", err)
		return
	}

	started := 0
	for _, ev := range events {
		if ev.Timestamp.After(p.cursor) {
			p.cursor = ev.Timestamp
		}
		if !p.Dedup.ShouldAlert(ev.DedupKey(), ev.Timestamp) {
			slog.Debug("duplicate suppressed", "key", ev.DedupKey())
			continue
		}
		started++
		p.launch(ctx, ev)
	}

	evicted := p.Dedup.Evict(now)
	if len(events) > 0 || evicted > 0 {
		slog.Info("poll cycle complete", "events", len(events), "runs_started", started,
			"dedup_evicted", evicted)
	}
}

// launch starts one analysis run in its own goroutine, bounded by the run
// deadline and shielded so a panic cannot take down the poller.
func (p *Poller) launch(ctx context.Context, ev event.FailureEvent) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("analysis run panicked", "key", ev.DedupKey(), "panic", r)
			}
		}()

		runCtx := ctx
		if p.RunDeadline > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, p.RunDeadline)
			defer cancel()
		}
		p.Run(runCtx, ev)
	}()
}

// Wait blocks until all in-flight runs finish. Exposed for tests.
func (p *Poller) Wait() { p.wg.Wait() }
