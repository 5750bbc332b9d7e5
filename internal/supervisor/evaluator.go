package supervisor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"termwatch/internal/logger"
	"termwatch/internal/monitor"
)

// Evaluator periodically classifies the sessions in a Tracker and reports
// state changes.
type Evaluator struct {
	tracker  *Tracker
	interval time.Duration
	log      *logger.Logger

	// OnChange is called for each session whose state changed.
	OnChange func(e Evaluation)
	// OnAggregate is called when the combined state of all sessions changes.
	OnAggregate func(s monitor.State)

	mu        sync.Mutex
	aggregate monitor.State
	reported  bool
}

// NewEvaluator returns an Evaluator that ticks every interval.
func NewEvaluator(t *Tracker, interval time.Duration, log *logger.Logger) *Evaluator {
	if interval <= 0 {
		interval = time.Second
	}
	if log == nil {
		log = logger.Default()
	}
	return &Evaluator{tracker: t, interval: interval, log: log}
}

// Tick runs one evaluation at now and returns the per-session results.
func (e *Evaluator) Tick(now time.Time) []Evaluation {
	evals := e.tracker.Evaluate(now)
	states := make([]monitor.State, 0, len(evals))
	for _, ev := range evals {
		states = append(states, ev.Next.State)
		if ev.Guarded {
			e.log.Debug("need-input suppressed", zap.String("session_id", ev.SessionID))
		}
		if ev.Changed() && e.OnChange != nil {
			e.OnChange(ev)
		}
	}

	agg := monitor.Aggregate(states)
	e.mu.Lock()
	changed := !e.reported || agg != e.aggregate
	e.aggregate, e.reported = agg, true
	e.mu.Unlock()
	if changed && e.OnAggregate != nil {
		e.OnAggregate(agg)
	}
	return evals
}

// Aggregate returns the combined state from the last Tick.
func (e *Evaluator) Aggregate() monitor.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.reported {
		return monitor.StateIdle
	}
	return e.aggregate
}

// Run ticks until ctx is cancelled.
func (e *Evaluator) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			e.Tick(now)
		}
	}
}
