package enrich

import (
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/leadfinder/internal/logging"
	"github.com/JakeFAU/leadfinder/internal/metrics"
)

// State is a step in a run's lifecycle.
type State string

// Run states.
const (
	StateIdle       State = "idle"
	StateReserving  State = "reserving"
	StateSearching  State = "searching"
	StateEnriching  State = "enriching"
	StateFinalizing State = "finalizing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// run carries the per-request bookkeeping.
type run struct {
	id      string
	state   State
	started time.Time
	logger  *zap.Logger
	hook    TransitionHook
}

func (o *Orchestrator) newRun() *run {
	id, err := o.ids.NewID()
	if err != nil {
		o.logger.Warn("run id generation failed", zap.Error(err))
		id = "unknown"
	}
	return &run{
		id:      id,
		state:   StateIdle,
		started: time.Now(),
		logger:  o.logger.With(logging.RunID(id)),
		hook:    o.onChange,
	}
}

func (r *run) transition(to State) {
	from := r.state
	r.state = to
	r.logger.Debug("run state", zap.String("from", string(from)), zap.String("to", string(to)))
	if r.hook != nil {
		r.hook(r.id, from, to)
	}
}

func (r *run) fail(err error, outcome string) {
	r.transition(StateFailed)
	metrics.ObserveRun(outcome)
	if outcome == "internal" || outcome == "upstream_error" {
		r.logger.Error("run failed", zap.String("outcome", outcome), zap.Error(err))
		return
	}
	r.logger.Info("run rejected", zap.String("outcome", outcome), zap.Error(err))
}
