package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/Desarso/tabchat/logger"
	"github.com/robfig/cron/v3"
)

// DefaultRetentionSchedule prunes traces once an hour.
const DefaultRetentionSchedule = "@hourly"

// TraceRetention periodically deletes completion traces older than MaxAge.
type TraceRetention struct {
	store  *GORMTraceStore
	maxAge time.Duration
	cron   *cron.Cron
	log    *logger.Logger
	now    func() time.Time
}

// NewTraceRetention schedules pruning of store on schedule, a standard cron expression
// or descriptor such as "@daily".
func NewTraceRetention(store *GORMTraceStore, maxAge time.Duration, schedule string, log *logger.Logger) (*TraceRetention, error) {
	if store == nil {
		return nil, fmt.Errorf("trace store is nil")
	}
	if maxAge <= 0 {
		return nil, fmt.Errorf("retention max age must be positive, got %s", maxAge)
	}
	if schedule == "" {
		schedule = DefaultRetentionSchedule
	}
	r := &TraceRetention{
		store:  store,
		maxAge: maxAge,
		cron:   cron.New(),
		log:    logger.OrNop(log).With("component", "trace_retention"),
		now:    time.Now,
	}
	if _, err := r.cron.AddFunc(schedule, func() {
		if _, err := r.RunOnce(context.Background()); err != nil {
			r.log.Error("trace pruning failed", "error", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}
	return r, nil
}

// RunOnce prunes expired traces immediately.
func (r *TraceRetention) RunOnce(ctx context.Context) (int64, error) {
	cutoff := r.now().Add(-r.maxAge)
	n, err := r.store.PruneBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.log.Info("pruned completion traces", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

// Start begins the schedule in its own goroutine.
func (r *TraceRetention) Start() {
	r.cron.Start()
}

// Stop halts the schedule and waits for a running prune to finish.
func (r *TraceRetention) Stop() {
	<-r.cron.Stop().Done()
}
