// Package reporter periodically publishes stored event counts and database
// pool statistics as Prometheus gauges.
package reporter

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/watzon/hookd/internal/events"
	"github.com/watzon/hookd/internal/metrics"
)

const defaultRunTimeout = 10 * time.Second

// EventCounter reports stored events per status.
type EventCounter interface {
	CountByStatus(ctx context.Context) (map[events.Status]int64, error)
}

// PoolStatser exposes connection pool statistics, as *sql.DB does.
type PoolStatser interface {
	Stats() sql.DBStats
}

// Reporter runs a refresh job on a cron schedule.
type Reporter struct {
	counter  EventCounter
	pool     PoolStatser
	schedule cron.Schedule
	cron     *cron.Cron
	timeout  time.Duration

	mu      sync.Mutex
	started bool
}

// New parses spec (standard five field cron or a descriptor such as
// "@every 30s") and returns a stopped Reporter. pool may be nil.
func New(counter EventCounter, pool PoolStatser, spec string) (*Reporter, error) {
	parser := cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parsing report schedule: %w", err)
	}

	return &Reporter{
		counter:  counter,
		pool:     pool,
		schedule: schedule,
		cron:     cron.New(cron.WithParser(parser)),
		timeout:  defaultRunTimeout,
	}, nil
}

// Start refreshes the gauges once and then on every scheduled tick.
func (r *Reporter) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true

	r.run(ctx)

	r.cron.Schedule(r.schedule, cron.FuncJob(func() {
		r.run(ctx)
	}))
	r.cron.Start()

	log.Info().Msg("Stats reporter started")
}

// Stop waits for a running refresh to finish.
func (r *Reporter) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return
	}
	r.started = false

	<-r.cron.Stop().Done()
	log.Info().Msg("Stats reporter stopped")
}

// Next returns the next scheduled refresh after t.
func (r *Reporter) Next(t time.Time) time.Time {
	return r.schedule.Next(t)
}

func (r *Reporter) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.RunOnce(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to refresh event stats")
	}
}

// RunOnce refreshes every gauge immediately.
func (r *Reporter) RunOnce(ctx context.Context) error {
	if r.pool != nil {
		stats := r.pool.Stats()
		metrics.UpdateDBStats(stats.OpenConnections, stats.InUse, stats.Idle)
	}

	counts, err := r.counter.CountByStatus(ctx)
	if err != nil {
		return fmt.Errorf("counting events: %w", err)
	}

	for status, n := range counts {
		metrics.SetStoredEvents(string(status), n)
	}
	return nil
}
