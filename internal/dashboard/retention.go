// v1
// internal/dashboard/retention.go
package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"homemon/internal/store"
)

// PruneResult reports what a prune removed.
type PruneResult struct {
	Deleted    int64
	ArchiveKey string
}

// Pruner deletes readings older than a cutoff, archiving them first when an
// archiver is configured. A failed upload leaves the store untouched.
type Pruner struct {
	store    store.Store
	archiver *Archiver
	metrics  *Metrics
	log      *slog.Logger
}

func NewPruner(st store.Store, archiver *Archiver, metrics *Metrics, log *slog.Logger) *Pruner {
	return &Pruner{store: st, archiver: archiver, metrics: metrics, log: log.With("component", "retention")}
}

func (p *Pruner) PruneBefore(ctx context.Context, cutoff time.Time) (PruneResult, error) {
	var res PruneResult
	if p.archiver != nil {
		rows, err := p.store.Between(ctx, time.Time{}, cutoff)
		if err != nil {
			return res, err
		}
		if len(rows) > 0 {
			key, err := p.archiver.Archive(ctx, cutoff, rows)
			if err != nil {
				return res, fmt.Errorf("archive before prune: %w", err)
			}
			res.ArchiveKey = key
		}
	}
	n, err := p.store.PruneBefore(ctx, cutoff)
	if err != nil {
		return res, err
	}
	res.Deleted = n
	p.metrics.Pruned(n)
	p.log.Info("readings_pruned",
		slog.Time("cutoff", cutoff),
		slog.Int64("deleted", n),
		slog.String("archive_key", res.ArchiveKey),
	)
	return res, nil
}

// Refresher is the part of the freshness cache the scheduler drives.
type Refresher interface {
	Refresh(ctx context.Context) (store.Stored, error)
}

// RefreshLoop takes a reading every interval so the history has no gaps
// while nobody is looking at the dashboard.
func RefreshLoop(r Refresher, interval time.Duration, log *slog.Logger) func(ctx context.Context) error {
	log = log.With("component", "scheduler")
	return func(ctx context.Context) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
			if _, err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
				log.Warn("scheduled_reading_failed", slog.Any("err", err))
			}
		}
	}
}

// RetentionLoop prunes readings older than lifetime, immediately and then
// every interval.
func RetentionLoop(p *Pruner, lifetime, interval time.Duration, now func() time.Time) func(ctx context.Context) error {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			if _, err := p.PruneBefore(ctx, now().Add(-lifetime)); err != nil && ctx.Err() == nil {
				p.log.Error("retention_prune_failed", slog.Any("err", err))
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	}
}
