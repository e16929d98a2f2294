package worker

import (
	"context"
	"log/slog"
	"time"

	"healthcred/pkg/platform/audit/outbox"
	"healthcred/pkg/platform/audit/outbox/metrics"
)

// Pruner deletes published entries once they are older than the retention.
// Pending entries are never touched.
type Pruner struct {
	store     outbox.Store
	retention time.Duration
	interval  time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

func NewPruner(store outbox.Store, retention, interval time.Duration, m *metrics.Metrics, logger *slog.Logger) *Pruner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{
		store:     store,
		retention: retention,
		interval:  interval,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// Run prunes every interval until ctx is cancelled. It always returns nil.
func (p *Pruner) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Prune(ctx)
		}
	}
}

// Prune deletes entries processed before now minus the retention and
// returns how many went.
func (p *Pruner) Prune(ctx context.Context) int64 {
	n, err := p.store.DeleteProcessedBefore(ctx, p.now().Add(-p.retention))
	if err != nil {
		p.logger.WarnContext(ctx, "failed to prune outbox", "error", err)
		return 0
	}
	if n > 0 {
		p.logger.DebugContext(ctx, "outbox pruned", "deleted", n)
		if p.metrics != nil {
			p.metrics.Pruned(n)
		}
	}
	return n
}
