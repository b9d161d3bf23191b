package jobs

import (
	"context"
	"time"

	"github.com/lthibault/jitterbug/v2"
	"go.uber.org/zap"

	"github.com/causewatch/causewatch/internal/store"
)

type MaintenanceConfig struct {
	Interval time.Duration
	// RetentionWindow ages out posts; PerProjectCap bounds the newest kept
	// per project.
	RetentionWindow time.Duration
	PerProjectCap   int
}

// Maintenance runs the retention sweeps: old post pruning and expired lock
// cleanup.
type Maintenance struct {
	store store.Store
	cfg   MaintenanceConfig
}

func NewMaintenance(s store.Store, cfg MaintenanceConfig) *Maintenance {
	return &Maintenance{store: s, cfg: cfg}
}

func (m *Maintenance) Start(ctx context.Context) {
	logger := zap.S().Named("maintenance")
	logger.Infow("maintenance started", "interval", m.cfg.Interval)

	ticker := jitterbug.New(m.cfg.Interval, &jitterbug.Norm{Stdev: 10 * time.Second})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("maintenance stopped")
			return
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}

func (m *Maintenance) RunOnce(ctx context.Context) {
	logger := zap.S().Named("maintenance")
	now := time.Now().UTC()

	pruned, err := m.store.Post().Prune(ctx, now.Add(-m.cfg.RetentionWindow), m.cfg.PerProjectCap)
	if err != nil {
		logger.Errorw("failed to prune posts", "error", err)
	} else if pruned > 0 {
		logger.Infow("pruned posts", "count", pruned)
	}

	swept, err := m.store.Lock().Sweep(ctx, now)
	if err != nil {
		logger.Errorw("failed to sweep expired locks", "error", err)
	} else if swept > 0 {
		logger.Infow("swept expired locks", "count", swept)
	}
}
