package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/creditmeter/internal/clock"
	"github.com/smallbiznis/creditmeter/internal/config"
	"github.com/smallbiznis/creditmeter/internal/period"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// RunForever reconciles the current period every interval until ctx is done.
func (r *Reconciler) RunForever(ctx context.Context, clk clock.Clock, interval time.Duration, repair bool) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		start := period.Current(clk).Start
		if _, err := r.Run(ctx, start, repair); err != nil && !errors.Is(err, ErrLockHeld) && ctx.Err() == nil {
			r.log.Warn("scheduled reconcile failed", zap.String("period_start", start), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// StartSchedule hooks the background loop into the app lifecycle when
// RECONCILE_INTERVAL_SECONDS is set.
func StartSchedule(lc fx.Lifecycle, cfg config.Config, clk clock.Clock, rec *Reconciler) {
	if cfg.ReconcileInterval <= 0 {
		return
	}

	var cancel context.CancelFunc
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			go func() {
				defer close(done)
				rec.RunForever(ctx, clk, cfg.ReconcileInterval, cfg.ReconcileRepair)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-ctx.Done():
			}
			return nil
		},
	})
}
