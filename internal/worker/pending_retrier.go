package worker

import (
	"context"
	"errors"
	"time"

	"github.com/jhoicas/stock-ledger/internal/application/ledger"
	"github.com/jhoicas/stock-ledger/internal/domain"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
	"github.com/jhoicas/stock-ledger/pkg/logger"
)

// StaleLister lista movimientos pending abandonados.
type StaleLister interface {
	ListStalePending(ctx context.Context, olderThan, now time.Time, limit int) ([]*entity.Movement, error)
}

// Applier reconcilia un movimiento (ledger.Reconciler).
type Applier interface {
	Apply(ctx context.Context, movementID string) (*ledger.Result, error)
}

// PendingRetrier reintenta movimientos que quedaron pending por conflicto o error interno.
type PendingRetrier struct {
	lister   StaleLister
	applier  Applier
	interval time.Duration
	minAge   time.Duration
	batch    int
	log      *logger.Logger
	now      func() time.Time
}

// NewPendingRetrier construye el retrier.
func NewPendingRetrier(lister StaleLister, applier Applier, interval, minAge time.Duration, log *logger.Logger) *PendingRetrier {
	if log == nil {
		log = logger.Nop()
	}
	return &PendingRetrier{
		lister:   lister,
		applier:  applier,
		interval: interval,
		minAge:   minAge,
		batch:    100,
		log:      log.Component("pending-retrier"),
		now:      time.Now,
	}
}

// Start bloquea hasta que ctx se cancela.
func (r *PendingRetrier) Start(ctx context.Context) {
	if r.interval <= 0 {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce procesa un lote. Devuelve cuántos movimientos quedaron completados o failed.
func (r *PendingRetrier) RunOnce(ctx context.Context) int {
	now := r.now()
	stale, err := r.lister.ListStalePending(ctx, now.Add(-r.minAge), now, r.batch)
	if err != nil {
		r.log.Error().Err(err).Msg("no se pudieron listar movimientos pending")
		return 0
	}
	resolved := 0
	for _, mov := range stale {
		if ctx.Err() != nil {
			break
		}
		_, err := r.applier.Apply(ctx, mov.ID)
		switch {
		case err == nil:
			resolved++
		case errors.Is(err, domain.ErrInsufficientStock):
			resolved++
		default:
			var merr *ledger.MovementError
			if errors.As(err, &merr) && merr.Movement != nil && merr.Movement.Status == entity.StatusFailed {
				resolved++
				continue
			}
			r.log.Warn().Err(err).Str("movement_id", mov.ID).Msg("reintento sin éxito, sigue pending")
		}
	}
	if len(stale) > 0 {
		r.log.Info().Int("pending", len(stale)).Int("resolved", resolved).Msg("reintento de movimientos pending")
	}
	return resolved
}
