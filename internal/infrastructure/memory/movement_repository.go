package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-memdb"

	"github.com/jhoicas/stock-ledger/internal/domain"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
	"github.com/jhoicas/stock-ledger/internal/domain/repository"
)

var _ repository.MovementRepository = (*MovementRepo)(nil)

// MovementRepo ledger de movimientos en memoria.
type MovementRepo struct {
	s session
}

func (r *MovementRepo) Create(_ context.Context, m *entity.Movement) error {
	return r.s.write(func(txn *memdb.Txn) error {
		existing, err := txn.First(tableMovements, "id", m.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: movimiento %s", domain.ErrDuplicate, m.ID)
		}
		c := *m
		return txn.Insert(tableMovements, &c)
	})
}

func (r *MovementRepo) GetByID(_ context.Context, id string) (*entity.Movement, error) {
	var out *entity.Movement
	err := r.s.read(func(txn *memdb.Txn) error {
		m, err := getMovement(txn, id)
		out = m
		return err
	})
	return out, err
}

func (r *MovementRepo) List(_ context.Context, f repository.MovementFilter) ([]*entity.Movement, int, error) {
	var matched []*entity.Movement
	err := r.s.read(func(txn *memdb.Txn) error {
		it, err := txn.Get(tableMovements, "company", f.CompanyID)
		if err != nil {
			return err
		}
		for obj := it.Next(); obj != nil; obj = it.Next() {
			m := obj.(*entity.Movement)
			if f.ProductID != "" && m.ProductID != f.ProductID {
				continue
			}
			if f.LocationID != "" && m.FromLocationID != f.LocationID && m.ToLocationID != f.LocationID {
				continue
			}
			if f.Status != "" && m.Status != f.Status {
				continue
			}
			if f.Type != "" && m.Type != f.Type {
				continue
			}
			c := *m
			matched = append(matched, &c)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := len(matched)
	if f.Offset >= total {
		return []*entity.Movement{}, total, nil
	}
	end := total
	if f.Limit > 0 && f.Offset+f.Limit < total {
		end = f.Offset + f.Limit
	}
	return matched[f.Offset:end], total, nil
}

func (r *MovementRepo) Claim(_ context.Context, id string, now, until time.Time) (bool, error) {
	claimed := false
	err := r.s.write(func(txn *memdb.Txn) error {
		m, err := getMovement(txn, id)
		if err != nil || m == nil {
			return err
		}
		if m.Status != entity.StatusPending || m.Claimed(now) {
			return nil
		}
		m.ClaimedUntil = &until
		claimed = true
		return txn.Insert(tableMovements, m)
	})
	return claimed, err
}

func (r *MovementRepo) ReleaseClaim(_ context.Context, id string) error {
	return r.update(id, false, func(m *entity.Movement) error {
		m.ClaimedUntil = nil
		return nil
	})
}

func (r *MovementRepo) SetSagaStep(_ context.Context, id, step string, appliedDelta *int64) error {
	return r.update(id, true, func(m *entity.Movement) error {
		m.SagaStep = step
		if appliedDelta != nil {
			d := *appliedDelta
			m.AppliedDelta = &d
		}
		return nil
	})
}

func (r *MovementRepo) Complete(_ context.Context, id string, completedAt time.Time, appliedDelta *int64) error {
	return r.update(id, true, func(m *entity.Movement) error {
		m.Status = entity.StatusCompleted
		m.CompletedAt = &completedAt
		if appliedDelta != nil {
			d := *appliedDelta
			m.AppliedDelta = &d
		}
		m.ClaimedUntil = nil
		return nil
	})
}

func (r *MovementRepo) Fail(_ context.Context, id, reason, compensation string, failedAt time.Time) error {
	return r.update(id, true, func(m *entity.Movement) error {
		m.Status = entity.StatusFailed
		m.FailureReason = reason
		m.Compensation = compensation
		m.FailedAt = &failedAt
		m.ClaimedUntil = nil
		return nil
	})
}

func (r *MovementRepo) Cancel(_ context.Context, id string, now time.Time) error {
	return r.update(id, true, func(m *entity.Movement) error {
		if m.Claimed(now) || m.SagaStep != entity.SagaStepNone {
			return fmt.Errorf("%w: el movimiento se está reconciliando", domain.ErrInvalidState)
		}
		m.Status = entity.StatusCancelled
		m.CancelledAt = &now
		return nil
	})
}

func (r *MovementRepo) ListStalePending(_ context.Context, olderThan, now time.Time, limit int) ([]*entity.Movement, error) {
	var out []*entity.Movement
	err := r.s.read(func(txn *memdb.Txn) error {
		it, err := txn.Get(tableMovements, "status", string(entity.StatusPending))
		if err != nil {
			return err
		}
		for obj := it.Next(); obj != nil; obj = it.Next() {
			m := obj.(*entity.Movement)
			if !m.CreatedAt.Before(olderThan) || m.Claimed(now) || m.SagaAmbiguous() {
				continue
			}
			c := *m
			out = append(out, &c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// update aplica fn sobre una copia del movimiento; pendingOnly exige estado pending.
func (r *MovementRepo) update(id string, pendingOnly bool, fn func(m *entity.Movement) error) error {
	return r.s.write(func(txn *memdb.Txn) error {
		m, err := getMovement(txn, id)
		if err != nil {
			return err
		}
		if m == nil {
			return fmt.Errorf("%w: movimiento %s", domain.ErrNotFound, id)
		}
		if pendingOnly && m.Status != entity.StatusPending {
			return fmt.Errorf("%w: movimiento %s en estado %s", domain.ErrInvalidState, id, m.Status)
		}
		if err := fn(m); err != nil {
			return err
		}
		return txn.Insert(tableMovements, m)
	})
}

// getMovement devuelve una copia del movimiento (memdb exige no mutar los objetos guardados).
func getMovement(txn *memdb.Txn, id string) (*entity.Movement, error) {
	obj, err := txn.First(tableMovements, "id", id)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, nil
	}
	c := *obj.(*entity.Movement)
	return &c, nil
}
