package memory

import (
	"context"
	"sort"

	"github.com/hashicorp/go-memdb"

	"github.com/jhoicas/stock-ledger/internal/domain/entity"
	"github.com/jhoicas/stock-ledger/internal/domain/repository"
)

var _ repository.AuditRepository = (*AuditRepo)(nil)

// AuditRepo lecturas de auditoría y ejecuciones persistidas en memoria.
type AuditRepo struct {
	s session
}

// Snapshot suma los deltas completados y lee los saldos en la misma txn de lectura (vista inmutable).
func (r *AuditRepo) Snapshot(_ context.Context, scope entity.AuditScope) (*repository.LedgerSnapshot, error) {
	snap := &repository.LedgerSnapshot{}
	err := r.s.read(func(txn *memdb.Txn) error {
		totals := map[entity.PairKey]*repository.PairTotal{}
		it, err := txn.Get(tableMovements, "status", string(entity.StatusCompleted))
		if err != nil {
			return err
		}
		for obj := it.Next(); obj != nil; obj = it.Next() {
			m := obj.(*entity.Movement)
			if scope.CompanyID != "" && m.CompanyID != scope.CompanyID {
				continue
			}
			if scope.ProductID != "" && m.ProductID != scope.ProductID {
				continue
			}
			for _, d := range m.Deltas(0) {
				if scope.LocationID != "" && d.LocationID != scope.LocationID {
					continue
				}
				key := entity.PairKey{ProductID: m.ProductID, LocationID: d.LocationID}
				t, ok := totals[key]
				if !ok {
					t = &repository.PairTotal{CompanyID: m.CompanyID, ProductID: m.ProductID, LocationID: d.LocationID}
					totals[key] = t
				}
				t.Total += d.Delta
			}
		}
		for _, t := range totals {
			snap.Totals = append(snap.Totals, *t)
		}

		pit, err := txn.Get(tableMovements, "status", string(entity.StatusPending))
		if err != nil {
			return err
		}
		for obj := pit.Next(); obj != nil; obj = pit.Next() {
			m := obj.(*entity.Movement)
			if m.SagaStep == entity.SagaStepNone || !inScope(scope, m.CompanyID, m.ProductID) {
				continue
			}
			for _, id := range m.LocationIDs() {
				if scope.LocationID == "" || id == scope.LocationID {
					snap.InFlight = append(snap.InFlight, entity.PairKey{ProductID: m.ProductID, LocationID: id})
				}
			}
		}

		bit, err := txn.Get(tableBalances, "id")
		if err != nil {
			return err
		}
		for obj := bit.Next(); obj != nil; obj = bit.Next() {
			b := obj.(*entity.LocationBalance)
			if scope.CompanyID != "" && b.CompanyID != scope.CompanyID {
				continue
			}
			if scope.ProductID != "" && b.ProductID != scope.ProductID {
				continue
			}
			if scope.LocationID != "" && b.LocationID != scope.LocationID {
				continue
			}
			c := *b
			snap.Balances = append(snap.Balances, &c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(snap.Totals, func(i, j int) bool {
		if snap.Totals[i].ProductID != snap.Totals[j].ProductID {
			return snap.Totals[i].ProductID < snap.Totals[j].ProductID
		}
		return snap.Totals[i].LocationID < snap.Totals[j].LocationID
	})
	return snap, nil
}

func inScope(scope entity.AuditScope, companyID, productID string) bool {
	return (scope.CompanyID == "" || companyID == scope.CompanyID) &&
		(scope.ProductID == "" || productID == scope.ProductID)
}

func (r *AuditRepo) CompanyIDs(_ context.Context) ([]string, error) {
	seen := map[string]struct{}{}
	err := r.s.read(func(txn *memdb.Txn) error {
		it, err := txn.Get(tableMovements, "id")
		if err != nil {
			return err
		}
		for obj := it.Next(); obj != nil; obj = it.Next() {
			seen[obj.(*entity.Movement).CompanyID] = struct{}{}
		}
		bit, err := txn.Get(tableBalances, "id")
		if err != nil {
			return err
		}
		for obj := bit.Next(); obj != nil; obj = bit.Next() {
			if id := obj.(*entity.LocationBalance).CompanyID; id != "" {
				seen[id] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *AuditRepo) Create(_ context.Context, run *entity.AuditRun) error {
	return r.s.write(func(txn *memdb.Txn) error {
		c := *run
		c.Mismatches = append([]entity.BalanceMismatch(nil), run.Mismatches...)
		return txn.Insert(tableAuditRuns, &c)
	})
}

func (r *AuditRepo) GetByID(_ context.Context, id string) (*entity.AuditRun, error) {
	var out *entity.AuditRun
	err := r.s.read(func(txn *memdb.Txn) error {
		obj, err := txn.First(tableAuditRuns, "id", id)
		if err != nil || obj == nil {
			return err
		}
		c := *obj.(*entity.AuditRun)
		c.Mismatches = append([]entity.BalanceMismatch(nil), c.Mismatches...)
		out = &c
		return nil
	})
	return out, err
}
