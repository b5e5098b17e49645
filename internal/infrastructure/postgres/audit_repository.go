package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jhoicas/stock-ledger/internal/domain/entity"
	"github.com/jhoicas/stock-ledger/internal/domain/repository"
)

var _ repository.AuditRepository = (*AuditRepo)(nil)

// AuditRepo lecturas de auditoría. Necesita el pool (no un Querier) para abrir su propia
// transacción REPEATABLE READ de solo lectura.
type AuditRepo struct {
	pool *pgxpool.Pool
}

// NewAuditRepository construye el adaptador de auditoría.
func NewAuditRepository(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

// Suma por par de los deltas de movimientos completados. Para count el delta es applied_delta.
const ledgerTotalsQuery = `
	SELECT company_id, product_id, location_id, SUM(delta)::BIGINT
	FROM (
		SELECT company_id, product_id, from_location_id AS location_id, -quantity AS delta
		FROM stock_movements WHERE status = 'completed' AND from_location_id IS NOT NULL
		UNION ALL
		SELECT company_id, product_id, to_location_id,
			CASE WHEN type = 'count' THEN COALESCE(applied_delta, quantity) ELSE quantity END
		FROM stock_movements WHERE status = 'completed' AND to_location_id IS NOT NULL
	) d
	WHERE ($1::text = '' OR company_id = $1)
	  AND ($2::text = '' OR product_id = $2)
	  AND ($3::text = '' OR location_id = $3)
	GROUP BY company_id, product_id, location_id
	ORDER BY product_id, location_id`

// Pares tocados por sagas pending que ya registraron un paso (débito o crédito en curso o hecho).
const inFlightPairsQuery = `
	SELECT DISTINCT product_id, location_id
	FROM (
		SELECT company_id, product_id, from_location_id AS location_id
		FROM stock_movements WHERE status = 'pending' AND saga_step <> '' AND from_location_id IS NOT NULL
		UNION ALL
		SELECT company_id, product_id, to_location_id
		FROM stock_movements WHERE status = 'pending' AND saga_step <> '' AND to_location_id IS NOT NULL
	) p
	WHERE ($1::text = '' OR company_id = $1)
	  AND ($2::text = '' OR product_id = $2)
	  AND ($3::text = '' OR location_id = $3)`

const scopedBalancesQuery = `SELECT ` + balanceColumns + ` FROM location_balances
	WHERE ($1::text = '' OR company_id = $1)
	  AND ($2::text = '' OR product_id = $2)
	  AND ($3::text = '' OR location_id = $3)
	ORDER BY product_id, location_id`

// Snapshot lee sumas y saldos dentro de una misma instantánea.
func (r *AuditRepo) Snapshot(ctx context.Context, scope entity.AuditScope) (*repository.LedgerSnapshot, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	args := []any{scope.CompanyID, scope.ProductID, scope.LocationID}
	snap := &repository.LedgerSnapshot{}

	rows, err := tx.Query(ctx, ledgerTotalsQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger totals: %w", err)
	}
	for rows.Next() {
		var t repository.PairTotal
		if err := rows.Scan(&t.CompanyID, &t.ProductID, &t.LocationID, &t.Total); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan total: %w", err)
		}
		snap.Totals = append(snap.Totals, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger totals: %w", err)
	}

	prows, err := tx.Query(ctx, inFlightPairsQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("in-flight pairs: %w", err)
	}
	for prows.Next() {
		var k entity.PairKey
		if err := prows.Scan(&k.ProductID, &k.LocationID); err != nil {
			prows.Close()
			return nil, fmt.Errorf("scan in-flight pair: %w", err)
		}
		snap.InFlight = append(snap.InFlight, k)
	}
	prows.Close()
	if err := prows.Err(); err != nil {
		return nil, fmt.Errorf("in-flight pairs: %w", err)
	}

	brows, err := tx.Query(ctx, scopedBalancesQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("snapshot balances: %w", err)
	}
	defer brows.Close()
	if snap.Balances, err = scanBalances(brows); err != nil {
		return nil, err
	}
	return snap, nil
}

// CompanyIDs empresas con movimientos o saldos.
func (r *AuditRepo) CompanyIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT company_id FROM stock_movements
		UNION
		SELECT company_id FROM location_balances
		ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan company: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Create persiste la ejecución; las diferencias van en una columna JSONB.
func (r *AuditRepo) Create(ctx context.Context, run *entity.AuditRun) error {
	mismatches := run.Mismatches
	if mismatches == nil {
		mismatches = []entity.BalanceMismatch{}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_runs (id, company_id, product_id, location_id, trigger, started_at, finished_at, pairs_checked, mismatches)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, run.CompanyID, run.Scope.ProductID, run.Scope.LocationID, run.Trigger,
		run.StartedAt, run.FinishedAt, run.PairsChecked, mismatches,
	)
	if err != nil {
		return fmt.Errorf("insert audit run: %w", err)
	}
	return nil
}

func (r *AuditRepo) GetByID(ctx context.Context, id string) (*entity.AuditRun, error) {
	var run entity.AuditRun
	err := r.pool.QueryRow(ctx, `
		SELECT id, company_id, product_id, location_id, trigger, started_at, finished_at, pairs_checked, mismatches
		FROM audit_runs WHERE id = $1`, id).Scan(
		&run.ID, &run.CompanyID, &run.Scope.ProductID, &run.Scope.LocationID, &run.Trigger,
		&run.StartedAt, &run.FinishedAt, &run.PairsChecked, &run.Mismatches,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get audit run: %w", err)
	}
	run.Scope.CompanyID = run.CompanyID
	return &run, nil
}
