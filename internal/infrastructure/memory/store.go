// Package memory implementa los repositorios del ledger sobre go-memdb (transacciones en memoria).
// Se usa con LEDGER_STORE=memory y en los tests de casos de uso.
package memory

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-memdb"

	"github.com/jhoicas/stock-ledger/internal/application/ledger"
	"github.com/jhoicas/stock-ledger/internal/domain/repository"
)

const (
	tableProducts    = "products"
	tableLocations   = "locations"
	tableMovements   = "movements"
	tableBalances    = "balances"
	tableAuditRuns   = "audit_runs"
	tableIdempotency = "idempotency_keys"
)

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableProducts: {
				Name: tableProducts,
				Indexes: map[string]*memdb.IndexSchema{
					"id":      {Name: "id", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "ID"}},
					"company": {Name: "company", Indexer: &memdb.StringFieldIndex{Field: "CompanyID"}},
					"sku": {Name: "sku", Unique: true, Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
						&memdb.StringFieldIndex{Field: "CompanyID"},
						&memdb.StringFieldIndex{Field: "SKU"},
					}}},
				},
			},
			tableLocations: {
				Name: tableLocations,
				Indexes: map[string]*memdb.IndexSchema{
					"id":      {Name: "id", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "ID"}},
					"company": {Name: "company", Indexer: &memdb.StringFieldIndex{Field: "CompanyID"}},
				},
			},
			tableMovements: {
				Name: tableMovements,
				Indexes: map[string]*memdb.IndexSchema{
					"id":      {Name: "id", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "ID"}},
					"company": {Name: "company", Indexer: &memdb.StringFieldIndex{Field: "CompanyID"}},
					"status":  {Name: "status", Indexer: &memdb.StringFieldIndex{Field: "Status"}},
				},
			},
			tableBalances: {
				Name: tableBalances,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {Name: "id", Unique: true, Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
						&memdb.StringFieldIndex{Field: "ProductID"},
						&memdb.StringFieldIndex{Field: "LocationID"},
					}}},
					"location": {Name: "location", Indexer: &memdb.StringFieldIndex{Field: "LocationID"}},
				},
			},
			tableAuditRuns: {
				Name: tableAuditRuns,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {Name: "id", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "ID"}},
				},
			},
			tableIdempotency: {
				Name: tableIdempotency,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {Name: "id", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "Key"}},
				},
			},
		},
	}
}

// Store base de datos en memoria compartida por todos los repositorios.
type Store struct {
	db *memdb.MemDB
}

// NewStore crea la base en memoria con el esquema del ledger.
func NewStore() (*Store, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("memdb schema: %w", err)
	}
	return &Store{db: db}, nil
}

// session ejecuta operaciones en la txn del TxRunner o en una propia.
type session struct {
	db  *memdb.MemDB
	txn *memdb.Txn
}

func (s session) write(fn func(txn *memdb.Txn) error) error {
	if s.txn != nil {
		return fn(s.txn)
	}
	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := fn(txn); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s session) read(fn func(txn *memdb.Txn) error) error {
	if s.txn != nil {
		return fn(s.txn)
	}
	txn := s.db.Txn(false)
	defer txn.Abort()
	return fn(txn)
}

func (s *Store) session() session { return session{db: s.db} }

// Movements devuelve el repositorio de movimientos fuera de transacción.
func (s *Store) Movements() *MovementRepo { return &MovementRepo{s: s.session()} }

// Balances devuelve el repositorio de saldos fuera de transacción.
func (s *Store) Balances() *BalanceRepo { return &BalanceRepo{s: s.session()} }

// Products devuelve el repositorio de productos.
func (s *Store) Products() *ProductRepo { return &ProductRepo{s: s.session()} }

// Locations devuelve el repositorio de ubicaciones.
func (s *Store) Locations() *LocationRepo { return &LocationRepo{s: s.session()} }

// Audits devuelve el repositorio de auditorías.
func (s *Store) Audits() *AuditRepo { return &AuditRepo{s: s.session()} }

// Idempotency devuelve el almacén de Idempotency-Key en memoria (sin Redis).
func (s *Store) Idempotency() *IdempotencyStore { return &IdempotencyStore{s: s.session()} }

var _ ledger.TxRunner = (*TxRunner)(nil)

// TxRunner ejecuta fn en una txn de escritura de memdb (los escritores se serializan).
type TxRunner struct {
	store *Store
}

// NewTxRunner construye el runner.
func NewTxRunner(store *Store) *TxRunner {
	return &TxRunner{store: store}
}

// Run hace Commit si fn no devuelve error; Abort en caso contrario.
// fn no debe usar repositorios fuera de la txn: memdb admite un solo escritor.
func (r *TxRunner) Run(ctx context.Context, fn func(
	movRepo repository.MovementRepository,
	balanceRepo repository.BalanceRepository,
	productRepo repository.ProductRepository,
) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	txn := r.store.db.Txn(true)
	defer txn.Abort()

	s := session{db: r.store.db, txn: txn}
	if err := fn(&MovementRepo{s: s}, &BalanceRepo{s: s}, &ProductRepo{s: s}); err != nil {
		return err
	}
	txn.Commit()
	return nil
}
