package entity

import "time"

// Disparadores de auditoría.
const (
	AuditTriggerScheduled = "scheduled"
	AuditTriggerManual    = "manual"
	AuditTriggerCLI       = "cli"
)

// AuditScope limita la auditoría. CompanyID vacío solo se permite internamente (job periódico).
type AuditScope struct {
	CompanyID  string
	ProductID  string
	LocationID string
}

// BalanceMismatch diferencia entre la suma del ledger y el saldo almacenado.
// Se reporta para revisión del operador; nunca se corrige automáticamente.
type BalanceMismatch struct {
	ProductID  string
	LocationID string
	Expected   int64 // suma de deltas de movimientos completados
	Actual     int64 // LocationBalance.Quantity (0 si no existe la fila)
	Difference int64 // Actual - Expected
	// InFlight el par lo toca una saga pending que ya escribió algún paso: la diferencia puede
	// cerrarse sola al completar o compensar.
	InFlight bool
}

// AuditRun resultado persistido de una ejecución de auditoría.
type AuditRun struct {
	ID           string
	CompanyID    string
	Scope        AuditScope
	Trigger      string
	StartedAt    time.Time
	FinishedAt   time.Time
	PairsChecked int
	Mismatches   []BalanceMismatch
}

// Drift cantidad de diferencias que no se explican por sagas en curso.
func (r *AuditRun) Drift() int {
	n := 0
	for _, m := range r.Mismatches {
		if !m.InFlight {
			n++
		}
	}
	return n
}

// Clean indica que no hubo diferencias reales (las de sagas en curso no cuentan).
func (r *AuditRun) Clean() bool {
	return r.Drift() == 0
}
