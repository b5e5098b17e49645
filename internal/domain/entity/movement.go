package entity

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MovementType tipo de movimiento de stock.
type MovementType string

// Tipos de movimiento soportados por el ledger.
const (
	MovementTransfer   MovementType = "transfer"   // traslado entre ubicaciones
	MovementAdjustment MovementType = "adjustment" // ajuste manual (+ destino, - origen)
	MovementReceive    MovementType = "receive"    // entrada por compra o recepción
	MovementShip       MovementType = "ship"       // salida por despacho
	MovementReturn     MovementType = "return"     // devolución de cliente
	MovementDispose    MovementType = "dispose"    // baja por daño o vencimiento
	MovementCount      MovementType = "count"      // conteo físico: fija la cantidad contada
)

// MovementStatus estado del movimiento. pending -> {completed | cancelled | failed}, todos terminales.
type MovementStatus string

const (
	StatusPending   MovementStatus = "pending"
	StatusCompleted MovementStatus = "completed"
	StatusCancelled MovementStatus = "cancelled"
	StatusFailed    MovementStatus = "failed"
)

// Compensación registrada por el modo saga.
const (
	CompensationNone    = "none"
	CompensationApplied = "applied"
	CompensationFailed  = "failed"
)

// Pasos de saga persistidos en el movimiento.
const (
	SagaStepNone      = ""
	SagaStepDebiting  = "debiting" // débito en curso: si el proceso muere aquí el estado es ambiguo
	SagaStepDebited   = "debited"
	SagaStepCrediting = "crediting"
	SagaStepCredited  = "credited"
)

// Movement es un registro inmutable del ledger. Una vez completado solo cambia su estado.
type Movement struct {
	ID             string
	CompanyID      string
	ProductID      string
	Type           MovementType
	Quantity       int64
	FromLocationID string
	ToLocationID   string
	Reference      string
	Reason         string
	UnitCost       *decimal.Decimal // solo en entradas; alimenta el costo promedio ponderado
	AllowBackorder bool
	Status         MovementStatus
	AppliedDelta   *int64 // solo count: cantidad contada - saldo previo
	FailureReason  string
	Compensation   string
	SagaStep       string
	ClaimedUntil   *time.Time
	CreatedAt      time.Time
	CreatedBy      string
	CompletedAt    *time.Time
	CancelledAt    *time.Time
	FailedAt       *time.Time
}

// LocationDelta cambio con signo que un movimiento aplica a una ubicación.
type LocationDelta struct {
	LocationID string
	Delta      int64
}

// ParseMovementType valida el string recibido por la API.
func ParseMovementType(s string) (MovementType, bool) {
	switch t := MovementType(s); t {
	case MovementTransfer, MovementAdjustment, MovementReceive, MovementShip,
		MovementReturn, MovementDispose, MovementCount:
		return t, true
	}
	return "", false
}

// IsTerminal indica si el estado ya no admite transiciones.
func (s MovementStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// CanTransition valida la máquina de estados del movimiento.
func (s MovementStatus) CanTransition(to MovementStatus) bool {
	return s == StatusPending && to.IsTerminal()
}

// Validate comprueba los invariantes estructurales del movimiento (sin consultar repositorios).
func (m *Movement) Validate() error {
	if m.ProductID == "" {
		return fmt.Errorf("productId es requerido")
	}
	if m.Quantity <= 0 {
		return fmt.Errorf("quantity debe ser un entero positivo")
	}
	from, to := m.FromLocationID != "", m.ToLocationID != ""
	switch m.Type {
	case MovementTransfer:
		if !from || !to {
			return fmt.Errorf("transfer requiere fromLocationId y toLocationId")
		}
		if m.FromLocationID == m.ToLocationID {
			return fmt.Errorf("fromLocationId y toLocationId deben ser distintos")
		}
	case MovementAdjustment:
		if from == to {
			return fmt.Errorf("adjustment requiere exactamente una de fromLocationId (disminución) o toLocationId (aumento)")
		}
	case MovementReceive, MovementReturn, MovementCount:
		if !to || from {
			return fmt.Errorf("%s requiere solo toLocationId", m.Type)
		}
	case MovementShip, MovementDispose:
		if !from || to {
			return fmt.Errorf("%s requiere solo fromLocationId", m.Type)
		}
	default:
		return fmt.Errorf("tipo de movimiento desconocido: %q", m.Type)
	}
	if m.UnitCost != nil {
		if m.UnitCost.IsNegative() {
			return fmt.Errorf("unitCost no puede ser negativo")
		}
		if !m.IsInbound() {
			return fmt.Errorf("unitCost solo aplica a entradas")
		}
	}
	return nil
}

// IsInbound indica si el movimiento solo acredita una ubicación (receive, return, ajuste positivo).
func (m *Movement) IsInbound() bool {
	switch m.Type {
	case MovementReceive, MovementReturn:
		return true
	case MovementAdjustment:
		return m.ToLocationID != ""
	}
	return false
}

// LocationIDs devuelve las ubicaciones que toca el movimiento.
func (m *Movement) LocationIDs() []string {
	ids := make([]string, 0, 2)
	if m.FromLocationID != "" {
		ids = append(ids, m.FromLocationID)
	}
	if m.ToLocationID != "" {
		ids = append(ids, m.ToLocationID)
	}
	return ids
}

// Deltas devuelve los cambios por ubicación. El origen siempre va primero (orden de la saga).
// Para count se necesita el saldo previo del destino: prior es ese saldo.
func (m *Movement) Deltas(prior int64) []LocationDelta {
	if m.Type == MovementCount {
		if m.AppliedDelta != nil {
			return []LocationDelta{{LocationID: m.ToLocationID, Delta: *m.AppliedDelta}}
		}
		return []LocationDelta{{LocationID: m.ToLocationID, Delta: m.Quantity - prior}}
	}
	deltas := make([]LocationDelta, 0, 2)
	if m.FromLocationID != "" {
		deltas = append(deltas, LocationDelta{LocationID: m.FromLocationID, Delta: -m.Quantity})
	}
	if m.ToLocationID != "" {
		deltas = append(deltas, LocationDelta{LocationID: m.ToLocationID, Delta: m.Quantity})
	}
	return deltas
}

// SagaAmbiguous indica que la saga quedó a mitad de un paso y no se puede reanudar sin revisión.
func (m *Movement) SagaAmbiguous() bool {
	return m.SagaStep == SagaStepDebiting || m.SagaStep == SagaStepCrediting
}

// Claimed indica si una reconciliación tiene el movimiento tomado en el instante now.
func (m *Movement) Claimed(now time.Time) bool {
	return m.ClaimedUntil != nil && m.ClaimedUntil.After(now)
}
