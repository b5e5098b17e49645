package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// SubmitMovementRequest body para POST /api/stock-movements.
type SubmitMovementRequest struct {
	ProductID      string           `json:"productId"`
	Quantity       int64            `json:"quantity"`
	Type           string           `json:"type"`
	FromLocationID string           `json:"fromLocationId,omitempty"`
	ToLocationID   string           `json:"toLocationId,omitempty"`
	Reference      string           `json:"reference,omitempty"`
	Reason         string           `json:"reason,omitempty"`
	UnitCost       *decimal.Decimal `json:"unitCost,omitempty"`
	AllowBackorder bool             `json:"allowBackorder,omitempty"`
}

// MovementResponse salida de un movimiento del ledger.
type MovementResponse struct {
	ID             string           `json:"id"`
	CompanyID      string           `json:"companyId"`
	ProductID      string           `json:"productId"`
	Type           string           `json:"type"`
	Quantity       int64            `json:"quantity"`
	FromLocationID string           `json:"fromLocationId,omitempty"`
	ToLocationID   string           `json:"toLocationId,omitempty"`
	Reference      string           `json:"reference,omitempty"`
	Reason         string           `json:"reason,omitempty"`
	UnitCost       *decimal.Decimal `json:"unitCost,omitempty"`
	AllowBackorder bool             `json:"allowBackorder"`
	Status         string           `json:"status"`
	AppliedDelta   *int64           `json:"appliedDelta,omitempty"`
	FailureReason  string           `json:"failureReason,omitempty"`
	Compensation   string           `json:"compensation,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	CreatedBy      string           `json:"createdBy"`
	CompletedAt    *time.Time       `json:"completedAt,omitempty"`
	CancelledAt    *time.Time       `json:"cancelledAt,omitempty"`
	FailedAt       *time.Time       `json:"failedAt,omitempty"`
}

// SubmitMovementResponse movimiento más los saldos afectados.
type SubmitMovementResponse struct {
	Movement MovementResponse  `json:"movement"`
	Balances []BalanceResponse `json:"balances,omitempty"`
	Replayed bool              `json:"replayed,omitempty"`
}

// MovementListResponse lista paginada de movimientos.
type MovementListResponse struct {
	Items []MovementResponse `json:"items"`
	Page  PageResponse       `json:"page"`
}

// MovementErrorResponse error de negocio con el movimiento en su estado final.
type MovementErrorResponse struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Movement *MovementResponse `json:"movement,omitempty"`
}
