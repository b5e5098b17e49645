package dto

import "github.com/jhoicas/stock-ledger/internal/domain/entity"

// FromMovement convierte la entidad a su salida HTTP.
func FromMovement(m *entity.Movement) MovementResponse {
	return MovementResponse{
		ID:             m.ID,
		CompanyID:      m.CompanyID,
		ProductID:      m.ProductID,
		Type:           string(m.Type),
		Quantity:       m.Quantity,
		FromLocationID: m.FromLocationID,
		ToLocationID:   m.ToLocationID,
		Reference:      m.Reference,
		Reason:         m.Reason,
		UnitCost:       m.UnitCost,
		AllowBackorder: m.AllowBackorder,
		Status:         string(m.Status),
		AppliedDelta:   m.AppliedDelta,
		FailureReason:  m.FailureReason,
		Compensation:   m.Compensation,
		CreatedAt:      m.CreatedAt,
		CreatedBy:      m.CreatedBy,
		CompletedAt:    m.CompletedAt,
		CancelledAt:    m.CancelledAt,
		FailedAt:       m.FailedAt,
	}
}

// FromBalance convierte un saldo; UpdatedAt se omite si la fila no existe.
func FromBalance(b *entity.LocationBalance) BalanceResponse {
	out := BalanceResponse{
		ProductID:  b.ProductID,
		LocationID: b.LocationID,
		Quantity:   b.Quantity,
		Version:    b.Version,
	}
	if !b.UpdatedAt.IsZero() {
		t := b.UpdatedAt
		out.UpdatedAt = &t
	}
	return out
}

// FromBalances convierte una lista de saldos.
func FromBalances(list []*entity.LocationBalance) []BalanceResponse {
	out := make([]BalanceResponse, 0, len(list))
	for _, b := range list {
		out = append(out, FromBalance(b))
	}
	return out
}

// FromAuditRun convierte una auditoría.
func FromAuditRun(r *entity.AuditRun) AuditRunResponse {
	mismatches := make([]BalanceMismatchResponse, 0, len(r.Mismatches))
	for _, m := range r.Mismatches {
		mismatches = append(mismatches, BalanceMismatchResponse{
			ProductID:  m.ProductID,
			LocationID: m.LocationID,
			Expected:   m.Expected,
			Actual:     m.Actual,
			Difference: m.Difference,
			InFlight:   m.InFlight,
		})
	}
	return AuditRunResponse{
		ID:           r.ID,
		CompanyID:    r.CompanyID,
		ProductID:    r.Scope.ProductID,
		LocationID:   r.Scope.LocationID,
		Trigger:      r.Trigger,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
		PairsChecked: r.PairsChecked,
		Drift:        r.Drift(),
		Clean:        r.Clean(),
		Mismatches:   mismatches,
	}
}
