package dto

import "time"

// RunAuditRequest body para POST /api/audit/runs.
type RunAuditRequest struct {
	ProductID  string `json:"productId,omitempty"`
	LocationID string `json:"locationId,omitempty"`
}

// BalanceMismatchResponse diferencia reportada por la auditoría.
type BalanceMismatchResponse struct {
	ProductID  string `json:"productId"`
	LocationID string `json:"locationId"`
	Expected   int64  `json:"expected"`
	Actual     int64  `json:"actual"`
	Difference int64  `json:"difference"`
	InFlight   bool   `json:"inFlight"` // saga en curso sobre el par
}

// AuditRunResponse salida de una auditoría.
type AuditRunResponse struct {
	ID           string                    `json:"id"`
	CompanyID    string                    `json:"companyId"`
	ProductID    string                    `json:"productId,omitempty"`
	LocationID   string                    `json:"locationId,omitempty"`
	Trigger      string                    `json:"trigger"`
	StartedAt    time.Time                 `json:"startedAt"`
	FinishedAt   time.Time                 `json:"finishedAt"`
	PairsChecked int                       `json:"pairsChecked"`
	Drift        int                       `json:"drift"`
	Clean        bool                      `json:"clean"`
	Mismatches   []BalanceMismatchResponse `json:"mismatches"`
}
