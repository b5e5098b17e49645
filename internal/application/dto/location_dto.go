package dto

import "time"

// CreateLocationRequest entrada para crear una ubicación.
type CreateLocationRequest struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"` // warehouse | store | transit | virtual
	Address string `json:"address"`
}

// LocationResponse salida de una ubicación.
type LocationResponse struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"companyId"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// LocationListResponse lista paginada de ubicaciones.
type LocationListResponse struct {
	Items []LocationResponse `json:"items"`
	Page  PageResponse       `json:"page"`
}

// BalanceResponse saldo de un producto en una ubicación.
type BalanceResponse struct {
	ProductID  string     `json:"productId"`
	LocationID string     `json:"locationId"`
	Quantity   int64      `json:"quantity"`
	Version    int64      `json:"version"`
	UpdatedAt  *time.Time `json:"updatedAt,omitempty"`
}

// BalanceListResponse saldos de una ubicación.
type BalanceListResponse struct {
	Items []BalanceResponse `json:"items"`
	Page  PageResponse      `json:"page"`
}
