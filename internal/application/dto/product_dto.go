package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// CreateProductRequest entrada para crear un producto.
type CreateProductRequest struct {
	SKU          string `json:"sku"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	ReorderPoint int64  `json:"reorderPoint"`
}

// ProductResponse salida de un producto. Cost es el promedio ponderado que mantiene el ledger.
type ProductResponse struct {
	ID           string          `json:"id"`
	CompanyID    string          `json:"companyId"`
	SKU          string          `json:"sku"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Cost         decimal.Decimal `json:"cost"`
	ReorderPoint int64           `json:"reorderPoint"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// ProductListResponse lista paginada de productos.
type ProductListResponse struct {
	Items []ProductResponse `json:"items"`
	Page  PageResponse      `json:"page"`
}
