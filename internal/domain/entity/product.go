package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product representa un producto o SKU del inventario (multi-ubicación).
// Cost es promedio ponderado calculado desde las entradas; el stock vive en LocationBalance.
type Product struct {
	ID           string
	CompanyID    string
	SKU          string // código único por empresa
	Name         string
	Description  string
	Cost         decimal.Decimal // costo promedio ponderado (inicia en 0)
	ReorderPoint int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
