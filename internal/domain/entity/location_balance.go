package entity

import "time"

// LocationBalance cantidad actual de un producto en una ubicación.
// Solo la modifica el reconciliador; Version 0 significa que la fila aún no existe.
type LocationBalance struct {
	CompanyID  string
	ProductID  string
	LocationID string
	Quantity   int64
	Version    int64
	UpdatedAt  time.Time
}

// PairKey identifica el par (producto, ubicación).
type PairKey struct {
	ProductID  string
	LocationID string
}

// Key devuelve la clave compuesta del saldo.
func (b *LocationBalance) Key() PairKey {
	return PairKey{ProductID: b.ProductID, LocationID: b.LocationID}
}
