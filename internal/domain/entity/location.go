package entity

import "time"

// Tipos de ubicación.
const (
	LocationKindWarehouse = "warehouse" // bodega
	LocationKindStore     = "store"     // punto de venta
	LocationKindTransit   = "transit"   // mercancía en tránsito
	LocationKindVirtual   = "virtual"   // ubicación lógica (mermas, cuarentena)
)

// Location representa una bodega, tienda o ubicación lógica donde se guarda stock (multi-ubicación).
type Location struct {
	ID        string
	CompanyID string
	Name      string
	Kind      string
	Address   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidLocationKind indica si kind es uno de los tipos soportados.
func ValidLocationKind(kind string) bool {
	switch kind {
	case LocationKindWarehouse, LocationKindStore, LocationKindTransit, LocationKindVirtual:
		return true
	}
	return false
}
