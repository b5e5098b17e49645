package entity

import "time"

// EventTypeMovementCompleted tipo del evento emitido al completar un movimiento.
const EventTypeMovementCompleted = "MOVEMENT_COMPLETED"

// MovementCompleted se emite una vez por ubicación afectada, después del commit.
// Lo consume alertas (stock bajo); la lógica de alertas vive fuera de este servicio.
type MovementCompleted struct {
	EventID     string    `json:"eventId"`
	EventType   string    `json:"eventType"`
	OccurredAt  time.Time `json:"occurredAt"`
	CompanyID   string    `json:"companyId"`
	MovementID  string    `json:"movementId"`
	ProductID   string    `json:"productId"`
	LocationID  string    `json:"locationId"`
	NewQuantity int64     `json:"newQuantity"`
}
