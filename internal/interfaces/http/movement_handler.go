package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/stock-ledger/internal/application/dto"
	"github.com/jhoicas/stock-ledger/internal/application/ledger"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
	"github.com/jhoicas/stock-ledger/internal/domain/repository"
)

// HeaderIdempotencyKey permite reintentar POST /stock-movements sin duplicar el movimiento.
const HeaderIdempotencyKey = "Idempotency-Key"

// MovementHandler API del ledger de movimientos (protegido).
type MovementHandler struct {
	uc *ledger.LedgerUseCase
}

// NewMovementHandler construye el handler.
func NewMovementHandler(uc *ledger.LedgerUseCase) *MovementHandler {
	return &MovementHandler{uc: uc}
}

// Submit godoc
// @Summary      Registrar movimiento de stock
// @Description  Persiste el movimiento en pending y lo aplica a los saldos. 201 completado, 422 stock insuficiente (movimiento failed), 409 conflicto (movimiento sigue pending).
// @Tags         stock-movements
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        Idempotency-Key  header  string                     false  "Clave de idempotencia"
// @Param        body             body    dto.SubmitMovementRequest  true   "Movimiento"
// @Success      201  {object}  dto.SubmitMovementResponse
// @Success      200  {object}  dto.SubmitMovementResponse  "replay de Idempotency-Key"
// @Failure      400  {object}  dto.ErrorResponse
// @Failure      404  {object}  dto.ErrorResponse
// @Failure      409  {object}  dto.MovementErrorResponse
// @Failure      422  {object}  dto.MovementErrorResponse
// @Router       /api/stock-movements [post]
func (h *MovementHandler) Submit(c *fiber.Ctx) error {
	var in dto.SubmitMovementRequest
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "INVALID_BODY", "cuerpo inválido")
	}
	res, err := h.uc.Submit(c.UserContext(), ledger.SubmitInput{
		CompanyID:      GetCompanyID(c),
		UserID:         GetUserID(c),
		IdempotencyKey: c.Get(HeaderIdempotencyKey),
		ProductID:      in.ProductID,
		Quantity:       in.Quantity,
		Type:           in.Type,
		FromLocationID: in.FromLocationID,
		ToLocationID:   in.ToLocationID,
		Reference:      in.Reference,
		Reason:         in.Reason,
		UnitCost:       in.UnitCost,
		AllowBackorder: in.AllowBackorder,
	})
	if err != nil {
		return respondError(c, err)
	}
	status := fiber.StatusCreated
	if res.Replayed {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(dto.SubmitMovementResponse{
		Movement: dto.FromMovement(res.Movement),
		Balances: dto.FromBalances(res.Balances),
		Replayed: res.Replayed,
	})
}

// List godoc
// @Summary      Listar movimientos
// @Tags         stock-movements
// @Security     Bearer
// @Produce      json
// @Param        productId   query  string  false  "Producto"
// @Param        locationId  query  string  false  "Origen o destino"
// @Param        status      query  string  false  "pending|completed|cancelled|failed"
// @Param        type        query  string  false  "Tipo de movimiento"
// @Param        limit       query  int     false  "Límite"  default(50)
// @Param        offset      query  int     false  "Offset"  default(0)
// @Success      200  {object}  dto.MovementListResponse
// @Router       /api/stock-movements [get]
func (h *MovementHandler) List(c *fiber.Ctx) error {
	p := page(c)
	list, total, err := h.uc.List(c.UserContext(), repository.MovementFilter{
		CompanyID:  GetCompanyID(c),
		ProductID:  c.Query("productId"),
		LocationID: c.Query("locationId"),
		Status:     entity.MovementStatus(c.Query("status")),
		Type:       entity.MovementType(c.Query("type")),
		Limit:      p.Limit,
		Offset:     p.Offset,
	})
	if err != nil {
		return respondError(c, err)
	}
	items := make([]dto.MovementResponse, 0, len(list))
	for _, m := range list {
		items = append(items, dto.FromMovement(m))
	}
	return c.JSON(dto.MovementListResponse{
		Items: items,
		Page:  dto.PageResponse{Limit: p.Limit, Offset: p.Offset, Total: total},
	})
}

// GetByID godoc
// @Summary      Obtener movimiento
// @Tags         stock-movements
// @Security     Bearer
// @Produce      json
// @Param        id   path  string  true  "ID del movimiento"
// @Success      200  {object}  dto.MovementResponse
// @Failure      404  {object}  dto.ErrorResponse
// @Router       /api/stock-movements/{id} [get]
func (h *MovementHandler) GetByID(c *fiber.Ctx) error {
	mov, err := h.uc.Get(c.UserContext(), GetCompanyID(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.FromMovement(mov))
}

// Cancel godoc
// @Summary      Cancelar movimiento pending
// @Tags         stock-movements
// @Security     Bearer
// @Produce      json
// @Param        id   path  string  true  "ID del movimiento"
// @Success      200  {object}  dto.MovementResponse
// @Failure      409  {object}  dto.ErrorResponse
// @Router       /api/stock-movements/{id}/cancel [post]
func (h *MovementHandler) Cancel(c *fiber.Ctx) error {
	mov, err := h.uc.Cancel(c.UserContext(), GetCompanyID(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.FromMovement(mov))
}

// Retry godoc
// @Summary      Reintentar reconciliación
// @Description  Vuelve a aplicar un movimiento pending. Sobre uno completado no cambia nada.
// @Tags         stock-movements
// @Security     Bearer
// @Produce      json
// @Param        id   path  string  true  "ID del movimiento"
// @Success      200  {object}  dto.SubmitMovementResponse
// @Failure      409  {object}  dto.MovementErrorResponse
// @Failure      422  {object}  dto.MovementErrorResponse
// @Router       /api/stock-movements/{id}/retry [post]
func (h *MovementHandler) Retry(c *fiber.Ctx) error {
	res, err := h.uc.Retry(c.UserContext(), GetCompanyID(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.SubmitMovementResponse{
		Movement: dto.FromMovement(res.Movement),
		Balances: dto.FromBalances(res.Balances),
	})
}
