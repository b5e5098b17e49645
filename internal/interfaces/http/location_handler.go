package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/stock-ledger/internal/application/dto"
	"github.com/jhoicas/stock-ledger/internal/application/ledger"
	"github.com/jhoicas/stock-ledger/internal/application/usecase"
)

// LocationHandler ubicaciones y sus saldos (protegido).
type LocationHandler struct {
	locations *usecase.LocationUseCase
	ledger    *ledger.LedgerUseCase
}

// NewLocationHandler construye el handler.
func NewLocationHandler(locations *usecase.LocationUseCase, ledgerUC *ledger.LedgerUseCase) *LocationHandler {
	return &LocationHandler{locations: locations, ledger: ledgerUC}
}

// Create godoc
// @Summary      Crear ubicación
// @Tags         locations
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  dto.CreateLocationRequest  true  "Ubicación"
// @Success      201   {object}  dto.LocationResponse
// @Failure      400   {object}  dto.ErrorResponse
// @Router       /api/locations [post]
func (h *LocationHandler) Create(c *fiber.Ctx) error {
	var in dto.CreateLocationRequest
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "INVALID_BODY", "cuerpo inválido")
	}
	out, err := h.locations.Create(c.UserContext(), GetCompanyID(c), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(out)
}

// GetByID godoc
// @Summary      Obtener ubicación
// @Tags         locations
// @Security     Bearer
// @Produce      json
// @Param        id   path  string  true  "ID de la ubicación"
// @Success      200  {object}  dto.LocationResponse
// @Failure      404  {object}  dto.ErrorResponse
// @Router       /api/locations/{id} [get]
func (h *LocationHandler) GetByID(c *fiber.Ctx) error {
	out, err := h.locations.GetByID(c.UserContext(), GetCompanyID(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(out)
}

// List godoc
// @Summary      Listar ubicaciones
// @Tags         locations
// @Security     Bearer
// @Produce      json
// @Param        limit   query  int  false  "Límite"  default(20)
// @Param        offset  query  int  false  "Offset"  default(0)
// @Success      200  {object}  dto.LocationListResponse
// @Router       /api/locations [get]
func (h *LocationHandler) List(c *fiber.Ctx) error {
	p := page(c)
	out, err := h.locations.List(c.UserContext(), GetCompanyID(c), p.Limit, p.Offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(out)
}

// Balance godoc
// @Summary      Saldo de un producto en la ubicación
// @Description  Cantidad 0 y version 0 si el producto nunca tuvo movimientos aquí.
// @Tags         locations
// @Security     Bearer
// @Produce      json
// @Param        id         path   string  true  "ID de la ubicación"
// @Param        productId  query  string  true  "ID del producto"
// @Success      200  {object}  dto.BalanceResponse
// @Failure      400  {object}  dto.ErrorResponse
// @Failure      404  {object}  dto.ErrorResponse
// @Router       /api/locations/{id}/balance [get]
func (h *LocationHandler) Balance(c *fiber.Ctx) error {
	b, err := h.ledger.Balance(c.UserContext(), GetCompanyID(c), c.Params("id"), c.Query("productId"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.FromBalance(b))
}

// Balances godoc
// @Summary      Saldos de la ubicación
// @Tags         locations
// @Security     Bearer
// @Produce      json
// @Param        id      path   string  true   "ID de la ubicación"
// @Param        limit   query  int     false  "Límite"  default(20)
// @Param        offset  query  int     false  "Offset"  default(0)
// @Success      200  {object}  dto.BalanceListResponse
// @Router       /api/locations/{id}/balances [get]
func (h *LocationHandler) Balances(c *fiber.Ctx) error {
	p := page(c)
	list, err := h.ledger.Balances(c.UserContext(), GetCompanyID(c), c.Params("id"), p.Limit, p.Offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.BalanceListResponse{
		Items: dto.FromBalances(list),
		Page:  dto.PageResponse{Limit: p.Limit, Offset: p.Offset},
	})
}
