package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/stock-ledger/internal/application/audit"
	"github.com/jhoicas/stock-ledger/internal/application/dto"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
)

// AuditHandler auditoría manual y consulta de resultados.
type AuditHandler struct {
	uc *audit.AuditUseCase
}

// NewAuditHandler construye el handler.
func NewAuditHandler(uc *audit.AuditUseCase) *AuditHandler {
	return &AuditHandler{uc: uc}
}

// Run godoc
// @Summary      Ejecutar auditoría de saldos
// @Description  Compara la suma de movimientos completados con los saldos almacenados. Solo reporta, no corrige.
// @Tags         audit
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  dto.RunAuditRequest  false  "Alcance opcional"
// @Success      201   {object}  dto.AuditRunResponse
// @Router       /api/audit/runs [post]
func (h *AuditHandler) Run(c *fiber.Ctx) error {
	var in dto.RunAuditRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&in); err != nil {
			return badRequest(c, "INVALID_BODY", "cuerpo inválido")
		}
	}
	run, err := h.uc.Run(c.UserContext(), entity.AuditScope{
		CompanyID:  GetCompanyID(c),
		ProductID:  in.ProductID,
		LocationID: in.LocationID,
	}, entity.AuditTriggerManual)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.FromAuditRun(run))
}

// GetByID godoc
// @Summary      Obtener auditoría
// @Tags         audit
// @Security     Bearer
// @Produce      json
// @Param        id   path  string  true  "ID de la auditoría"
// @Success      200  {object}  dto.AuditRunResponse
// @Failure      404  {object}  dto.ErrorResponse
// @Router       /api/audit/runs/{id} [get]
func (h *AuditHandler) GetByID(c *fiber.Ctx) error {
	run, err := h.uc.Get(c.UserContext(), GetCompanyID(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.FromAuditRun(run))
}

// PDF godoc
// @Summary      Reporte PDF de la auditoría
// @Tags         audit
// @Security     Bearer
// @Produce      application/pdf
// @Param        id   path  string  true  "ID de la auditoría"
// @Success      200  {file}  binary
// @Failure      404  {object}  dto.ErrorResponse
// @Router       /api/audit/runs/{id}/pdf [get]
func (h *AuditHandler) PDF(c *fiber.Ctx) error {
	id := c.Params("id")
	pdf, err := h.uc.RenderPDF(c.UserContext(), GetCompanyID(c), id)
	if err != nil {
		return respondError(c, err)
	}
	c.Set(fiber.HeaderContentType, "application/pdf")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="auditoria-`+id+`.pdf"`)
	return c.Send(pdf)
}
