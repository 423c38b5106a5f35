package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jhoicas/stock-deduction/internal/application/deduction"
	"github.com/jhoicas/stock-deduction/internal/application/dto"
	"github.com/jhoicas/stock-deduction/internal/domain/entity"
)

// deducter contrato mínimo del orquestador; lo implementa *deduction.Orchestrator.
type deducter interface {
	Deduct(ctx context.Context, req entity.DeductionRequest) (*deduction.DeductionResult, error)
}

// auditReader consultas de auditoría; lo implementa *audit.Trail.
type auditReader interface {
	ByOrder(ctx context.Context, orderNumber string) ([]dto.DeductionRecordDTO, error)
	ByDateRange(ctx context.Context, q dto.AuditQuery) (*dto.AuditPage, error)
}

// DeductionHandler maneja la deducción de stock y la consulta de su auditoría (protegido).
type DeductionHandler struct {
	orchestrator deducter
	trail        auditReader
}

// NewDeductionHandler construye el handler.
func NewDeductionHandler(orchestrator deducter, trail auditReader) *DeductionHandler {
	return &DeductionHandler{orchestrator: orchestrator, trail: trail}
}

// Deduct godoc
// @Summary      Deducir stock de un BIN para una orden
// @Description  Verifica pago, OTP y límite por hora; valida orden, BIN, cantidad y duplicado;
//
//	registra el ajuste en el ledger externo (o por ruta de respaldo) y confirma
//	caché, movimiento y auditoría en una sola transacción.
//
// @Tags         deductions
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body      dto.DeductRequest  true  "order_number, item_id, bin_id, quantity, reason, otp_code"
// @Success      201   {object}  dto.DeductionResponse
// @Failure      400   {object}  dto.ErrorResponse
// @Failure      402   {object}  dto.ErrorResponse
// @Failure      403   {object}  dto.ErrorResponse
// @Failure      409   {object}  dto.ErrorResponse
// @Failure      422   {object}  dto.ErrorResponse
// @Failure      429   {object}  dto.ErrorResponse
// @Failure      503   {object}  dto.ErrorResponse
// @Router       /api/deductions [post]
func (h *DeductionHandler) Deduct(c *fiber.Ctx) error {
	userID := GetUserID(c)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	var in dto.DeductRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}

	// Un operario asignado a una bodega solo deduce en esa bodega.
	warehouseID := in.WarehouseID
	if assigned := GetWarehouseID(c); assigned != "" {
		if warehouseID != "" && warehouseID != assigned {
			return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Code: "FORBIDDEN", Message: "bodega fuera de la asignación del usuario"})
		}
		warehouseID = assigned
	}

	req, err := entity.NewDeductionRequest(entity.DeductionInput{
		OrderNumber: in.OrderNumber,
		ItemID:      in.ItemID,
		BinID:       in.BinID,
		Quantity:    in.Quantity,
		ActorID:     userID,
		Reason:      in.Reason,
		OTPCode:     in.OTPCode,
		WarehouseID: warehouseID,
		Client:      entity.ClientInfo{IP: c.IP(), UserAgent: c.Get(fiber.HeaderUserAgent)},
	})
	if err != nil {
		return writeError(c, err)
	}

	res, err := h.orchestrator.Deduct(c.Context(), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.DeductionResponse{
		Success:               res.Success,
		AuditID:               res.AuditID,
		ExternalCorrelationID: res.ExternalCorrelationID,
		RemainingStock:        res.RemainingStock,
		PostingMode:           string(res.PostingMode),
	})
}

// ListByOrder godoc
// @Summary      Auditoría de deducciones de una orden
// @Tags         deductions
// @Security     Bearer
// @Produce      json
// @Param        order  query  string  true  "Número de orden"
// @Success      200  {array}   dto.DeductionRecordDTO
// @Failure      400  {object}  dto.ErrorResponse
// @Router       /api/deductions [get]
func (h *DeductionHandler) ListByOrder(c *fiber.Ctx) error {
	list, err := h.trail.ByOrder(c.Context(), c.Query("order"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(list)
}

// ListByDateRange godoc
// @Summary      Auditoría de deducciones por rango de fechas
// @Tags         deductions
// @Security     Bearer
// @Produce      json
// @Param        from    query  string  true   "RFC3339 o YYYY-MM-DD"
// @Param        to      query  string  true   "RFC3339 o YYYY-MM-DD (día completo)"
// @Param        limit   query  int     false  "máx. 100"
// @Param        offset  query  int     false  "desplazamiento"
// @Success      200  {object}  dto.AuditPage
// @Failure      400  {object}  dto.ErrorResponse
// @Router       /api/deductions/range [get]
func (h *DeductionHandler) ListByDateRange(c *fiber.Ctx) error {
	from, err := parseTimeParam(c.Query("from"), false)
	if err != nil || from == nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "from requerido (RFC3339 o YYYY-MM-DD)"})
	}
	to, err := parseTimeParam(c.Query("to"), true)
	if err != nil || to == nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "to requerido (RFC3339 o YYYY-MM-DD)"})
	}
	q := dto.AuditQuery{
		PageRequest: dto.PageRequest{Limit: c.QueryInt("limit"), Offset: c.QueryInt("offset")},
		From:        *from,
		To:          *to,
	}
	page, err := h.trail.ByDateRange(c.Context(), q)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(page)
}

// parseTimeParam acepta RFC3339 o fecha (YYYY-MM-DD, UTC). Con endOfDay una fecha cubre el día completo.
func parseTimeParam(s string, endOfDay bool) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}
