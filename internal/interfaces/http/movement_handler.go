package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jhoicas/stock-deduction/internal/application/dto"
)

// movementLedger casos de uso del libro de movimientos; lo implementa *movement.LedgerService.
type movementLedger interface {
	Record(ctx context.Context, in dto.RecordMovementRequest) (*dto.MovementDTO, error)
	Compensate(ctx context.Context, movementID, actorID string) (*dto.MovementDTO, error)
	History(ctx context.Context, q dto.MovementQuery) (*dto.MovementPage, error)
	Summary(ctx context.Context, from, to time.Time) (*dto.MovementSummary, error)
}

// MovementHandler maneja el libro de movimientos (protegido).
type MovementHandler struct {
	ledger movementLedger
}

// NewMovementHandler construye el handler.
func NewMovementHandler(ledger movementLedger) *MovementHandler {
	return &MovementHandler{ledger: ledger}
}

// History godoc
// @Summary      Historial de movimientos
// @Tags         movements
// @Security     Bearer
// @Produce      json
// @Param        item_id        query  string  false  "Ítem"
// @Param        bin_id         query  string  false  "BIN"
// @Param        movement_type  query  string  false  "inbound | outbound"
// @Param        source_type    query  string  false  "sales_order | purchase_receipt | customer_return | correction | reconciliation"
// @Param        from           query  string  false  "RFC3339 o YYYY-MM-DD"
// @Param        to             query  string  false  "RFC3339 o YYYY-MM-DD"
// @Param        limit          query  int     false  "máx. 100"
// @Param        offset         query  int     false  "desplazamiento"
// @Success      200  {object}  dto.MovementPage
// @Failure      400  {object}  dto.ErrorResponse
// @Router       /api/movements [get]
func (h *MovementHandler) History(c *fiber.Ctx) error {
	from, err := parseTimeParam(c.Query("from"), false)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "from inválido"})
	}
	to, err := parseTimeParam(c.Query("to"), true)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "to inválido"})
	}
	page, err := h.ledger.History(c.Context(), dto.MovementQuery{
		PageRequest:  dto.PageRequest{Limit: c.QueryInt("limit"), Offset: c.QueryInt("offset")},
		ItemID:       c.Query("item_id"),
		BinID:        c.Query("bin_id"),
		MovementType: c.Query("movement_type"),
		SourceType:   c.Query("source_type"),
		From:         from,
		To:           to,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(page)
}

// Summary godoc
// @Summary      Resumen de movimientos por tipo y origen
// @Tags         movements
// @Security     Bearer
// @Produce      json
// @Param        from  query  string  true  "RFC3339 o YYYY-MM-DD"
// @Param        to    query  string  true  "RFC3339 o YYYY-MM-DD"
// @Success      200  {object}  dto.MovementSummary
// @Failure      400  {object}  dto.ErrorResponse
// @Router       /api/movements/summary [get]
func (h *MovementHandler) Summary(c *fiber.Ctx) error {
	from, err := parseTimeParam(c.Query("from"), false)
	if err != nil || from == nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "from requerido"})
	}
	to, err := parseTimeParam(c.Query("to"), true)
	if err != nil || to == nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "to requerido"})
	}
	out, err := h.ledger.Summary(c.Context(), *from, *to)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(out)
}

// Record godoc
// @Summary      Registrar movimiento (recepciones, devoluciones, conciliación)
// @Tags         movements
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body      dto.RecordMovementRequest  true  "item_id, bin_id, movement_type, quantity_before, quantity_changed, source_type"
// @Success      201   {object}  dto.MovementDTO
// @Failure      400   {object}  dto.ErrorResponse
// @Router       /api/movements [post]
func (h *MovementHandler) Record(c *fiber.Ctx) error {
	var in dto.RecordMovementRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	in.ActorID = GetUserID(c)
	out, err := h.ledger.Record(c.Context(), in)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(out)
}

// Compensate godoc
// @Summary      Compensar un movimiento con su opuesto
// @Tags         movements
// @Security     Bearer
// @Produce      json
// @Param        id   path      string  true  "ID del movimiento"
// @Success      201  {object}  dto.MovementDTO
// @Failure      404  {object}  dto.ErrorResponse
// @Failure      409  {object}  dto.ErrorResponse
// @Router       /api/movements/{id}/compensate [post]
func (h *MovementHandler) Compensate(c *fiber.Ctx) error {
	out, err := h.ledger.Compensate(c.Context(), c.Params("id"), GetUserID(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(out)
}
