package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/jhoicas/stock-deduction/internal/application/dto"
	"github.com/jhoicas/stock-deduction/internal/domain"
)

// statusByCode estado HTTP de cada rechazo de la taxonomía de deducción.
var statusByCode = map[string]int{
	domain.ErrPaymentNotVerified.Code: fiber.StatusPaymentRequired,
	domain.ErrPaymentStale.Code:       fiber.StatusPaymentRequired,
	domain.ErrOtpMissing.Code:         fiber.StatusForbidden,
	domain.ErrOtpInvalid.Code:         fiber.StatusForbidden,
	domain.ErrRateLimitExceeded.Code:  fiber.StatusTooManyRequests,
	domain.ErrOrderNotDeductible.Code: fiber.StatusConflict,
	domain.ErrInvalidBin.Code:         fiber.StatusUnprocessableEntity,
	domain.ErrInvalidQuantity.Code:    fiber.StatusUnprocessableEntity,
	domain.ErrInvalidReason.Code:      fiber.StatusUnprocessableEntity,
	domain.ErrDuplicateDeduction.Code: fiber.StatusConflict,
	domain.ErrInsufficientStock.Code:  fiber.StatusConflict,
	domain.ErrAlreadyCompensated.Code: fiber.StatusConflict,
}

// writeError traduce un error de aplicación a respuesta HTTP. Las fallas del sistema
// responden 503 con retryable=true; el detalle interno no se expone.
func writeError(c *fiber.Ctx, err error) error {
	if de := domain.AsError(err); de != nil {
		if de.Kind == domain.KindSystemFault {
			return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{Code: de.Code, Message: de.Message, Retryable: true})
		}
		status, ok := statusByCode[de.Code]
		if !ok {
			status = fiber.StatusUnprocessableEntity
		}
		return c.Status(status).JSON(dto.ErrorResponse{Code: de.Code, Message: de.Message})
	}
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "datos inválidos"})
	case errors.Is(err, domain.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "recurso no encontrado"})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: "error interno"})
}
