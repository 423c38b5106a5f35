package domain

import (
	"errors"
	"fmt"
)

// Errores genéricos de dominio (sin dependencias externas).
var (
	ErrNotFound     = errors.New("recurso no encontrado")
	ErrInvalidInput = errors.New("entrada inválida")
	ErrImmutable    = errors.New("los registros del libro son inmutables")
)

// ErrorKind separa los rechazos que el llamador puede corregir de las fallas del sistema.
type ErrorKind int

const (
	KindRejected ErrorKind = iota + 1
	KindSystemFault
)

// Error es un error tipado con código estable (enumerable) y mensaje legible.
type Error struct {
	Code    string
	Message string
	Kind    ErrorKind
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Retryable indica si el llamador puede reintentar la misma solicitud.
func (e *Error) Retryable() bool {
	return e.Kind == KindSystemFault
}

func rejected(code, msg string) *Error {
	return &Error{Code: code, Message: msg, Kind: KindRejected}
}

// Taxonomía de errores de la deducción de stock.
var (
	ErrPaymentNotVerified = rejected("PAYMENT_NOT_VERIFIED", "no existe un pago completado para la orden")
	ErrPaymentStale       = rejected("PAYMENT_STALE", "el último pago completado está fuera de la ventana de vigencia")
	ErrOtpMissing         = rejected("OTP_MISSING", "la modalidad de entrega requiere código OTP")
	ErrOtpInvalid         = rejected("OTP_INVALID", "código OTP inválido, expirado o ya utilizado")
	ErrRateLimitExceeded  = rejected("RATE_LIMIT_EXCEEDED", "límite de deducciones por hora alcanzado")
	ErrOrderNotDeductible = rejected("ORDER_NOT_DEDUCTIBLE", "la orden no existe o su estado no permite deducir stock")
	ErrInvalidBin         = rejected("INVALID_BIN", "el BIN no existe, está inactivo o no pertenece a la bodega")
	ErrInvalidQuantity    = rejected("INVALID_QUANTITY", "la cantidad debe ser un entero positivo dentro del límite")
	ErrInvalidReason      = rejected("INVALID_REASON", "código de motivo desconocido")
	ErrDuplicateDeduction = rejected("DUPLICATE_DEDUCTION", "ya existe una deducción exitosa para la orden e ítem")
	ErrInsufficientStock  = rejected("INSUFFICIENT_STOCK", "stock insuficiente en el BIN")
	ErrAlreadyCompensated = rejected("ALREADY_COMPENSATED", "el movimiento ya tiene una corrección registrada")

	ErrRemoteLedgerUnavailable = &Error{Code: "REMOTE_LEDGER_UNAVAILABLE", Message: "el sistema de inventario externo no respondió", Kind: KindSystemFault}
	ErrStorageFailure          = &Error{Code: "STORAGE_FAILURE", Message: "falla de almacenamiento; la operación fue revertida", Kind: KindSystemFault}
)

// StorageFailure envuelve una falla de infraestructura conservando la causa.
func StorageFailure(cause error) error {
	return fmt.Errorf("%w: %w", ErrStorageFailure, cause)
}

// RemoteUnavailable envuelve una falla del ledger externo conservando la causa.
func RemoteUnavailable(cause error) error {
	return fmt.Errorf("%w: %w", ErrRemoteLedgerUnavailable, cause)
}

// AsError extrae el error tipado de la cadena; nil si err no pertenece a la taxonomía.
func AsError(err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return nil
}

// CodeOf devuelve el código estable del error o INTERNAL si no está tipado.
func CodeOf(err error) string {
	if de := AsError(err); de != nil {
		return de.Code
	}
	return "INTERNAL"
}
