package repository

import (
	"context"
	"time"

	"github.com/jhoicas/stock-deduction/internal/domain/entity"
)

// OrderRepository lectura de órdenes (propiedad del servicio de pedidos). nil si no existe.
type OrderRepository interface {
	FindByNumber(ctx context.Context, orderNumber string) (*entity.Order, error)
}

// BinRepository lectura de BINs. nil si no existe.
type BinRepository interface {
	FindByID(ctx context.Context, binID string) (*entity.Bin, error)
}

// PaymentRepository lectura de pagos. nil si la orden no tiene pagos completados.
type PaymentRepository interface {
	FindLatestCompleted(ctx context.Context, orderNumber string) (*entity.Payment, error)
}

// OTPRepository consumo atómico de códigos OTP.
type OTPRepository interface {
	// Consume marca como usado, en una sola operación condicional, el OTP activo, vigente y
	// sin usar que coincide con la orden y el código. Devuelve false si ninguno coincidió.
	Consume(ctx context.Context, orderNumber, code string, now time.Time) (bool, error)
}
