package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment pago completado asociado a una orden.
type Payment struct {
	ID          string
	OrderNumber string
	Amount      decimal.Decimal
	CompletedAt time.Time
}
