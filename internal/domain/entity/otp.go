package entity

import "time"

// OTP código de un solo uso para confirmar la identidad en la entrega.
type OTP struct {
	ID          string
	OrderNumber string
	Code        string
	ExpiresAt   time.Time
	UsedAt      *time.Time
}
