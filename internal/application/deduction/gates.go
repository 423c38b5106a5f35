package deduction

import (
	"context"
	"fmt"
	"time"

	"github.com/jhoicas/stock-deduction/internal/domain"
	"github.com/jhoicas/stock-deduction/internal/domain/entity"
	"github.com/jhoicas/stock-deduction/internal/domain/repository"
)

// PaymentGate exige un pago completado y vigente para la orden. Sin efectos secundarios.
type PaymentGate struct {
	payments  repository.PaymentRepository
	freshness time.Duration
	now       func() time.Time
}

// NewPaymentGate construye la compuerta de pago.
func NewPaymentGate(payments repository.PaymentRepository, freshness time.Duration, now func() time.Time) *PaymentGate {
	return &PaymentGate{payments: payments, freshness: freshness, now: now}
}

// Check devuelve ErrPaymentNotVerified si no hay pago completado y ErrPaymentStale si el
// último es más antiguo que la ventana de vigencia.
func (g *PaymentGate) Check(ctx context.Context, orderNumber string) error {
	p, err := g.payments.FindLatestCompleted(ctx, orderNumber)
	if err != nil {
		return domain.StorageFailure(fmt.Errorf("payment gate: %w", err))
	}
	if p == nil {
		return domain.ErrPaymentNotVerified
	}
	if g.now().Sub(p.CompletedAt) > g.freshness {
		return domain.ErrPaymentStale
	}
	return nil
}

// IdentityGate verifica el OTP cuando la modalidad de entrega lo exige.
type IdentityGate struct {
	orders repository.OrderRepository
	otps   repository.OTPRepository
	now    func() time.Time
}

// NewIdentityGate construye la compuerta de identidad.
func NewIdentityGate(orders repository.OrderRepository, otps repository.OTPRepository, now func() time.Time) *IdentityGate {
	return &IdentityGate{orders: orders, otps: otps, now: now}
}

// Check consume el OTP (un solo uso) si la orden lo requiere. Un OTP ya consumido nunca
// vuelve a verificar, aunque el código sea correcto.
func (g *IdentityGate) Check(ctx context.Context, req entity.DeductionRequest) error {
	order, err := g.orders.FindByNumber(ctx, req.OrderNumber())
	if err != nil {
		return domain.StorageFailure(fmt.Errorf("identity gate: %w", err))
	}
	if order == nil {
		return domain.ErrOrderNotDeductible
	}
	if !order.RequiresOTP() {
		return nil
	}
	if !req.HasOTP() {
		return domain.ErrOtpMissing
	}
	ok, err := g.otps.Consume(ctx, req.OrderNumber(), req.OTPCode(), g.now())
	if err != nil {
		return domain.StorageFailure(fmt.Errorf("consume otp: %w", err))
	}
	if !ok {
		return domain.ErrOtpInvalid
	}
	return nil
}

// RateGate limita las deducciones por actor en ventanas de hora calendario (UTC).
// La ventana no es móvil: el contador se reinicia al comenzar cada hora.
type RateGate struct {
	counter RateCounter
	limit   int
	now     func() time.Time
}

// NewRateGate construye la compuerta de tasa.
func NewRateGate(counter RateCounter, limit int, now func() time.Time) *RateGate {
	return &RateGate{counter: counter, limit: limit, now: now}
}

// RateKey clave del contador para el actor en la hora calendario de t.
func RateKey(actorID string, t time.Time) string {
	return "rate:deduction:" + actorID + ":" + t.UTC().Format("2006010215")
}

// Check incrementa el contador del actor o devuelve ErrRateLimitExceeded si ya alcanzó el límite.
func (g *RateGate) Check(ctx context.Context, actorID string) error {
	hour := g.now().UTC().Truncate(time.Hour)
	ok, err := g.counter.Allow(ctx, RateKey(actorID, hour), g.limit, hour.Add(time.Hour))
	if err != nil {
		return domain.StorageFailure(fmt.Errorf("rate gate: %w", err))
	}
	if !ok {
		return domain.ErrRateLimitExceeded
	}
	return nil
}

// Gates ejecuta las tres compuertas en orden: pago, identidad, tasa.
// Los efectos locales de una compuerta aprobada (OTP consumido, contador incrementado)
// no se revierten si una compuerta posterior falla.
type Gates struct {
	Payment  *PaymentGate
	Identity *IdentityGate
	Rate     *RateGate
}

// Check devuelve el primer error encontrado.
func (g Gates) Check(ctx context.Context, req entity.DeductionRequest) error {
	if err := g.Payment.Check(ctx, req.OrderNumber()); err != nil {
		return err
	}
	if err := g.Identity.Check(ctx, req); err != nil {
		return err
	}
	return g.Rate.Check(ctx, req.ActorID())
}
