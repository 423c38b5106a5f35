package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jhoicas/stock-deduction/internal/domain/entity"
	"github.com/jhoicas/stock-deduction/internal/domain/repository"
)

var (
	_ repository.OrderRepository   = (*OrderRepo)(nil)
	_ repository.BinRepository     = (*BinRepo)(nil)
	_ repository.PaymentRepository = (*PaymentRepo)(nil)
	_ repository.OTPRepository     = (*OTPRepo)(nil)
)

// OrderRepo lectura de órdenes.
type OrderRepo struct {
	q Querier
}

// NewOrderRepository construye el adaptador.
func NewOrderRepository(q Querier) *OrderRepo {
	return &OrderRepo{q: q}
}

// FindByNumber obtiene la orden; nil si no existe.
func (r *OrderRepo) FindByNumber(ctx context.Context, orderNumber string) (*entity.Order, error) {
	query := `SELECT order_number, state, fulfillment_type FROM orders WHERE order_number = $1`
	var o entity.Order
	err := r.q.QueryRow(ctx, query, orderNumber).Scan(&o.Number, &o.State, &o.FulfillmentType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find order: %w", err)
	}
	return &o, nil
}

// BinRepo lectura de BINs.
type BinRepo struct {
	q Querier
}

// NewBinRepository construye el adaptador.
func NewBinRepository(q Querier) *BinRepo {
	return &BinRepo{q: q}
}

// FindByID obtiene el BIN; nil si no existe.
func (r *BinRepo) FindByID(ctx context.Context, binID string) (*entity.Bin, error) {
	query := `
		SELECT id, warehouse_id, code, zone, aisle, rack, shelf, active
		FROM bins WHERE id = $1`
	var b entity.Bin
	err := r.q.QueryRow(ctx, query, binID).Scan(
		&b.ID, &b.WarehouseID, &b.Code,
		&b.Location.Zone, &b.Location.Aisle, &b.Location.Rack, &b.Location.Shelf, &b.Active,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find bin: %w", err)
	}
	return &b, nil
}

// PaymentRepo lectura de pagos.
type PaymentRepo struct {
	q Querier
}

// NewPaymentRepository construye el adaptador.
func NewPaymentRepository(q Querier) *PaymentRepo {
	return &PaymentRepo{q: q}
}

// FindLatestCompleted último pago completado de la orden; nil si no hay.
func (r *PaymentRepo) FindLatestCompleted(ctx context.Context, orderNumber string) (*entity.Payment, error) {
	query := `
		SELECT id, order_number, amount, completed_at
		FROM payments
		WHERE order_number = $1 AND status = 'completed' AND completed_at IS NOT NULL
		ORDER BY completed_at DESC
		LIMIT 1`
	var p entity.Payment
	err := r.q.QueryRow(ctx, query, orderNumber).Scan(&p.ID, &p.OrderNumber, &p.Amount, &p.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find latest payment: %w", err)
	}
	return &p, nil
}

// OTPRepo consumo de códigos OTP.
type OTPRepo struct {
	q Querier
}

// NewOTPRepository construye el adaptador.
func NewOTPRepository(q Querier) *OTPRepo {
	return &OTPRepo{q: q}
}

// Consume marca el OTP como usado con un UPDATE condicional: dos consumos concurrentes
// del mismo código no pueden ganar ambos.
func (r *OTPRepo) Consume(ctx context.Context, orderNumber, code string, now time.Time) (bool, error) {
	query := `
		UPDATE order_otps SET used_at = $3
		WHERE id = (
			SELECT id FROM order_otps
			WHERE order_number = $1 AND code = $2 AND active
			  AND used_at IS NULL AND expires_at > $3
			ORDER BY created_at DESC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		) AND used_at IS NULL
		RETURNING id`
	var id string
	err := r.q.QueryRow(ctx, query, orderNumber, code, now).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("consume otp: %w", err)
	}
	return true, nil
}
