package deduction

import (
	"context"
	"time"

	"github.com/jhoicas/stock-deduction/internal/domain/entity"
	"github.com/jhoicas/stock-deduction/internal/domain/repository"
)

// TxRunner ejecuta una función dentro de una transacción de BD, pasando repositorios atados a esa tx.
// Commit si fn no devuelve error; Rollback completo en cualquier otro caso.
type TxRunner interface {
	RunDeduction(ctx context.Context, fn func(
		stockRepo repository.StockCacheRepository,
		movRepo repository.MovementRepository,
		auditRepo repository.AuditRepository,
	) error) error
}

// Adjustment ajuste de cantidad enviado al ledger externo.
type Adjustment struct {
	ItemID       string
	BinID        string
	WarehouseID  string
	Delta        int // negativo para salidas
	Reason       string
	ReferenceKey string // referencia de negocio (número de orden)

	// IdempotencyKey única por intento: <orden>:<ítem>:<intento>; la compensación agrega ":compensate".
	IdempotencyKey string
}

// AdjustmentReceipt respuesta del ledger externo a un ajuste aceptado.
type AdjustmentReceipt struct {
	CorrelationID string
}

// ExternalLedger puerto hacia el sistema de inventario autoritativo.
type ExternalLedger interface {
	GetAvailableStock(ctx context.Context, itemID, binID string) (int, error)
	PostAdjustment(ctx context.Context, adj Adjustment) (*AdjustmentReceipt, error)
}

// RateCounter contador compartido por clave con incremento-y-verificación atómico.
type RateCounter interface {
	// Allow incrementa la clave si su valor actual es menor que limit y devuelve true.
	// Si el límite ya fue alcanzado no incrementa y devuelve false. La clave expira en expireAt.
	Allow(ctx context.Context, key string, limit int, expireAt time.Time) (bool, error)
}

// Tipos de evento publicados hacia el proceso de conciliación.
const (
	EventDeductionCommitted   = "deduction.committed"
	EventDeductionCompensated = "deduction.compensated"
	EventCompensationFailed   = "deduction.compensation_failed"
)

// DeductionEvent evento para el proceso de conciliación externo.
type DeductionEvent struct {
	Type           string             `json:"type"`
	AuditID        string             `json:"audit_id,omitempty"`
	MovementID     string             `json:"movement_id,omitempty"`
	OrderNumber    string             `json:"order_number"`
	ItemID         string             `json:"item_id"`
	BinID          string             `json:"bin_id"`
	WarehouseID    string             `json:"warehouse_id"`
	Quantity       int                `json:"quantity"`
	RemainingStock int                `json:"remaining_stock"`
	CorrelationID  string             `json:"correlation_id,omitempty"`
	PostingMode    entity.PostingMode `json:"posting_mode"`
	OccurredAt     time.Time          `json:"occurred_at"`
}

// EventPublisher publica eventos de deducción (gancho de conciliación).
type EventPublisher interface {
	Publish(ctx context.Context, event DeductionEvent) error
}

// Metrics métricas del orquestador.
type Metrics interface {
	ObserveDeduction(code string, mode entity.PostingMode, elapsed time.Duration)
	ObserveRemoteCall(operation string, ok bool, elapsed time.Duration)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, DeductionEvent) error { return nil }

type nopMetrics struct{}

func (nopMetrics) ObserveDeduction(string, entity.PostingMode, time.Duration) {}
func (nopMetrics) ObserveRemoteCall(string, bool, time.Duration)              {}
