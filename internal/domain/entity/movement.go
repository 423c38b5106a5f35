package entity

import (
	"time"

	"github.com/jhoicas/stock-deduction/internal/domain"
)

// Tipos de movimiento del libro de movimientos.
type MovementType string

const (
	MovementInbound  MovementType = "inbound"  // entrada, cantidad positiva
	MovementOutbound MovementType = "outbound" // salida, cantidad negativa
)

// Tipos de origen: qué evento de negocio causó el movimiento.
type SourceType string

const (
	SourceSalesOrder     SourceType = "sales_order"
	SourcePurchase       SourceType = "purchase_receipt"
	SourceReturn         SourceType = "customer_return"
	SourceCorrection     SourceType = "correction"
	SourceReconciliation SourceType = "reconciliation"
)

// Estado de sincronización con el ledger externo.
type SyncStatus string

const (
	SyncSynced                SyncStatus = "synced"
	SyncPendingReconciliation SyncStatus = "pending_reconciliation"
	SyncNotApplicable         SyncStatus = "not_applicable"
)

// Location ubicación física del BIN al momento de escribir el movimiento.
type Location struct {
	Zone  string
	Aisle string
	Rack  string
	Shelf string
}

// MovementEntry un cambio de cantidad en un (ítem, BIN). Nunca se modifica después de escrito.
type MovementEntry struct {
	ID              string
	ItemID          string
	BinID           string
	WarehouseID     string
	Location        Location
	Type            MovementType
	QuantityBefore  int
	QuantityChanged int
	QuantityAfter   int
	SourceType      SourceType
	SourceRef       string
	Reason          string
	ActorID         string
	SyncStatus      SyncStatus
	CreatedAt       time.Time
}

// Validate verifica la conservación (after = before + changed) y que el signo coincida con el tipo.
func (m *MovementEntry) Validate() error {
	if m.ItemID == "" || m.BinID == "" || m.SourceType == "" {
		return domain.ErrInvalidInput
	}
	switch m.Type {
	case MovementOutbound:
		if m.QuantityChanged >= 0 {
			return domain.ErrInvalidInput
		}
	case MovementInbound:
		if m.QuantityChanged <= 0 {
			return domain.ErrInvalidInput
		}
	default:
		return domain.ErrInvalidInput
	}
	if m.QuantityBefore < 0 || m.QuantityAfter < 0 {
		return domain.ErrInvalidInput
	}
	if m.QuantityAfter != m.QuantityBefore+m.QuantityChanged {
		return domain.ErrInvalidInput
	}
	return nil
}

// MovementTypeFor devuelve el tipo que corresponde al signo del cambio.
func MovementTypeFor(delta int) MovementType {
	if delta < 0 {
		return MovementOutbound
	}
	return MovementInbound
}
