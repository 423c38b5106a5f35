package dto

import (
	"time"

	"github.com/jhoicas/stock-deduction/internal/domain/entity"
)

// RecordMovementRequest body para POST /api/movements (procesos distintos a la deducción).
type RecordMovementRequest struct {
	ItemID          string `json:"item_id"`
	BinID           string `json:"bin_id"`
	WarehouseID     string `json:"warehouse_id"`
	Zone            string `json:"zone,omitempty"`
	Aisle           string `json:"aisle,omitempty"`
	Rack            string `json:"rack,omitempty"`
	Shelf           string `json:"shelf,omitempty"`
	MovementType    string `json:"movement_type"` // inbound | outbound
	QuantityBefore  int    `json:"quantity_before"`
	QuantityChanged int    `json:"quantity_changed"` // negativo en salidas
	SourceType      string `json:"source_type"`
	SourceRef       string `json:"source_ref"`
	Reason          string `json:"reason,omitempty"`
	ActorID         string `json:"-"`
	SyncStatus      string `json:"sync_status,omitempty"`
}

// MovementDTO movimiento expuesto en las consultas.
type MovementDTO struct {
	ID              string    `json:"id"`
	ItemID          string    `json:"item_id"`
	BinID           string    `json:"bin_id"`
	WarehouseID     string    `json:"warehouse_id"`
	Zone            string    `json:"zone,omitempty"`
	Aisle           string    `json:"aisle,omitempty"`
	Rack            string    `json:"rack,omitempty"`
	Shelf           string    `json:"shelf,omitempty"`
	MovementType    string    `json:"movement_type"`
	QuantityBefore  int       `json:"quantity_before"`
	QuantityChanged int       `json:"quantity_changed"`
	QuantityAfter   int       `json:"quantity_after"`
	SourceType      string    `json:"source_type"`
	SourceRef       string    `json:"source_ref"`
	Reason          string    `json:"reason,omitempty"`
	ActorID         string    `json:"actor_id"`
	SyncStatus      string    `json:"sync_status"`
	CreatedAt       time.Time `json:"created_at"`
}

// MovementFromEntity convierte la entidad a DTO.
func MovementFromEntity(m *entity.MovementEntry) MovementDTO {
	return MovementDTO{
		ID:              m.ID,
		ItemID:          m.ItemID,
		BinID:           m.BinID,
		WarehouseID:     m.WarehouseID,
		Zone:            m.Location.Zone,
		Aisle:           m.Location.Aisle,
		Rack:            m.Location.Rack,
		Shelf:           m.Location.Shelf,
		MovementType:    string(m.Type),
		QuantityBefore:  m.QuantityBefore,
		QuantityChanged: m.QuantityChanged,
		QuantityAfter:   m.QuantityAfter,
		SourceType:      string(m.SourceType),
		SourceRef:       m.SourceRef,
		Reason:          m.Reason,
		ActorID:         m.ActorID,
		SyncStatus:      string(m.SyncStatus),
		CreatedAt:       m.CreatedAt,
	}
}

// MovementQuery filtros del historial de movimientos.
type MovementQuery struct {
	PageRequest
	ItemID       string
	BinID        string
	MovementType string
	SourceType   string
	From         *time.Time
	To           *time.Time
}

// MovementPage página del historial.
type MovementPage struct {
	Items []MovementDTO `json:"items"`
	Page  PageResponse  `json:"page"`
}

// SummaryBucket total de movimientos y cantidad absoluta para una clave.
type SummaryBucket struct {
	Key           string `json:"key"`
	Count         int    `json:"count"`
	TotalQuantity int    `json:"total_quantity"`
}

// MovementSummary resumen agregado en un rango de fechas.
type MovementSummary struct {
	From           time.Time       `json:"from"`
	To             time.Time       `json:"to"`
	ByMovementType []SummaryBucket `json:"by_movement_type"`
	BySourceType   []SummaryBucket `json:"by_source_type"`
}
