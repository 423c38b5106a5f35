package repository

import (
	"context"
	"time"

	"github.com/jhoicas/stock-deduction/internal/domain/entity"
)

// MovementFilter filtros de consulta del historial de movimientos. Campos vacíos no filtran.
type MovementFilter struct {
	ItemID     string
	BinID      string
	Type       entity.MovementType
	SourceType entity.SourceType
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

// Agrupaciones del resumen de movimientos.
const (
	GroupMovementType = "movement_type"
	GroupSourceType   = "source_type"
)

// MovementSummaryRow agregado por tipo de movimiento o tipo de origen.
type MovementSummaryRow struct {
	Group         string // GroupMovementType | GroupSourceType
	Key           string
	Count         int
	TotalQuantity int // suma de valores absolutos
}

// MovementRepository puerto append-only del libro de movimientos.
type MovementRepository interface {
	Create(ctx context.Context, entry *entity.MovementEntry) error
	GetByID(ctx context.Context, id string) (*entity.MovementEntry, error)
	// FindCorrection corrección registrada para el movimiento; nil si no tiene.
	FindCorrection(ctx context.Context, movementID string) (*entity.MovementEntry, error)
	// Latest último movimiento del (ítem, BIN); nil si no hay ninguno.
	Latest(ctx context.Context, itemID, binID string) (*entity.MovementEntry, error)
	List(ctx context.Context, filter MovementFilter) ([]*entity.MovementEntry, int, error)
	Summary(ctx context.Context, from, to time.Time) ([]MovementSummaryRow, error)
}
