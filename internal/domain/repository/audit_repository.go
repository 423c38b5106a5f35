package repository

import (
	"context"
	"time"

	"github.com/jhoicas/stock-deduction/internal/domain/entity"
)

// AuditRepository puerto append-only de la auditoría de deducciones.
// Create debe devolver domain.ErrDuplicateDeduction si ya existe un registro exitoso
// para (orden, ítem) (restricción única en almacenamiento).
type AuditRepository interface {
	Create(ctx context.Context, record *entity.DeductionRecord) error
	HasSuccessfulDeduction(ctx context.Context, orderNumber, itemID string) (bool, error)
	ListByOrder(ctx context.Context, orderNumber string) ([]*entity.DeductionRecord, error)
	ListByDateRange(ctx context.Context, from, to time.Time, limit, offset int) ([]*entity.DeductionRecord, error)
}
