package repository

import (
	"context"

	"github.com/jhoicas/stock-deduction/internal/domain/entity"
)

// StockCacheRepository define el puerto de la caché local de stock por (ítem, BIN).
// Usado dentro de transacciones para garantizar consistencia.
type StockCacheRepository interface {
	Get(ctx context.Context, itemID, binID string) (*entity.StockEntry, error)
	// GetForUpdate bloquea la fila (SELECT FOR UPDATE) hasta el fin de la transacción.
	// Si la fila no existe la crea vacía para que el bloqueo aplique también a la primera deducción.
	GetForUpdate(ctx context.Context, itemID, binID string) (*entity.StockEntry, error)
	Upsert(ctx context.Context, entry *entity.StockEntry) error
}
