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

var _ repository.StockCacheRepository = (*StockCacheRepo)(nil)

// StockCacheRepo caché local de stock por (ítem, BIN) sobre PostgreSQL (usable con pool o tx).
type StockCacheRepo struct {
	q Querier
}

// NewStockCacheRepository construye el adaptador de stock. Pasar pool o tx (Querier).
func NewStockCacheRepository(q Querier) *StockCacheRepo {
	return &StockCacheRepo{q: q}
}

// Get obtiene la entrada sin bloquear. Si no existe devuelve una entrada vacía con Exists=false.
func (r *StockCacheRepo) Get(ctx context.Context, itemID, binID string) (*entity.StockEntry, error) {
	query := `
		SELECT item_id, bin_id, quantity, refreshed_at
		FROM stock_cache WHERE item_id = $1 AND bin_id = $2`
	return r.scanOne(ctx, query, "get stock cache", itemID, binID)
}

// GetForUpdate asegura la existencia de la fila y la bloquea (SELECT FOR UPDATE).
// El INSERT previo hace que la primera deducción de un (ítem, BIN) también quede serializada.
func (r *StockCacheRepo) GetForUpdate(ctx context.Context, itemID, binID string) (*entity.StockEntry, error) {
	ensure := `
		INSERT INTO stock_cache (item_id, bin_id, quantity, refreshed_at, updated_at)
		VALUES ($1, $2, 0, NULL, now())
		ON CONFLICT (item_id, bin_id) DO NOTHING`
	if _, err := r.q.Exec(ctx, ensure, itemID, binID); err != nil {
		return nil, fmt.Errorf("ensure stock cache row: %w", err)
	}
	query := `
		SELECT item_id, bin_id, quantity, refreshed_at
		FROM stock_cache WHERE item_id = $1 AND bin_id = $2
		FOR UPDATE`
	return r.scanOne(ctx, query, "get stock cache for update", itemID, binID)
}

// Upsert inserta o actualiza la cantidad y la marca de sincronización.
func (r *StockCacheRepo) Upsert(ctx context.Context, entry *entity.StockEntry) error {
	query := `
		INSERT INTO stock_cache (item_id, bin_id, quantity, refreshed_at, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (item_id, bin_id)
		DO UPDATE SET quantity = EXCLUDED.quantity, refreshed_at = EXCLUDED.refreshed_at, updated_at = now()`
	var refreshed *time.Time
	if !entry.RefreshedAt.IsZero() {
		refreshed = &entry.RefreshedAt
	}
	if _, err := r.q.Exec(ctx, query, entry.ItemID, entry.BinID, entry.Quantity, refreshed); err != nil {
		return fmt.Errorf("upsert stock cache: %w", err)
	}
	return nil
}

func (r *StockCacheRepo) scanOne(ctx context.Context, query, op, itemID, binID string) (*entity.StockEntry, error) {
	var s entity.StockEntry
	var refreshed *time.Time
	err := r.q.QueryRow(ctx, query, itemID, binID).Scan(&s.ItemID, &s.BinID, &s.Quantity, &refreshed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &entity.StockEntry{ItemID: itemID, BinID: binID}, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if refreshed != nil {
		s.RefreshedAt = *refreshed
		s.Exists = true
	}
	return &s, nil
}
