package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jhoicas/stock-deduction/internal/application/deduction"
	"github.com/jhoicas/stock-deduction/internal/domain/repository"
)

// Ensure TxRunner implements deduction.TxRunner.
var _ deduction.TxRunner = (*TxRunner)(nil)

// TxRunner ejecuta callbacks dentro de una transacción PostgreSQL.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner construye el runner con el pool.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunDeduction inicia una transacción READ COMMITTED, ejecuta fn con repos atados a la tx y hace
// Commit o Rollback. Los bloqueos FOR UPDATE tomados por fn se liberan al terminar la tx.
func (r *TxRunner) RunDeduction(ctx context.Context, fn func(
	stockRepo repository.StockCacheRepository,
	movRepo repository.MovementRepository,
	auditRepo repository.AuditRepository,
) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	stockRepo := NewStockCacheRepository(tx)
	movRepo := NewMovementRepository(tx)
	auditRepo := NewAuditRepository(tx)

	if err := fn(stockRepo, movRepo, auditRepo); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
