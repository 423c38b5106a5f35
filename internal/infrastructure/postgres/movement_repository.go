package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jhoicas/stock-deduction/internal/domain"
	"github.com/jhoicas/stock-deduction/internal/domain/entity"
	"github.com/jhoicas/stock-deduction/internal/domain/repository"
)

var _ repository.MovementRepository = (*MovementRepo)(nil)

const movementColumns = `id, item_id, bin_id, warehouse_id, zone, aisle, rack, shelf, movement_type,
	quantity_before, quantity_changed, quantity_after, source_type, source_ref, reason, actor_id,
	sync_status, created_at`

// MovementRepo libro de movimientos append-only sobre PostgreSQL (usable con pool o tx).
type MovementRepo struct {
	q Querier
}

// NewMovementRepository construye el adaptador. Pasar pool o tx (Querier).
func NewMovementRepository(q Querier) *MovementRepo {
	return &MovementRepo{q: q}
}

// Create persiste un movimiento. No existe Update: las correcciones son movimientos nuevos.
func (r *MovementRepo) Create(ctx context.Context, m *entity.MovementEntry) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	query := `INSERT INTO stock_movements (` + movementColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`
	_, err := r.q.Exec(ctx, query,
		m.ID, m.ItemID, m.BinID, m.WarehouseID,
		m.Location.Zone, m.Location.Aisle, m.Location.Rack, m.Location.Shelf,
		m.Type, m.QuantityBefore, m.QuantityChanged, m.QuantityAfter,
		m.SourceType, m.SourceRef, m.Reason, m.ActorID, m.SyncStatus, m.CreatedAt,
	)
	if err != nil {
		if m.SourceType == entity.SourceCorrection && isUniqueViolation(err) {
			return domain.ErrAlreadyCompensated
		}
		return fmt.Errorf("create stock movement: %w", err)
	}
	return nil
}

// GetByID obtiene un movimiento por ID; nil si no existe.
func (r *MovementRepo) GetByID(ctx context.Context, id string) (*entity.MovementEntry, error) {
	query := `SELECT ` + movementColumns + ` FROM stock_movements WHERE id = $1`
	return r.getOne(ctx, "get movement", query, id)
}

// FindCorrection busca la corrección (source_type = 'correction') que referencia al movimiento.
func (r *MovementRepo) FindCorrection(ctx context.Context, movementID string) (*entity.MovementEntry, error) {
	query := `SELECT ` + movementColumns + ` FROM stock_movements
		WHERE source_type = $1 AND source_ref = $2 LIMIT 1`
	return r.getOne(ctx, "find correction", query, string(entity.SourceCorrection), movementID)
}

// Latest último movimiento del (ítem, BIN); su quantity_after es el stock según el libro.
func (r *MovementRepo) Latest(ctx context.Context, itemID, binID string) (*entity.MovementEntry, error) {
	query := `SELECT ` + movementColumns + ` FROM stock_movements
		WHERE item_id = $1 AND bin_id = $2
		ORDER BY created_at DESC, id DESC LIMIT 1`
	return r.getOne(ctx, "latest movement", query, itemID, binID)
}

func (r *MovementRepo) getOne(ctx context.Context, op, query string, args ...any) (*entity.MovementEntry, error) {
	m, err := scanMovement(r.q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return m, nil
}

// List historial filtrado y paginado, más reciente primero. Devuelve también el total sin paginar.
func (r *MovementRepo) List(ctx context.Context, f repository.MovementFilter) ([]*entity.MovementEntry, int, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.ItemID != "" {
		add("item_id = $%d", f.ItemID)
	}
	if f.BinID != "" {
		add("bin_id = $%d", f.BinID)
	}
	if f.Type != "" {
		add("movement_type = $%d", string(f.Type))
	}
	if f.SourceType != "" {
		add("source_type = $%d", string(f.SourceType))
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}

	query := `SELECT ` + movementColumns + `, COUNT(*) OVER() FROM stock_movements`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	pos := len(args) + 1
	query += fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", pos, pos+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list movements: %w", err)
	}
	defer rows.Close()

	var list []*entity.MovementEntry
	total := 0
	for rows.Next() {
		var m entity.MovementEntry
		if err := rows.Scan(movementDest(&m, &total)...); err != nil {
			return nil, 0, fmt.Errorf("scan movement: %w", err)
		}
		list = append(list, &m)
	}
	return list, total, rows.Err()
}

// Summary cuenta movimientos y suma cantidades absolutas por tipo y por origen en [from, to].
func (r *MovementRepo) Summary(ctx context.Context, from, to time.Time) ([]repository.MovementSummaryRow, error) {
	const query = `
	SELECT 'movement_type' AS grp, movement_type AS key, COUNT(*), COALESCE(SUM(ABS(quantity_changed)), 0)
	FROM stock_movements
	WHERE created_at BETWEEN $1 AND $2
	GROUP BY movement_type
	UNION ALL
	SELECT 'source_type', source_type, COUNT(*), COALESCE(SUM(ABS(quantity_changed)), 0)
	FROM stock_movements
	WHERE created_at BETWEEN $1 AND $2
	GROUP BY source_type
	ORDER BY 1, 2`

	rows, err := r.q.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("movements summary: %w", err)
	}
	defer rows.Close()

	var out []repository.MovementSummaryRow
	for rows.Next() {
		var row repository.MovementSummaryRow
		if err := rows.Scan(&row.Group, &row.Key, &row.Count, &row.TotalQuantity); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func movementDest(m *entity.MovementEntry, extra ...any) []any {
	dest := []any{
		&m.ID, &m.ItemID, &m.BinID, &m.WarehouseID,
		&m.Location.Zone, &m.Location.Aisle, &m.Location.Rack, &m.Location.Shelf,
		&m.Type, &m.QuantityBefore, &m.QuantityChanged, &m.QuantityAfter,
		&m.SourceType, &m.SourceRef, &m.Reason, &m.ActorID, &m.SyncStatus, &m.CreatedAt,
	}
	return append(dest, extra...)
}

func scanMovement(row pgx.Row) (*entity.MovementEntry, error) {
	var m entity.MovementEntry
	if err := row.Scan(movementDest(&m)...); err != nil {
		return nil, err
	}
	return &m, nil
}
