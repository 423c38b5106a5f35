package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jhoicas/stock-deduction/internal/domain"
	"github.com/jhoicas/stock-deduction/internal/domain/entity"
	"github.com/jhoicas/stock-deduction/internal/domain/repository"
)

var _ repository.AuditRepository = (*AuditRepo)(nil)

const auditColumns = `id, order_number, item_id, bin_id, warehouse_id, quantity, reason, otp_supplied,
	outcome, error_code, external_correlation_id, posting_mode, remaining_stock, actor_id,
	client_ip, user_agent, created_at`

// AuditRepo auditoría append-only de intentos de deducción (usable con pool o tx).
type AuditRepo struct {
	q Querier
}

// NewAuditRepository construye el adaptador. Pasar pool o tx (Querier).
func NewAuditRepository(q Querier) *AuditRepo {
	return &AuditRepo{q: q}
}

// Create inserta el registro. El índice único parcial sobre éxitos traduce la carrera a ErrDuplicateDeduction.
func (r *AuditRepo) Create(ctx context.Context, rec *entity.DeductionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	query := `INSERT INTO deduction_audit (` + auditColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`
	_, err := r.q.Exec(ctx, query,
		rec.ID, rec.OrderNumber, rec.ItemID, rec.BinID, rec.WarehouseID, rec.Quantity, rec.Reason,
		rec.OTPSupplied, rec.Outcome, rec.ErrorCode, rec.ExternalCorrelationID, rec.PostingMode,
		rec.RemainingStock, rec.ActorID, rec.ClientIP, rec.UserAgent, rec.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateDeduction
		}
		return fmt.Errorf("create deduction audit: %w", err)
	}
	return nil
}

// HasSuccessfulDeduction indica si (orden, ítem) ya tiene una deducción exitosa.
func (r *AuditRepo) HasSuccessfulDeduction(ctx context.Context, orderNumber, itemID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM deduction_audit
			WHERE order_number = $1 AND item_id = $2 AND outcome = 'success'
		)`
	var exists bool
	if err := r.q.QueryRow(ctx, query, orderNumber, itemID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check successful deduction: %w", err)
	}
	return exists, nil
}

// ListByOrder historial de intentos de una orden, más reciente primero.
func (r *AuditRepo) ListByOrder(ctx context.Context, orderNumber string) ([]*entity.DeductionRecord, error) {
	query := `SELECT ` + auditColumns + ` FROM deduction_audit
		WHERE order_number = $1 ORDER BY created_at DESC, id`
	rows, err := r.q.Query(ctx, query, orderNumber)
	if err != nil {
		return nil, fmt.Errorf("list audit by order: %w", err)
	}
	return collectAudit(rows)
}

// ListByDateRange intentos en [from, to], más reciente primero.
func (r *AuditRepo) ListByDateRange(ctx context.Context, from, to time.Time, limit, offset int) ([]*entity.DeductionRecord, error) {
	query := `SELECT ` + auditColumns + ` FROM deduction_audit
		WHERE created_at BETWEEN $1 AND $2
		ORDER BY created_at DESC, id
		LIMIT $3 OFFSET $4`
	rows, err := r.q.Query(ctx, query, from, to, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list audit by date range: %w", err)
	}
	return collectAudit(rows)
}

func collectAudit(rows pgx.Rows) ([]*entity.DeductionRecord, error) {
	defer rows.Close()
	var list []*entity.DeductionRecord
	for rows.Next() {
		var rec entity.DeductionRecord
		err := rows.Scan(
			&rec.ID, &rec.OrderNumber, &rec.ItemID, &rec.BinID, &rec.WarehouseID, &rec.Quantity,
			&rec.Reason, &rec.OTPSupplied, &rec.Outcome, &rec.ErrorCode, &rec.ExternalCorrelationID,
			&rec.PostingMode, &rec.RemainingStock, &rec.ActorID, &rec.ClientIP, &rec.UserAgent, &rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan deduction audit: %w", err)
		}
		list = append(list, &rec)
	}
	return list, rows.Err()
}
