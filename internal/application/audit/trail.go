package audit

import (
	"context"
	"strings"

	"github.com/jhoicas/stock-deduction/internal/application/dto"
	"github.com/jhoicas/stock-deduction/internal/domain"
	"github.com/jhoicas/stock-deduction/internal/domain/repository"
)

// Trail consultas de la auditoría de deducciones (solo lectura; la escritura ocurre en la transacción).
type Trail struct {
	repo repository.AuditRepository
}

// NewTrail construye el servicio de auditoría.
func NewTrail(repo repository.AuditRepository) *Trail {
	return &Trail{repo: repo}
}

// ByOrder devuelve todos los intentos registrados para una orden, del más reciente al más antiguo.
func (t *Trail) ByOrder(ctx context.Context, orderNumber string) ([]dto.DeductionRecordDTO, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return nil, domain.ErrInvalidInput
	}
	list, err := t.repo.ListByOrder(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	out := make([]dto.DeductionRecordDTO, 0, len(list))
	for _, r := range list {
		out = append(out, dto.DeductionRecordFromEntity(r))
	}
	return out, nil
}

// ByDateRange registros en [from, to] para revisión de cumplimiento.
func (t *Trail) ByDateRange(ctx context.Context, q dto.AuditQuery) (*dto.AuditPage, error) {
	q.DefaultPage()
	if q.From.IsZero() || q.To.IsZero() || q.To.Before(q.From) {
		return nil, domain.ErrInvalidInput
	}
	list, err := t.repo.ListByDateRange(ctx, q.From, q.To, q.Limit, q.Offset)
	if err != nil {
		return nil, err
	}
	items := make([]dto.DeductionRecordDTO, 0, len(list))
	for _, r := range list {
		items = append(items, dto.DeductionRecordFromEntity(r))
	}
	return &dto.AuditPage{Items: items, Page: dto.PageResponse{Limit: q.Limit, Offset: q.Offset}}, nil
}
