package movement

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jhoicas/stock-deduction/internal/application/dto"
	"github.com/jhoicas/stock-deduction/internal/domain"
	"github.com/jhoicas/stock-deduction/internal/domain/entity"
	"github.com/jhoicas/stock-deduction/internal/domain/repository"
)

// Append valida y escribe un movimiento usando el repositorio dado (de pool o de tx).
// Es el único punto de escritura del libro; los movimientos nunca se actualizan.
func Append(ctx context.Context, repo repository.MovementRepository, entry *entity.MovementEntry, now time.Time) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.SyncStatus == "" {
		entry.SyncStatus = entity.SyncNotApplicable
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	return repo.Create(ctx, entry)
}

// LedgerService casos de uso de lectura y escritura del libro de movimientos.
type LedgerService struct {
	repo repository.MovementRepository
	now  func() time.Time
}

// NewLedgerService construye el servicio del libro de movimientos.
func NewLedgerService(repo repository.MovementRepository, now func() time.Time) *LedgerService {
	if now == nil {
		now = time.Now
	}
	return &LedgerService{repo: repo, now: now}
}

// Record registra un movimiento originado en otro proceso (recepciones, devoluciones, conciliación).
func (s *LedgerService) Record(ctx context.Context, in dto.RecordMovementRequest) (*dto.MovementDTO, error) {
	entry := &entity.MovementEntry{
		ItemID:          in.ItemID,
		BinID:           in.BinID,
		WarehouseID:     in.WarehouseID,
		Location:        entity.Location{Zone: in.Zone, Aisle: in.Aisle, Rack: in.Rack, Shelf: in.Shelf},
		Type:            entity.MovementType(in.MovementType),
		QuantityBefore:  in.QuantityBefore,
		QuantityChanged: in.QuantityChanged,
		QuantityAfter:   in.QuantityBefore + in.QuantityChanged,
		SourceType:      entity.SourceType(in.SourceType),
		SourceRef:       in.SourceRef,
		Reason:          in.Reason,
		ActorID:         in.ActorID,
		SyncStatus:      entity.SyncStatus(in.SyncStatus),
	}
	if err := Append(ctx, s.repo, entry, s.now()); err != nil {
		return nil, err
	}
	out := dto.MovementFromEntity(entry)
	return &out, nil
}

// Compensate escribe el movimiento opuesto a uno existente. Las correcciones son nuevas
// entradas; el original no se toca. Un movimiento se compensa una sola vez y el stock previo
// es el quantity_after del último movimiento del (ítem, BIN).
func (s *LedgerService) Compensate(ctx context.Context, movementID, actorID string) (*dto.MovementDTO, error) {
	orig, err := s.repo.GetByID(ctx, movementID)
	if err != nil {
		return nil, err
	}
	if orig == nil {
		return nil, domain.ErrNotFound
	}
	prev, err := s.repo.FindCorrection(ctx, orig.ID)
	if err != nil {
		return nil, err
	}
	if prev != nil {
		return nil, domain.ErrAlreadyCompensated
	}
	latest, err := s.repo.Latest(ctx, orig.ItemID, orig.BinID)
	if err != nil {
		return nil, err
	}
	quantityBefore := orig.QuantityAfter
	if latest != nil {
		quantityBefore = latest.QuantityAfter
	}
	delta := -orig.QuantityChanged
	entry := &entity.MovementEntry{
		ItemID:          orig.ItemID,
		BinID:           orig.BinID,
		WarehouseID:     orig.WarehouseID,
		Location:        orig.Location,
		Type:            entity.MovementTypeFor(delta),
		QuantityBefore:  quantityBefore,
		QuantityChanged: delta,
		QuantityAfter:   quantityBefore + delta,
		SourceType:      entity.SourceCorrection,
		SourceRef:       orig.ID,
		Reason:          "compensación de " + orig.ID,
		ActorID:         actorID,
		SyncStatus:      entity.SyncPendingReconciliation,
	}
	if err := Append(ctx, s.repo, entry, s.now()); err != nil {
		return nil, err
	}
	out := dto.MovementFromEntity(entry)
	return &out, nil
}

// History historial paginado con filtros por BIN, ítem, tipo, origen y rango de fechas.
func (s *LedgerService) History(ctx context.Context, q dto.MovementQuery) (*dto.MovementPage, error) {
	q.DefaultPage()
	if q.From != nil && q.To != nil && q.To.Before(*q.From) {
		return nil, domain.ErrInvalidInput
	}
	filter := repository.MovementFilter{
		ItemID:     q.ItemID,
		BinID:      q.BinID,
		Type:       entity.MovementType(q.MovementType),
		SourceType: entity.SourceType(q.SourceType),
		From:       q.From,
		To:         q.To,
		Limit:      q.Limit,
		Offset:     q.Offset,
	}
	list, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	items := make([]dto.MovementDTO, 0, len(list))
	for _, m := range list {
		items = append(items, dto.MovementFromEntity(m))
	}
	return &dto.MovementPage{
		Items: items,
		Page:  dto.PageResponse{Limit: q.Limit, Offset: q.Offset, Total: total},
	}, nil
}

// Summary total de movimientos y cantidad absoluta agrupados por tipo y por origen.
func (s *LedgerService) Summary(ctx context.Context, from, to time.Time) (*dto.MovementSummary, error) {
	if to.Before(from) {
		return nil, domain.ErrInvalidInput
	}
	rows, err := s.repo.Summary(ctx, from, to)
	if err != nil {
		return nil, err
	}
	out := &dto.MovementSummary{
		From:           from,
		To:             to,
		ByMovementType: []dto.SummaryBucket{},
		BySourceType:   []dto.SummaryBucket{},
	}
	for _, r := range rows {
		b := dto.SummaryBucket{Key: r.Key, Count: r.Count, TotalQuantity: r.TotalQuantity}
		switch r.Group {
		case repository.GroupMovementType:
			out.ByMovementType = append(out.ByMovementType, b)
		case repository.GroupSourceType:
			out.BySourceType = append(out.BySourceType, b)
		}
	}
	return out, nil
}
