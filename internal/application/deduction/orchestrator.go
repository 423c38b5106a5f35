package deduction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jhoicas/stock-deduction/internal/application/movement"
	"github.com/jhoicas/stock-deduction/internal/domain"
	"github.com/jhoicas/stock-deduction/internal/domain/entity"
	"github.com/jhoicas/stock-deduction/internal/domain/repository"
)

const (
	tracerName            = "github.com/jhoicas/stock-deduction/deduction"
	fallbackCorrelationPx = "LOCAL-"
	compensateSuffix      = ":compensate"
)

// DeductionResult resultado de una deducción confirmada.
type DeductionResult struct {
	Success               bool
	AuditID               string
	MovementID            string
	ExternalCorrelationID string
	RemainingStock        int
	PostingMode           entity.PostingMode
}

// Deps dependencias del orquestador. Publisher, Metrics y Now son opcionales.
type Deps struct {
	TxRunner    TxRunner
	Ledger      ExternalLedger
	Payments    repository.PaymentRepository
	Orders      repository.OrderRepository
	OTPs        repository.OTPRepository
	Bins        repository.BinRepository
	Audit       repository.AuditRepository // atado al pool: pre-validación y registros de falla
	RateCounter RateCounter
	Publisher   EventPublisher
	Metrics     Metrics
	Now         func() time.Time
}

// Orchestrator núcleo transaccional de la deducción de stock:
//
//	compuertas → validación → tx{ lock stock → ledger externo → caché → movimiento → auditoría } → commit
//
// Es stateless; la consistencia entre instancias concurrentes la dan los bloqueos de fila
// y la restricción única de auditoría, no una cola global.
type Orchestrator struct {
	gates     Gates
	validator *Validator
	tx        TxRunner
	ledger    ExternalLedger
	audit     repository.AuditRepository
	publisher EventPublisher
	metrics   Metrics
	policy    Policy
	now       func() time.Time
	log       zerolog.Logger
	tracer    trace.Tracer
}

// NewOrchestrator construye el orquestador con sus compuertas y validador.
func NewOrchestrator(deps Deps, policy Policy, log zerolog.Logger) *Orchestrator {
	policy = policy.withDefaults()
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	var publisher EventPublisher = nopPublisher{}
	if deps.Publisher != nil {
		publisher = deps.Publisher
	}
	var metrics Metrics = nopMetrics{}
	if deps.Metrics != nil {
		metrics = deps.Metrics
	}
	return &Orchestrator{
		gates: Gates{
			Payment:  NewPaymentGate(deps.Payments, policy.PaymentFreshness, now),
			Identity: NewIdentityGate(deps.Orders, deps.OTPs, now),
			Rate:     NewRateGate(deps.RateCounter, policy.RateLimitPerHour, now),
		},
		validator: NewValidator(deps.Orders, deps.Bins, deps.Audit, policy.MaxQuantity),
		tx:        deps.TxRunner,
		ledger:    deps.Ledger,
		audit:     deps.Audit,
		publisher: publisher,
		metrics:   metrics,
		policy:    policy,
		now:       now,
		log:       log.With().Str("component", "deduction").Logger(),
		tracer:    otel.Tracer(tracerName),
	}
}

// unitState lo ocurrido dentro de la unidad de trabajo; sobrevive al rollback.
// attemptID identifica el intento: es el ID del registro de auditoría y parte de la clave de idempotencia.
type unitState struct {
	attemptID     string
	before        int
	remaining     int
	correlationID string
	mode          entity.PostingMode
	auditID       string
	movementID    string
}

// Deduct ejecuta la deducción completa. Los rechazos corregibles por el llamador y las fallas
// del sistema se devuelven como *domain.Error (ver domain.AsError); nunca queda estado a medias.
func (o *Orchestrator) Deduct(ctx context.Context, req entity.DeductionRequest) (res *DeductionResult, err error) {
	started := time.Now()
	st := &unitState{attemptID: uuid.New().String(), mode: entity.NotPosted}
	ctx, span := o.tracer.Start(ctx, "deduction.Deduct", trace.WithAttributes(
		attribute.String("order.number", req.OrderNumber()),
		attribute.String("item.id", req.ItemID()),
		attribute.String("bin.id", req.BinID()),
		attribute.Int("deduction.quantity", req.Quantity()),
	))
	log := o.log.With().
		Str("order_number", req.OrderNumber()).
		Str("item_id", req.ItemID()).
		Str("bin_id", req.BinID()).
		Str("actor_id", req.ActorID()).
		Int("quantity", req.Quantity()).
		Logger()
	defer func() {
		code := "OK"
		if err != nil {
			code = domain.CodeOf(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, code)
		}
		span.SetAttributes(
			attribute.String("deduction.code", code),
			attribute.String("deduction.posting_mode", string(st.mode)),
		)
		o.metrics.ObserveDeduction(code, st.mode, time.Since(started))
		span.End()
	}()

	if err := o.gates.Check(ctx, req); err != nil {
		logRejection(log, "compuerta", err)
		return nil, err
	}
	target, err := o.validator.Validate(ctx, req)
	if err != nil {
		logRejection(log, "validación", err)
		return nil, err
	}

	// Desde aquí la cancelación del llamador no se propaga: la unidad de trabajo se confirma
	// completa o se revierte completa, acotada por su propio timeout.
	uow, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.policy.UnitOfWorkTimeout)
	defer cancel()

	err = o.tx.RunDeduction(uow, func(
		stockRepo repository.StockCacheRepository,
		movRepo repository.MovementRepository,
		auditRepo repository.AuditRepository,
	) error {
		return o.apply(uow, log, req, target, st, stockRepo, movRepo, auditRepo)
	})
	if err != nil {
		return nil, o.handleFailure(uow, log, req, target, st, err)
	}

	log.Info().
		Str("audit_id", st.auditID).
		Str("correlation_id", st.correlationID).
		Str("posting_mode", string(st.mode)).
		Int("remaining_stock", st.remaining).
		Msg("deducción confirmada")

	o.publish(uow, log, DeductionEvent{
		Type:           EventDeductionCommitted,
		AuditID:        st.auditID,
		MovementID:     st.movementID,
		OrderNumber:    req.OrderNumber(),
		ItemID:         req.ItemID(),
		BinID:          req.BinID(),
		WarehouseID:    target.Bin.WarehouseID,
		Quantity:       req.Quantity(),
		RemainingStock: st.remaining,
		CorrelationID:  st.correlationID,
		PostingMode:    st.mode,
		OccurredAt:     o.now(),
	})

	return &DeductionResult{
		Success:               true,
		AuditID:               st.auditID,
		MovementID:            st.movementID,
		ExternalCorrelationID: st.correlationID,
		RemainingStock:        st.remaining,
		PostingMode:           st.mode,
	}, nil
}

// apply ejecuta la unidad de trabajo dentro de la transacción. Cualquier error provoca rollback completo.
func (o *Orchestrator) apply(
	ctx context.Context,
	log zerolog.Logger,
	req entity.DeductionRequest,
	target *Target,
	st *unitState,
	stockRepo repository.StockCacheRepository,
	movRepo repository.MovementRepository,
	auditRepo repository.AuditRepository,
) error {
	// Bloquea la fila (SELECT FOR UPDATE) para serializar deducciones sobre el mismo (ítem, BIN)
	entry, err := stockRepo.GetForUpdate(ctx, req.ItemID(), req.BinID())
	if err != nil {
		return domain.StorageFailure(fmt.Errorf("lock stock: %w", err))
	}

	// Re-verificación de duplicado con el bloqueo tomado: un ganador concurrente ya confirmó su
	// auditoría y no se envía un segundo ajuste externo. La restricción única cierra el resto.
	dup, err := auditRepo.HasSuccessfulDeduction(ctx, req.OrderNumber(), req.ItemID())
	if err != nil {
		return domain.StorageFailure(fmt.Errorf("duplicate re-check: %w", err))
	}
	if dup {
		return domain.ErrDuplicateDeduction
	}
	now := o.now()
	if !entry.Fresh(now, o.policy.StockCacheTTL) {
		qty, err := o.remoteStock(ctx, req.ItemID(), req.BinID())
		if err != nil {
			return domain.RemoteUnavailable(fmt.Errorf("refresh stock: %w", err))
		}
		log.Debug().Int("cached", entry.Quantity).Int("remote", qty).Msg("caché de stock vencida; refrescada desde ledger externo")
		entry.Quantity = qty
		entry.RefreshedAt = now
	}
	if entry.Quantity < req.Quantity() {
		return domain.ErrInsufficientStock
	}
	st.before = entry.Quantity

	o.post(ctx, log, req, target, st)

	entry.Quantity -= req.Quantity()
	entry.Exists = true
	if err := stockRepo.Upsert(ctx, entry); err != nil {
		return domain.StorageFailure(fmt.Errorf("update stock cache: %w", err))
	}
	st.remaining = entry.Quantity

	sync := entity.SyncSynced
	if st.mode == entity.PostedViaFallback {
		sync = entity.SyncPendingReconciliation
	}
	mov := &entity.MovementEntry{
		ItemID:          req.ItemID(),
		BinID:           req.BinID(),
		WarehouseID:     target.Bin.WarehouseID,
		Location:        target.Bin.Location,
		Type:            entity.MovementOutbound,
		QuantityBefore:  st.before,
		QuantityChanged: -req.Quantity(),
		QuantityAfter:   st.remaining,
		SourceType:      entity.SourceSalesOrder,
		SourceRef:       req.OrderNumber(),
		Reason:          string(req.Reason()),
		ActorID:         req.ActorID(),
		SyncStatus:      sync,
	}
	if err := movement.Append(ctx, movRepo, mov, now); err != nil {
		return domain.StorageFailure(fmt.Errorf("append movement: %w", err))
	}
	st.movementID = mov.ID

	rec := entity.NewDeductionRecord(req, target.Bin.WarehouseID, now)
	rec.ID = st.attemptID
	rec.Outcome = entity.OutcomeSuccess
	rec.PostingMode = st.mode
	correlationID := st.correlationID
	rec.ExternalCorrelationID = &correlationID
	remaining := st.remaining
	rec.RemainingStock = &remaining
	if err := auditRepo.Create(ctx, rec); err != nil {
		if errors.Is(err, domain.ErrDuplicateDeduction) {
			return err
		}
		return domain.StorageFailure(fmt.Errorf("append audit record: %w", err))
	}
	st.auditID = rec.ID
	return nil
}

// post envía el ajuste negativo al ledger externo. Si falla, sintetiza un correlation id local
// y marca la deducción para conciliación: se prioriza la continuidad del despacho.
func (o *Orchestrator) post(ctx context.Context, log zerolog.Logger, req entity.DeductionRequest, target *Target, st *unitState) {
	receipt, err := o.remoteAdjust(ctx, Adjustment{
		ItemID:         req.ItemID(),
		BinID:          req.BinID(),
		WarehouseID:    target.Bin.WarehouseID,
		Delta:          -req.Quantity(),
		Reason:         string(req.Reason()),
		ReferenceKey:   req.OrderNumber(),
		IdempotencyKey: st.idempotencyKey(req),
	})
	if err == nil && receipt != nil && receipt.CorrelationID != "" {
		st.correlationID = receipt.CorrelationID
		st.mode = entity.PostedDirect
		return
	}
	if err == nil {
		err = errors.New("respuesta sin correlation id")
	}
	st.correlationID = fallbackCorrelationPx + uuid.New().String()
	st.mode = entity.PostedViaFallback
	log.Warn().
		Err(domain.RemoteUnavailable(err)).
		Str("correlation_id", st.correlationID).
		Msg("ledger externo no disponible; la deducción continúa por ruta de respaldo pendiente de conciliación")
}

// handleFailure clasifica el error, compensa el ajuste externo si ya se había enviado y deja
// constancia en auditoría. Devuelve el error tipado para el llamador.
func (o *Orchestrator) handleFailure(
	ctx context.Context,
	log zerolog.Logger,
	req entity.DeductionRequest,
	target *Target,
	st *unitState,
	err error,
) error {
	// La unidad de trabajo pudo terminar por su timeout; compensación y auditoría no dependen de él.
	ctx = context.WithoutCancel(ctx)
	if domain.AsError(err) == nil {
		err = domain.StorageFailure(err)
	}
	de := domain.AsError(err)

	var correlationID *string
	if st.mode == entity.PostedDirect {
		id := st.correlationID
		correlationID = &id
		o.compensate(ctx, log, req, target, st)
	}

	// Rechazos antes de contactar el ledger externo no dejan registro; fallas del sistema
	// y reversiones posteriores a un ajuste externo sí.
	outcome := ""
	switch {
	case de.Kind == domain.KindSystemFault:
		outcome = entity.OutcomeError
	case st.mode == entity.PostedDirect:
		outcome = entity.OutcomeFailure
	}
	if outcome != "" {
		rec := entity.NewDeductionRecord(req, target.Bin.WarehouseID, o.now())
		rec.ID = st.attemptID
		rec.Outcome = outcome
		rec.ErrorCode = de.Code
		rec.ExternalCorrelationID = correlationID
		rec.PostingMode = st.mode
		if werr := o.audit.Create(ctx, rec); werr != nil {
			log.Error().Err(werr).Str("code", de.Code).Msg("no se pudo registrar el intento fallido en auditoría")
		}
	}

	if de.Kind == domain.KindSystemFault {
		log.Error().Err(err).Str("code", de.Code).Str("posting_mode", string(st.mode)).Msg("deducción revertida por falla del sistema")
	} else {
		log.Info().Str("code", de.Code).Msg("deducción rechazada dentro de la transacción")
	}
	return err
}

// compensate revierte en el ledger externo un ajuste directo cuya transacción local no se confirmó.
func (o *Orchestrator) compensate(ctx context.Context, log zerolog.Logger, req entity.DeductionRequest, target *Target, st *unitState) {
	receipt, err := o.remoteAdjust(ctx, Adjustment{
		ItemID:         req.ItemID(),
		BinID:          req.BinID(),
		WarehouseID:    target.Bin.WarehouseID,
		Delta:          req.Quantity(),
		Reason:         string(req.Reason()),
		ReferenceKey:   req.OrderNumber() + compensateSuffix,
		IdempotencyKey: st.idempotencyKey(req) + compensateSuffix,
	})
	ev := DeductionEvent{
		Type:          EventDeductionCompensated,
		OrderNumber:   req.OrderNumber(),
		ItemID:        req.ItemID(),
		BinID:         req.BinID(),
		WarehouseID:   target.Bin.WarehouseID,
		Quantity:      req.Quantity(),
		CorrelationID: st.correlationID,
		PostingMode:   st.mode,
		OccurredAt:    o.now(),
	}
	if err != nil || receipt == nil {
		ev.Type = EventCompensationFailed
		log.Error().Err(err).Str("correlation_id", st.correlationID).Msg("no se pudo compensar el ajuste externo; requiere conciliación")
	} else {
		log.Warn().
			Str("correlation_id", st.correlationID).
			Str("compensation_correlation_id", receipt.CorrelationID).
			Msg("ajuste externo compensado tras revertir la transacción local")
	}
	o.publish(ctx, log, ev)
}

// idempotencyKey clave del ajuste de este intento. Un reintento del llamador es un intento nuevo.
func (st *unitState) idempotencyKey(req entity.DeductionRequest) string {
	return req.OrderNumber() + ":" + req.ItemID() + ":" + st.attemptID
}

func (o *Orchestrator) remoteStock(ctx context.Context, itemID, binID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, o.policy.RemoteTimeout)
	defer cancel()
	ctx, span := o.tracer.Start(ctx, "ledger.GetAvailableStock")
	defer span.End()

	started := time.Now()
	qty, err := o.ledger.GetAvailableStock(ctx, itemID, binID)
	o.metrics.ObserveRemoteCall("get_available_stock", err == nil, time.Since(started))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "get available stock")
		return 0, err
	}
	if qty < 0 {
		qty = 0
	}
	return qty, nil
}

func (o *Orchestrator) remoteAdjust(ctx context.Context, adj Adjustment) (*AdjustmentReceipt, error) {
	ctx, cancel := context.WithTimeout(ctx, o.policy.RemoteTimeout)
	defer cancel()
	ctx, span := o.tracer.Start(ctx, "ledger.PostAdjustment", trace.WithAttributes(
		attribute.String("ledger.reference_key", adj.ReferenceKey),
		attribute.Int("ledger.delta", adj.Delta),
	))
	defer span.End()

	started := time.Now()
	receipt, err := o.ledger.PostAdjustment(ctx, adj)
	o.metrics.ObserveRemoteCall("post_adjustment", err == nil, time.Since(started))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "post adjustment")
	}
	return receipt, err
}

func (o *Orchestrator) publish(ctx context.Context, log zerolog.Logger, ev DeductionEvent) {
	if err := o.publisher.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("event", ev.Type).Msg("no se pudo publicar el evento de conciliación")
	}
}

func logRejection(log zerolog.Logger, stage string, err error) {
	if de := domain.AsError(err); de != nil && de.Kind == domain.KindRejected {
		log.Info().Str("stage", stage).Str("code", de.Code).Msg("deducción rechazada")
		return
	}
	log.Error().Err(err).Str("stage", stage).Msg("falla del sistema antes de la transacción")
}
