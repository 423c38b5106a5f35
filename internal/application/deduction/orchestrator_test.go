package deduction

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/jhoicas/stock-deduction/internal/domain"
	"github.com/jhoicas/stock-deduction/internal/domain/entity"
)

// ──────────────────────────────────────────────────────────────────────────────
// Helpers de test
// ──────────────────────────────────────────────────────────────────────────────

const (
	testOrder     = "10042"
	testItem      = "SKU-1"
	testBin       = "B-07"
	testWarehouse = "WH-NORTE"
	testActor     = "u-bodega-1"
	testOTP       = "482913"
)

var testNow = time.Date(2026, 10, 14, 10, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

type harness struct {
	db        *memDB
	ledger    *fakeLedger
	orders    *fakeOrders
	payments  *fakePayments
	otps      *fakeOTPs
	bins      *fakeBins
	audit     *poolAuditRepo
	counter   *memCounter
	publisher *fakePublisher
	metrics   *fakeMetrics
	orch      *Orchestrator
}

// newHarness orden 10042 pagada hace una hora, BIN B-07 activo y stock 5 en caché vigente y en el ledger externo.
func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		db:     newMemDB(),
		ledger: &fakeLedger{stock: map[string]int{stockKey(testItem, testBin): 5}},
		orders: &fakeOrders{byNumber: map[string]*entity.Order{
			testOrder: {Number: testOrder, State: entity.OrderStateConfirmed, FulfillmentType: "shipping"},
		}},
		payments: &fakePayments{byOrder: map[string]*entity.Payment{
			testOrder: {ID: "pay-1", OrderNumber: testOrder, Amount: decimal.NewFromInt(120000), CompletedAt: testNow.Add(-time.Hour)},
		}},
		otps:      &fakeOTPs{},
		counter:   &memCounter{counts: map[string]int{}},
		publisher: &fakePublisher{},
		metrics:   &fakeMetrics{},
	}
	h.db.seedStock(testItem, testBin, 5, testNow.Add(-time.Minute))
	h.bins = &fakeBins{byID: map[string]*entity.Bin{
		testBin: {ID: testBin, WarehouseID: testWarehouse, Code: "B-07", Active: true, Location: entity.Location{Zone: "A", Aisle: "3", Rack: "2", Shelf: "1"}},
		"B-99":  {ID: "B-99", WarehouseID: testWarehouse, Active: false},
	}}
	h.audit = &poolAuditRepo{db: h.db}
	h.build(DefaultPolicy())
	return h
}

func (h *harness) build(policy Policy) {
	h.orch = NewOrchestrator(Deps{
		TxRunner:    h.db,
		Ledger:      h.ledger,
		Payments:    h.payments,
		Orders:      h.orders,
		OTPs:        h.otps,
		Bins:        h.bins,
		Audit:       h.audit,
		RateCounter: h.counter,
		Publisher:   h.publisher,
		Metrics:     h.metrics,
		Now:         fixedClock,
	}, policy, zerolog.Nop())
}

func newRequest(t *testing.T, mutate func(in *entity.DeductionInput)) entity.DeductionRequest {
	t.Helper()
	in := entity.DeductionInput{
		OrderNumber: testOrder,
		ItemID:      testItem,
		BinID:       testBin,
		Quantity:    3,
		ActorID:     testActor,
		Reason:      string(entity.ReasonPackageDispatch),
		Client:      entity.ClientInfo{IP: "10.0.0.8", UserAgent: "handheld/2.1"},
	}
	if mutate != nil {
		mutate(&in)
	}
	req, err := entity.NewDeductionRequest(in)
	require.NoError(t, err)
	return req
}

func requireCode(t *testing.T, err error, want *domain.Error) {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, want)
	assert.Equal(t, want.Code, domain.CodeOf(err))
}

// ──────────────────────────────────────────────────────────────────────────────
// Flujo principal
// ──────────────────────────────────────────────────────────────────────────────

// Caso 1: stock 5, se deducen 3 → quedan 2, un movimiento 5/-3/2, auditoría exitosa y evento publicado.
func TestDeduct_Exitosa(t *testing.T) {
	h := newHarness(t)

	res, err := h.orch.Deduct(context.Background(), newRequest(t, nil))
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 2, res.RemainingStock)
	assert.Equal(t, entity.PostedDirect, res.PostingMode)
	assert.Equal(t, "EXT-1", res.ExternalCorrelationID)
	assert.NotEmpty(t, res.AuditID)
	assert.NotEmpty(t, res.MovementID)

	stock := h.db.stockOf(testItem, testBin)
	assert.Equal(t, 2, stock.Quantity)
	assert.Equal(t, testNow.Add(-time.Minute), stock.RefreshedAt, "un decremento local no renueva la vigencia")

	movs := h.db.movementList()
	require.Len(t, movs, 1)
	m := movs[0]
	assert.Equal(t, res.MovementID, m.ID)
	assert.Equal(t, 5, m.QuantityBefore)
	assert.Equal(t, -3, m.QuantityChanged)
	assert.Equal(t, 2, m.QuantityAfter)
	assert.Equal(t, entity.MovementOutbound, m.Type)
	assert.Equal(t, entity.SourceSalesOrder, m.SourceType)
	assert.Equal(t, testOrder, m.SourceRef)
	assert.Equal(t, entity.SyncSynced, m.SyncStatus)
	assert.Equal(t, "A", m.Location.Zone)
	assert.Equal(t, testNow, m.CreatedAt)

	audits := h.db.auditList()
	require.Len(t, audits, 1)
	a := audits[0]
	assert.Equal(t, entity.OutcomeSuccess, a.Outcome)
	assert.Equal(t, res.AuditID, a.ID)
	require.NotNil(t, a.ExternalCorrelationID)
	assert.Equal(t, "EXT-1", *a.ExternalCorrelationID)
	require.NotNil(t, a.RemainingStock)
	assert.Equal(t, 2, *a.RemainingStock)
	assert.Equal(t, testWarehouse, a.WarehouseID)
	assert.Equal(t, "10.0.0.8", a.ClientIP)
	assert.Equal(t, "handheld/2.1", a.UserAgent)

	posts := h.ledger.postList()
	require.Len(t, posts, 1)
	assert.Equal(t, -3, posts[0].Delta)
	assert.Equal(t, testOrder, posts[0].ReferenceKey)
	assert.Equal(t, testOrder+":"+testItem+":"+res.AuditID, posts[0].IdempotencyKey)
	assert.Equal(t, testWarehouse, posts[0].WarehouseID)

	assert.Equal(t, []string{EventDeductionCommitted}, h.publisher.types())
	assert.Equal(t, []string{"OK"}, h.metrics.codes)
}

// Caso 2: reintento de la misma orden e ítem → DUPLICATE_DEDUCTION y el stock no cambia.
func TestDeduct_ReintentoEsDuplicado(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.Deduct(context.Background(), newRequest(t, nil))
	require.NoError(t, err)

	_, err = h.orch.Deduct(context.Background(), newRequest(t, nil))
	requireCode(t, err, domain.ErrDuplicateDeduction)

	assert.Equal(t, 2, h.db.stockOf(testItem, testBin).Quantity)
	assert.Len(t, h.db.movementList(), 1)
	assert.Len(t, h.db.auditList(), 1, "un rechazo previo a la transacción no deja registro")
	assert.Len(t, h.ledger.postList(), 1)
}

// Caso 3: se piden 6 con stock 5 → INSUFFICIENT_STOCK sin ajuste externo ni registros.
func TestDeduct_StockInsuficiente(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.Deduct(context.Background(), newRequest(t, func(in *entity.DeductionInput) { in.Quantity = 6 }))
	requireCode(t, err, domain.ErrInsufficientStock)

	assert.Equal(t, 5, h.db.stockOf(testItem, testBin).Quantity)
	assert.Empty(t, h.db.movementList())
	assert.Empty(t, h.db.auditList())
	assert.Empty(t, h.ledger.postList())
	assert.Empty(t, h.publisher.types())
	assert.Equal(t, []string{"INSUFFICIENT_STOCK"}, h.metrics.codes)
}

// Caso 4: cantidad exacta al stock deja el BIN en cero.
func TestDeduct_StockExactoQuedaEnCero(t *testing.T) {
	h := newHarness(t)

	res, err := h.orch.Deduct(context.Background(), newRequest(t, func(in *entity.DeductionInput) { in.Quantity = 5 }))
	require.NoError(t, err)
	assert.Equal(t, 0, res.RemainingStock)
	assert.Equal(t, 0, h.db.stockOf(testItem, testBin).Quantity)
}

// ──────────────────────────────────────────────────────────────────────────────
// Compuertas
// ──────────────────────────────────────────────────────────────────────────────

// Caso 5: el actor ya hizo 100 deducciones esta hora → RATE_LIMIT_EXCEEDED aunque el BIN sea inválido.
func TestDeduct_LimiteDeTasaAntesQueValidacion(t *testing.T) {
	h := newHarness(t)
	h.counter.counts[RateKey(testActor, testNow)] = 100

	_, err := h.orch.Deduct(context.Background(), newRequest(t, func(in *entity.DeductionInput) { in.BinID = "B-99" }))
	requireCode(t, err, domain.ErrRateLimitExceeded)
	assert.Empty(t, h.ledger.postList())
}

// Caso 6: orden sin pago con OTP válido → PAYMENT_NOT_VERIFIED y el OTP queda sin consumir.
func TestDeduct_SinPagoNoConsumeOTP(t *testing.T) {
	h := newHarness(t)
	h.orders.byNumber[testOrder].FulfillmentType = entity.FulfillmentDelivery
	h.payments.byOrder = map[string]*entity.Payment{}
	h.otps.codes = []*entity.OTP{{ID: "otp-1", OrderNumber: testOrder, Code: testOTP, ExpiresAt: testNow.Add(10 * time.Minute)}}

	_, err := h.orch.Deduct(context.Background(), newRequest(t, func(in *entity.DeductionInput) { in.OTPCode = testOTP }))
	requireCode(t, err, domain.ErrPaymentNotVerified)

	assert.Zero(t, h.otps.calls)
	assert.Nil(t, h.otps.codes[0].UsedAt)
}

// Caso 7: el OTP es de un solo uso; un segundo ítem de la misma orden con el mismo código es rechazado.
func TestDeduct_OTPUnSoloUso(t *testing.T) {
	h := newHarness(t)
	h.orders.byNumber[testOrder].FulfillmentType = entity.FulfillmentPickup
	h.otps.codes = []*entity.OTP{{ID: "otp-1", OrderNumber: testOrder, Code: testOTP, ExpiresAt: testNow.Add(10 * time.Minute)}}
	h.db.seedStock("SKU-2", testBin, 4, testNow)

	_, err := h.orch.Deduct(context.Background(), newRequest(t, func(in *entity.DeductionInput) { in.OTPCode = testOTP }))
	require.NoError(t, err)

	_, err = h.orch.Deduct(context.Background(), newRequest(t, func(in *entity.DeductionInput) {
		in.ItemID = "SKU-2"
		in.OTPCode = testOTP
	}))
	requireCode(t, err, domain.ErrOtpInvalid)
	assert.Equal(t, 4, h.db.stockOf("SKU-2", testBin).Quantity)
}

// ──────────────────────────────────────────────────────────────────────────────
// Ledger externo
// ──────────────────────────────────────────────────────────────────────────────

// Caso 8: el ledger externo rechaza el ajuste → ruta de respaldo con id LOCAL- y movimiento pendiente de conciliación.
func TestDeduct_RutaDeRespaldo(t *testing.T) {
	h := newHarness(t)
	h.ledger.failPost = func(Adjustment) error { return errors.New("503 service unavailable") }

	res, err := h.orch.Deduct(context.Background(), newRequest(t, nil))
	require.NoError(t, err)

	assert.Equal(t, entity.PostedViaFallback, res.PostingMode)
	assert.True(t, strings.HasPrefix(res.ExternalCorrelationID, "LOCAL-"), res.ExternalCorrelationID)
	assert.Equal(t, 2, res.RemainingStock)

	movs := h.db.movementList()
	require.Len(t, movs, 1)
	assert.Equal(t, entity.SyncPendingReconciliation, movs[0].SyncStatus)

	audits := h.db.auditList()
	require.Len(t, audits, 1)
	assert.Equal(t, entity.PostedViaFallback, audits[0].PostingMode)

	require.Len(t, h.publisher.events, 1)
	assert.Equal(t, EventDeductionCommitted, h.publisher.events[0].Type)
	assert.Equal(t, entity.PostedViaFallback, h.publisher.events[0].PostingMode)
	assert.Equal(t, 5, h.ledger.stock[stockKey(testItem, testBin)], "el ledger externo no recibió el ajuste")
}

// Caso 9: caché vencida y ledger externo caído → REMOTE_LEDGER_UNAVAILABLE con registro de error y sin ajuste.
func TestDeduct_RefrescoFallido(t *testing.T) {
	h := newHarness(t)
	h.db.seedStock(testItem, testBin, 5, testNow.Add(-time.Hour))
	h.ledger.failGet = errors.New("connection refused")

	_, err := h.orch.Deduct(context.Background(), newRequest(t, nil))
	requireCode(t, err, domain.ErrRemoteLedgerUnavailable)
	assert.True(t, domain.AsError(err).Retryable())

	assert.Empty(t, h.ledger.postList())
	assert.Empty(t, h.db.movementList())
	audits := h.db.auditList()
	require.Len(t, audits, 1)
	assert.Equal(t, entity.OutcomeError, audits[0].Outcome)
	assert.Equal(t, "REMOTE_LEDGER_UNAVAILABLE", audits[0].ErrorCode)
	assert.Nil(t, audits[0].ExternalCorrelationID)
}

// Caso 10: caché vencida se refresca desde el ledger externo antes de decidir.
func TestDeduct_CacheVencidaSeRefresca(t *testing.T) {
	h := newHarness(t)
	h.db.seedStock(testItem, testBin, 1, testNow.Add(-time.Hour))
	h.ledger.stock[stockKey(testItem, testBin)] = 8

	res, err := h.orch.Deduct(context.Background(), newRequest(t, nil))
	require.NoError(t, err)

	assert.Equal(t, 1, h.ledger.gets)
	assert.Equal(t, 5, res.RemainingStock)
	stock := h.db.stockOf(testItem, testBin)
	assert.Equal(t, 5, stock.Quantity)
	assert.Equal(t, testNow, stock.RefreshedAt)
	assert.Equal(t, 8, h.db.movementList()[0].QuantityBefore)
}

// Caso 11: caché vigente no consulta el ledger externo.
func TestDeduct_CacheVigenteNoConsultaRemoto(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.Deduct(context.Background(), newRequest(t, nil))
	require.NoError(t, err)
	assert.Zero(t, h.ledger.gets)
}

// Caso 12: falla el commit después de un ajuste directo → STORAGE_FAILURE, compensación +3 y registro de error.
func TestDeduct_FallaCommitCompensa(t *testing.T) {
	h := newHarness(t)
	h.db.failCommit = errors.New("conexión perdida")

	_, err := h.orch.Deduct(context.Background(), newRequest(t, nil))
	requireCode(t, err, domain.ErrStorageFailure)

	posts := h.ledger.postList()
	require.Len(t, posts, 2)
	assert.Equal(t, -3, posts[0].Delta)
	assert.Equal(t, 3, posts[1].Delta)
	assert.Equal(t, testOrder+":compensate", posts[1].ReferenceKey)
	assert.Equal(t, posts[0].IdempotencyKey+":compensate", posts[1].IdempotencyKey)
	assert.Equal(t, 5, h.ledger.stock[stockKey(testItem, testBin)])

	assert.Equal(t, 5, h.db.stockOf(testItem, testBin).Quantity)
	assert.Empty(t, h.db.movementList())

	audits := h.db.auditList()
	require.Len(t, audits, 1)
	assert.Equal(t, entity.OutcomeError, audits[0].Outcome)
	assert.Equal(t, "STORAGE_FAILURE", audits[0].ErrorCode)
	require.NotNil(t, audits[0].ExternalCorrelationID)
	assert.Equal(t, "EXT-1", *audits[0].ExternalCorrelationID)

	assert.Equal(t, []string{EventDeductionCompensated}, h.publisher.types())
}

// Caso 13: la compensación también falla → evento compensation_failed para conciliación.
func TestDeduct_CompensacionFallida(t *testing.T) {
	h := newHarness(t)
	h.db.failUpsert = errors.New("disk full")
	h.ledger.failPost = func(adj Adjustment) error {
		if adj.Delta > 0 {
			return errors.New("timeout")
		}
		return nil
	}

	_, err := h.orch.Deduct(context.Background(), newRequest(t, nil))
	requireCode(t, err, domain.ErrStorageFailure)
	assert.Equal(t, []string{EventCompensationFailed}, h.publisher.types())
}

// Caso 14: otra instancia confirma la misma orden mientras se enviaba el ajuste → DUPLICATE, compensación y registro de falla.
func TestDeduct_DuplicadoEnCommit(t *testing.T) {
	h := newHarness(t)
	h.ledger.onPost = func(adj Adjustment) {
		if adj.Delta < 0 {
			h.db.insertSuccess(testOrder, testItem)
		}
	}

	_, err := h.orch.Deduct(context.Background(), newRequest(t, nil))
	requireCode(t, err, domain.ErrDuplicateDeduction)

	posts := h.ledger.postList()
	require.Len(t, posts, 2)
	assert.Equal(t, testOrder+":compensate", posts[1].ReferenceKey)
	assert.Equal(t, 5, h.db.stockOf(testItem, testBin).Quantity)

	var failures int
	for _, a := range h.db.auditList() {
		if a.Outcome == entity.OutcomeFailure {
			failures++
			assert.Equal(t, "DUPLICATE_DEDUCTION", a.ErrorCode)
		}
	}
	assert.Equal(t, 1, failures)
}

// Caso 19: dos ítems de la misma orden llegan al ledger externo con claves distintas y ambos se aplican.
func TestDeduct_ItemsDeLaMismaOrdenSeAplicanEnElLedger(t *testing.T) {
	h := newHarness(t)
	h.db.seedStock("SKU-2", testBin, 5, testNow.Add(-time.Minute))
	h.ledger.stock[stockKey("SKU-2", testBin)] = 5

	first, err := h.orch.Deduct(context.Background(), newRequest(t, nil))
	require.NoError(t, err)
	second, err := h.orch.Deduct(context.Background(), newRequest(t, func(in *entity.DeductionInput) { in.ItemID = "SKU-2" }))
	require.NoError(t, err)

	assert.NotEqual(t, first.ExternalCorrelationID, second.ExternalCorrelationID)
	assert.Equal(t, 2, h.ledger.remote(testItem, testBin))
	assert.Equal(t, 2, h.ledger.remote("SKU-2", testBin))
	assert.Equal(t, h.db.stockOf("SKU-2", testBin).Quantity, h.ledger.remote("SKU-2", testBin))

	posts := h.ledger.postList()
	require.Len(t, posts, 2)
	assert.Equal(t, testOrder, posts[0].ReferenceKey)
	assert.Equal(t, testOrder, posts[1].ReferenceKey)
	assert.NotEqual(t, posts[0].IdempotencyKey, posts[1].IdempotencyKey)
}

// Caso 20: falla el commit, se compensa y el reintento del llamador vuelve a ajustar: ledger externo y caché coinciden.
func TestDeduct_ReintentoTrasCompensacionCuadra(t *testing.T) {
	h := newHarness(t)
	h.db.failCommit = errors.New("conexión perdida")

	_, err := h.orch.Deduct(context.Background(), newRequest(t, nil))
	requireCode(t, err, domain.ErrStorageFailure)
	require.True(t, domain.AsError(err).Retryable())
	require.Equal(t, 5, h.ledger.remote(testItem, testBin))

	h.db.failCommit = nil
	res, err := h.orch.Deduct(context.Background(), newRequest(t, nil))
	require.NoError(t, err)

	assert.Equal(t, entity.PostedDirect, res.PostingMode)
	assert.Equal(t, 2, res.RemainingStock)
	assert.Equal(t, 2, h.ledger.remote(testItem, testBin))
	assert.Equal(t, h.db.stockOf(testItem, testBin).Quantity, h.ledger.remote(testItem, testBin))
	assert.Len(t, h.ledger.postList(), 3)
}

// Caso 21: la unidad de trabajo vence su timeout después del ajuste directo; la compensación igual llega al ledger externo.
func TestDeduct_CompensacionTrasTimeout(t *testing.T) {
	h := newHarness(t)
	policy := DefaultPolicy()
	policy.UnitOfWorkTimeout = 20 * time.Millisecond
	h.build(policy)
	h.db.holdUntilTimeout = true

	_, err := h.orch.Deduct(context.Background(), newRequest(t, nil))
	requireCode(t, err, domain.ErrStorageFailure)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	posts := h.ledger.postList()
	require.Len(t, posts, 2)
	assert.Equal(t, 3, posts[1].Delta)
	assert.Equal(t, 5, h.ledger.remote(testItem, testBin))
	assert.Equal(t, []string{EventDeductionCompensated}, h.publisher.types())

	audits := h.db.auditList()
	require.Len(t, audits, 1)
	assert.Equal(t, entity.OutcomeError, audits[0].Outcome)
}

// ──────────────────────────────────────────────────────────────────────────────
// Concurrencia y cancelación
// ──────────────────────────────────────────────────────────────────────────────

// Caso 15: dos órdenes piden 3 del mismo BIN con stock 5 → exactamente una tiene éxito.
func TestDeduct_ConcurrentesMismoBIN(t *testing.T) {
	h := newHarness(t)
	h.orders.byNumber["10043"] = &entity.Order{Number: "10043", State: entity.OrderStateProcessing}
	h.payments.byOrder["10043"] = &entity.Payment{ID: "pay-2", OrderNumber: "10043", Amount: decimal.NewFromInt(5000), CompletedAt: testNow}

	reqs := []entity.DeductionRequest{
		newRequest(t, nil),
		newRequest(t, func(in *entity.DeductionInput) { in.OrderNumber = "10043" }),
	}
	errs := make([]error, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req entity.DeductionRequest) {
			defer wg.Done()
			_, errs[i] = h.orch.Deduct(context.Background(), req)
		}(i, req)
	}
	wg.Wait()

	var ok, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrInsufficientStock):
			insufficient++
		default:
			t.Fatalf("error inesperado: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, insufficient)
	assert.Equal(t, 2, h.db.stockOf(testItem, testBin).Quantity)
	assert.Len(t, h.db.movementList(), 1)
	assert.Equal(t, 2, h.ledger.stock[stockKey(testItem, testBin)])
}

// Caso 16: la misma orden llega dos veces a la vez y ambas pasan la verificación previa → un solo
// éxito, un solo ajuste externo y ninguna compensación.
func TestDeduct_MismaOrdenConcurrente(t *testing.T) {
	h := newHarness(t)

	const n = 2
	var passed sync.WaitGroup
	passed.Add(n)
	h.audit.beforeCheck = func() {
		passed.Done()
		passed.Wait()
	}

	req := newRequest(t, func(in *entity.DeductionInput) { in.Quantity = 2 })
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.orch.Deduct(context.Background(), req)
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrDuplicateDeduction)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 3, h.db.stockOf(testItem, testBin).Quantity)
	assert.Len(t, h.db.movementList(), 1)
	assert.Len(t, h.ledger.postList(), 1, "el perdedor ve la auditoría confirmada antes de contactar el ledger externo")
	assert.Equal(t, 3, h.ledger.remote(testItem, testBin))
	assert.Equal(t, []string{EventDeductionCommitted}, h.publisher.types())

	var successes, failures int
	for _, a := range h.db.auditList() {
		switch a.Outcome {
		case entity.OutcomeSuccess:
			successes++
		case entity.OutcomeFailure:
			failures++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Zero(t, failures)
}

// Caso 17: el llamador cancela su contexto; la unidad de trabajo igual se confirma completa.
func TestDeduct_CancelacionDelLlamadorNoInterrumpe(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := h.orch.Deduct(ctx, newRequest(t, nil))
	require.NoError(t, err)
	assert.Equal(t, 2, res.RemainingStock)
	assert.Equal(t, 1, h.db.txCalls)
}

// ──────────────────────────────────────────────────────────────────────────────
// Observabilidad
// ──────────────────────────────────────────────────────────────────────────────

// Caso 18: la deducción abre un span raíz con el código de resultado y spans hijos por llamada al ledger.
func TestDeduct_Spans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	h := newHarness(t)
	h.db.seedStock(testItem, testBin, 5, time.Time{})

	_, err := h.orch.Deduct(context.Background(), newRequest(t, nil))
	require.NoError(t, err)

	byName := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range sr.Ended() {
		byName[s.Name()] = s
	}
	root, ok := byName["deduction.Deduct"]
	require.True(t, ok)
	require.Contains(t, byName, "ledger.GetAvailableStock")
	require.Contains(t, byName, "ledger.PostAdjustment")
	assert.Equal(t, root.SpanContext().SpanID(), byName["ledger.PostAdjustment"].Parent().SpanID())

	var code string
	for _, kv := range root.Attributes() {
		if kv.Key == "deduction.code" {
			code = kv.Value.AsString()
		}
	}
	assert.Equal(t, "OK", code)
}
