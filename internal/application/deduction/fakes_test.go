package deduction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jhoicas/stock-deduction/internal/domain"
	"github.com/jhoicas/stock-deduction/internal/domain/entity"
	"github.com/jhoicas/stock-deduction/internal/domain/repository"
)

// memDB emula PostgreSQL: bloqueos de fila por (ítem, BIN), escrituras en staging hasta el
// commit y el índice único de éxitos en auditoría.
type memDB struct {
	mu        sync.Mutex
	stock     map[string]entity.StockEntry
	movements []*entity.MovementEntry
	audits    []*entity.DeductionRecord
	rowLocks  map[string]*sync.Mutex

	failCommit error
	failUpsert error
	txCalls    int

	// holdUntilTimeout retiene el commit hasta que vence el contexto de la unidad de trabajo.
	holdUntilTimeout bool
}

func newMemDB() *memDB {
	return &memDB{stock: map[string]entity.StockEntry{}, rowLocks: map[string]*sync.Mutex{}}
}

func stockKey(itemID, binID string) string { return itemID + "|" + binID }

func (db *memDB) rowLock(key string) *sync.Mutex {
	db.mu.Lock()
	defer db.mu.Unlock()
	l, ok := db.rowLocks[key]
	if !ok {
		l = &sync.Mutex{}
		db.rowLocks[key] = l
	}
	return l
}

func (db *memDB) seedStock(itemID, binID string, qty int, refreshedAt time.Time) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.stock[stockKey(itemID, binID)] = entity.StockEntry{ItemID: itemID, BinID: binID, Quantity: qty, RefreshedAt: refreshedAt, Exists: true}
}

func (db *memDB) stockOf(itemID, binID string) entity.StockEntry {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.stock[stockKey(itemID, binID)]
}

func (db *memDB) movementList() []*entity.MovementEntry {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]*entity.MovementEntry(nil), db.movements...)
}

func (db *memDB) auditList() []*entity.DeductionRecord {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]*entity.DeductionRecord(nil), db.audits...)
}

// hasSuccessLocked requiere db.mu.
func (db *memDB) hasSuccessLocked(order, item string) bool {
	for _, r := range db.audits {
		if r.OrderNumber == order && r.ItemID == item && r.Outcome == entity.OutcomeSuccess {
			return true
		}
	}
	return false
}

// insertSuccess simula una deducción exitosa confirmada por otra instancia.
func (db *memDB) insertSuccess(order, item string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.audits = append(db.audits, &entity.DeductionRecord{ID: "otra-instancia", OrderNumber: order, ItemID: item, Outcome: entity.OutcomeSuccess})
}

// RunDeduction implementa TxRunner.
func (db *memDB) RunDeduction(ctx context.Context, fn func(
	stockRepo repository.StockCacheRepository,
	movRepo repository.MovementRepository,
	auditRepo repository.AuditRepository,
) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db.mu.Lock()
	db.txCalls++
	db.mu.Unlock()

	tx := &memTx{db: db, stock: map[string]entity.StockEntry{}}
	defer tx.release()

	if err := fn(&txStockRepo{tx}, &txMovementRepo{tx}, &txAuditRepo{tx}); err != nil {
		return err
	}
	if db.holdUntilTimeout {
		<-ctx.Done()
		return ctx.Err()
	}
	return tx.commit()
}

type memTx struct {
	db        *memDB
	held      []*sync.Mutex
	stock     map[string]entity.StockEntry
	movements []*entity.MovementEntry
	audits    []*entity.DeductionRecord
}

func (tx *memTx) release() {
	for i := len(tx.held) - 1; i >= 0; i-- {
		tx.held[i].Unlock()
	}
	tx.held = nil
}

func (tx *memTx) commit() error {
	db := tx.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.failCommit != nil {
		return db.failCommit
	}
	for k, v := range tx.stock {
		db.stock[k] = v
	}
	db.movements = append(db.movements, tx.movements...)
	db.audits = append(db.audits, tx.audits...)
	return nil
}

type txStockRepo struct{ tx *memTx }

func (r *txStockRepo) Get(_ context.Context, itemID, binID string) (*entity.StockEntry, error) {
	return r.read(itemID, binID), nil
}

func (r *txStockRepo) GetForUpdate(_ context.Context, itemID, binID string) (*entity.StockEntry, error) {
	l := r.tx.db.rowLock(stockKey(itemID, binID))
	l.Lock()
	r.tx.held = append(r.tx.held, l)
	return r.read(itemID, binID), nil
}

func (r *txStockRepo) read(itemID, binID string) *entity.StockEntry {
	k := stockKey(itemID, binID)
	if s, ok := r.tx.stock[k]; ok {
		return &s
	}
	r.tx.db.mu.Lock()
	defer r.tx.db.mu.Unlock()
	if s, ok := r.tx.db.stock[k]; ok {
		return &s
	}
	return &entity.StockEntry{ItemID: itemID, BinID: binID}
}

func (r *txStockRepo) Upsert(_ context.Context, e *entity.StockEntry) error {
	if r.tx.db.failUpsert != nil {
		return r.tx.db.failUpsert
	}
	r.tx.stock[stockKey(e.ItemID, e.BinID)] = *e
	return nil
}

type txMovementRepo struct{ tx *memTx }

func (r *txMovementRepo) Create(_ context.Context, m *entity.MovementEntry) error {
	r.tx.movements = append(r.tx.movements, m)
	return nil
}

func (r *txMovementRepo) GetByID(context.Context, string) (*entity.MovementEntry, error) {
	return nil, errors.New("no usado en la transacción")
}

func (r *txMovementRepo) FindCorrection(context.Context, string) (*entity.MovementEntry, error) {
	return nil, errors.New("no usado en la transacción")
}

func (r *txMovementRepo) Latest(context.Context, string, string) (*entity.MovementEntry, error) {
	return nil, errors.New("no usado en la transacción")
}

func (r *txMovementRepo) List(context.Context, repository.MovementFilter) ([]*entity.MovementEntry, int, error) {
	return nil, 0, errors.New("no usado en la transacción")
}

func (r *txMovementRepo) Summary(context.Context, time.Time, time.Time) ([]repository.MovementSummaryRow, error) {
	return nil, errors.New("no usado en la transacción")
}

type txAuditRepo struct{ tx *memTx }

func (r *txAuditRepo) Create(_ context.Context, rec *entity.DeductionRecord) error {
	if rec.Outcome == entity.OutcomeSuccess {
		r.tx.db.mu.Lock()
		dup := r.tx.db.hasSuccessLocked(rec.OrderNumber, rec.ItemID)
		r.tx.db.mu.Unlock()
		if dup {
			return domain.ErrDuplicateDeduction
		}
	}
	r.tx.audits = append(r.tx.audits, rec)
	return nil
}

func (r *txAuditRepo) HasSuccessfulDeduction(_ context.Context, order, item string) (bool, error) {
	for _, a := range r.tx.audits {
		if a.OrderNumber == order && a.ItemID == item && a.Outcome == entity.OutcomeSuccess {
			return true, nil
		}
	}
	r.tx.db.mu.Lock()
	defer r.tx.db.mu.Unlock()
	return r.tx.db.hasSuccessLocked(order, item), nil
}

func (r *txAuditRepo) ListByOrder(context.Context, string) ([]*entity.DeductionRecord, error) {
	return nil, errors.New("no usado en la transacción")
}

func (r *txAuditRepo) ListByDateRange(context.Context, time.Time, time.Time, int, int) ([]*entity.DeductionRecord, error) {
	return nil, errors.New("no usado en la transacción")
}

// poolAuditRepo auditoría fuera de transacción (pre-validación y registros de falla).
// beforeCheck, si está definido, corre antes de la verificación previa de duplicado.
type poolAuditRepo struct {
	db          *memDB
	beforeCheck func()
}

func (r *poolAuditRepo) Create(_ context.Context, rec *entity.DeductionRecord) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if rec.Outcome == entity.OutcomeSuccess && r.db.hasSuccessLocked(rec.OrderNumber, rec.ItemID) {
		return domain.ErrDuplicateDeduction
	}
	r.db.audits = append(r.db.audits, rec)
	return nil
}

func (r *poolAuditRepo) HasSuccessfulDeduction(_ context.Context, order, item string) (bool, error) {
	if r.beforeCheck != nil {
		r.beforeCheck()
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.db.hasSuccessLocked(order, item), nil
}

func (r *poolAuditRepo) ListByOrder(_ context.Context, order string) ([]*entity.DeductionRecord, error) {
	var out []*entity.DeductionRecord
	for _, a := range r.db.auditList() {
		if a.OrderNumber == order {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *poolAuditRepo) ListByDateRange(context.Context, time.Time, time.Time, int, int) ([]*entity.DeductionRecord, error) {
	return r.db.auditList(), nil
}

type fakeOrders struct{ byNumber map[string]*entity.Order }

func (f *fakeOrders) FindByNumber(_ context.Context, n string) (*entity.Order, error) {
	return f.byNumber[n], nil
}

type fakeBins struct{ byID map[string]*entity.Bin }

func (f *fakeBins) FindByID(_ context.Context, id string) (*entity.Bin, error) {
	return f.byID[id], nil
}

type fakePayments struct {
	byOrder map[string]*entity.Payment
	err     error
}

func (f *fakePayments) FindLatestCompleted(_ context.Context, order string) (*entity.Payment, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byOrder[order], nil
}

// fakeOTPs consumo atómico bajo mutex; un OTP usado no vuelve a verificar.
type fakeOTPs struct {
	mu    sync.Mutex
	codes []*entity.OTP
	calls int
}

func (f *fakeOTPs) Consume(_ context.Context, order, code string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	for _, o := range f.codes {
		if o.OrderNumber == order && o.Code == code && o.UsedAt == nil && o.ExpiresAt.After(now) {
			used := now
			o.UsedAt = &used
			return true, nil
		}
	}
	return false, nil
}

type memCounter struct {
	mu     sync.Mutex
	counts map[string]int
	err    error
}

func (c *memCounter) Allow(_ context.Context, key string, limit int, _ time.Time) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts[key] >= limit {
		return false, nil
	}
	c.counts[key]++
	return true, nil
}

// fakeLedger ledger externo con stock propio y registro de ajustes. Como el sistema real,
// una clave de idempotencia repetida devuelve el recibo original sin aplicar el ajuste otra vez.
type fakeLedger struct {
	mu       sync.Mutex
	stock    map[string]int
	posts    []Adjustment
	receipts map[string]*AdjustmentReceipt
	gets     int
	seq      int
	failGet  error
	failPost func(adj Adjustment) error
	onPost   func(adj Adjustment)
}

func (l *fakeLedger) GetAvailableStock(ctx context.Context, itemID, binID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gets++
	if l.failGet != nil {
		return 0, l.failGet
	}
	return l.stock[stockKey(itemID, binID)], nil
}

func (l *fakeLedger) PostAdjustment(ctx context.Context, adj Adjustment) (*AdjustmentReceipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if adj.IdempotencyKey == "" {
		return nil, errors.New("idempotency key requerida")
	}
	l.mu.Lock()
	if prev, ok := l.receipts[adj.IdempotencyKey]; ok {
		l.mu.Unlock()
		return prev, nil
	}
	if l.failPost != nil {
		if err := l.failPost(adj); err != nil {
			l.mu.Unlock()
			return nil, err
		}
	}
	l.posts = append(l.posts, adj)
	l.stock[stockKey(adj.ItemID, adj.BinID)] += adj.Delta
	l.seq++
	receipt := &AdjustmentReceipt{CorrelationID: fmt.Sprintf("EXT-%d", l.seq)}
	if l.receipts == nil {
		l.receipts = map[string]*AdjustmentReceipt{}
	}
	l.receipts[adj.IdempotencyKey] = receipt
	hook := l.onPost
	l.mu.Unlock()
	if hook != nil {
		hook(adj)
	}
	return receipt, nil
}

func (l *fakeLedger) remote(itemID, binID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stock[stockKey(itemID, binID)]
}

func (l *fakeLedger) postList() []Adjustment {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Adjustment(nil), l.posts...)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []DeductionEvent
}

func (p *fakePublisher) Publish(_ context.Context, ev DeductionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeMetrics struct {
	mu    sync.Mutex
	codes []string
	modes []entity.PostingMode
}

func (m *fakeMetrics) ObserveDeduction(code string, mode entity.PostingMode, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes = append(m.codes, code)
	m.modes = append(m.modes, mode)
}

func (m *fakeMetrics) ObserveRemoteCall(string, bool, time.Duration) {}
