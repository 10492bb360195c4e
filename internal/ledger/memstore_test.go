package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/schoolledger/feeledger/internal/feeconfig"
	"github.com/schoolledger/feeledger/internal/shared"
)

// memoryStore is an optimistic in-memory ledger: transactions read committed
// state, buffer writes, and validate row versions at commit.
type memoryStore struct {
	mu          sync.Mutex
	dues        map[int64]Due
	keys        map[DueKey]int64
	payments    []Payment
	nextDueID   int64
	nextPayID   int64
	receiptSeq  int64
	failUpdates int
	txCount     int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{dues: make(map[int64]Due), keys: make(map[DueKey]int64)}
}

type memoryTx struct {
	store    *memoryStore
	expected map[int64]int64
	updates  map[int64]Due
	inserts  map[DueKey]Due
	payments []Payment
}

func (m *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	m.mu.Lock()
	m.txCount++
	m.mu.Unlock()
	tx := &memoryTx{
		store:    m,
		expected: make(map[int64]int64),
		updates:  make(map[int64]Due),
		inserts:  make(map[DueKey]Due),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return m.commit(tx)
}

func (m *memoryStore) commit(tx *memoryTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, version := range tx.expected {
		if m.dues[id].Version != version {
			return ErrVersionConflict
		}
	}
	for key := range tx.inserts {
		if _, exists := m.keys[key]; exists {
			return ErrVersionConflict
		}
	}
	now := time.Now()
	for key, d := range tx.inserts {
		d.CreatedAt, d.UpdatedAt = now, now
		m.dues[d.ID] = d
		m.keys[key] = d.ID
	}
	for id, d := range tx.updates {
		d.UpdatedAt = now
		m.dues[id] = d
	}
	m.payments = append(m.payments, tx.payments...)
	return nil
}

func (t *memoryTx) GetDue(ctx context.Context, id int64) (Due, error) {
	if d, ok := t.updates[id]; ok {
		return d, nil
	}
	for _, d := range t.inserts {
		if d.ID == id {
			return d, nil
		}
	}
	return t.store.GetDue(ctx, id)
}

func (t *memoryTx) FindDue(ctx context.Context, key DueKey) (Due, error) {
	if d, ok := t.inserts[key]; ok {
		return d, nil
	}
	t.store.mu.Lock()
	id, ok := t.store.keys[key]
	t.store.mu.Unlock()
	if !ok {
		return Due{}, ErrDueNotFound
	}
	return t.GetDue(ctx, id)
}

func (t *memoryTx) InsertDue(ctx context.Context, due Due) (Due, bool, error) {
	if _, ok := t.inserts[due.Key()]; ok {
		return Due{}, false, nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if _, exists := t.store.keys[due.Key()]; exists {
		return Due{}, false, nil
	}
	t.store.nextDueID++
	due.ID = t.store.nextDueID
	due.Version = 1
	t.inserts[due.Key()] = due
	return due, true, nil
}

func (t *memoryTx) UpdateDue(ctx context.Context, due Due) (Due, error) {
	if inserted, ok := t.inserts[due.Key()]; ok && inserted.ID == due.ID {
		due.Version++
		t.inserts[due.Key()] = due
		return due, nil
	}
	t.store.mu.Lock()
	if t.store.failUpdates > 0 {
		t.store.failUpdates--
		t.store.mu.Unlock()
		return Due{}, ErrVersionConflict
	}
	current, ok := t.store.dues[due.ID]
	t.store.mu.Unlock()
	if !ok {
		return Due{}, ErrDueNotFound
	}
	expected := due.Version
	if prev, ok := t.updates[due.ID]; ok {
		if prev.Version != due.Version {
			return Due{}, ErrVersionConflict
		}
		expected = t.expected[due.ID]
	} else if current.Version != due.Version {
		return Due{}, ErrVersionConflict
	}
	t.expected[due.ID] = expected
	due.Version++
	t.updates[due.ID] = due
	return due, nil
}

func (t *memoryTx) InsertPayment(ctx context.Context, p Payment) (Payment, error) {
	t.store.mu.Lock()
	t.store.receiptSeq++
	t.store.nextPayID++
	p.ID = t.store.nextPayID
	p.ReceiptNumber = FormatReceiptNumber(t.store.receiptSeq)
	t.store.mu.Unlock()
	p.CreatedAt = time.Now()
	for i := range p.Allocations {
		p.Allocations[i].Position = i
	}
	t.payments = append(t.payments, p)
	return p, nil
}

func (m *memoryStore) GetDue(ctx context.Context, id int64) (Due, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dues[id]
	if !ok {
		return Due{}, ErrDueNotFound
	}
	return d, nil
}

func (m *memoryStore) sortedDues(keep func(Due) bool) []Due {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Due
	for _, d := range m.dues {
		if keep(d) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memoryStore) ListStudentDues(ctx context.Context, studentID int64) ([]Due, error) {
	return m.sortedDues(func(d Due) bool { return d.StudentID == studentID }), nil
}

func (m *memoryStore) ListOutstandingDues(ctx context.Context) ([]Due, error) {
	return m.sortedDues(func(d Due) bool { return d.AmountPending.IsPositive() }), nil
}

func (m *memoryStore) ListDues(ctx context.Context, afterID int64, limit int) ([]Due, error) {
	all := m.sortedDues(func(d Due) bool { return d.ID > afterID })
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *memoryStore) ListStudentPayments(ctx context.Context, studentID int64) ([]Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Payment
	for _, p := range m.payments {
		if p.StudentID == studentID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memoryStore) ListPaymentsBetween(ctx context.Context, from, to time.Time) ([]Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Payment
	for _, p := range m.payments {
		if !p.PaymentDate.Before(from) && p.PaymentDate.Before(to) {
			out = append(out, p)
		}
	}
	return out, nil
}

// corrupt overwrites a committed due without any checks.
func (m *memoryStore) corrupt(d Due) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dues[d.ID] = d
}

type memoryRoster struct {
	byClass map[int64][]Student
}

func (r memoryRoster) ActiveStudents(ctx context.Context, classID int64) ([]Student, error) {
	return r.byClass[classID], nil
}

type memoryRateCard struct {
	mu    sync.Mutex
	types []feeconfig.FeeType
	rates []feeconfig.FeeStructure
}

func (c *memoryRateCard) ListFeeTypes(ctx context.Context) ([]feeconfig.FeeType, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]feeconfig.FeeType(nil), c.types...), nil
}

func (c *memoryRateCard) ListRates(ctx context.Context, filter feeconfig.RateFilter) ([]feeconfig.FeeStructure, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []feeconfig.FeeStructure
	for _, r := range c.rates {
		if filter.AcademicYear > 0 && r.AcademicYear != filter.AcademicYear {
			continue
		}
		if filter.ClassID > 0 && r.ClassID != filter.ClassID {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]string
}

func (m *memoryIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = make(map[string]string)
	}
	if _, ok := m.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = module
	return nil
}

func (m *memoryIdempotency) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}
