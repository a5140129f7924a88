package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps invoices and payments in process. It implements
// InvoiceRepository, PaymentRepository and InvoiceLocker and is used for
// STORE_BACKEND=memory and in tests. Values are cloned on the way in and out
// so callers never share state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	invoices map[uuid.UUID]*Invoice
	order    []uuid.UUID
	numbers  map[string]uuid.UUID
	payments map[uuid.UUID]*Payment
	paySeq   []uuid.UUID

	locksMu sync.Mutex
	locks   map[uuid.UUID]*sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		invoices: make(map[uuid.UUID]*Invoice),
		numbers:  make(map[string]uuid.UUID),
		payments: make(map[uuid.UUID]*Payment),
		locks:    make(map[uuid.UUID]*sync.Mutex),
	}
}

// Invoices and Payments expose the store through the repository interfaces.
func (s *MemoryStore) Invoices() InvoiceRepository { return memoryInvoices{s} }
func (s *MemoryStore) Payments() PaymentRepository { return memoryPayments{s} }

func (s *MemoryStore) WithInvoiceLock(ctx context.Context, invoiceID uuid.UUID, fn func(ctx context.Context) error) error {
	s.mu.RLock()
	_, ok := s.invoices[invoiceID]
	s.mu.RUnlock()
	if !ok {
		return ErrInvoiceNotFound
	}

	s.locksMu.Lock()
	l, ok := s.locks[invoiceID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[invoiceID] = l
	}
	s.locksMu.Unlock()

	l.Lock()
	defer l.Unlock()
	return fn(ctx)
}

type memoryInvoices struct{ s *MemoryStore }

func (m memoryInvoices) Create(_ context.Context, inv *Invoice) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	if _, taken := m.s.numbers[inv.InvoiceNumber]; taken {
		return fmt.Errorf("%w: %s", ErrDuplicateInvoiceNumber, inv.InvoiceNumber)
	}
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	now := time.Now()
	inv.CreatedAt = now
	inv.UpdatedAt = now
	for i := range inv.Items {
		inv.Items[i].ID = uuid.New()
		inv.Items[i].InvoiceID = inv.ID
		inv.Items[i].Sequence = i
	}
	m.s.invoices[inv.ID] = inv.Clone()
	m.s.order = append(m.s.order, inv.ID)
	m.s.numbers[inv.InvoiceNumber] = inv.ID
	return nil
}

func (m memoryInvoices) GetByID(_ context.Context, id uuid.UUID) (*Invoice, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	inv, ok := m.s.invoices[id]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	return inv.Clone(), nil
}

func (m memoryInvoices) Update(_ context.Context, inv *Invoice, replaceItems bool) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cur, ok := m.s.invoices[inv.ID]
	if !ok {
		return ErrInvoiceNotFound
	}
	next := inv.Clone()
	next.InvoiceNumber = cur.InvoiceNumber
	next.PatientID = cur.PatientID
	next.Date = cur.Date
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = time.Now()
	if replaceItems {
		for i := range next.Items {
			next.Items[i].ID = uuid.New()
			next.Items[i].InvoiceID = inv.ID
			next.Items[i].Sequence = i
		}
	} else {
		next.Items = append([]InvoiceItem(nil), cur.Items...)
	}
	m.s.invoices[inv.ID] = next
	inv.UpdatedAt = next.UpdatedAt
	return nil
}

func (m memoryInvoices) List(_ context.Context, q InvoiceQuery) ([]*Invoice, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var out []*Invoice
	for _, id := range m.s.order {
		inv := m.s.invoices[id]
		if q.PatientID != nil && inv.PatientID != *q.PatientID {
			continue
		}
		if !inDayRange(inv.Date, q.From, q.To) {
			continue
		}
		out = append(out, inv.Clone())
	}
	return out, nil
}

type memoryPayments struct{ s *MemoryStore }

func (m memoryPayments) Create(_ context.Context, p *Payment) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.invoices[p.InvoiceID]; !ok {
		return ErrInvoiceNotFound
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	cp := *p
	m.s.payments[p.ID] = &cp
	m.s.paySeq = append(m.s.paySeq, p.ID)
	return nil
}

func (m memoryPayments) GetByID(_ context.Context, id uuid.UUID) (*Payment, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	p, ok := m.s.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (m memoryPayments) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	return m.List(ctx, PaymentQuery{InvoiceID: &invoiceID})
}

func (m memoryPayments) List(_ context.Context, q PaymentQuery) ([]*Payment, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var out []*Payment
	for _, id := range m.s.paySeq {
		p := m.s.payments[id]
		if q.InvoiceID != nil && p.InvoiceID != *q.InvoiceID {
			continue
		}
		if q.From != nil && p.PaymentDate.Before(*q.From) {
			continue
		}
		if q.To != nil && !p.PaymentDate.Before(*q.To) {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}
