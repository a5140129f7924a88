package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// InvoiceQuery narrows what a repository loads before the in-memory filter
// runs. From and To are inclusive calendar dates. Results come back in
// creation order.
type InvoiceQuery struct {
	PatientID *uuid.UUID
	From      *time.Time
	To        *time.Time
}

// PaymentQuery bounds are instants: From is inclusive, To exclusive.
type PaymentQuery struct {
	InvoiceID *uuid.UUID
	From      *time.Time
	To        *time.Time
}

type InvoiceRepository interface {
	Create(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	// Update rewrites the header and, when replaceItems is set, the items.
	Update(ctx context.Context, inv *Invoice, replaceItems bool) error
	List(ctx context.Context, q InvoiceQuery) ([]*Invoice, error)
}

type PaymentRepository interface {
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error)
	List(ctx context.Context, q PaymentQuery) ([]*Payment, error)
}

// InvoiceLocker serializes mutations of a single invoice. fn runs while the
// lock is held; for a transactional store it also runs inside the
// transaction, and the transaction commits only if fn returns nil.
type InvoiceLocker interface {
	WithInvoiceLock(ctx context.Context, invoiceID uuid.UUID, fn func(ctx context.Context) error) error
}

// PatientDirectory is the read-only patient lookup billing consumes.
// Missing ids are simply absent from the result.
type PatientDirectory interface {
	Lookup(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]PatientRef, error)
}

// StatsCache stores computed statistics per scope (tenant). Get reports the
// scope generation it read, hit or miss; Set writes under the generation the
// caller obtained before loading its data. Invalidate advances the
// generation, making every entry stored under an earlier one unreachable.
type StatsCache interface {
	Get(ctx context.Context, scope, key string) (*BillingStats, int64, bool, error)
	Set(ctx context.Context, scope, key string, gen int64, stats *BillingStats) error
	Invalidate(ctx context.Context, scope string) error
}

type noopStatsCache struct{}

func (noopStatsCache) Get(context.Context, string, string) (*BillingStats, int64, bool, error) {
	return nil, 0, false, nil
}
func (noopStatsCache) Set(context.Context, string, string, int64, *BillingStats) error { return nil }
func (noopStatsCache) Invalidate(context.Context, string) error                        { return nil }

// NoopStatsCache disables caching; statistics are recomputed on every read.
func NoopStatsCache() StatsCache { return noopStatsCache{} }
