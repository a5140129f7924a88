package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/ehr/billing/internal/platform/db"
)

type Service struct {
	invoices InvoiceRepository
	payments PaymentRepository
	locker   InvoiceLocker
	patients PatientDirectory
	cache    StatsCache
	loc      *time.Location
	now      func() time.Time
	logger   zerolog.Logger
}

func NewService(inv InvoiceRepository, pay PaymentRepository, locker InvoiceLocker, patients PatientDirectory, logger zerolog.Logger) *Service {
	return &Service{
		invoices: inv,
		payments: pay,
		locker:   locker,
		patients: patients,
		cache:    NoopStatsCache(),
		loc:      time.UTC,
		now:      time.Now,
		logger:   logger.With().Str("component", "billing").Logger(),
	}
}

// SetStatsCache replaces the default no-op statistics cache.
func (s *Service) SetStatsCache(c StatsCache) {
	if c != nil {
		s.cache = c
	}
}

// SetLocation sets the tenant calendar used for invoice dates, overdue
// derivation and statistics periods.
func (s *Service) SetLocation(loc *time.Location) {
	if loc != nil {
		s.loc = loc
	}
}

func (s *Service) Location() *time.Location { return s.loc }

func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) clock() time.Time { return s.now().In(s.loc) }

// -- Invoices --

const maxInvoiceNumberLen = 32

func (s *Service) CreateInvoice(ctx context.Context, d InvoiceDraft) (*Invoice, error) {
	if d.PatientID == uuid.Nil {
		return nil, fmt.Errorf("%w: patient_id is required", ErrInvalidInvoice)
	}
	if n := len([]rune(strings.TrimSpace(d.InvoiceNumber))); n > maxInvoiceNumberLen {
		return nil, fmt.Errorf("%w: invoice_number must be at most %d characters", ErrInvalidInvoice, maxInvoiceNumberLen)
	}
	if d.DueDate.IsZero() {
		return nil, fmt.Errorf("%w: due_date is required", ErrInvalidInvoice)
	}
	now := s.clock()
	date := dateOnly(now)
	if d.Date != nil {
		date = dateOnly(*d.Date)
	}
	due := dateOnly(d.DueDate)
	if due.Before(date) {
		return nil, fmt.Errorf("%w: due_date must not be before date", ErrInvalidInvoice)
	}

	totals, err := ComputeInvoiceTotals(d.Items, d.DiscountAmount)
	if err != nil {
		return nil, err
	}

	found, err := s.patients.Lookup(ctx, []uuid.UUID{d.PatientID})
	if err != nil {
		return nil, fmt.Errorf("lookup patient: %w", err)
	}
	if _, ok := found[d.PatientID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrPatientNotFound, d.PatientID)
	}

	inv := &Invoice{
		ID:            uuid.New(),
		InvoiceNumber: strings.TrimSpace(d.InvoiceNumber),
		PatientID:     d.PatientID,
		Date:          date,
		DueDate:       due,
		Items:         append([]InvoiceItem(nil), d.Items...),
		PaidAmount:    decimal.Zero,
		Status:        StatusPending,
		Notes:         d.Notes,
	}
	inv.applyTotals(totals)
	if inv.InvoiceNumber == "" {
		inv.InvoiceNumber = GenerateInvoiceNumber(inv.ID, date)
	}

	if err := s.invoices.Create(ctx, inv); err != nil {
		return nil, err
	}
	s.invalidateStats(ctx)
	s.logger.Info().
		Str("invoice_id", inv.ID.String()).
		Str("invoice_number", inv.InvoiceNumber).
		Str("total_amount", inv.TotalAmount.StringFixed(MinorUnits)).
		Msg("invoice created")
	return inv, nil
}

// GenerateInvoiceNumber derives a readable number from the invoice date and
// id, e.g. INV-20261015-1A2B3C4D.
func GenerateInvoiceNumber(id uuid.UUID, date time.Time) string {
	hex := strings.ToUpper(strings.ReplaceAll(id.String(), "-", ""))
	return fmt.Sprintf("INV-%s-%s", date.Format("20060102"), hex[:8])
}

func (s *Service) GetInvoice(ctx context.Context, id uuid.UUID) (*InvoiceView, error) {
	inv, err := s.invoices.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	payments, err := s.payments.ListByInvoice(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	patients, err := s.patients.Lookup(ctx, []uuid.UUID{inv.PatientID})
	if err != nil {
		return nil, fmt.Errorf("lookup patient: %w", err)
	}

	view := s.project(inv, patients)
	view.RemainingBalance = RemainingBalance(inv, payments)
	view.Payments = s.localize(payments)
	return view, nil
}

// project builds the read view: derived status, remaining balance from the
// denormalized paid amount, and the patient reference when known.
func (s *Service) project(inv *Invoice, patients map[uuid.UUID]PatientRef) *InvoiceView {
	out := inv.Clone()
	out.Status = inv.EffectiveStatus(s.clock())
	view := &InvoiceView{
		Invoice:          out,
		RemainingBalance: inv.TotalAmount.Sub(inv.PaidAmount),
	}
	if p, ok := patients[inv.PatientID]; ok {
		view.Patient = &p
	}
	return view
}

func (s *Service) localize(payments []*Payment) []*Payment {
	for _, p := range payments {
		p.PaymentDate = p.PaymentDate.In(s.loc)
	}
	return payments
}

// UpdateInvoiceItems replaces the items and global discount of an invoice
// that has not received any payment.
func (s *Service) UpdateInvoiceItems(ctx context.Context, id uuid.UUID, items []InvoiceItem, discount decimal.Decimal) (*Invoice, error) {
	var updated *Invoice
	err := s.locker.WithInvoiceLock(ctx, id, func(ctx context.Context) error {
		inv, err := s.invoices.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := inv.CanEdit(); err != nil {
			return err
		}
		totals, err := ComputeInvoiceTotals(items, discount)
		if err != nil {
			return err
		}
		inv.Items = append([]InvoiceItem(nil), items...)
		inv.applyTotals(totals)
		if err := s.invoices.Update(ctx, inv, true); err != nil {
			return err
		}
		updated = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidateStats(ctx)
	s.logger.Info().
		Str("invoice_id", id.String()).
		Int("items", len(items)).
		Str("total_amount", updated.TotalAmount.StringFixed(MinorUnits)).
		Msg("invoice items updated")
	return updated, nil
}

// InvoiceDetails carries the header fields that stay editable until the
// invoice is paid or cancelled.
type InvoiceDetails struct {
	DueDate *time.Time
	Notes   *string
}

func (s *Service) UpdateInvoiceDetails(ctx context.Context, id uuid.UUID, d InvoiceDetails) (*Invoice, error) {
	var updated *Invoice
	err := s.locker.WithInvoiceLock(ctx, id, func(ctx context.Context) error {
		inv, err := s.invoices.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := inv.CanEditDetails(); err != nil {
			return err
		}
		if d.DueDate != nil {
			due := dateOnly(*d.DueDate)
			if due.Before(dateOnly(inv.Date)) {
				return fmt.Errorf("%w: due_date must not be before date", ErrInvalidInvoice)
			}
			inv.DueDate = due
		}
		if d.Notes != nil {
			inv.Notes = d.Notes
		}
		if err := s.invoices.Update(ctx, inv, false); err != nil {
			return err
		}
		updated = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidateStats(ctx)
	return updated, nil
}

func (s *Service) CancelInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	var cancelled *Invoice
	err := s.locker.WithInvoiceLock(ctx, id, func(ctx context.Context) error {
		inv, err := s.invoices.GetByID(ctx, id)
		if err != nil {
			return err
		}
		payments, err := s.payments.ListByInvoice(ctx, id)
		if err != nil {
			return fmt.Errorf("list payments: %w", err)
		}
		inv.PaidAmount = PaidToDate(payments)
		if err := inv.CanCancel(); err != nil {
			return err
		}
		if err := ValidateTransition(inv.Status, StatusCancelled); err != nil {
			return err
		}
		now := s.clock()
		inv.Status = StatusCancelled
		inv.CancelledAt = &now
		if err := s.invoices.Update(ctx, inv, false); err != nil {
			return err
		}
		cancelled = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidateStats(ctx)
	s.logger.Info().Str("invoice_id", id.String()).Msg("invoice cancelled")
	return cancelled, nil
}

// -- Payments --

// RecordPayment appends a COMPLETED payment and moves the invoice status in
// the same critical section. Concurrent calls for one invoice are
// serialized by the locker, so two payers can never both spend the same
// remaining balance.
func (s *Service) RecordPayment(ctx context.Context, invoiceID uuid.UUID, req PaymentRequest) (*Payment, *Invoice, error) {
	var (
		payment *Payment
		updated *Invoice
	)
	err := s.locker.WithInvoiceLock(ctx, invoiceID, func(ctx context.Context) error {
		inv, err := s.invoices.GetByID(ctx, invoiceID)
		if err != nil {
			return err
		}
		existing, err := s.payments.ListByInvoice(ctx, invoiceID)
		if err != nil {
			return fmt.Errorf("list payments: %w", err)
		}
		inv.PaidAmount = PaidToDate(existing)

		p, next, err := RecordPayment(inv, existing, req, s.clock())
		if err != nil {
			return err
		}
		if err := s.payments.Create(ctx, p); err != nil {
			return err
		}
		inv.PaidAmount = inv.PaidAmount.Add(p.Amount)
		inv.Status = next
		if err := s.invoices.Update(ctx, inv, false); err != nil {
			return err
		}
		payment, updated = p, inv
		return nil
	})
	if err != nil {
		s.logger.Warn().Err(err).
			Str("invoice_id", invoiceID.String()).
			Str("amount", req.Amount.String()).
			Str("method", string(req.PaymentMethod)).
			Msg("payment rejected")
		return nil, nil, err
	}

	s.invalidateStats(ctx)
	s.logger.Info().
		Str("invoice_id", invoiceID.String()).
		Str("payment_id", payment.ID.String()).
		Str("amount", payment.Amount.StringFixed(MinorUnits)).
		Str("method", string(payment.PaymentMethod)).
		Str("status", string(updated.Status)).
		Msg("payment recorded")
	return payment, updated, nil
}

func (s *Service) RemainingBalance(ctx context.Context, invoiceID uuid.UUID) (decimal.Decimal, error) {
	inv, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return decimal.Zero, err
	}
	payments, err := s.payments.ListByInvoice(ctx, invoiceID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("list payments: %w", err)
	}
	return RemainingBalance(inv, payments), nil
}

// -- Queries --

// ListInvoices loads candidates from the repository, projects their derived
// status, applies FilterInvoices and paginates the result.
func (s *Service) ListInvoices(ctx context.Context, f InvoiceFilter, limit, offset int) ([]*InvoiceView, int, error) {
	invoices, err := s.invoices.List(ctx, InvoiceQuery{PatientID: f.PatientID, From: f.From, To: f.To})
	if err != nil {
		return nil, 0, err
	}

	ids := lo.Uniq(lo.Map(invoices, func(inv *Invoice, _ int) uuid.UUID { return inv.PatientID }))
	patients, err := s.patients.Lookup(ctx, ids)
	if err != nil {
		return nil, 0, fmt.Errorf("lookup patients: %w", err)
	}

	views := make(map[uuid.UUID]*InvoiceView, len(invoices))
	projected := make([]*Invoice, 0, len(invoices))
	for _, inv := range invoices {
		v := s.project(inv, patients)
		views[inv.ID] = v
		projected = append(projected, v.Invoice)
	}

	matched := FilterInvoices(projected, patients, f)
	total := len(matched)
	page := paginate(matched, limit, offset)
	return lo.Map(page, func(inv *Invoice, _ int) *InvoiceView { return views[inv.ID] }), total, nil
}

func (s *Service) ListPayments(ctx context.Context, f PaymentFilter, limit, offset int) ([]*Payment, int, error) {
	q := PaymentQuery{InvoiceID: f.InvoiceID}
	if f.From != nil {
		start := startOfDay(*f.From, s.loc)
		q.From = &start
	}
	if f.To != nil {
		end := startOfDay(*f.To, s.loc).AddDate(0, 0, 1)
		q.To = &end
	}
	payments, err := s.payments.List(ctx, q)
	if err != nil {
		return nil, 0, err
	}
	matched := FilterPayments(s.localize(payments), f)
	return paginate(matched, limit, offset), len(matched), nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// -- Statistics --

// Stats returns statistics as of asOf in the tenant calendar. Results are
// cached per tenant and calendar day until the next ledger mutation. The
// cache generation is read before the ledger is loaded, so a result computed
// while a mutation commits is stored under the superseded generation.
func (s *Service) Stats(ctx context.Context, asOf time.Time) (*BillingStats, error) {
	asOf = asOf.In(s.loc)
	scope := tenantScope(ctx)
	key := fmt.Sprintf("%s:%s", asOf.Format("2006-01-02"), s.loc.String())

	cached, gen, ok, cacheErr := s.cache.Get(ctx, scope, key)
	if cacheErr != nil {
		s.logger.Warn().Err(cacheErr).Str("key", key).Msg("stats cache read failed")
	} else if ok {
		cached.AsOf = asOf
		return cached, nil
	}

	invoices, err := s.invoices.List(ctx, InvoiceQuery{})
	if err != nil {
		return nil, err
	}
	payments, err := s.payments.List(ctx, PaymentQuery{})
	if err != nil {
		return nil, err
	}
	stats := ComputeStats(invoices, payments, asOf)

	if cacheErr != nil {
		// Without a generation there is nothing safe to write under.
		return &stats, nil
	}
	if err := s.cache.Set(ctx, scope, key, gen, &stats); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("stats cache write failed")
	}
	return &stats, nil
}

func (s *Service) invalidateStats(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, tenantScope(ctx)); err != nil {
		s.logger.Warn().Err(err).Msg("stats cache invalidation failed")
	}
}

func tenantScope(ctx context.Context) string {
	if t := db.TenantFromContext(ctx); t != "" {
		return t
	}
	return "default"
}

// -- Quotes --

// Quote prices a draft without persisting it.
type Quote struct {
	Totals
	LineTotals []decimal.Decimal `json:"line_totals"`
}

func (s *Service) QuoteInvoice(items []InvoiceItem, discount decimal.Decimal) (*Quote, error) {
	totals, err := ComputeInvoiceTotals(items, discount)
	if err != nil {
		return nil, err
	}
	return &Quote{
		Totals:     totals,
		LineTotals: lo.Map(items, func(it InvoiceItem, _ int) decimal.Decimal { return LineTotal(it) }),
	}, nil
}
