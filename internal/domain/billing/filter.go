package billing

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// InvoiceFilter is the read-side query over a list of invoices. Zero values
// mean "no constraint".
type InvoiceFilter struct {
	Search    string
	Status    *InvoiceStatus
	From      *time.Time
	To        *time.Time
	PatientID *uuid.UUID
}

func (f InvoiceFilter) IsZero() bool {
	return strings.TrimSpace(f.Search) == "" && f.Status == nil &&
		f.From == nil && f.To == nil && f.PatientID == nil
}

// FilterInvoices returns the invoices matching f, in input order. Search is
// a case-insensitive substring match on the invoice number and the linked
// patient's names; patients may be nil when no search is given. The date
// range is inclusive at day granularity.
func FilterInvoices(invoices []*Invoice, patients map[uuid.UUID]PatientRef, f InvoiceFilter) []*Invoice {
	if f.IsZero() {
		return invoices
	}
	needle := strings.ToLower(strings.TrimSpace(f.Search))

	out := make([]*Invoice, 0, len(invoices))
	for _, inv := range invoices {
		if f.PatientID != nil && inv.PatientID != *f.PatientID {
			continue
		}
		if f.Status != nil && inv.Status != *f.Status {
			continue
		}
		if !inDayRange(inv.Date, f.From, f.To) {
			continue
		}
		if needle != "" && !matchesSearch(inv, patients, needle) {
			continue
		}
		out = append(out, inv)
	}
	return out
}

func matchesSearch(inv *Invoice, patients map[uuid.UUID]PatientRef, needle string) bool {
	if strings.Contains(strings.ToLower(inv.InvoiceNumber), needle) {
		return true
	}
	p, ok := patients[inv.PatientID]
	if !ok {
		return false
	}
	return strings.Contains(strings.ToLower(p.FirstName), needle) ||
		strings.Contains(strings.ToLower(p.LastName), needle) ||
		strings.Contains(strings.ToLower(p.FullName()), needle)
}

// PaymentFilter selects payments by invoice, method, status and payment date.
type PaymentFilter struct {
	InvoiceID *uuid.UUID
	Method    *PaymentMethod
	Status    *PaymentStatus
	From      *time.Time
	To        *time.Time
}

// FilterPayments has the same ordering and range semantics as FilterInvoices.
func FilterPayments(payments []*Payment, f PaymentFilter) []*Payment {
	out := make([]*Payment, 0, len(payments))
	for _, p := range payments {
		if f.InvoiceID != nil && p.InvoiceID != *f.InvoiceID {
			continue
		}
		if f.Method != nil && p.PaymentMethod != *f.Method {
			continue
		}
		if f.Status != nil && p.Status != *f.Status {
			continue
		}
		if !inDayRange(p.PaymentDate, f.From, f.To) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// dayKey collapses t to its calendar date in t's own location.
func dayKey(t time.Time) int {
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}

func inDayRange(t time.Time, from, to *time.Time) bool {
	if from != nil && dayKey(t) < dayKey(*from) {
		return false
	}
	if to != nil && dayKey(t) > dayKey(*to) {
		return false
	}
	return true
}
