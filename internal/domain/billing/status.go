package billing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// StatusForPaid maps paid-to-date onto the payment-driven part of the state
// machine.
func StatusForPaid(paid, total decimal.Decimal) InvoiceStatus {
	switch {
	case !paid.IsPositive():
		return StatusPending
	case paid.LessThan(total):
		return StatusPartiallyPaid
	default:
		return StatusPaid
	}
}

// IsFullyPaid reports whether the remaining balance is exactly zero on an
// invoice that has received at least one payment.
func (inv *Invoice) IsFullyPaid() bool {
	return inv.PaidAmount.IsPositive() && !inv.PaidAmount.LessThan(inv.TotalAmount)
}

// IsOverdue treats DueDate as a calendar date in asOf's location: an invoice
// due on the 14th is overdue from the first instant of the 15th.
func (inv *Invoice) IsOverdue(asOf time.Time) bool {
	y, m, d := inv.DueDate.Date()
	dueEnd := time.Date(y, m, d+1, 0, 0, 0, 0, asOf.Location())
	return !asOf.Before(dueEnd)
}

// EffectiveStatus is the status a reader sees at asOf. OVERDUE is derived
// here and nowhere else, so it disappears as soon as a payment settles the
// invoice.
func (inv *Invoice) EffectiveStatus(asOf time.Time) InvoiceStatus {
	switch inv.Status {
	case StatusPending, StatusPartiallyPaid, StatusOverdue:
		if inv.IsFullyPaid() {
			return StatusPaid
		}
		if inv.PaidAmount.LessThan(inv.TotalAmount) && inv.IsOverdue(asOf) {
			return StatusOverdue
		}
		return StatusForPaid(inv.PaidAmount, inv.TotalAmount)
	}
	return inv.Status
}

// CanEdit reports whether items and the global discount may change.
func (inv *Invoice) CanEdit() error {
	if inv.Status == StatusCancelled {
		return inv.stateError(ErrInvoiceCancelled)
	}
	if !inv.unpaidPending() {
		return inv.stateError(ErrInvoiceNotEditable)
	}
	return nil
}

// unpaidPending also accepts a read projection whose PENDING status was
// shown as OVERDUE.
func (inv *Invoice) unpaidPending() bool {
	if inv.PaidAmount.IsPositive() {
		return false
	}
	return inv.Status == StatusPending || inv.Status == StatusOverdue
}

// CanEditDetails guards due date and notes changes, which stay open until
// the invoice reaches a terminal state.
func (inv *Invoice) CanEditDetails() error {
	switch inv.Status {
	case StatusCancelled:
		return inv.stateError(ErrInvoiceCancelled)
	case StatusPaid:
		return inv.stateError(ErrInvoiceNotEditable)
	}
	return nil
}

// CanCancel allows cancellation only from PENDING with nothing paid.
func (inv *Invoice) CanCancel() error {
	if inv.Status == StatusCancelled {
		return inv.stateError(ErrInvoiceCancelled)
	}
	if !inv.unpaidPending() {
		return inv.stateError(ErrInvoiceHasPayments)
	}
	return nil
}

func (inv *Invoice) stateError(kind error) error {
	return &StateError{Kind: kind, InvoiceID: inv.ID, Status: inv.Status, PaidToDate: inv.PaidAmount}
}

var allowedTransitions = map[InvoiceStatus][]InvoiceStatus{
	StatusPending:       {StatusPartiallyPaid, StatusPaid, StatusCancelled},
	StatusPartiallyPaid: {StatusPartiallyPaid, StatusPaid},
	// An invoice read through EffectiveStatus may carry OVERDUE; paying it
	// moves it back onto the payment-driven path.
	StatusOverdue: {StatusPartiallyPaid, StatusPaid},
}

// ValidateTransition checks a stored-status change. OVERDUE is never a
// valid target because it is never persisted.
func ValidateTransition(from, to InvoiceStatus) error {
	if !from.Valid() || !to.Valid() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatus, from, to)
	}
	if to == StatusOverdue {
		return fmt.Errorf("%w: OVERDUE is derived and cannot be stored", ErrInvalidStatus)
	}
	if from == to {
		return nil
	}
	for _, s := range allowedTransitions[from] {
		if s == to {
			return nil
		}
	}
	if from == StatusCancelled {
		return fmt.Errorf("%w: cannot move to %s", ErrInvoiceCancelled, to)
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidStatus, from, to)
}
