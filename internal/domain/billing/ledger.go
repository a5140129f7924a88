package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

const maxReferenceLen = 100

// PaidToDate sums COMPLETED payments. Pending, failed and voided payments
// never count toward the balance.
func PaidToDate(payments []*Payment) decimal.Decimal {
	return lo.Reduce(payments, func(acc decimal.Decimal, p *Payment, _ int) decimal.Decimal {
		if p.Status != PaymentCompleted {
			return acc
		}
		return acc.Add(p.Amount)
	}, decimal.Zero)
}

// RemainingBalance is totalAmount minus all COMPLETED payments. For a PAID
// invoice this is exactly zero.
func RemainingBalance(inv *Invoice, payments []*Payment) decimal.Decimal {
	return inv.TotalAmount.Sub(PaidToDate(payments))
}

// RecordPayment validates req against the invoice and its existing payments
// and returns the COMPLETED payment to append together with the invoice
// status that results from it. It does not mutate its inputs; callers must
// persist both results atomically while holding the invoice lock.
func RecordPayment(inv *Invoice, payments []*Payment, req PaymentRequest, now time.Time) (*Payment, InvoiceStatus, error) {
	switch inv.Status {
	case StatusCancelled:
		return nil, "", inv.stateError(ErrInvoiceCancelled)
	case StatusPaid:
		return nil, "", &OverpaymentError{Remaining: decimal.Zero, Attempted: req.Amount}
	}

	if err := RequirePositive("amount", req.Amount); err != nil {
		return nil, "", err
	}
	if err := RequireMinorUnits("amount", req.Amount); err != nil {
		return nil, "", err
	}
	if !req.PaymentMethod.Valid() {
		return nil, "", ErrInvalidPaymentMethod
	}

	paid := PaidToDate(payments)
	remaining := inv.TotalAmount.Sub(paid)
	if req.Amount.GreaterThan(remaining) {
		return nil, "", &OverpaymentError{Remaining: remaining, Attempted: req.Amount}
	}

	var ref *string
	if req.ReferenceNumber != nil {
		if r := strings.TrimSpace(*req.ReferenceNumber); r != "" {
			ref = &r
		}
	}
	if req.PaymentMethod.RequiresReference() && ref == nil {
		return nil, "", &ReferenceError{Method: req.PaymentMethod}
	}
	if ref != nil && len([]rune(*ref)) > maxReferenceLen {
		return nil, "", fmt.Errorf("%w: reference_number must be at most %d characters", ErrInvalidPayment, maxReferenceLen)
	}

	paymentDate := now
	if req.PaymentDate != nil {
		paymentDate = *req.PaymentDate
	}

	p := &Payment{
		ID:              uuid.New(),
		InvoiceID:       inv.ID,
		Amount:          req.Amount,
		PaymentMethod:   req.PaymentMethod,
		PaymentDate:     paymentDate,
		ReferenceNumber: ref,
		Status:          PaymentCompleted,
		Notes:           req.Notes,
		RecordedBy:      req.RecordedBy,
		CreatedAt:       now,
	}

	next := StatusForPaid(paid.Add(req.Amount), inv.TotalAmount)
	if err := ValidateTransition(inv.Status, next); err != nil {
		return nil, "", err
	}
	return p, next, nil
}
