package billing

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Sentinel errors. Callers match them with errors.Is; the typed errors below
// carry the context needed to build a user-facing message.
var (
	ErrInvalidAmount          = errors.New("billing: invalid amount")
	ErrInvalidInvoiceItem     = errors.New("billing: invalid invoice item")
	ErrDiscountExceedsTotal   = errors.New("billing: discount exceeds invoice total")
	ErrOverpaymentRejected    = errors.New("billing: payment exceeds remaining balance")
	ErrReferenceRequired      = errors.New("billing: reference number required")
	ErrInvoiceNotEditable     = errors.New("billing: invoice is not editable")
	ErrInvoiceHasPayments     = errors.New("billing: invoice has completed payments")
	ErrInvoiceCancelled       = errors.New("billing: invoice is cancelled")
	ErrInvalidPaymentMethod   = errors.New("billing: invalid payment method")
	ErrInvalidPayment         = errors.New("billing: invalid payment")
	ErrInvalidStatus          = errors.New("billing: invalid status")
	ErrInvalidInvoice         = errors.New("billing: invalid invoice")
	ErrInvoiceNotFound        = errors.New("billing: invoice not found")
	ErrPaymentNotFound        = errors.New("billing: payment not found")
	ErrPatientNotFound        = errors.New("billing: patient not found")
	ErrDuplicateInvoiceNumber = errors.New("billing: duplicate invoice number")
)

// AmountError reports a money input that failed validation.
type AmountError struct {
	Field  string
	Value  string
	Reason string
}

func (e *AmountError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %s %s", ErrInvalidAmount, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s (got %s)", ErrInvalidAmount, e.Field, e.Reason, e.Value)
}

func (e *AmountError) Unwrap() error { return ErrInvalidAmount }

// ItemError names the offending line item by position. Index is -1 when the
// problem concerns the item list as a whole.
type ItemError struct {
	Index  int
	Field  string
	Reason string
}

func (e *ItemError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%s: %s %s", ErrInvalidInvoiceItem, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: items[%d].%s %s", ErrInvalidInvoiceItem, e.Index, e.Field, e.Reason)
}

func (e *ItemError) Unwrap() error { return ErrInvalidInvoiceItem }

type DiscountError struct {
	Discount decimal.Decimal
	Limit    decimal.Decimal
}

func (e *DiscountError) Error() string {
	return fmt.Sprintf("%s: discount %s exceeds subtotal plus tax %s",
		ErrDiscountExceedsTotal, e.Discount.StringFixed(2), e.Limit.StringFixed(2))
}

func (e *DiscountError) Unwrap() error { return ErrDiscountExceedsTotal }

// OverpaymentError carries the balance the caller may still pay.
type OverpaymentError struct {
	Remaining decimal.Decimal
	Attempted decimal.Decimal
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("%s: attempted %s, remaining %s",
		ErrOverpaymentRejected, e.Attempted.StringFixed(2), e.Remaining.StringFixed(2))
}

func (e *OverpaymentError) Unwrap() error { return ErrOverpaymentRejected }

type ReferenceError struct {
	Method PaymentMethod
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("%s for %s payments", ErrReferenceRequired, e.Method)
}

func (e *ReferenceError) Unwrap() error { return ErrReferenceRequired }

// StateError is returned when the invoice lifecycle forbids an operation.
// Kind is one of ErrInvoiceNotEditable, ErrInvoiceHasPayments or
// ErrInvoiceCancelled.
type StateError struct {
	Kind       error
	InvoiceID  uuid.UUID
	Status     InvoiceStatus
	PaidToDate decimal.Decimal
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: invoice %s is %s with %s paid",
		e.Kind, e.InvoiceID, e.Status, e.PaidToDate.StringFixed(2))
}

func (e *StateError) Unwrap() error { return e.Kind }
