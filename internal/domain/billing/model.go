package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceStatus is restricted to the five lifecycle states. OVERDUE is only
// ever produced by EffectiveStatus and never stored.
type InvoiceStatus string

const (
	StatusPending       InvoiceStatus = "PENDING"
	StatusPartiallyPaid InvoiceStatus = "PARTIALLY_PAID"
	StatusPaid          InvoiceStatus = "PAID"
	StatusOverdue       InvoiceStatus = "OVERDUE"
	StatusCancelled     InvoiceStatus = "CANCELLED"
)

var validInvoiceStatuses = map[InvoiceStatus]bool{
	StatusPending: true, StatusPartiallyPaid: true, StatusPaid: true,
	StatusOverdue: true, StatusCancelled: true,
}

func (s InvoiceStatus) Valid() bool { return validInvoiceStatuses[s] }

func (s InvoiceStatus) String() string { return string(s) }

// ParseInvoiceStatus accepts the canonical names case-insensitively.
func ParseInvoiceStatus(s string) (InvoiceStatus, error) {
	st := InvoiceStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

func (s *InvoiceStatus) UnmarshalText(b []byte) error {
	st, err := ParseInvoiceStatus(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

type ItemType string

const (
	ItemService      ItemType = "SERVICE"
	ItemMedication   ItemType = "MEDICATION"
	ItemLabTest      ItemType = "LAB_TEST"
	ItemProcedure    ItemType = "PROCEDURE"
	ItemConsultation ItemType = "CONSULTATION"
	ItemOther        ItemType = "OTHER"
)

var validItemTypes = map[ItemType]bool{
	ItemService: true, ItemMedication: true, ItemLabTest: true,
	ItemProcedure: true, ItemConsultation: true, ItemOther: true,
}

func (t ItemType) Valid() bool { return validItemTypes[t] }

type PaymentMethod string

const (
	MethodCash         PaymentMethod = "CASH"
	MethodCard         PaymentMethod = "CARD"
	MethodUPI          PaymentMethod = "UPI"
	MethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	MethodCheque       PaymentMethod = "CHEQUE"
	MethodInsurance    PaymentMethod = "INSURANCE"
	MethodOther        PaymentMethod = "OTHER"
)

var validPaymentMethods = map[PaymentMethod]bool{
	MethodCash: true, MethodCard: true, MethodUPI: true, MethodBankTransfer: true,
	MethodCheque: true, MethodInsurance: true, MethodOther: true,
}

func (m PaymentMethod) Valid() bool { return validPaymentMethods[m] }

// RequiresReference reports whether a payment made with m must carry a
// reference number (card slip, UPI transaction id, cheque number, ...).
func (m PaymentMethod) RequiresReference() bool {
	switch m {
	case MethodCard, MethodUPI, MethodBankTransfer, MethodCheque:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentPending   PaymentStatus = "PENDING"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentVoided    PaymentStatus = "VOIDED"
)

// InvoiceItem maps to the invoice_item table. Items are owned by their
// invoice and ordered by Sequence.
type InvoiceItem struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	InvoiceID   uuid.UUID       `db:"invoice_id" json:"invoice_id"`
	Sequence    int             `db:"sequence" json:"sequence"`
	ItemType    ItemType        `db:"item_type" json:"item_type"`
	ItemID      *string         `db:"item_id" json:"item_id,omitempty"`
	Description string          `db:"description" json:"description"`
	Quantity    int             `db:"quantity" json:"quantity"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
	Discount    decimal.Decimal `db:"discount" json:"discount"`
	TaxRate     decimal.Decimal `db:"tax_rate" json:"tax_rate"`
}

// Invoice maps to the invoice table. Totals are always derived through
// ComputeInvoiceTotals; only DiscountAmount is supplied by the caller.
type Invoice struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	InvoiceNumber  string          `db:"invoice_number" json:"invoice_number"`
	PatientID      uuid.UUID       `db:"patient_id" json:"patient_id"`
	Date           time.Time       `db:"date" json:"date"`
	DueDate        time.Time       `db:"due_date" json:"due_date"`
	Items          []InvoiceItem   `db:"-" json:"items"`
	SubTotal       decimal.Decimal `db:"sub_total" json:"sub_total"`
	TaxAmount      decimal.Decimal `db:"tax_amount" json:"tax_amount"`
	DiscountAmount decimal.Decimal `db:"discount_amount" json:"discount_amount"`
	TotalAmount    decimal.Decimal `db:"total_amount" json:"total_amount"`
	PaidAmount     decimal.Decimal `db:"paid_amount" json:"paid_amount"`
	Status         InvoiceStatus   `db:"status" json:"status"`
	Notes          *string         `db:"notes" json:"notes,omitempty"`
	CancelledAt    *time.Time      `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

func (inv *Invoice) Totals() Totals {
	return Totals{
		SubTotal:       inv.SubTotal,
		TaxAmount:      inv.TaxAmount,
		DiscountAmount: inv.DiscountAmount,
		TotalAmount:    inv.TotalAmount,
	}
}

func (inv *Invoice) applyTotals(t Totals) {
	inv.SubTotal = t.SubTotal
	inv.TaxAmount = t.TaxAmount
	inv.DiscountAmount = t.DiscountAmount
	inv.TotalAmount = t.TotalAmount
}

// Clone returns a deep copy so callers can hand out invoices without sharing
// the items slice.
func (inv *Invoice) Clone() *Invoice {
	cp := *inv
	cp.Items = append([]InvoiceItem(nil), inv.Items...)
	if inv.Notes != nil {
		n := *inv.Notes
		cp.Notes = &n
	}
	if inv.CancelledAt != nil {
		t := *inv.CancelledAt
		cp.CancelledAt = &t
	}
	return &cp
}

// Payment maps to the payment table.
type Payment struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	InvoiceID       uuid.UUID       `db:"invoice_id" json:"invoice_id"`
	Amount          decimal.Decimal `db:"amount" json:"amount"`
	PaymentMethod   PaymentMethod   `db:"payment_method" json:"payment_method"`
	PaymentDate     time.Time       `db:"payment_date" json:"payment_date"`
	ReferenceNumber *string         `db:"reference_number" json:"reference_number,omitempty"`
	Status          PaymentStatus   `db:"status" json:"status"`
	Notes           *string         `db:"notes" json:"notes,omitempty"`
	RecordedBy      *string         `db:"recorded_by" json:"recorded_by,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// Totals is the output of ComputeInvoiceTotals.
type Totals struct {
	SubTotal       decimal.Decimal `json:"sub_total"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
}

// InvoiceDraft is what a caller submits to create an invoice.
type InvoiceDraft struct {
	InvoiceNumber  string          `json:"invoice_number"`
	PatientID      uuid.UUID       `json:"patient_id"`
	Date           *time.Time      `json:"date"`
	DueDate        time.Time       `json:"due_date"`
	Items          []InvoiceItem   `json:"items"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Notes          *string         `json:"notes"`
}

// PaymentRequest is the input to RecordPayment.
type PaymentRequest struct {
	Amount          decimal.Decimal `json:"amount"`
	PaymentMethod   PaymentMethod   `json:"payment_method"`
	ReferenceNumber *string         `json:"reference_number"`
	PaymentDate     *time.Time      `json:"payment_date"`
	Notes           *string         `json:"notes"`
	RecordedBy      *string         `json:"-"`
}

// PatientRef is the slice of the patient directory billing needs for
// display and search.
type PatientRef struct {
	ID          uuid.UUID `json:"id"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	ContactInfo *string   `json:"contact_info,omitempty"`
}

func (p PatientRef) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// InvoiceView is the read projection returned to API callers: status is the
// derived status as of the read, not the stored one.
type InvoiceView struct {
	*Invoice
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
	Patient          *PatientRef     `json:"patient,omitempty"`
	Payments         []*Payment      `json:"payments,omitempty"`
}

// BillingStats is always recomputable from invoices and payments.
type BillingStats struct {
	PendingInvoices       int                               `json:"pending_invoices"`
	PaidInvoices          int                               `json:"paid_invoices"`
	PartiallyPaidInvoices int                               `json:"partially_paid_invoices"`
	OverdueInvoices       int                               `json:"overdue_invoices"`
	CancelledInvoices     int                               `json:"cancelled_invoices"`
	TodayRevenue          decimal.Decimal                   `json:"today_revenue"`
	MonthlyRevenue        decimal.Decimal                   `json:"monthly_revenue"`
	TodayInvoices         int                               `json:"today_invoices"`
	MonthlyInvoices       int                               `json:"monthly_invoices"`
	OutstandingBalance    decimal.Decimal                   `json:"outstanding_balance"`
	PaymentsByMethod      map[PaymentMethod]decimal.Decimal `json:"payments_by_method"`
	AsOf                  time.Time                         `json:"as_of"`
}
