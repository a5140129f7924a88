package billing

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

type filterFixture struct {
	invoices []*Invoice
	patients map[uuid.UUID]PatientRef
	asha     uuid.UUID
	vikram   uuid.UUID
}

func newFilterFixture() filterFixture {
	asha, vikram := uuid.New(), uuid.New()
	mk := func(num string, pid uuid.UUID, date time.Time, st InvoiceStatus) *Invoice {
		return &Invoice{ID: uuid.New(), InvoiceNumber: num, PatientID: pid, Date: date, DueDate: date.AddDate(0, 0, 14), Status: st}
	}
	return filterFixture{
		invoices: []*Invoice{
			mk("INV-1001", asha, civil(2026, 10, 1), StatusPending),
			mk("INV-1002", vikram, civil(2026, 10, 5), StatusPaid),
			mk("OPD-2001", asha, civil(2026, 10, 10), StatusPartiallyPaid),
			mk("INV-1003", uuid.New(), civil(2026, 10, 15), StatusCancelled),
		},
		patients: map[uuid.UUID]PatientRef{
			asha:   {ID: asha, FirstName: "Asha", LastName: "Rao"},
			vikram: {ID: vikram, FirstName: "Vikram", LastName: "Iyer"},
		},
		asha:   asha,
		vikram: vikram,
	}
}

func invoiceNumbers(invs []*Invoice) []string {
	out := make([]string, len(invs))
	for i, inv := range invs {
		out[i] = inv.InvoiceNumber
	}
	return out
}

func assertNumbers(t *testing.T, got []*Invoice, want ...string) {
	t.Helper()
	nums := invoiceNumbers(got)
	if len(nums) != len(want) {
		t.Fatalf("expected %v, got %v", want, nums)
	}
	for i := range want {
		if nums[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, nums)
		}
	}
}

func TestFilterInvoices_EmptyFilterReturnsInput(t *testing.T) {
	fx := newFilterFixture()
	got := FilterInvoices(fx.invoices, nil, InvoiceFilter{})
	assertNumbers(t, got, "INV-1001", "INV-1002", "OPD-2001", "INV-1003")

	if got := FilterInvoices(fx.invoices, nil, InvoiceFilter{Search: "   "}); len(got) != len(fx.invoices) {
		t.Errorf("blank search should not filter, got %d", len(got))
	}
}

func TestFilterInvoices_Pure(t *testing.T) {
	fx := newFilterFixture()
	st := StatusPending
	f := InvoiceFilter{Search: "inv", Status: &st}

	first := FilterInvoices(fx.invoices, fx.patients, f)
	second := FilterInvoices(fx.invoices, fx.patients, f)
	assertNumbers(t, first, invoiceNumbers(second)...)
	assertNumbers(t, fx.invoices, "INV-1001", "INV-1002", "OPD-2001", "INV-1003")
}

func TestFilterInvoices_SearchInvoiceNumber(t *testing.T) {
	fx := newFilterFixture()
	assertNumbers(t, FilterInvoices(fx.invoices, fx.patients, InvoiceFilter{Search: "opd"}), "OPD-2001")
	assertNumbers(t, FilterInvoices(fx.invoices, fx.patients, InvoiceFilter{Search: "100"}), "INV-1001", "INV-1002", "INV-1003")
}

func TestFilterInvoices_SearchPatientName(t *testing.T) {
	fx := newFilterFixture()
	assertNumbers(t, FilterInvoices(fx.invoices, fx.patients, InvoiceFilter{Search: "RAO"}), "INV-1001", "OPD-2001")
	assertNumbers(t, FilterInvoices(fx.invoices, fx.patients, InvoiceFilter{Search: "vikram iyer"}), "INV-1002")
	assertNumbers(t, FilterInvoices(fx.invoices, fx.patients, InvoiceFilter{Search: "nobody"}))
}

func TestFilterInvoices_Status(t *testing.T) {
	fx := newFilterFixture()
	st := StatusCancelled
	assertNumbers(t, FilterInvoices(fx.invoices, nil, InvoiceFilter{Status: &st}), "INV-1003")
}

func TestFilterInvoices_PatientID(t *testing.T) {
	fx := newFilterFixture()
	assertNumbers(t, FilterInvoices(fx.invoices, nil, InvoiceFilter{PatientID: &fx.vikram}), "INV-1002")
}

func TestFilterInvoices_DateRangeInclusive(t *testing.T) {
	fx := newFilterFixture()
	// Bounds carry a time of day and a non-UTC zone; only the calendar date
	// matters.
	from := time.Date(2026, 10, 5, 18, 45, 0, 0, ist)
	to := time.Date(2026, 10, 10, 0, 0, 0, 0, ist)
	assertNumbers(t, FilterInvoices(fx.invoices, nil, InvoiceFilter{From: &from, To: &to}), "INV-1002", "OPD-2001")

	assertNumbers(t, FilterInvoices(fx.invoices, nil, InvoiceFilter{From: &to}), "OPD-2001", "INV-1003")
	assertNumbers(t, FilterInvoices(fx.invoices, nil, InvoiceFilter{To: &from}), "INV-1001", "INV-1002")
}

func TestFilterInvoices_Combined(t *testing.T) {
	fx := newFilterFixture()
	st := StatusPartiallyPaid
	from := civil(2026, 10, 2)
	got := FilterInvoices(fx.invoices, fx.patients, InvoiceFilter{Search: "asha", Status: &st, From: &from})
	assertNumbers(t, got, "OPD-2001")
}

func TestFilterPayments(t *testing.T) {
	inv1, inv2 := uuid.New(), uuid.New()
	payments := []*Payment{
		{InvoiceID: inv1, PaymentMethod: MethodCash, Status: PaymentCompleted, PaymentDate: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC), Amount: dec("10")},
		{InvoiceID: inv1, PaymentMethod: MethodUPI, Status: PaymentCompleted, PaymentDate: time.Date(2026, 10, 3, 23, 0, 0, 0, time.UTC), Amount: dec("20")},
		{InvoiceID: inv2, PaymentMethod: MethodCash, Status: PaymentVoided, PaymentDate: time.Date(2026, 10, 4, 8, 0, 0, 0, time.UTC), Amount: dec("30")},
	}

	if got := FilterPayments(payments, PaymentFilter{InvoiceID: &inv1}); len(got) != 2 {
		t.Errorf("expected 2 payments for invoice, got %d", len(got))
	}
	cash := MethodCash
	if got := FilterPayments(payments, PaymentFilter{Method: &cash}); len(got) != 2 {
		t.Errorf("expected 2 cash payments, got %d", len(got))
	}
	completed := PaymentCompleted
	if got := FilterPayments(payments, PaymentFilter{Status: &completed}); len(got) != 2 {
		t.Errorf("expected 2 completed payments, got %d", len(got))
	}
	day := civil(2026, 10, 3)
	got := FilterPayments(payments, PaymentFilter{From: &day, To: &day})
	if len(got) != 1 || !got[0].Amount.Equal(dec("20")) {
		t.Errorf("expected the 3 Oct payment only, got %v", got)
	}
}
