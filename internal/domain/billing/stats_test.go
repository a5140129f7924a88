package billing

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func paymentAt(inv *Invoice, amount string, method PaymentMethod, at time.Time) *Payment {
	return &Payment{ID: uuid.New(), InvoiceID: inv.ID, Amount: dec(amount), PaymentMethod: method, PaymentDate: at, Status: PaymentCompleted}
}

func TestComputeStats_Counts(t *testing.T) {
	asOf := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	due := civil(2026, 10, 20)

	pending := testInvoice("100", "0", StatusPending, due)
	overdue := testInvoice("200", "50", StatusPartiallyPaid, civil(2026, 10, 1))
	partial := testInvoice("300", "100", StatusPartiallyPaid, due)
	paid := testInvoice("400", "400", StatusPaid, civil(2026, 10, 1))
	cancelled := testInvoice("500", "0", StatusCancelled, due)

	stats := ComputeStats([]*Invoice{pending, overdue, partial, paid, cancelled}, nil, asOf)

	if stats.PendingInvoices != 1 || stats.OverdueInvoices != 1 || stats.PartiallyPaidInvoices != 1 ||
		stats.PaidInvoices != 1 || stats.CancelledInvoices != 1 {
		t.Errorf("unexpected counts: %+v", stats)
	}
	// 100 + 150 + 200; cancelled invoices owe nothing.
	assertMoney(t, "outstanding", stats.OutstandingBalance, "450")
	if !stats.AsOf.Equal(asOf) {
		t.Errorf("expected as_of %v, got %v", asOf, stats.AsOf)
	}
}

func TestComputeStats_Revenue(t *testing.T) {
	asOf := time.Date(2026, 10, 15, 18, 0, 0, 0, time.UTC)
	inv := testInvoice("5000", "0", StatusPending, civil(2026, 10, 30))

	payments := []*Payment{
		paymentAt(inv, "100", MethodCash, time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)),
		paymentAt(inv, "250", MethodUPI, time.Date(2026, 10, 2, 8, 0, 0, 0, time.UTC)),
		paymentAt(inv, "75", MethodCash, time.Date(2026, 9, 30, 8, 0, 0, 0, time.UTC)),
		{ID: uuid.New(), InvoiceID: inv.ID, Amount: dec("999"), PaymentMethod: MethodCard, PaymentDate: asOf, Status: PaymentVoided},
	}
	stats := ComputeStats([]*Invoice{inv}, payments, asOf)

	assertMoney(t, "today", stats.TodayRevenue, "100")
	assertMoney(t, "month", stats.MonthlyRevenue, "350")
	assertMoney(t, "cash", stats.PaymentsByMethod[MethodCash], "175")
	assertMoney(t, "upi", stats.PaymentsByMethod[MethodUPI], "250")
	if _, ok := stats.PaymentsByMethod[MethodCard]; ok {
		t.Error("voided payments must not appear in payments by method")
	}
}

func TestComputeStats_TimezoneBoundaries(t *testing.T) {
	// 02:00 on 1 Oct in IST is still 30 Sep in UTC.
	asOf := time.Date(2026, 10, 1, 2, 0, 0, 0, ist)
	inv := testInvoice("1000", "0", StatusPending, civil(2026, 10, 30))
	inv.Date = civil(2026, 10, 1)
	old := testInvoice("1000", "0", StatusPending, civil(2026, 10, 30))
	old.Date = civil(2026, 9, 30)

	payments := []*Payment{
		paymentAt(inv, "40", MethodCash, time.Date(2026, 9, 30, 20, 0, 0, 0, time.UTC)),
		paymentAt(inv, "60", MethodCash, time.Date(2026, 9, 30, 18, 0, 0, 0, time.UTC)),
	}
	stats := ComputeStats([]*Invoice{inv, old}, payments, asOf)

	assertMoney(t, "today", stats.TodayRevenue, "40")
	assertMoney(t, "month", stats.MonthlyRevenue, "40")
	if stats.TodayInvoices != 1 || stats.MonthlyInvoices != 1 {
		t.Errorf("expected one invoice today and this month, got %d/%d", stats.TodayInvoices, stats.MonthlyInvoices)
	}
}

func TestComputeStats_Empty(t *testing.T) {
	stats := ComputeStats(nil, nil, time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC))
	assertMoney(t, "outstanding", stats.OutstandingBalance, "0")
	assertMoney(t, "today", stats.TodayRevenue, "0")
	if stats.PaymentsByMethod == nil {
		t.Error("payments by method should be an empty map, not nil")
	}
}
