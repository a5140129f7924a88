package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// ComputeStats rolls invoices and payments up into period statistics. Day
// and month boundaries follow asOf's location, so callers pass asOf in the
// tenant's calendar. Status counts use the derived status at asOf.
func ComputeStats(invoices []*Invoice, payments []*Payment, asOf time.Time) BillingStats {
	loc := asOf.Location()
	y, m, d := asOf.Date()

	stats := BillingStats{
		TodayRevenue:       decimal.Zero,
		MonthlyRevenue:     decimal.Zero,
		OutstandingBalance: decimal.Zero,
		PaymentsByMethod:   make(map[PaymentMethod]decimal.Decimal),
		AsOf:               asOf,
	}

	for _, inv := range invoices {
		switch inv.EffectiveStatus(asOf) {
		case StatusPending:
			stats.PendingInvoices++
		case StatusPartiallyPaid:
			stats.PartiallyPaidInvoices++
		case StatusPaid:
			stats.PaidInvoices++
		case StatusOverdue:
			stats.OverdueInvoices++
		case StatusCancelled:
			stats.CancelledInvoices++
		}
		if inv.Status != StatusCancelled {
			stats.OutstandingBalance = stats.OutstandingBalance.Add(inv.TotalAmount.Sub(inv.PaidAmount))
		}

		// Invoice dates are calendar dates; only payment instants are
		// converted into the caller's location.
		iy, im, id := inv.Date.Date()
		if iy == y && im == m {
			stats.MonthlyInvoices++
			if id == d {
				stats.TodayInvoices++
			}
		}
	}

	for _, p := range payments {
		if p.Status != PaymentCompleted {
			continue
		}
		stats.PaymentsByMethod[p.PaymentMethod] = stats.PaymentsByMethod[p.PaymentMethod].Add(p.Amount)

		py, pm, pd := p.PaymentDate.In(loc).Date()
		if py == y && pm == m {
			stats.MonthlyRevenue = stats.MonthlyRevenue.Add(p.Amount)
			if pd == d {
				stats.TodayRevenue = stats.TodayRevenue.Add(p.Amount)
			}
		}
	}
	return stats
}
