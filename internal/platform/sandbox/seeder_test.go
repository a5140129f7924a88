package sandbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ehr/billing/internal/domain/billing"
	"github.com/ehr/billing/internal/domain/patient"
	"github.com/ehr/billing/internal/platform/auth"
)

var seedToday = time.Date(2026, 10, 15, 18, 0, 0, 0, time.UTC)

type directory struct{ svc *patient.Service }

func (d directory) Lookup(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]billing.PatientRef, error) {
	found, err := d.svc.Lookup(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]billing.PatientRef, len(found))
	for id, p := range found {
		out[id] = billing.PatientRef{ID: id, FirstName: p.FirstName, LastName: p.LastName}
	}
	return out, nil
}

type seedEnv struct {
	seeder   *Seeder
	patients *patient.Service
	billing  *billing.Service
	store    *billing.MemoryStore
}

func newSeedEnv() *seedEnv {
	patients := patient.NewService(patient.NewMemoryRepo())
	store := billing.NewMemoryStore()
	svc := billing.NewService(store.Invoices(), store.Payments(), store, directory{patients}, zerolog.Nop())
	svc.SetClock(func() time.Time { return seedToday })
	return &seedEnv{
		seeder:   NewSeeder(patients, svc, zerolog.Nop()),
		patients: patients,
		billing:  svc,
		store:    store,
	}
}

// ---------------------------------------------------------------------------
// DataGenerator
// ---------------------------------------------------------------------------

func TestDataGenerator_Deterministic(t *testing.T) {
	a, b := NewDataGenerator(42), NewDataGenerator(42)
	for i := 0; i < 5; i++ {
		pa, pb := a.GeneratePatient(), b.GeneratePatient()
		if pa.MRN != pb.MRN || pa.FirstName != pb.FirstName {
			t.Fatalf("same seed produced different patients: %s vs %s", pa.MRN, pb.MRN)
		}
		ia, ib := a.GenerateItems(), b.GenerateItems()
		if len(ia) != len(ib) || ia[0].Description != ib[0].Description {
			t.Fatalf("same seed produced different items")
		}
	}
}

func TestDataGenerator_ItemsPriceCleanly(t *testing.T) {
	gen := NewDataGenerator(7)
	for i := 0; i < 200; i++ {
		items := gen.GenerateItems()
		if len(items) < 1 || len(items) > 4 {
			t.Fatalf("expected 1-4 items, got %d", len(items))
		}
		if _, err := billing.ComputeInvoiceTotals(items, decimal.NewFromInt(25)); err != nil {
			t.Fatalf("generated items failed pricing: %v", err)
		}
	}
}

func TestDataGenerator_DraftDates(t *testing.T) {
	gen := NewDataGenerator(3)
	for i := 0; i < 100; i++ {
		d := gen.GenerateDraft(uuid.New(), seedToday, 30)
		if d.Date.After(seedToday) || d.Date.Before(seedToday.AddDate(0, 0, -30)) {
			t.Fatalf("date %v outside history window", d.Date)
		}
		if d.DueDate.Before(*d.Date) {
			t.Fatalf("due date %v before date %v", d.DueDate, d.Date)
		}
	}
}

func TestDataGenerator_PartialAmount(t *testing.T) {
	gen := NewDataGenerator(11)
	total := decimal.RequireFromString("1050")
	for i := 0; i < 100; i++ {
		amt := gen.partialAmount(total)
		if !amt.IsPositive() || !amt.LessThan(total) {
			t.Fatalf("partial amount %s outside (0, %s)", amt, total)
		}
	}
	if amt := gen.partialAmount(decimal.RequireFromString("0.01")); !amt.IsZero() {
		t.Errorf("expected no partial payment on a one-cent invoice, got %s", amt)
	}
}

// ---------------------------------------------------------------------------
// Seeder
// ---------------------------------------------------------------------------

func TestSeeder_Seed(t *testing.T) {
	env := newSeedEnv()
	ctx := context.Background()

	result, err := env.seeder.Seed(ctx, SeedConfig{PatientCount: 8, InvoicesPerPatient: 4, HistoryDays: 45, Seed: 99}, seedToday)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Patients != 8 || result.Invoices != 32 {
		t.Fatalf("expected 8 patients and 32 invoices, got %+v", result)
	}

	_, total, err := env.patients.List(ctx, 100, 0)
	if err != nil || total != 8 {
		t.Fatalf("expected 8 registered patients, got %d (%v)", total, err)
	}

	invoices, err := env.store.Invoices().List(ctx, billing.InvoiceQuery{})
	if err != nil {
		t.Fatal(err)
	}
	payments, err := env.store.Payments().List(ctx, billing.PaymentQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if len(payments) != result.Payments {
		t.Errorf("expected %d payments stored, got %d", result.Payments, len(payments))
	}

	cancelled := 0
	for _, inv := range invoices {
		own := billing.FilterPayments(payments, billing.PaymentFilter{InvoiceID: &inv.ID})
		paid := billing.PaidToDate(own)
		if paid.GreaterThan(inv.TotalAmount) {
			t.Errorf("invoice %s overpaid: %s > %s", inv.InvoiceNumber, paid, inv.TotalAmount)
		}
		if !paid.Equal(inv.PaidAmount) {
			t.Errorf("invoice %s paid_amount %s disagrees with payments %s", inv.InvoiceNumber, inv.PaidAmount, paid)
		}
		if inv.Status == billing.StatusCancelled {
			cancelled++
			if paid.IsPositive() {
				t.Errorf("cancelled invoice %s has payments", inv.InvoiceNumber)
			}
		} else if want := billing.StatusForPaid(paid, inv.TotalAmount); inv.Status != want {
			t.Errorf("invoice %s stored as %s, expected %s", inv.InvoiceNumber, inv.Status, want)
		}
	}
	if cancelled != result.Cancelled {
		t.Errorf("expected %d cancelled, got %d", result.Cancelled, cancelled)
	}

	stats, err := env.billing.Stats(ctx, seedToday)
	if err != nil {
		t.Fatal(err)
	}
	counted := stats.PendingInvoices + stats.PartiallyPaidInvoices + stats.PaidInvoices +
		stats.OverdueInvoices + stats.CancelledInvoices
	if counted != 32 {
		t.Errorf("expected stats to count 32 invoices, got %d", counted)
	}
}

func TestSeedConfig_Defaults(t *testing.T) {
	c := SeedConfig{}.withDefaults()
	def := DefaultSeedConfig()
	if c.PatientCount != def.PatientCount || c.InvoicesPerPatient != def.InvoicesPerPatient || c.HistoryDays != def.HistoryDays {
		t.Errorf("expected defaults, got %+v", c)
	}
}

// ---------------------------------------------------------------------------
// SeedHandler
// ---------------------------------------------------------------------------

func serveSeed(t *testing.T, roles []string, body string) *httptest.ResponseRecorder {
	t.Helper()
	env := newSeedEnv()
	h := NewSeedHandler(env.seeder)
	h.now = func() time.Time { return seedToday }

	e := echo.New()
	api := e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.SetRequest(c.Request().WithContext(auth.WithRoles(c.Request().Context(), "u1", roles...)))
			return next(c)
		}
	})
	h.RegisterRoutes(api)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sandbox/seed", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestSeedHandler_Seed(t *testing.T) {
	rec := serveSeed(t, []string{"admin"}, `{"patient_count": 3, "invoices_per_patient": 2, "seed": 5}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var result SeedResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if result.Patients != 3 || result.Invoices != 6 {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestSeedHandler_RequiresAdmin(t *testing.T) {
	rec := serveSeed(t, []string{"billing"}, "")
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestSeedHandler_RejectsLargeRuns(t *testing.T) {
	rec := serveSeed(t, []string{"admin"}, `{"patient_count": 10000}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}
