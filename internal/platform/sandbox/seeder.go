// Package sandbox generates reproducible demo billing data for development
// tenants: registered patients, invoices spread across every lifecycle state,
// and the payments that put them there.
package sandbox

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ehr/billing/internal/domain/billing"
	"github.com/ehr/billing/internal/domain/patient"
	"github.com/ehr/billing/internal/platform/auth"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// SeedConfig controls the volume and shape of generated data.
type SeedConfig struct {
	PatientCount       int   `json:"patient_count"`
	InvoicesPerPatient int   `json:"invoices_per_patient"`
	HistoryDays        int   `json:"history_days"`
	Seed               int64 `json:"seed"`
}

func DefaultSeedConfig() SeedConfig {
	return SeedConfig{
		PatientCount:       25,
		InvoicesPerPatient: 3,
		HistoryDays:        60,
	}
}

func (c SeedConfig) withDefaults() SeedConfig {
	def := DefaultSeedConfig()
	if c.PatientCount <= 0 {
		c.PatientCount = def.PatientCount
	}
	if c.InvoicesPerPatient <= 0 {
		c.InvoicesPerPatient = def.InvoicesPerPatient
	}
	if c.HistoryDays <= 0 {
		c.HistoryDays = def.HistoryDays
	}
	return c
}

// SeedResult summarises one Seed run.
type SeedResult struct {
	Patients  int           `json:"patients"`
	Invoices  int           `json:"invoices"`
	Payments  int           `json:"payments"`
	Cancelled int           `json:"cancelled"`
	Duration  time.Duration `json:"duration_ns"`
}

// ---------------------------------------------------------------------------
// Reference data
// ---------------------------------------------------------------------------

type catalogEntry struct {
	itemType    billing.ItemType
	description string
	price       string
	taxRate     string
}

var catalog = []catalogEntry{
	{billing.ItemConsultation, "General physician consultation", "500", "0"},
	{billing.ItemConsultation, "Cardiology consultation", "1200", "0"},
	{billing.ItemLabTest, "Complete blood count", "350", "5"},
	{billing.ItemLabTest, "Lipid profile", "800", "5"},
	{billing.ItemLabTest, "HbA1c", "550", "5"},
	{billing.ItemProcedure, "ECG", "300", "12"},
	{billing.ItemProcedure, "Wound dressing", "250", "12"},
	{billing.ItemMedication, "Amoxicillin 500mg strip", "95.50", "12"},
	{billing.ItemMedication, "Paracetamol 650mg strip", "32.75", "12"},
	{billing.ItemService, "Ward bed charge (per day)", "1800", "18"},
	{billing.ItemService, "Ambulance transfer", "1500", "18"},
	{billing.ItemOther, "Medical records copy", "150", "18"},
}

var firstNames = []string{
	"Aarav", "Ananya", "Arjun", "Diya", "Ishaan", "Kavya", "Meera", "Neha",
	"Rahul", "Rohan", "Saanvi", "Sneha", "Tanvi", "Vikram", "Zoya", "Farhan",
}

var lastNames = []string{
	"Sharma", "Iyer", "Nair", "Reddy", "Khan", "Patel", "Rao", "Menon",
	"Gupta", "Das", "Fernandes", "Singh", "Joshi", "Bose",
}

var dueTerms = []int{0, 7, 15, 30}

type paymentPlan int

const (
	planNone paymentPlan = iota
	planPartial
	planFull
	planCancel
)

// ---------------------------------------------------------------------------
// DataGenerator
// ---------------------------------------------------------------------------

// DataGenerator produces deterministic synthetic billing inputs.
type DataGenerator struct {
	rng     *rand.Rand
	counter uint64
}

// NewDataGenerator returns a generator seeded for reproducibility. If seed is
// 0 a time-based seed is chosen.
func NewDataGenerator(seed int64) *DataGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &DataGenerator{rng: rand.New(rand.NewSource(seed))}
}

func (g *DataGenerator) pick(pool []string) string {
	return pool[g.rng.Intn(len(pool))]
}

func (g *DataGenerator) randomMobile() string {
	return fmt.Sprintf("+91 9%09d", g.rng.Intn(1000000000))
}

// GeneratePatient returns an unsaved registration record.
func (g *DataGenerator) GeneratePatient() *patient.Patient {
	g.counter++
	first, last := g.pick(firstNames), g.pick(lastNames)
	mobile := g.randomMobile()
	email := fmt.Sprintf("%s.%s%d@example.com", first, last, g.counter)
	return &patient.Patient{
		MRN:         fmt.Sprintf("SBX-%08x-%04d", g.rng.Uint32(), g.counter),
		FirstName:   first,
		LastName:    last,
		PhoneMobile: &mobile,
		Email:       &email,
	}
}

// GenerateItems returns one to four distinct catalog lines.
func (g *DataGenerator) GenerateItems() []billing.InvoiceItem {
	n := 1 + g.rng.Intn(4)
	picked := g.rng.Perm(len(catalog))[:n]
	items := make([]billing.InvoiceItem, 0, n)
	for _, idx := range picked {
		c := catalog[idx]
		it := billing.InvoiceItem{
			ItemType:    c.itemType,
			Description: c.description,
			Quantity:    1 + g.rng.Intn(3),
			UnitPrice:   decimal.RequireFromString(c.price),
			Discount:    decimal.Zero,
			TaxRate:     decimal.RequireFromString(c.taxRate),
		}
		if g.rng.Intn(5) == 0 {
			it.Discount = decimal.NewFromInt(int64(10 * (1 + g.rng.Intn(5))))
		}
		items = append(items, it)
	}
	return items
}

// GenerateDraft dates the invoice within the last historyDays of today.
func (g *DataGenerator) GenerateDraft(patientID uuid.UUID, today time.Time, historyDays int) billing.InvoiceDraft {
	date := today.AddDate(0, 0, -g.rng.Intn(historyDays+1))
	draft := billing.InvoiceDraft{
		PatientID:      patientID,
		Date:           &date,
		DueDate:        date.AddDate(0, 0, dueTerms[g.rng.Intn(len(dueTerms))]),
		Items:          g.GenerateItems(),
		DiscountAmount: decimal.Zero,
	}
	if g.rng.Intn(6) == 0 {
		draft.DiscountAmount = decimal.NewFromInt(25)
	}
	return draft
}

func (g *DataGenerator) plan() paymentPlan {
	switch r := g.rng.Intn(20); {
	case r < 7:
		return planFull
	case r < 13:
		return planPartial
	case r < 15:
		return planCancel
	}
	return planNone
}

// partialAmount is a share of total between 20% and 80%, never zero and
// never the full amount.
func (g *DataGenerator) partialAmount(total decimal.Decimal) decimal.Decimal {
	pct := decimal.NewFromInt(int64(20 + g.rng.Intn(61)))
	amt := billing.ApplyPercent(total, pct)
	if !amt.IsPositive() || !amt.LessThan(total) {
		return decimal.Zero
	}
	return amt
}

func (g *DataGenerator) paymentRequest(amount decimal.Decimal, paidAt time.Time) billing.PaymentRequest {
	methods := []billing.PaymentMethod{billing.MethodCash, billing.MethodCash, billing.MethodUPI, billing.MethodCard, billing.MethodInsurance}
	m := methods[g.rng.Intn(len(methods))]
	req := billing.PaymentRequest{Amount: amount, PaymentMethod: m, PaymentDate: &paidAt}
	if m.RequiresReference() {
		g.counter++
		ref := fmt.Sprintf("SBX-REF-%06d", g.counter)
		req.ReferenceNumber = &ref
	}
	return req
}

// ---------------------------------------------------------------------------
// Seeder
// ---------------------------------------------------------------------------

// Seeder writes generated data through the patient and billing services so
// every record passes the same validation as API traffic.
type Seeder struct {
	patients *patient.Service
	billing  *billing.Service
	logger   zerolog.Logger
	mu       sync.Mutex
}

func NewSeeder(patients *patient.Service, billingSvc *billing.Service, logger zerolog.Logger) *Seeder {
	return &Seeder{
		patients: patients,
		billing:  billingSvc,
		logger:   logger.With().Str("component", "sandbox").Logger(),
	}
}

// Seed generates config.PatientCount patients with their invoices, dated
// relative to today. Runs are serialized.
func (s *Seeder) Seed(ctx context.Context, config SeedConfig, today time.Time) (*SeedResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	config = config.withDefaults()
	gen := NewDataGenerator(config.Seed)
	result := &SeedResult{}

	for i := 0; i < config.PatientCount; i++ {
		p := gen.GeneratePatient()
		if err := s.patients.Register(ctx, p); err != nil {
			return result, fmt.Errorf("register patient %s: %w", p.MRN, err)
		}
		result.Patients++

		for j := 0; j < config.InvoicesPerPatient; j++ {
			inv, err := s.billing.CreateInvoice(ctx, gen.GenerateDraft(p.ID, today, config.HistoryDays))
			if err != nil {
				return result, fmt.Errorf("create invoice for %s: %w", p.MRN, err)
			}
			result.Invoices++

			n, cancelled, err := s.settle(ctx, gen, inv, today)
			if err != nil {
				return result, err
			}
			result.Payments += n
			if cancelled {
				result.Cancelled++
			}
		}
	}

	result.Duration = time.Since(start)
	s.logger.Info().
		Int("patients", result.Patients).
		Int("invoices", result.Invoices).
		Int("payments", result.Payments).
		Dur("duration", result.Duration).
		Msg("sandbox data seeded")
	return result, nil
}

func (s *Seeder) settle(ctx context.Context, gen *DataGenerator, inv *billing.Invoice, today time.Time) (int, bool, error) {
	paidAt := inv.Date.Add(time.Duration(9+gen.rng.Intn(9)) * time.Hour)
	if paidAt.After(today) {
		paidAt = today
	}

	var amounts []decimal.Decimal
	switch gen.plan() {
	case planCancel:
		if _, err := s.billing.CancelInvoice(ctx, inv.ID); err != nil {
			return 0, false, fmt.Errorf("cancel invoice %s: %w", inv.InvoiceNumber, err)
		}
		return 0, true, nil
	case planPartial:
		if amt := gen.partialAmount(inv.TotalAmount); amt.IsPositive() {
			amounts = append(amounts, amt)
		}
	case planFull:
		if first := gen.partialAmount(inv.TotalAmount); first.IsPositive() && gen.rng.Intn(2) == 0 {
			amounts = append(amounts, first, inv.TotalAmount.Sub(first))
		} else if inv.TotalAmount.IsPositive() {
			amounts = append(amounts, inv.TotalAmount)
		}
	}

	for _, amt := range amounts {
		if _, _, err := s.billing.RecordPayment(ctx, inv.ID, gen.paymentRequest(amt, paidAt)); err != nil {
			return 0, false, fmt.Errorf("pay invoice %s: %w", inv.InvoiceNumber, err)
		}
	}
	return len(amounts), false, nil
}

// ---------------------------------------------------------------------------
// HTTP handler
// ---------------------------------------------------------------------------

// SeedHandler exposes seeding to admins of development deployments.
type SeedHandler struct {
	seeder *Seeder
	now    func() time.Time
}

func NewSeedHandler(seeder *Seeder) *SeedHandler {
	return &SeedHandler{seeder: seeder, now: time.Now}
}

func (h *SeedHandler) RegisterRoutes(g *echo.Group) {
	sg := g.Group("/sandbox", auth.RequireRole("admin"))
	sg.POST("/seed", h.handleSeed)
}

func (h *SeedHandler) handleSeed(c echo.Context) error {
	config := DefaultSeedConfig()
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&config); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid seed config: "+err.Error())
		}
	}
	if config.PatientCount > 500 || config.InvoicesPerPatient > 20 {
		return echo.NewHTTPError(http.StatusBadRequest, "at most 500 patients and 20 invoices per patient")
	}

	result, err := h.seeder.Seed(c.Request().Context(), config, h.now())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, result)
}
