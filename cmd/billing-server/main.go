package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/billing/internal/config"
	"github.com/ehr/billing/internal/domain/billing"
	"github.com/ehr/billing/internal/domain/patient"
	"github.com/ehr/billing/internal/platform/auth"
	"github.com/ehr/billing/internal/platform/cache"
	"github.com/ehr/billing/internal/platform/db"
	"github.com/ehr/billing/internal/platform/middleware"
	"github.com/ehr/billing/internal/platform/sandbox"
	"github.com/ehr/billing/migrations"
)

// PatientDirectoryAdapter adapts the patient service to the billing
// package's read-only directory, keeping billing free of a patient import.
type PatientDirectoryAdapter struct {
	svc *patient.Service
}

func NewPatientDirectoryAdapter(svc *patient.Service) *PatientDirectoryAdapter {
	return &PatientDirectoryAdapter{svc: svc}
}

func (a *PatientDirectoryAdapter) Lookup(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]billing.PatientRef, error) {
	found, err := a.svc.Lookup(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]billing.PatientRef, len(found))
	for id, p := range found {
		out[id] = billing.PatientRef{
			ID:          p.ID,
			FirstName:   p.FirstName,
			LastName:    p.LastName,
			ContactInfo: p.Contact(),
		}
	}
	return out, nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:          "billing-server",
		Short:        "Hospital billing ledger API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Str("service", "billing-ledger").Logger()
}

// migrationsFS returns dir when given, otherwise the schema compiled into
// the binary.
func migrationsFS(dir string) fs.FS {
	if dir != "" {
		return os.DirFS(dir)
	}
	return migrations.FS
}

func openPool(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.StoreBackend != config.StorePostgres {
		return nil, nil, fmt.Errorf("this command requires STORE_BACKEND=%s", config.StorePostgres)
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the billing API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := cmd.Context()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			schema := db.TenantSchema(tenant)
			fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)
			count, err := db.NewMigrator(pool, migrationsFS(dir)).Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s).\n", count)
			return nil
		},
	}
	upCmd.Flags().String("tenant", "default", "Tenant whose schema is migrated")
	upCmd.Flags().String("dir", "", "Migrations directory (defaults to the embedded schema)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := cmd.Context()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			schema := db.TenantSchema(tenant)
			statuses, err := db.NewMigrator(pool, migrationsFS(dir)).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd, schema, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("tenant", "default", "Tenant whose schema is inspected")
	statusCmd.Flags().String("dir", "", "Migrations directory (defaults to the embedded schema)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printMigrationStatus(cmd *cobra.Command, schema string, statuses []db.MigrationStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		status, appliedAt := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant schema and apply the billing migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			ctx := cmd.Context()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := db.CreateTenantSchema(ctx, pool, name, migrations.FS); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Tenant %s created in schema %s.\n", name, db.TenantSchema(name))
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric and underscore)")
	cmd.AddCommand(createCmd)
	return cmd
}

// statsCmd computes statistics straight from the database, bypassing the
// cache. Useful for reconciling the dashboard against the ledger.
func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print billing statistics for a tenant as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			asOfFlag, _ := cmd.Flags().GetString("as-of")

			ctx := cmd.Context()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			asOf := time.Now().In(loc)
			if asOfFlag != "" {
				day, err := time.ParseInLocation("2006-01-02", asOfFlag, loc)
				if err != nil {
					return fmt.Errorf("--as-of must be YYYY-MM-DD: %w", err)
				}
				// End of the requested day so that day's payments count.
				asOf = day.Add(24*time.Hour - time.Nanosecond)
			}

			ctx, release, err := db.AcquireTenant(ctx, pool, tenant)
			if err != nil {
				return err
			}
			defer release()

			svc := newPGBillingService(pool, zerolog.Nop())
			svc.SetLocation(loc)
			stats, err := svc.Stats(ctx, asOf)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	}
	cmd.Flags().String("tenant", "default", "Tenant to report on")
	cmd.Flags().String("as-of", "", "Reporting date YYYY-MM-DD in BILLING_TIMEZONE (defaults to now)")
	return cmd
}

// seedCmd fills a tenant with generated demo data through the same services
// the API uses.
func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Generate demo patients, invoices and payments for a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			seedCfg := sandbox.DefaultSeedConfig()
			seedCfg.PatientCount, _ = cmd.Flags().GetInt("patients")
			seedCfg.InvoicesPerPatient, _ = cmd.Flags().GetInt("invoices")
			seedCfg.HistoryDays, _ = cmd.Flags().GetInt("days")
			seedCfg.Seed, _ = cmd.Flags().GetInt64("seed")

			ctx := cmd.Context()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			if cfg.IsProduction() {
				return fmt.Errorf("refusing to seed demo data with ENV=production")
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}

			ctx, release, err := db.AcquireTenant(ctx, pool, tenant)
			if err != nil {
				return err
			}
			defer release()

			logger := newLogger(cfg.Env)
			patientSvc := patient.NewService(patient.NewPatientRepoPG(pool))
			billingSvc := newPGBillingServiceWith(pool, patientSvc, logger)
			billingSvc.SetLocation(loc)

			result, err := sandbox.NewSeeder(patientSvc, billingSvc, logger).Seed(ctx, seedCfg, time.Now().In(loc))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded tenant %s: %d patients, %d invoices, %d payments, %d cancelled.\n",
				tenant, result.Patients, result.Invoices, result.Payments, result.Cancelled)
			return nil
		},
	}
	def := sandbox.DefaultSeedConfig()
	cmd.Flags().String("tenant", "default", "Tenant to seed")
	cmd.Flags().Int("patients", def.PatientCount, "Number of patients to register")
	cmd.Flags().Int("invoices", def.InvoicesPerPatient, "Invoices per patient")
	cmd.Flags().Int("days", def.HistoryDays, "Spread invoice dates over this many past days")
	cmd.Flags().Int64("seed", 0, "Random seed (0 picks one from the clock)")
	return cmd
}

func newPGBillingService(pool *pgxpool.Pool, logger zerolog.Logger) *billing.Service {
	return newPGBillingServiceWith(pool, patient.NewService(patient.NewPatientRepoPG(pool)), logger)
}

func newPGBillingServiceWith(pool *pgxpool.Pool, patientSvc *patient.Service, logger zerolog.Logger) *billing.Service {
	return billing.NewService(
		billing.NewInvoiceRepoPG(pool),
		billing.NewPaymentRepoPG(pool),
		billing.NewInvoiceLockerPG(pool),
		NewPatientDirectoryAdapter(patientSvc),
		logger,
	)
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := newLogger(os.Getenv("ENV"))
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg.Env)

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	loc, _ := cfg.Location()

	ctx := context.Background()
	deps := map[string]db.Pinger{}

	var (
		pool       *pgxpool.Pool
		patientSvc *patient.Service
		billingSvc *billing.Service
	)
	switch cfg.StoreBackend {
	case config.StoreMemory:
		logger.Warn().Msg("using in-memory store; data is lost on restart and tenants share one ledger")
		patientSvc = patient.NewService(patient.NewMemoryRepo())
		store := billing.NewMemoryStore()
		billingSvc = billing.NewService(store.Invoices(), store.Payments(), store,
			NewPatientDirectoryAdapter(patientSvc), logger)
	default:
		pool, err = db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		deps["postgres"] = pool
		logger.Info().Msg("connected to database")

		patientSvc = patient.NewService(patient.NewPatientRepoPG(pool))
		billingSvc = newPGBillingServiceWith(pool, patientSvc, logger)
	}
	billingSvc.SetLocation(loc)

	if cfg.RedisURL != "" && !statsCacheEnabled(cfg) {
		logger.Warn().Msg("stats cache disabled: the in-memory store shares one ledger across tenants")
	}
	if statsCacheEnabled(cfg) {
		client, err := cache.Open(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer client.Close()
		statsCache := cache.NewScoped[billing.BillingStats](client, "billing:stats", cfg.StatsCacheTTL)
		billingSvc.SetStatsCache(statsCache)
		deps["redis"] = redisPinger{client}
		logger.Info().Dur("ttl", cfg.StatsCacheTTL).Msg("stats cache enabled")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(middleware.SecurityConfig{HSTS: !cfg.IsDev()}))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, "X-Tenant-ID"},
	}))
	if cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": "0.1.0"})
	})
	e.GET("/health/deps", db.HealthHandler(pool, deps))

	apiV1 := e.Group("/api/v1")
	switch mode := cfg.ResolvedAuthMode(); mode {
	case "development":
		logger.Warn().Msg("development auth: every request without a token is treated as admin")
		apiV1.Use(auth.DevAuthMiddleware())
	default:
		jwtCfg := auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		}
		if mode == "shared" {
			jwtCfg.SigningKey = []byte(cfg.AuthSigningKey)
		}
		apiV1.Use(auth.JWTMiddleware(jwtCfg))
	}
	apiV1.Use(db.TenantMiddleware(pool, cfg.DefaultTenant))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	patient.NewHandler(patientSvc).RegisterRoutes(apiV1)
	billing.NewHandler(billingSvc).RegisterRoutes(apiV1)
	if cfg.IsDev() {
		sandbox.NewSeedHandler(sandbox.NewSeeder(patientSvc, billingSvc, logger)).RegisterRoutes(apiV1)
		logger.Info().Msg("sandbox seeding enabled at POST /api/v1/sandbox/seed")
	}

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("store", cfg.StoreBackend).Str("timezone", loc.String()).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// statsCacheEnabled reports whether statistics may be cached in Redis. Cache
// invalidation is per tenant, which only holds when each tenant has its own
// ledger; the in-memory store shares one.
func statsCacheEnabled(cfg *config.Config) bool {
	return cfg.RedisURL != "" && cfg.StoreBackend != config.StoreMemory
}

type redisPinger struct{ client *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.client.Ping(ctx).Err() }
