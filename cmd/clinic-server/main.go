package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinic/clinic/internal/config"
	"github.com/clinic/clinic/internal/domain/appointment"
	"github.com/clinic/clinic/internal/domain/billing"
	"github.com/clinic/clinic/internal/domain/payment"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/events"
	"github.com/clinic/clinic/internal/platform/middleware"
	"github.com/clinic/clinic/internal/platform/payos"
	"github.com/clinic/clinic/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinic-server",
		Short: "Clinic billing and payment API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(reconcileCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the clinic API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// migrationFiles returns the embedded schema unless dir points elsewhere.
func migrationFiles(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func openPool(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
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
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrationFiles(dir)).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default: embedded)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationFiles(dir)).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default: embedded)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Settle stale pending payments against the gateway (one sweep)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			logger := newLogger(cfg.Env)

			app, err := newApp(cfg, pool, logger)
			if err != nil {
				return err
			}
			defer app.events.Close()

			report, err := payment.NewReconciler(app.txns, app.orch, logger, cfg.ReconcileStaleAfter, cfg.ReconcileBatchSize).Run(ctx)
			if err != nil {
				return fmt.Errorf("reconcile failed: %w", err)
			}
			out, _ := json.Marshal(report)
			fmt.Println(string(out))
			return nil
		},
	}
}

// app holds the wired domain services shared by serve and reconcile.
type app struct {
	billing *billing.Service
	txns    payment.TransactionRepository
	orch    *payment.Orchestrator
	events  events.Publisher
}

// newGateway builds the PayOS client. Development without credentials gets a
// disabled gateway; everywhere else Validate has already required them.
func newGateway(cfg *config.Config, logger zerolog.Logger) (payment.Gateway, error) {
	pcfg := payos.Config{
		BaseURL:     cfg.PayOSBaseURL,
		ClientID:    cfg.PayOSClientID,
		APIKey:      cfg.PayOSAPIKey,
		ChecksumKey: cfg.PayOSChecksumKey,
	}
	if cfg.IsDev() && !pcfg.Configured() {
		logger.Warn().Msg("PayOS credentials not set, online payments disabled")
		return payos.Disabled{}, nil
	}
	gateway, err := payos.New(pcfg, payos.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("payment gateway: %w", err)
	}
	return gateway, nil
}

func newApp(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (*app, error) {
	gateway, err := newGateway(cfg, logger)
	if err != nil {
		return nil, err
	}

	tx := db.NewTxManager(pool)
	bills := billing.NewBillRepoPG(pool)
	txns := payment.NewTransactionRepoPG(pool)
	pub := events.FromConfig(strings.Join(cfg.KafkaBrokers, ","), cfg.KafkaTopic)

	orch := payment.NewOrchestrator(bills, payment.NewLedger(txns), gateway, tx, pub, logger, payment.Config{
		ReturnURLBase:  cfg.PaymentReturnURLBase,
		GatewayTimeout: cfg.GatewayTimeout,
	})
	return &app{
		billing: billing.NewService(bills, tx, appointment.NewRepoPG(pool)),
		txns:    txns,
		orch:    orch,
		events:  pub,
	}, nil
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	if cfg.IsDev() {
		return auth.DevAuthMiddleware()
	}
	return auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
	})
}

// newServer mounts every route. The webhook group carries no auth middleware;
// the gateway authenticates with the payload checksum instead.
func newServer(cfg *config.Config, logger zerolog.Logger, pinger db.Pinger, billingH *billing.Handler, paymentH *payment.Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	if cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}

	e.GET("/health", db.HealthHandler(pinger, version))

	public := e.Group("/api/payments")
	api := e.Group("/api/payments", authMiddleware(cfg))
	billingH.RegisterRoutes(api)
	paymentH.RegisterRoutes(api, public)
	return e
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.IsDev() {
		logger.Warn().Msg("development mode: unauthenticated requests are treated as admin; do not use in production")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	app, err := newApp(cfg, pool, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to wire services")
	}
	defer app.events.Close()
	if cfg.EventsEnabled() {
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("payment events enabled")
	}

	e := newServer(cfg, logger, pool, billing.NewHandler(app.billing), payment.NewHandler(app.orch))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
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
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
