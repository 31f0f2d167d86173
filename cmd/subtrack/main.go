package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/spf13/cobra"
	"github.com/subtrackhq/subtrack/internal/bootstrap"
	"github.com/subtrackhq/subtrack/internal/catalog"
	"github.com/subtrackhq/subtrack/internal/clock"
	"github.com/subtrackhq/subtrack/internal/config"
	"github.com/subtrackhq/subtrack/internal/idempotency"
	"github.com/subtrackhq/subtrack/internal/migration"
	"github.com/subtrackhq/subtrack/internal/observability"
	"github.com/subtrackhq/subtrack/internal/payment"
	"github.com/subtrackhq/subtrack/internal/quota"
	"github.com/subtrackhq/subtrack/internal/receipt"
	receiptdomain "github.com/subtrackhq/subtrack/internal/receipt/domain"
	"github.com/subtrackhq/subtrack/internal/redis"
	"github.com/subtrackhq/subtrack/internal/scheduler"
	"github.com/subtrackhq/subtrack/internal/security/vault"
	"github.com/subtrackhq/subtrack/internal/server"
	"github.com/subtrackhq/subtrack/internal/subscription"
	"github.com/subtrackhq/subtrack/pkg/confirm"
	"github.com/subtrackhq/subtrack/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "subtrack",
		Short:        "Subscription billing reconciler",
		Version:      readVersionFromEnv(),
		SilenceUsage: true,
	}
	root.AddCommand(newMigrateCmd(), newServeCmd(), newSchedulerCmd(), newAllCmd(), newConfirmCmd(), newReceiptAuditCmd())
	return root
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations, seed tiers and activate the schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate()
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and webhook receiver",
		RunE: func(cmd *cobra.Command, args []string) error {
			fx.New(baseOptions(), server.Module).Run()
			return nil
		},
	}
}

func newSchedulerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run retention and grace period jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			fx.New(baseOptions(), scheduler.Module, fx.Invoke(scheduler.Start)).Run()
			return nil
		},
	}
}

func newAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Run migrations, then the API and scheduler in one process",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runMigrate(); err != nil {
				return err
			}
			fx.New(
				baseOptions(),
				server.Module,
				scheduler.Module,
				fx.Invoke(scheduler.Start),
			).Run()
			return nil
		},
	}
}

func newConfirmCmd() *cobra.Command {
	var (
		baseURL  string
		token    string
		attempts int
		delay    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "confirm",
		Short: "Poll the entitlement endpoint until premium shows up",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			poller := confirm.NewPoller(
				confirm.NewAPISource(baseURL, token, &http.Client{Timeout: 10 * time.Second}),
				confirm.WithAttempts(attempts),
				confirm.WithDelay(delay),
				confirm.WithLogger(log),
			)
			res := poller.Run(cmd.Context())

			out := cmd.OutOrStdout()
			if res.Confirmed {
				fmt.Fprintf(out, "premium confirmed after %d attempts (%s)\n", res.Attempts, res.Elapsed.Round(time.Millisecond))
				return nil
			}
			fmt.Fprintf(out, "premium not confirmed after %d attempts (%s); the webhook may still be in flight\n",
				res.Attempts, res.Elapsed.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", envOr("SUBTRACK_API_URL", "http://localhost:8080"), "API base URL")
	cmd.Flags().StringVar(&token, "token", os.Getenv("SUBTRACK_TOKEN"), "bearer token for the user")
	cmd.Flags().IntVar(&attempts, "attempts", 7, "maximum number of entitlement reads")
	cmd.Flags().DurationVar(&delay, "delay", 1500*time.Millisecond, "wait before each read")
	return cmd
}

func newReceiptAuditCmd() *cobra.Command {
	var transactionID string
	cmd := &cobra.Command{
		Use:   "receipt-audit",
		Short: "Print an audited store receipt with its blob decrypted",
		RunE: func(cmd *cobra.Command, args []string) error {
			var svc receiptdomain.Service
			app := fx.New(baseOptions(), fx.Populate(&svc), fx.NopLogger)

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			if err := app.Start(ctx); err != nil {
				return err
			}
			defer func() { _ = app.Stop(context.Background()) }()

			audited, err := svc.AuditedReceipt(ctx, transactionID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if audited == nil {
				fmt.Fprintf(out, "transaction %s was never audited\n", transactionID)
				return nil
			}
			tx := audited.Transaction
			fmt.Fprintf(out, "transaction:  %s (original %s)\n", tx.TransactionID, tx.OriginalTransactionID)
			fmt.Fprintf(out, "user:         %s\n", tx.UserID)
			fmt.Fprintf(out, "product:      %s [%s]\n", tx.ProductID, tx.Environment)
			fmt.Fprintf(out, "period:       %s .. %s\n", tx.PurchasedAt.Format(time.RFC3339), tx.ExpiresAt.Format(time.RFC3339))
			fmt.Fprintf(out, "receipt-data: %s\n", audited.ReceiptData)
			return nil
		},
	}
	cmd.Flags().StringVar(&transactionID, "transaction-id", "", "store transaction id")
	_ = cmd.MarkFlagRequired("transaction-id")
	return cmd
}

func runMigrate() error {
	app := fx.New(
		config.Module,
		observability.Module,
		db.Module,
		migration.Module,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("migrate failed: %w", err)
	}
	_ = app.Stop(context.Background())
	return nil
}

// baseOptions wires everything the API and the scheduler share.
func baseOptions() fx.Option {
	return fx.Options(
		config.Module,
		fx.Invoke(validateBillingConfig),
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		bootstrap.Module,
		clock.Module,
		redis.Module,
		vault.Module,
		catalog.Module,
		idempotency.Module,
		subscription.Module,
		payment.Module,
		receipt.Module,
		quota.Module,
	)
}

func validateBillingConfig(cfg config.Config) error {
	return cfg.Billing.Validate()
}

func registerSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}

func readVersionFromEnv() string {
	if v := strings.TrimSpace(os.Getenv("APP_VERSION")); v != "" {
		return v
	}
	return "dev"
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
