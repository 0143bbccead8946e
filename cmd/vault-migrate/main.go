// Command vault-migrate re-encrypts every identity vault record from the
// retired master key to the current one. Run it with the server stopped.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"aegis/internal/platform/config"
	"aegis/internal/platform/logger"
	"aegis/internal/platform/postgres"
	"aegis/internal/secrets"
	"aegis/internal/vault/keyring"
	vaultmetrics "aegis/internal/vault/metrics"
	vaultservice "aegis/internal/vault/service"
	vaultstore "aegis/internal/vault/store"
	audit "aegis/pkg/platform/audit"
	"aegis/pkg/platform/audit/publishers/compliance"
	auditbadger "aegis/pkg/platform/audit/store/badger"
	auditpostgres "aegis/pkg/platform/audit/store/postgres"
	txcontext "aegis/pkg/platform/tx"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("vault migration failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	if cfg.Postgres.URL == "" {
		return errors.New("DATABASE_URL is required: in-memory vaults have nothing to migrate")
	}
	if cfg.Vault.PreviousKeyVersion < 1 {
		return errors.New("VAULT_PREVIOUS_KEY_VERSION is required")
	}

	// Both keys must come from the secret source; no ephemeral fallback.
	current, err := secrets.LoadMasterKey(cfg.Vault, false, log)
	if err != nil {
		return fmt.Errorf("load current master key: %w", err)
	}
	previous, err := secrets.LoadMasterKey(cfg.Vault.Previous(), false, log)
	if err != nil {
		return fmt.Errorf("load previous master key: %w", err)
	}
	to, err := keyring.New(current, cfg.Vault.KeyVersion)
	if err != nil {
		return err
	}
	from, err := keyring.New(previous, cfg.Vault.PreviousKeyVersion)
	if err != nil {
		return err
	}

	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()

	var auditStore audit.Store = auditpostgres.New(db)
	if len(cfg.Kafka.Brokers) == 0 {
		// Nothing relays the outbox here; write straight to the chained log.
		chain, err := auditbadger.Open(cfg.Audit.BadgerDir)
		if err != nil {
			return err
		}
		defer chain.Close()
		auditStore = chain
	}

	svc := vaultservice.New(vaultstore.NewPostgres(db), to,
		compliance.New(auditStore, compliance.WithLogger(log)),
		vaultservice.WithLogger(log),
		vaultservice.WithMetrics(vaultmetrics.New()),
		vaultservice.WithTxRunner(txcontext.SQLRunner{DB: db}),
	)

	log.Info("starting vault key migration", "from_version", from.Version(), "to_version", to.Version())
	report, err := svc.Migrate(ctx, from)
	if err != nil {
		return err
	}
	log.Info("vault key migration complete", "migrated", report.Migrated, "skipped", report.Skipped)
	return nil
}
