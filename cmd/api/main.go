// Package main runs the booknet API: account activation, book listings and
// the borrow, return and approve loan workflow.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"booknet/internal/auth"
	"booknet/internal/catalog"
	"booknet/internal/circulation"
	"booknet/internal/config"
	"booknet/internal/db"
	"booknet/internal/eventstore"
	"booknet/internal/logger"
	"booknet/internal/membership"
	"booknet/internal/notify"
	"booknet/internal/server"
	"booknet/internal/storage"
	"booknet/internal/telemetry"
)

// version is set via ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string
	opts := config.Defaults()

	root := &cobra.Command{
		Use:           "booknet",
		Short:         "Book sharing API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(envFile)
			if err != nil {
				return err
			}
			// Flags set on the command line win over the environment.
			flags := cmd.Flags()
			if flags.Changed("addr") {
				loaded.Addr = opts.Addr
			}
			if flags.Changed("database-dsn") {
				loaded.DatabaseDSN = opts.DatabaseDSN
			}
			if flags.Changed("log-level") {
				loaded.LogLevel = opts.LogLevel
			}
			*opts = *loaded
			return nil
		},
	}

	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file")
	root.PersistentFlags().StringVar(&opts.Addr, "addr", opts.Addr, "HTTP listen address")
	root.PersistentFlags().StringVar(&opts.DatabaseDSN, "database-dsn", opts.DatabaseDSN, "PostgreSQL connection string")
	root.PersistentFlags().StringVar(&opts.LogLevel, "log-level", opts.LogLevel, "log level")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP server",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return serve(cmd.Context(), opts)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Create the database schema",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return migrate(cmd.Context(), opts)
			},
		},
	)
	return root
}

func newLogger(level string) (*zap.Logger, error) {
	l := logger.New()
	if err := l.Init(level); err != nil {
		return nil, err
	}
	return l.Log, nil
}

func migrate(ctx context.Context, opts *config.Options) error {
	log, err := newLogger(opts.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	conn, err := db.Open(ctx, opts.DatabaseDSN)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := db.Migrate(ctx, conn); err != nil {
		return err
	}
	log.Info("schema up to date")
	return nil
}

func serve(ctx context.Context, opts *config.Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}

	log, err := newLogger(opts.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, "booknet", version, opts.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			log.Warn("failed to flush telemetry", zap.Error(err))
		}
	}()

	conn, err := db.Open(ctx, opts.DatabaseDSN)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := db.Migrate(ctx, conn); err != nil {
		return err
	}

	var sender notify.Sender = notify.LogSender{Log: log}
	if opts.SMTPAddr != "" {
		sender = notify.NewResilientSender(notify.NewSMTPSender(opts.SMTPAddr, opts.MailFrom, opts.SMTPUser, opts.SMTPPassword))
	}
	mailer := notify.NewMailer(sender, log, opts.ActivationURL)
	defer mailer.Wait()

	events := eventstore.New()
	tokens := auth.NewTokenIssuer(opts.JWTSecret, opts.JWTTTL)
	books := catalog.NewPostgresRepository(conn, events)

	handlers := server.Handlers{
		Membership: membership.NewHandler(
			membership.NewService(membership.NewPostgresRepository(conn), mailer, tokens, log, opts.AuthRatePerMinute),
			log,
		),
		Catalog: catalog.NewHandler(
			catalog.NewService(books, storage.NewFileStore(opts.UploadDir, opts.MaxCoverBytes), log),
			log,
			opts.MaxCoverBytes,
		),
		Circulation: circulation.NewHandler(
			circulation.NewService(circulation.NewPostgresRepository(conn, events), books, log),
			log,
		),
	}

	srv := &http.Server{
		Addr:    opts.Addr,
		Handler: server.NewRouter(handlers, tokens, log),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("addr", opts.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	log.Info("server shut down")
	return nil
}
