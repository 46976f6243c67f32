// cmd/chaos/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"booknet/internal/catalog"
	"booknet/internal/chaos"
	"booknet/internal/circulation"
	"booknet/internal/config"
	"booknet/internal/db"
	"booknet/internal/eventstore"
	"booknet/internal/identity"
	"booknet/internal/logger"
	"booknet/internal/membership"
	"booknet/internal/storage"
)

func main() {
	var (
		envFile     string
		dsn         string
		concurrency int
		duration    time.Duration
		pause       time.Duration
	)

	cmd := &cobra.Command{
		Use:          "chaos",
		Short:        "Run the loan consistency game day against a database",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := config.Load(envFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("database-dsn") {
				opts.DatabaseDSN = dsn
			}

			l := logger.New()
			if err := l.Init(opts.LogLevel); err != nil {
				return err
			}
			log := l.Log
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			conn, err := db.Open(ctx, opts.DatabaseDSN)
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := db.Migrate(ctx, conn); err != nil {
				return err
			}

			users := membership.NewPostgresRepository(conn)
			owner, err := seedUser(ctx, users, "Game", "Owner")
			if err != nil {
				return err
			}
			borrower, err := seedUser(ctx, users, "Game", "Borrower")
			if err != nil {
				return err
			}

			events := eventstore.New()
			books := catalog.NewPostgresRepository(conn, events)
			coverDir, err := os.MkdirTemp("", "booknet-chaos-")
			if err != nil {
				return fmt.Errorf("create cover dir: %w", err)
			}
			defer os.RemoveAll(coverDir)

			engine := chaos.NewEngine(log, time.Second)
			engine.RegisterExperiments(chaos.Fixture{
				Catalog:     catalog.NewService(books, storage.NewFileStore(coverDir, opts.MaxCoverBytes), log),
				Circulation: circulation.NewService(circulation.NewPostgresRepository(conn, events), books, log),
				Auditor:     chaos.NewPostgresAuditor(conn),
				Owner:       owner,
				Borrower:    borrower,
				Concurrency: concurrency,
				Duration:    duration,
			})

			return engine.GameDay(ctx, "Loan consistency game day", pause)
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", ".env", "optional dotenv file")
	cmd.Flags().StringVar(&dsn, "database-dsn", "", "PostgreSQL connection string")
	cmd.Flags().IntVar(&concurrency, "concurrency", 50, "concurrent callers per transition")
	cmd.Flags().DurationVar(&duration, "duration", 10*time.Second, "observation window per experiment")
	cmd.Flags().DurationVar(&pause, "pause", 5*time.Second, "pause between experiments")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// seedUser inserts an enabled account that only exists for the game day.
func seedUser(ctx context.Context, repo *membership.PostgresRepository, first, last string) (identity.Identity, error) {
	u := &membership.User{
		ID:           uuid.New(),
		FirstName:    first,
		LastName:     last,
		Email:        fmt.Sprintf("chaos+%s@booknet.local", uuid.NewString()),
		PasswordHash: "-",
		PasswordSalt: "-",
		Enabled:      true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := repo.CreateUser(ctx, u); err != nil {
		return identity.Identity{}, fmt.Errorf("seed %s %s: %w", first, last, err)
	}
	return identity.Identity{UserID: u.ID, FullName: u.FullName()}, nil
}
