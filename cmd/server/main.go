package main // Entry point package

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bini59/kiko-vooster/internal/config"
	"github.com/bini59/kiko-vooster/internal/database"
	"github.com/bini59/kiko-vooster/internal/repository"
	"github.com/bini59/kiko-vooster/internal/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "server",
		Short:        "Sentence sync mapping and real-time collaboration server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	root.AddCommand(newServeCmd(), newMigrateCmd(), newTokenCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema for the configured DB_DRIVER",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			log := config.NewLogger(cfg.LogLevel, cfg.LogFormat)
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := database.Migrate(ctx, db, cfg.DBDriver); err != nil {
				return err
			}
			log.WithField("driver", cfg.DBDriver).Info("schema applied")
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	var (
		sub   string
		email string
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if sub == "" && email == "" {
				return fmt.Errorf("one of --sub or --email is required")
			}
			if sub == "" {
				// look the user up so the token carries a real id
				db, err := openDB(cfg)
				if err != nil {
					return err
				}
				defer db.Close()
				u, err := repository.NewUserRepo(db).GetByEmail(cmd.Context(), email)
				if err != nil {
					return fmt.Errorf("lookup %s: %w", email, err)
				}
				sub = u.ID
			}
			tok, err := utils.NewAccessToken(cfg.JWTSecret, sub, email, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok.Token)
			return nil
		},
	}
	cmd.Flags().StringVar(&sub, "sub", "", "user id to put in the sub claim")
	cmd.Flags().StringVar(&email, "email", "", "resolve the user id from this email")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

// openDB connects to the configured driver.
func openDB(cfg config.Config) (*sql.DB, error) {
	switch cfg.DBDriver {
	case database.DriverMySQL:
		return database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	case database.DriverSQLite:
		return database.OpenSQLite(cfg.DBPath)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
}
