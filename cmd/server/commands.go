package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/iliyamo/library-circulation/internal/database"
	"github.com/iliyamo/library-circulation/internal/middleware"
	"github.com/iliyamo/library-circulation/internal/utils"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run only the notification dispatcher",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			if a.cfg.Store == "memory" {
				a.log.Warnf("worker with STORE=memory only sees jobs enqueued by this process")
			}
			return a.dispatcher.Run(ctx)
		},
	}
}

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "sweep reservations|overdue",
		Short:     "Run one reservation expiry sweep or overdue scan and exit",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"reservations", "overdue"},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			var out any
			switch args[0] {
			case "reservations":
				out, err = a.queueSvc.ExpireStaleReservations(ctx)
			case "overdue":
				out, err = a.scanner.Scan(ctx)
			default:
				return fmt.Errorf("unknown sweep %q", args[0])
			}
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the MySQL tables if they do not exist",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, l, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Store != "mysql" {
				return errors.New("migrate needs STORE=mysql")
			}
			db, err := database.Open(cfg.DB.User, cfg.DB.Pass, cfg.DB.Host, cfg.DB.Port, cfg.DB.Name)
			if err != nil {
				return fmt.Errorf("connect mysql: %w", err)
			}
			defer db.Close()
			if err := database.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			l.Infof("schema is up to date (%d statements)", len(database.Statements()))
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed access token for local testing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET is not set")
			}
			switch role {
			case middleware.RoleLibrarian, middleware.RoleBorrower:
			default:
				return fmt.Errorf("role must be %s or %s", middleware.RoleLibrarian, middleware.RoleBorrower)
			}
			tok, err := utils.NewAccessToken(cfg.JWTSecret, subject, role, ttl)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"token": tok.Token, "expiresAt": tok.Exp})
		},
	}
	cmd.Flags().StringVar(&subject, "sub", "", "borrower or staff id")
	cmd.Flags().StringVar(&role, "role", middleware.RoleBorrower, "LIBRARIAN or BORROWER")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
