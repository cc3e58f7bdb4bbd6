package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"fivesteps.org/internal/config"
	"fivesteps.org/internal/migrate"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		dsn     string
		timeout time.Duration
	)
	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Manage the fivesteps PostgreSQL schema",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&dsn, "dsn", "", "PostgreSQL DSN (defaults to database.dsn from config)")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "overall deadline")

	run := func(fn func(ctx context.Context, cmd *cobra.Command, mgr *migrate.Manager) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			if dsn == "" {
				db, err := config.LoadDatabase()
				if err != nil {
					return err
				}
				dsn = db.DSN
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			db, err := sql.Open("pgx", dsn)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer db.Close()

			migrations, seeds := migrate.Bundled()
			return fn(ctx, cmd, migrate.NewManager(db, migrations, seeds))
		}
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, cmd *cobra.Command, mgr *migrate.Manager) error {
				applied, err := mgr.Up(ctx)
				printNames(cmd, "applied", applied)
				return err
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Revert the latest migration",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, cmd *cobra.Command, mgr *migrate.Manager) error {
				name, err := mgr.Down(ctx)
				if err != nil {
					return err
				}
				cmd.Printf("reverted %s\n", name)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "seed",
			Short: "Load reference data",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, cmd *cobra.Command, mgr *migrate.Manager) error {
				applied, err := mgr.Seed(ctx)
				printNames(cmd, "seeded", applied)
				return err
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied migrations",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, cmd *cobra.Command, mgr *migrate.Manager) error {
				history, err := mgr.Status(ctx)
				if err != nil {
					return err
				}
				for _, name := range history {
					cmd.Println(name)
				}
				return nil
			}),
		},
	)
	return root
}

func printNames(cmd *cobra.Command, verb string, names []string) {
	if len(names) == 0 {
		cmd.Printf("nothing %s\n", verb)
		return
	}
	for _, n := range names {
		cmd.Printf("%s %s\n", verb, n)
	}
}
