package main

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "github.com/lib/pq"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/marketsync/backend/internal/infrastructure/config"
	"github.com/marketsync/backend/internal/infrastructure/logger"
	"github.com/marketsync/backend/internal/infrastructure/migration"
)

const defaultMigrationsPath = "migrations"

func main() {
	app := &cli.App{
		Name:  "migrate",
		Usage: "manage the MarketSync database schema",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Usage: "migrations directory, the embedded schema when empty"},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "debug, info, warn or error"},
		},
		Commands: []*cli.Command{
			{
				Name:  "up",
				Usage: "apply all pending migrations",
				Action: withMigrator(func(_ *cli.Context, m *migration.Migrator, _ *zap.Logger) error {
					return m.Up()
				}),
			},
			{
				Name:  "down",
				Usage: "roll back all migrations",
				Action: withMigrator(func(_ *cli.Context, m *migration.Migrator, _ *zap.Logger) error {
					return m.Down()
				}),
			},
			{
				Name:      "step",
				Usage:     "apply n migrations (negative rolls back)",
				ArgsUsage: "<n>",
				Action: withMigrator(func(c *cli.Context, m *migration.Migrator, _ *zap.Logger) error {
					n, err := strconv.Atoi(c.Args().First())
					if err != nil {
						return fmt.Errorf("invalid step count %q", c.Args().First())
					}
					return m.Steps(n)
				}),
			},
			{
				Name:      "goto",
				Usage:     "migrate to a specific version",
				ArgsUsage: "<version>",
				Action: withMigrator(func(c *cli.Context, m *migration.Migrator, _ *zap.Logger) error {
					v, err := strconv.ParseUint(c.Args().First(), 10, 32)
					if err != nil {
						return fmt.Errorf("invalid version %q", c.Args().First())
					}
					return m.GoTo(uint(v))
				}),
			},
			{
				Name:  "version",
				Usage: "show the applied version and pending count",
				Action: withMigrator(func(_ *cli.Context, m *migration.Migrator, log *zap.Logger) error {
					st, err := m.Status()
					if err != nil {
						return err
					}
					log.Info("Schema status",
						zap.Uint("version", st.Version),
						zap.Uint("latest", st.Latest),
						zap.Int("pending", st.Pending),
						zap.Bool("dirty", st.Dirty),
					)
					return nil
				}),
			},
			{
				Name:      "force",
				Usage:     "set the version without running migrations",
				ArgsUsage: "<version>",
				Action: withMigrator(func(c *cli.Context, m *migration.Migrator, log *zap.Logger) error {
					v, err := strconv.Atoi(c.Args().First())
					if err != nil {
						return fmt.Errorf("invalid version %q", c.Args().First())
					}
					log.Warn("Forcing migration version", zap.Int("version", v))
					return m.Force(v)
				}),
			},
			{
				Name:  "drop",
				Usage: "drop every table",
				Flags: []cli.Flag{&cli.BoolFlag{Name: "confirm", Usage: "required"}},
				Action: withMigrator(func(c *cli.Context, m *migration.Migrator, _ *zap.Logger) error {
					if !c.Bool("confirm") {
						return errors.New("drop cancelled, pass --confirm")
					}
					return m.Drop()
				}),
			},
			{
				Name:      "create",
				Usage:     "create an up/down migration pair",
				ArgsUsage: "<name> [description]",
				Action: func(c *cli.Context) error {
					if c.NArg() < 1 {
						return errors.New("migration name required")
					}
					log, err := newLogger(c)
					if err != nil {
						return err
					}
					dir, err := migrationsDir(c)
					if err != nil {
						return err
					}
					mf, err := migration.CreateMigration(dir, c.Args().Get(0), c.Args().Get(1))
					if err != nil {
						return err
					}
					log.Info("Migration created",
						zap.String("version", mf.Version),
						zap.String("up_file", mf.UpPath),
						zap.String("down_file", mf.DownPath),
					)
					return nil
				},
			},
			{
				Name:  "list",
				Usage: "list migration files",
				Action: func(c *cli.Context) error {
					dir, err := migrationsDir(c)
					if err != nil {
						return err
					}
					names, err := migration.ListMigrations(dir)
					if err != nil {
						return err
					}
					for _, n := range names {
						fmt.Fprintln(c.App.Writer, "  -", n)
					}
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}

func newLogger(c *cli.Context) (*zap.Logger, error) {
	return logger.New(&logger.Config{
		Level:      c.String("log-level"),
		Format:     "console",
		Output:     "stdout",
		TimeFormat: "2006-01-02 15:04:05",
	})
}

// migrationsDir resolves --path for commands that write or list files
func migrationsDir(c *cli.Context) (string, error) {
	p := c.String("path")
	if p == "" {
		p = defaultMigrationsPath
	}
	return filepath.Abs(p)
}

// withMigrator opens the configured database and hands a migrator to fn
func withMigrator(fn func(*cli.Context, *migration.Migrator, *zap.Logger) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		log, err := newLogger(c)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync(log) }()

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		dir := c.String("path")
		if dir != "" {
			if dir, err = filepath.Abs(dir); err != nil {
				return err
			}
		}

		db, err := sql.Open("postgres", cfg.Database.DSN())
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.PingContext(c.Context); err != nil {
			return fmt.Errorf("ping database: %w", err)
		}

		m, err := migration.New(db, dir, log)
		if err != nil {
			return err
		}
		defer m.Close()

		log.Info("Running migration command", zap.String("command", c.Command.Name))
		return fn(c, m, log)
	}
}
