package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/marketsync/backend/internal/bootstrap"
	"github.com/marketsync/backend/internal/domain/integration"
	"github.com/marketsync/backend/internal/infrastructure/config"
)

const closeTimeout = 30 * time.Second

func main() {
	app := &cli.App{
		Name:  "syncctl",
		Usage: "operate marketplace synchronization outside the HTTP server",
		Commands: []*cli.Command{
			{
				Name:   "reconcile",
				Usage:  "run one reconciliation sweep now",
				Action: withContainer(reconcile),
			},
			{
				Name:   "purge-dedup",
				Usage:  "delete webhook dedup entries older than the retention window",
				Action: withContainer(purgeDedup),
			},
			{
				Name:  "resync",
				Usage: "force a full resync of one connection on the next sweep",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Required: true, Usage: "owning user ID"},
					&cli.StringFlag{Name: "marketplace", Required: true, Usage: "e.g. shopify"},
				},
				Action: withContainer(resync),
			},
			{
				Name:  "sync",
				Usage: "synchronize one connection immediately",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "connection", Required: true, Usage: "connection ID"},
				},
				Action: withContainer(syncOne),
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "syncctl:", err)
		os.Exit(1)
	}
}

type action func(*cli.Context, *bootstrap.Container) error

// withContainer loads config and builds a container with cron jobs disabled
func withContainer(fn action) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		ctr, err := bootstrap.New(c.Context, cfg, bootstrap.WithCron(false))
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			defer cancel()
			if err := ctr.Close(ctx); err != nil {
				fmt.Fprintln(os.Stderr, "syncctl: close:", err)
			}
		}()
		return fn(c, ctr)
	}
}

func reconcile(c *cli.Context, ctr *bootstrap.Container) error {
	report, err := ctr.Scheduler.RunSweep(c.Context)
	if err != nil {
		return err
	}
	snap := report.Snapshot()
	ctr.Logger.Info("Sweep finished",
		zap.String("sweep_id", snap.ID.String()),
		zap.Int("slot", snap.Slot),
		zap.Int("candidates", snap.Candidates),
		zap.Int("selected", snap.Selected),
		zap.Int("forced", snap.Forced),
		zap.Int("completed", snap.Completed),
		zap.Int("failed", snap.Failed),
		zap.Int("timed_out", snap.TimedOut),
		zap.Int("deferred", snap.Deferred),
		zap.Duration("duration", snap.FinishedAt.Sub(snap.StartedAt)),
	)
	if snap.Failed > 0 {
		return cli.Exit(fmt.Sprintf("%d connection(s) failed", snap.Failed), 2)
	}
	return nil
}

func purgeDedup(c *cli.Context, ctr *bootstrap.Container) error {
	n, err := ctr.Scheduler.PurgeDedup(c.Context)
	if err != nil {
		return err
	}
	ctr.Logger.Info("Dedup entries purged", zap.Int64("deleted", n))
	return nil
}

func resync(c *cli.Context, ctr *bootstrap.Container) error {
	userID, err := uuid.Parse(c.String("user"))
	if err != nil {
		return fmt.Errorf("invalid --user: %w", err)
	}
	m, err := integration.ParseMarketplace(c.String("marketplace"))
	if err != nil {
		return err
	}
	if err := ctr.ConnectionSvc.RequestResync(c.Context, userID, m); err != nil {
		return err
	}
	ctr.Logger.Info("Resync requested", zap.String("user_id", userID.String()), zap.String("marketplace", m.String()))
	return nil
}

func syncOne(c *cli.Context, ctr *bootstrap.Container) error {
	id, err := uuid.Parse(c.String("connection"))
	if err != nil {
		return fmt.Errorf("invalid --connection: %w", err)
	}
	res, err := ctr.Reconciliation.SyncByID(c.Context, id, integration.SyncTriggerManual)
	if err != nil {
		return err
	}
	ctr.Logger.Info("Connection synchronized",
		zap.String("connection_id", id.String()),
		zap.Int("orders", res.Orders),
		zap.Int("products", res.Products),
		zap.Int("skipped", res.Skipped),
		zap.Bool("full_pull", res.FullPull),
		zap.Bool("cursor_advanced", res.CursorAdvanced),
	)
	return nil
}
