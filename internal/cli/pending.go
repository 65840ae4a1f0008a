package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/angelmondragon/apexlabs-backend/internal/cron"
	"github.com/angelmondragon/apexlabs-backend/internal/orders"
	"github.com/angelmondragon/apexlabs-backend/internal/pendingsync"
	"github.com/angelmondragon/apexlabs-backend/pkg/config"
	"github.com/angelmondragon/apexlabs-backend/pkg/db"
	"github.com/angelmondragon/apexlabs-backend/pkg/migrate"
	"github.com/angelmondragon/apexlabs-backend/pkg/outbox"
	"github.com/angelmondragon/apexlabs-backend/pkg/redis"
)

// NewPendingCommand lists the orders waiting in the outbox.
func NewPendingCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List orders queued in the fallback outbox",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.LoadConfig()
			if err != nil {
				return err
			}
			queue, err := openQueue(cfg)
			if err != nil {
				return err
			}
			entries, err := queue.ListAll(cmd.Context())
			if err != nil {
				return err
			}
			if entries == nil {
				entries = []outbox.Entry{}
			}

			out := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				return writeJSON(out, map[string]any{"path": queue.Path(), "entries": entries})
			}
			if len(entries) == 0 {
				fmt.Fprintf(out, "no pending orders in %s\n", queue.Path())
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{e.OrderNumber, e.CreatedAt.UTC().Format(time.RFC3339), strconv.Itoa(len(e.Payload))})
			}
			return writeTable(out, []string{"ORDER", "QUEUED AT", "BYTES"}, rows)
		},
	}
}

// NewSyncPendingCommand drains the outbox into the order store from this host.
func NewSyncPendingCommand(rootOpts *RootOptions) *cobra.Command {
	var useLock bool

	cmd := &cobra.Command{
		Use:   "sync-pending",
		Short: "Insert queued orders into the store and remove the synced ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.LoadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			logg := commandLogger(rootOpts, cmd, cfg)

			queue, err := openQueue(cfg)
			if err != nil {
				return err
			}
			dbClient, err := db.New(ctx, cfg.DB, logg)
			if err != nil {
				return err
			}
			defer dbClient.Close()
			if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
				return err
			}

			params := pendingsync.Params{
				Queue:        queue,
				Orders:       orders.NewRepository(dbClient.DB()),
				Logger:       logg,
				WriteTimeout: cfg.DB.WriteTimeout,
				DrainTimeout: cfg.PendingSync.DrainTimeout,
			}
			if useLock {
				redisClient, err := redis.New(ctx, cfg.Redis, logg)
				if err != nil {
					return err
				}
				defer redisClient.Close()
				lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("pending-sync"), cfg.PendingSync.LockTTL)
				if err != nil {
					return err
				}
				params.Lock = lock
			}

			reconciler, err := pendingsync.New(params)
			if err != nil {
				return err
			}
			report, err := reconciler.Drain(ctx)
			if err != nil {
				return err
			}
			return printReport(cmd, rootOpts, report)
		},
	}

	cmd.Flags().BoolVar(&useLock, "lock", true, "take the shared redis drain lock")
	return cmd
}

func printReport(cmd *cobra.Command, opts *RootOptions, report pendingsync.Report) error {
	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		return writeJSON(out, report)
	}
	fmt.Fprintf(out, "synced %d, failed %d, remaining %d\n", report.Synced, len(report.Failures), report.Remaining)
	for _, f := range report.Failures {
		fmt.Fprintf(out, "  %s: %s\n", f.OrderNumber, f.Error)
	}
	return nil
}

func openQueue(cfg *config.Config) (*outbox.Queue, error) {
	return outbox.New(outbox.Options{
		Path:        cfg.Outbox.FilePath,
		LockTimeout: cfg.Outbox.LockTimeout,
		LockRetry:   cfg.Outbox.LockRetry,
	})
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
