package cli

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/angelmondragon/apexlabs-backend/pkg/db"
	"github.com/angelmondragon/apexlabs-backend/pkg/security"
)

const storeProbeTimeout = 3 * time.Second

type storeStatus struct {
	OK          bool   `json:"ok"`
	LatencyMs   int64  `json:"latency_ms"`
	Error       string `json:"error,omitempty"`
	OutboxDepth int    `json:"outbox_depth"`
}

// NewStoreStatusCommand checks the order store and reports the outbox depth.
// It exits non-zero when the store is unreachable.
func NewStoreStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "store-status",
		Short: "Ping the order store and count queued orders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.LoadConfig()
			if err != nil {
				return err
			}
			logg := commandLogger(rootOpts, cmd, cfg)
			status := storeStatus{}

			queue, err := openQueue(cfg)
			if err != nil {
				return err
			}
			if status.OutboxDepth, err = queue.Len(cmd.Context()); err != nil {
				return err
			}

			ctx, cancel := withTimeout(cmd.Context(), storeProbeTimeout)
			defer cancel()
			start := time.Now()
			dbClient, err := db.New(ctx, cfg.DB, logg)
			if err == nil {
				err = dbClient.Ping(ctx)
				_ = dbClient.Close()
			}
			status.LatencyMs = time.Since(start).Milliseconds()
			status.OK = err == nil
			if err != nil {
				status.Error = err.Error()
			}

			out := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				if werr := writeJSON(out, status); werr != nil {
					return werr
				}
			} else if status.OK {
				fmt.Fprintf(out, "store ok (%dms), %d pending\n", status.LatencyMs, status.OutboxDepth)
			} else {
				fmt.Fprintf(out, "store unavailable after %dms: %s; %d pending\n", status.LatencyMs, status.Error, status.OutboxDepth)
			}
			if !status.OK {
				return fmt.Errorf("order store unavailable")
			}
			return nil
		},
	}
}

// NewHashPasswordCommand prints an argon2id hash for APEX_ADMIN_PASSWORD_HASH.
func NewHashPasswordCommand(rootOpts *RootOptions) *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Hash an admin password (reads stdin when --password is empty)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.LoadConfig()
			if err != nil {
				return err
			}
			if password == "" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			hash, err := security.HashPassword(password, cfg.Password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "plaintext password")
	return cmd
}
