package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/angelmondragon/apexlabs-backend/internal/viewstate"
	"github.com/angelmondragon/apexlabs-backend/pkg/db/models"
)

// NewWatchCommand follows the admin order list the way the dashboard does:
// periodic fetches merged with the live change stream.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		baseURL string
		token   string
		once    bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the admin order list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.LoadConfig()
			if err != nil {
				return err
			}
			if baseURL == "" {
				baseURL = cfg.Viewer.BaseURL
			}
			if token == "" {
				token = cfg.Viewer.Token
			}
			client, err := viewstate.NewClient(baseURL, token,
				viewstate.WithStreamTimeouts(cfg.Stream.ConnectTimeout, 2*cfg.Stream.Heartbeat))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			render := func(list []models.Order) {
				if err := renderOrders(out, rootOpts.Format, list); err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), err)
				}
			}
			view := viewstate.NewView()
			viewer, err := viewstate.NewViewer(viewstate.ViewerParams{
				API:          client,
				View:         view,
				Logger:       commandLogger(rootOpts, cmd, cfg),
				PollInterval: cfg.Viewer.PollInterval,
				OnChange:     render,
			})
			if err != nil {
				return err
			}

			if once {
				return viewer.Refresh(cmd.Context())
			}
			if err := viewer.Run(cmd.Context()); err != nil && !errors.Is(err, cmd.Context().Err()) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&baseURL, "url", "", "admin api base url (default APEX_VIEWER_BASE_URL)")
	cmd.Flags().StringVar(&token, "token", "", "admin bearer token (default APEX_VIEWER_TOKEN)")
	cmd.Flags().BoolVar(&once, "once", false, "fetch once and exit")
	return cmd
}

func renderOrders(w io.Writer, format string, list []models.Order) error {
	if format == "json" {
		return writeJSON(w, map[string]any{"orders": list})
	}
	rows := make([][]string, 0, len(list))
	for _, o := range list {
		rows = append(rows, []string{
			o.OrderNumber,
			o.Status.String(),
			o.Email,
			o.Total.StringFixed(2),
			o.CreatedAt.Local().Format(time.DateTime),
		})
	}
	fmt.Fprintf(w, "-- %d orders --\n", len(list))
	return writeTable(w, []string{"ORDER", "STATUS", "EMAIL", "TOTAL", "CREATED"}, rows)
}
