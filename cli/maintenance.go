package cli

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"coinsync/config"
	"coinsync/utils"
	"coinsync/workers"

	"github.com/spf13/cobra"
)

// NewPurgeCachesCommand creates the purge-caches command. Caches live in the
// serving process, so the command asks the running server to purge them.
func NewPurgeCachesCommand(rootOpts *RootOptions) *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "purge-caches",
		Short: "Drop cached rules, balances and metadata in the running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if server == "" {
				server = fmt.Sprintf("http://localhost:%d", cfg.Port)
			}
			if err := purgeRemoteCaches(cmd.Context(), cfg, server); err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), rootOpts, map[string]bool{"purged": true}, "caches purged")
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "base URL of the running server (default http://localhost:$PORT)")

	return cmd
}

func purgeRemoteCaches(ctx context.Context, cfg *config.Config, server string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(server, "/")+"/admin/caches/purge", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+cfg.ServiceToken)
	req.Header.Set("X-Operator-ID", "cli")

	resp, err := utils.NewHTTPClient(cfg.RemoteTimeout).Do(req)
	if err != nil {
		return fmt.Errorf("purge caches: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("purge caches: server returned %d", resp.StatusCode)
	}
	return nil
}

// NewExportLedgerCommand creates the export-ledger command.
func NewExportLedgerCommand(rootOpts *RootOptions) *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "export-ledger",
		Short: "Upload a window of the award ledger to R2 as JSON lines",
		Long: `Exports ledger entries created in [from, to). Without flags the last
complete COINSYNC_EXPORT_INTERVAL window is exported.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			start, end := workers.ExportWindow(time.Now(), rt.cfg.ExportInterval)
			if from != "" {
				if start, err = parseWhen(from); err != nil {
					return err
				}
			}
			if to != "" {
				if end, err = parseWhen(to); err != nil {
					return err
				}
			}

			res, err := rt.engine.Exporter.Export(ctx, start, end)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), rootOpts, res,
				fmt.Sprintf("exported %d entries to %s", res.Entries, res.Key))
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "window start (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "window end, exclusive (RFC3339 or YYYY-MM-DD)")

	return cmd
}

func parseWhen(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: use RFC3339 or YYYY-MM-DD", s)
	}
	return t, nil
}

// NewSyncTeamsCommand creates the sync-teams command.
func NewSyncTeamsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-teams",
		Short: "Refresh the local copy of the remote team catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			n, err := workers.NewTeamCatalogSync(rt.db, rt.engine.Client, rt.cfg.AccountID).SyncOnce(ctx)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), rootOpts, map[string]int{"teams": n},
				fmt.Sprintf("synced %d team(s)", n))
		},
	}
}

// NewSetTeamCommand creates the set-team command.
func NewSetTeamCommand(rootOpts *RootOptions) *cobra.Command {
	var remove bool

	cmd := &cobra.Command{
		Use:   "set-team <grouping-id|global> [team-id]",
		Short: "Map a grouping, or every user, to a remote team",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var grouping uint
			if args[0] != "global" {
				g, err := strconv.ParseUint(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid grouping id %q", args[0])
				}
				grouping = uint(g)
			}
			if !remove && len(args) != 2 {
				return fmt.Errorf("team id is required")
			}

			ctx := cmd.Context()
			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			if remove {
				if err := rt.engine.TeamAdmin.RemoveGroupingTeam(ctx, grouping); err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), rootOpts, map[string]uint{"removed": grouping},
					fmt.Sprintf("grouping %s unmapped", args[0]))
			}
			if err := rt.engine.TeamAdmin.SetGroupingTeam(ctx, grouping, args[1]); err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), rootOpts, map[string]any{"grouping": grouping, "team": args[1]},
				fmt.Sprintf("grouping %s mapped to team %s", args[0], args[1]))
		},
	}

	cmd.Flags().BoolVar(&remove, "remove", false, "remove the mapping instead")

	return cmd
}
