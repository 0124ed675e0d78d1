package cli

import (
	"fmt"
	"strconv"

	"coinsync/services"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// AwardOptions holds award flags.
type AwardOptions struct {
	ContextID  uint
	ActionName string
	ActionHash string
	Reason     string
}

// NewAwardCommand creates the award command, a strict manual award.
func NewAwardCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AwardOptions{}

	cmd := &cobra.Command{
		Use:   "award <user-id> <coins>",
		Short: "Credit coins to a user and wait for the remote confirmation",
		Long: `Awards coins in strict mode: the command fails if the remote credit fails,
and nothing is written to the ledger in that case.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user id %q", args[0])
			}
			coins, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid coins %q", args[1])
			}

			ctx := cmd.Context()
			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			hash := opts.ActionHash
			if hash == "" {
				hash = services.HashAction(opts.ActionName, uuid.NewString())
			}
			req := services.AwardRequest{
				UserID:     uint(userID),
				ContextID:  opts.ContextID,
				ActionName: opts.ActionName,
				ActionHash: hash,
				Coins:      coins,
				Reason:     &services.Reason{Template: opts.Reason, Args: map[string]string{"awarded_by": "cli"}},
			}
			if err := rt.engine.Awards.GiveStrict(ctx, req); err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), rootOpts, req,
				fmt.Sprintf("credited %d coins to user %d", coins, userID))
		},
	}

	cmd.Flags().UintVar(&opts.ContextID, "context", 0, "context id the award belongs to")
	cmd.Flags().StringVar(&opts.ActionName, "action", "manual_award", "action name")
	cmd.Flags().StringVar(&opts.ActionHash, "hash", "", "action hash (random when empty)")
	cmd.Flags().StringVar(&opts.Reason, "reason", "reason_manual_award", "reason template")

	return cmd
}
