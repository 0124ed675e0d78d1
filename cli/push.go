package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"coinsync/services"

	"github.com/spf13/cobra"
)

// PushOptions holds push flags.
type PushOptions struct {
	Chunk      int
	UntilEmpty bool
}

// NewPushCommand creates the push command.
func NewPushCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PushOptions{}

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Process queued users into remote players",
		Long: `Pops users from the push queue, lowest id first, and makes sure each one
has a remote player. Interrupting stops between two users.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			chunk := opts.Chunk
			if chunk <= 0 {
				chunk = rt.cfg.PushChunkSize
			}
			total, err := drainQueue(ctx, rt.engine.PushQueue, chunk, opts.UntilEmpty)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), rootOpts, total,
				fmt.Sprintf("processed=%d skipped=%d failed=%d", total.Processed, total.Skipped, total.Failed))
		},
	}

	cmd.Flags().IntVarP(&opts.Chunk, "chunk", "n", 0, "users per chunk (default COINSYNC_PUSH_CHUNK_SIZE)")
	cmd.Flags().BoolVar(&opts.UntilEmpty, "until-empty", false, "keep processing chunks until the queue is empty")

	return cmd
}

func drainQueue(ctx context.Context, queue *services.PushQueue, chunk int, untilEmpty bool) (services.ChunkResult, error) {
	var total services.ChunkResult
	for {
		res, err := queue.ProcessChunk(ctx, chunk)
		total.Processed += res.Processed
		total.Skipped += res.Skipped
		total.Failed += res.Failed
		if err != nil {
			return total, err
		}
		if !untilEmpty || res.Processed+res.Skipped < chunk {
			return total, nil
		}
	}
}

// EnqueueOptions holds enqueue flags.
type EnqueueOptions struct {
	UserID     uint
	GroupingID uint
	All        bool
}

// NewEnqueueCommand creates the enqueue command.
func NewEnqueueCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EnqueueOptions{}

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue users for player provisioning",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.UserID == 0 && opts.GroupingID == 0 && !opts.All {
				return fmt.Errorf("one of --user, --grouping or --all is required")
			}
			ctx := cmd.Context()
			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			var queued int
			switch {
			case opts.All:
				queued, err = rt.engine.PushQueue.EnqueueAll(ctx)
			case opts.GroupingID != 0:
				queued, err = rt.engine.PushQueue.EnqueueGroup(ctx, opts.GroupingID)
			default:
				err = rt.engine.PushQueue.Enqueue(ctx, opts.UserID)
				queued = 1
			}
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), rootOpts, map[string]int{"queued": queued},
				fmt.Sprintf("queued %d user(s)", queued))
		},
	}

	cmd.Flags().UintVar(&opts.UserID, "user", 0, "queue one user")
	cmd.Flags().UintVar(&opts.GroupingID, "grouping", 0, "queue every member of a grouping")
	cmd.Flags().BoolVar(&opts.All, "all", false, "queue every active user")

	return cmd
}
