package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"coinsync/handlers"
	"coinsync/workers"

	"github.com/spf13/cobra"
)

// ServeOptions holds serve flags.
type ServeOptions struct {
	Port      int
	NoWorkers bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook endpoint, the admin API and the background workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().IntVar(&opts.Port, "port", 0, "listen port (overrides PORT)")
	cmd.Flags().BoolVar(&opts.NoWorkers, "no-workers", false, "serve HTTP only")

	return cmd
}

func runServe(parent context.Context, opts *ServeOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()
	log.Printf("✅ Loaded %s", rt.cfg)

	port := rt.cfg.Port
	if opts.Port != 0 {
		port = opts.Port
	}

	if !opts.NoWorkers {
		workers.NewPushWorker(rt.engine.PushQueue, rt.cfg.PushInterval, rt.cfg.PushChunkSize).Start(ctx)

		if rt.engine.Client != nil {
			teamSync := workers.NewTeamCatalogSync(rt.db, rt.engine.Client, rt.cfg.AccountID)
			go workers.PollTeams(ctx, teamSync, rt.cfg.TeamSyncInterval)
		}

		if rt.engine.Exporter.Store != nil {
			sched, err := workers.StartExportScheduler(ctx, rt.engine.Exporter, rt.cfg.ExportInterval)
			if err != nil {
				return err
			}
			defer func() { _ = sched.Shutdown() }()
			log.Printf("✅ Ledger export scheduled every %s", rt.cfg.ExportInterval)
		}
	}

	app := handlers.NewApp(rt.engine)
	go func() {
		if err := app.Listen(fmt.Sprintf(":%d", port)); err != nil {
			log.Printf("Server error: %v", err)
			stop()
		}
	}()
	log.Printf("✅ Server running on http://localhost:%d", port)

	<-ctx.Done()
	log.Println("Shutting down server...")
	return app.Shutdown()
}
