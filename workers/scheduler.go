// workers/scheduler.go
package workers

import (
	"context"
	"fmt"
	"log"
	"time"

	"coinsync/services"

	"github.com/go-co-op/gocron/v2"
)

// ExportWindow returns the last complete [from, to) window of length
// interval before now.
func ExportWindow(now time.Time, interval time.Duration) (time.Time, time.Time) {
	to := now.UTC().Truncate(interval)
	return to.Add(-interval), to
}

// StartExportScheduler exports the previous ledger window every interval.
// Call Shutdown on the returned scheduler to stop it.
func StartExportScheduler(ctx context.Context, exporter *services.LedgerExporter, interval time.Duration) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			from, to := ExportWindow(time.Now(), interval)
			if _, err := exporter.Export(ctx, from, to); err != nil {
				log.Printf("[Scheduler] ledger export %s..%s failed: %v", from.Format(time.RFC3339), to.Format(time.RFC3339), err)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("schedule ledger export: %w", err)
	}

	sched.Start()
	return sched, nil
}
