// workers/push_worker.go
package workers

import (
	"context"
	"log"
	"time"

	"coinsync/services"
)

// PushWorker drains the push queue one chunk per tick.
type PushWorker struct {
	queue     *services.PushQueue
	interval  time.Duration
	chunkSize int
}

func NewPushWorker(queue *services.PushQueue, interval time.Duration, chunkSize int) *PushWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if chunkSize <= 0 {
		chunkSize = 100
	}
	return &PushWorker{queue: queue, interval: interval, chunkSize: chunkSize}
}

func (w *PushWorker) Start(ctx context.Context) {
	log.Printf("🔁 Starting push worker (chunk=%d, every %s)…", w.chunkSize, w.interval)
	go w.run(ctx)
}

func (w *PushWorker) run(ctx context.Context) {
	w.RunOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.RunOnce(ctx)
		case <-ctx.Done():
			log.Println("⏹️ Push worker stopped")
			return
		}
	}
}

// RunOnce processes a single chunk and logs the outcome.
func (w *PushWorker) RunOnce(ctx context.Context) services.ChunkResult {
	res, err := w.queue.ProcessChunk(ctx, w.chunkSize)
	if err != nil && ctx.Err() == nil {
		log.Printf("[PUSH] ❌ chunk failed: %v", err)
	}
	return res
}
