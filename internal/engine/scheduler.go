package engine

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/fathomlabs/mnemo/internal/config"
	"github.com/fathomlabs/mnemo/internal/store"
)

// StartScheduler launches the background machinery: a worker pool that
// drains the classify queue, a decay ticker, and a slower hard-delete
// sweep ticker. Call Stop to shut everything down.
func (e *Engine) StartScheduler(cfg config.SchedulerConfig) {
	workers := cfg.ClassifyWorkers
	if workers <= 0 {
		workers = 2
	}
	queueSize := cfg.ClassifyQueueSize
	if queueSize <= 0 {
		queueSize = 128
	}
	e.classifyCh = make(chan string, queueSize)
	for i := 0; i < workers; i++ {
		go e.classifyWorker()
	}

	// Run the lifecycle passes once at startup, then on their tickers.
	// The classify rescan catches memories a full queue shed or a crashed
	// process never got to.
	e.runDecay()
	e.runSweep()
	e.runClassifyScan()

	go e.tickLoop(time.Duration(intervalHours(cfg.DecayIntervalHours))*time.Hour, e.runDecay)
	go e.tickLoop(time.Duration(intervalHours(cfg.SweepIntervalHours))*time.Hour, e.runSweep)
	go e.tickLoop(time.Duration(intervalHours(cfg.ClassifyIntervalHours))*time.Hour, e.runClassifyScan)
}

func intervalHours(h int) int {
	if h <= 0 {
		return 24
	}
	return h
}

// Stop shuts down the engine's background goroutines.
func (e *Engine) Stop() {
	close(e.stopCh)
}

// EnqueueClassify queues a stored memory for background classification.
// Returns false if the queue is full or the scheduler isn't running; the
// memory stays stored either way and a later re-classify can pick it up.
func (e *Engine) EnqueueClassify(id string) bool {
	if e.classifyCh == nil {
		return false
	}
	select {
	case e.classifyCh <- id:
		return true
	default:
		log.Printf("scheduler: classify queue full, skipping %s", id)
		return false
	}
}

func (e *Engine) classifyWorker() {
	for {
		select {
		case id := <-e.classifyCh:
			m, err := e.DB.GetMemory(id)
			if err != nil {
				if !errors.Is(err, store.ErrNotFound) {
					log.Printf("scheduler: load %s: %v", id, err)
				}
				continue
			}
			if _, err := e.ClassifyNewMemory(context.Background(), m); err != nil {
				log.Printf("scheduler: classify %s: %v", id, err)
			}
		case <-e.stopCh:
			return
		}
	}
}

func (e *Engine) tickLoop(interval time.Duration, run func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			run()
		case <-e.stopCh:
			return
		}
	}
}

func (e *Engine) runDecay() {
	stats, err := e.RunDecayTick(context.Background())
	if err != nil {
		log.Printf("decay error: %v", err)
		return
	}
	if stats.Updated > 0 || stats.SoftDeleted > 0 || stats.Invalidated > 0 {
		log.Printf("decay: updated %d, soft-deleted %d, invalidated %d", stats.Updated, stats.SoftDeleted, stats.Invalidated)
	}
}

// classifyScanLimit bounds one rescan pass; the next tick takes the rest.
const classifyScanLimit = 256

// runClassifyScan re-enqueues active memories that have no outgoing
// relation edge. A memory shed by a full queue, or whose oracle call timed
// out, gets another pass here.
func (e *Engine) runClassifyScan() {
	if e.LLM == nil || e.Embedder == nil {
		return
	}
	ids, err := e.DB.UnrelatedMemoryIDs(classifyScanLimit)
	if err != nil {
		log.Printf("classify scan error: %v", err)
		return
	}
	queued := 0
	for _, id := range ids {
		if !e.EnqueueClassify(id) {
			break
		}
		queued++
	}
	if queued > 0 {
		log.Printf("classify scan: queued %d memories", queued)
	}
}

func (e *Engine) runSweep() {
	deleted, err := e.RunHardDeleteTick(context.Background())
	if err != nil {
		log.Printf("sweep error: %v", err)
		return
	}
	if deleted > 0 {
		log.Printf("sweep: hard-deleted %d memories", deleted)
	}
}
