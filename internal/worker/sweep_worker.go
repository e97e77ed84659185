package worker

import (
	"context"
	"log"
	"time"

	"github.com/papertrade-sim/internal/sweep"
)

// SweepWorker runs the sweep engine on a fixed interval. A pass that
// overruns the interval simply delays the next one; passes never overlap.
type SweepWorker struct {
	engine   *sweep.Engine
	dedup    *sweep.Dedup
	interval time.Duration
	stopChan chan struct{}
}

// NewSweepWorker creates a new periodic sweep worker
func NewSweepWorker(engine *sweep.Engine, dedup *sweep.Dedup, interval time.Duration) *SweepWorker {
	if interval <= 0 {
		interval = 1 * time.Second // Default 1 second check interval
	}
	return &SweepWorker{
		engine:   engine,
		dedup:    dedup,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start begins the sweep loop. Blocks until Stop is called.
func (w *SweepWorker) Start() {
	log.Printf("[SweepWorker] started with interval: %v", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	cleanup := time.NewTicker(10 * time.Minute)
	defer cleanup.Stop()

	for {
		select {
		case <-ticker.C:
			w.runOnce()
		case <-cleanup.C:
			if w.dedup != nil {
				w.dedup.Cleanup()
			}
		case <-w.stopChan:
			log.Println("[SweepWorker] stopped")
			return
		}
	}
}

// Stop stops the sweep loop
func (w *SweepWorker) Stop() {
	close(w.stopChan)
}

func (w *SweepWorker) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), w.interval*10)
	defer cancel()

	if _, err := w.engine.Run(ctx); err != nil {
		log.Printf("[SweepWorker] sweep pass failed: %v", err)
	}
}
