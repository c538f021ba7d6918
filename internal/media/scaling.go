package media

import "context"

// Scaling thresholds. The CPU signal alone drives decisions; producer and
// consumer counts are attributed per worker for the logs.
const (
	scaleUpCPU   = 0.75
	scaleDownCPU = 0.30
)

// workerLoad is one worker's sampled load.
type workerLoad struct {
	workerID  int
	cpu       float64
	routers   int
	producers int
	consumers int
}

// triggerScaling runs one auto-scaling pass in the background. Overlapping
// triggers coalesce on the isScaling flag.
func (e *Engine) triggerScaling() {
	if !e.isScaling.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer e.isScaling.Store(false)
		e.autoScale(context.Background())
	}()
}

func (e *Engine) autoScale(ctx context.Context) {
	e.mu.Lock()
	if e.closed || len(e.rooms) == 0 || len(e.workers) == 0 {
		e.mu.Unlock()
		return
	}
	workers := make([]Worker, len(e.workers))
	copy(workers, e.workers)

	loads := make(map[int]*workerLoad, len(workers))
	for _, w := range workers {
		loads[w.ID()] = &workerLoad{workerID: w.ID()}
	}
	for _, bundle := range e.rooms {
		if l, ok := loads[bundle.workerID]; ok {
			l.routers++
			l.producers += len(bundle.producers)
			l.consumers += len(bundle.consumers)
		}
	}
	e.mu.Unlock()

	var maxCPU, sumCPU float64
	sampled := 0
	for _, w := range workers {
		usage, err := w.Usage(ctx)
		if err != nil {
			e.logger.Warn("worker usage sample failed", "worker_id", w.ID(), "error", err)
			continue
		}
		load := loads[w.ID()]
		load.cpu = usage
		sampled++
		sumCPU += usage
		if usage > maxCPU {
			maxCPU = usage
		}
		e.logger.Debug("worker load", "worker_id", load.workerID, "cpu", load.cpu,
			"routers", load.routers, "producers", load.producers, "consumers", load.consumers)
	}
	if sampled == 0 {
		return
	}
	avgCPU := sumCPU / float64(sampled)

	switch {
	case maxCPU > scaleUpCPU:
		e.scaleUp(ctx, maxCPU)
	case avgCPU < scaleDownCPU:
		e.scaleDown(avgCPU)
	}
}

func (e *Engine) scaleUp(ctx context.Context, maxCPU float64) {
	e.mu.Lock()
	if len(e.workers) >= e.maxWorkers {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	w, err := e.runtime.NewWorker(ctx)
	if err != nil {
		e.logger.Error("scale up failed", "error", err)
		return
	}
	e.adoptWorker(w)
	e.logger.Info("scaled up", "worker_id", w.ID(), "max_cpu", maxCPU, "workers", e.WorkerCount())
}

// scaleDown pops the most recently added idle worker (LIFO). Routers on it
// keep working until their rooms close; no new routers land on it.
func (e *Engine) scaleDown(avgCPU float64) {
	e.mu.Lock()
	if len(e.workers) <= e.minWorkers {
		e.mu.Unlock()
		return
	}
	w := e.workers[len(e.workers)-1]
	e.workers = e.workers[:len(e.workers)-1]
	if e.nextWorker >= len(e.workers) {
		e.nextWorker = 0
	}
	e.mu.Unlock()

	if err := w.Close(); err != nil {
		e.logger.Warn("worker close failed", "worker_id", w.ID(), "error", err)
	}
	e.logger.Info("scaled down", "worker_id", w.ID(), "avg_cpu", avgCPU, "workers", e.WorkerCount())
}
