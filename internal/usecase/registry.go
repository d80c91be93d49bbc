package usecase

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"conductor/internal/domain"
)

// RegistryConfig bounds the registry's growth and staleness tolerance.
type RegistryConfig struct {
	// MaxWorkers caps registrations; 0 means unlimited.
	MaxWorkers int
	// StaleAfter is how long an errored worker may sit idle before
	// Cleanup reaps it.
	StaleAfter time.Duration
}

// defaultStaleAfter reaps errored workers idle for an hour.
const defaultStaleAfter = time.Hour

// WorkerMatch pairs a worker with the confidence and capability labels it
// matched during discovery.
type WorkerMatch struct {
	Worker     domain.Worker
	Confidence float64
	Intents    []string
}

// Registry is the single source of truth for which workers exist and
// whether they are usable.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]domain.Worker
	order   []string // registration order, the stable tiebreak for discovery
	cfg     RegistryConfig
	bus     domain.EventBus
	logger  *slog.Logger
}

// NewRegistry creates a Registry. The event bus is optional; pass nil to
// disable lifecycle notifications.
func NewRegistry(cfg RegistryConfig, bus domain.EventBus, logger *slog.Logger) *Registry {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAfter
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &Registry{
		workers: make(map[string]domain.Worker),
		cfg:     cfg,
		bus:     bus,
		logger:  logger,
	}
}

// Register adds a worker. It rejects duplicate ids, registrations past
// the configured ceiling, workers declaring zero capabilities, and any
// capability missing its intent or either schema.
func (r *Registry) Register(worker domain.Worker) error {
	meta := worker.Metadata()
	op := "Registry.Register"

	if len(meta.Capabilities) == 0 {
		return domain.NewDomainError(op, domain.ErrNoCapabilities, meta.ID)
	}
	for _, cap := range meta.Capabilities {
		if cap.Intent == "" || len(cap.InputSchema) == 0 || len(cap.OutputSchema) == 0 {
			return domain.NewDomainError(op, domain.ErrCapabilityIncomplete, meta.ID+"/"+cap.Intent)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workers[meta.ID]; exists {
		return domain.NewDomainError(op, domain.ErrDuplicate, meta.ID)
	}
	if r.cfg.MaxWorkers > 0 && len(r.workers) >= r.cfg.MaxWorkers {
		return domain.NewDomainError(op, domain.ErrRegistryFull, meta.ID)
	}

	r.workers[meta.ID] = worker
	r.order = append(r.order, meta.ID)
	r.logger.Info("worker registered", "worker_id", meta.ID, "name", meta.Name, "capabilities", len(meta.Capabilities))
	r.publish(domain.EventWorkerRegistered, meta.ID)
	return nil
}

// Unregister removes a worker. Returns ErrNotFound if not present.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.workers[id]; !ok {
		return domain.NewDomainError("Registry.Unregister", domain.ErrNotFound, id)
	}
	r.remove(id)
	r.logger.Info("worker unregistered", "worker_id", id)
	r.publish(domain.EventWorkerUnregistered, id)
	return nil
}

// remove drops a worker; callers hold the write lock.
func (r *Registry) remove(id string) {
	delete(r.workers, id)
	for i, wid := range r.order {
		if wid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns the worker for the given id, or ErrNotFound.
func (r *Registry) Get(id string) (domain.Worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.workers[id]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrNotFound, id)
	}
	return w, nil
}

// FindWorkersForIntent returns active workers whose capabilities match
// intent (and input, when supplied), sorted by descending confidence with
// registration order as the stable tiebreak.
func (r *Registry) FindWorkersForIntent(intent string, input map[string]any) []WorkerMatch {
	r.mu.RLock()
	candidates := make([]domain.Worker, 0, len(r.order))
	for _, id := range r.order {
		candidates = append(candidates, r.workers[id])
	}
	r.mu.RUnlock()

	matches := make([]WorkerMatch, 0, len(candidates))
	for _, w := range candidates {
		if w.Metadata().Status != domain.WorkerActive {
			continue
		}
		m := w.CanHandle(intent, input)
		if !m.Capable {
			continue
		}
		matches = append(matches, WorkerMatch{
			Worker:     w,
			Confidence: m.Confidence,
			Intents:    []string{intent},
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Confidence > matches[j].Confidence
	})
	return matches
}

// PerformHealthCheck probes all workers concurrently. A failing worker
// transitions to error; a previously-errored worker that passes
// transitions back to active without operator action.
func (r *Registry) PerformHealthCheck(ctx context.Context) map[string]domain.HealthStatus {
	r.mu.RLock()
	snapshot := make(map[string]domain.Worker, len(r.workers))
	for id, w := range r.workers {
		snapshot[id] = w
	}
	r.mu.RUnlock()

	results := make(map[string]domain.HealthStatus, len(snapshot))
	var resMu sync.Mutex
	var wg sync.WaitGroup

	for id, w := range snapshot {
		wg.Add(1)
		go func(id string, w domain.Worker) {
			defer wg.Done()
			status := w.HealthCheck(ctx)

			prev := w.Metadata().Status
			switch {
			case !status.Healthy && prev != domain.WorkerError:
				w.UpdateStatus(domain.WorkerError)
				r.logger.Warn("worker failed health check", "worker_id", id, "details", status.Details)
				r.publish(domain.EventWorkerUnhealthy, id)
			case status.Healthy && prev == domain.WorkerError:
				w.UpdateStatus(domain.WorkerActive)
				r.logger.Info("worker recovered", "worker_id", id)
				r.publish(domain.EventWorkerRecovered, id)
			}

			resMu.Lock()
			results[id] = status
			resMu.Unlock()
		}(id, w)
	}
	wg.Wait()
	return results
}

// Cleanup removes workers that are inactive, or errored with no activity
// within the staleness threshold. Prevents unbounded accumulation of dead
// workers in long-running processes. Returns the number removed.
func (r *Registry) Cleanup() int {
	cutoff := time.Now().Add(-r.cfg.StaleAfter)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for _, id := range append([]string(nil), r.order...) {
		w := r.workers[id]
		meta := w.Metadata()

		stale := meta.Status == domain.WorkerInactive ||
			(meta.Status == domain.WorkerError && w.Metrics().LastActivity.Before(cutoff))
		if !stale {
			continue
		}

		w.ResetMetrics()
		r.remove(id)
		removed++
		r.logger.Info("worker reaped", "worker_id", id, "status", string(meta.Status))
		r.publish(domain.EventWorkerReaped, id)
	}
	return removed
}

// RegistryStats is a read-only snapshot for monitoring.
type RegistryStats struct {
	TotalWorkers int                             `json:"total_workers"`
	ByStatus     map[domain.WorkerStatus]int     `json:"by_status"`
	Intents      []string                        `json:"intents"`
	Metrics      map[string]domain.WorkerMetrics `json:"metrics"`
}

// GetStats reports worker counts by status, the covered intents, and
// per-worker metrics snapshots.
func (r *Registry) GetStats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := RegistryStats{
		TotalWorkers: len(r.workers),
		ByStatus:     make(map[domain.WorkerStatus]int),
		Metrics:      make(map[string]domain.WorkerMetrics, len(r.workers)),
	}
	seen := make(map[string]bool)
	for _, id := range r.order {
		w := r.workers[id]
		meta := w.Metadata()
		stats.ByStatus[meta.Status]++
		stats.Metrics[id] = w.Metrics()
		for _, cap := range meta.Capabilities {
			if !seen[cap.Intent] {
				seen[cap.Intent] = true
				stats.Intents = append(stats.Intents, cap.Intent)
			}
		}
	}
	sort.Strings(stats.Intents)
	return stats
}

func (r *Registry) publish(eventType domain.EventType, workerID string) {
	if r.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{"worker_id": workerID})
	r.bus.Publish(context.Background(), domain.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}
