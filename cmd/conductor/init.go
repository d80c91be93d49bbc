package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"conductor/internal/adapter/kv"
	"conductor/internal/adapter/llm"
	"conductor/internal/adapter/worker"
	"conductor/internal/domain"
	"conductor/internal/infra/config"
	"conductor/internal/usecase"
	"conductor/internal/usecase/eventbus"
	"conductor/internal/usecase/scheduling"
)

// workflowRetention is how long finished workflows are kept for inspection
// before the workflow_prune action removes them.
const workflowRetention = time.Hour

// Runtime holds the wired coordination components.
type Runtime struct {
	Coordinator *usecase.Coordinator
	Registry    *usecase.Registry
	Bus         *eventbus.Bus
	Scheduler   *scheduling.Scheduler
}

// initRuntime assembles the full dispatch pipeline from config: KV store,
// LLM providers, registry with workers, classifier, quota, cache, and
// scheduler. The returned cleanup closes everything in reverse order.
func initRuntime(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Runtime, func(), error) {
	store, storeCloser, err := initStore(ctx, cfg.Store)
	if err != nil {
		return nil, nil, fmt.Errorf("store: %w", err)
	}

	providers, defaultProvider, err := initLLM(cfg, log)
	if err != nil {
		storeCloser()
		return nil, nil, fmt.Errorf("llm: %w", err)
	}

	bus := eventbus.New(log)

	registry := usecase.NewRegistry(usecase.RegistryConfig{
		MaxWorkers: cfg.Registry.MaxWorkers,
		StaleAfter: cfg.Registry.StaleAfter,
	}, bus, log)

	for _, wc := range cfg.Workers {
		provider := defaultProvider
		if wc.Provider != "" {
			provider = providers[wc.Provider]
		}
		w, err := worker.FromConfig(wc, provider, cfg.Coordinator.CostPerUnit, log)
		if err != nil {
			bus.Close()
			storeCloser()
			return nil, nil, fmt.Errorf("worker %q: %w", wc.ID, err)
		}
		if err := registry.Register(w); err != nil {
			bus.Close()
			storeCloser()
			return nil, nil, fmt.Errorf("register worker %q: %w", wc.ID, err)
		}
	}

	classifier := usecase.NewIntentClassifier(defaultProvider, usecase.ClassifierConfig{
		Model:           cfg.Classifier.Model,
		Taxonomy:        cfg.Classifier.Taxonomy,
		ConfidenceFloor: cfg.Classifier.ConfidenceFloor,
		MaxTokens:       cfg.Classifier.MaxTokens,
		RequestsPerMin:  cfg.Classifier.RequestsPerMin,
		BurstSize:       cfg.Classifier.BurstSize,
	}, log)

	var quota *usecase.QuotaEnforcer
	if cfg.Quota.Enabled {
		quota = usecase.NewQuotaEnforcer(store, usecase.QuotaConfig{
			Window: cfg.Quota.Window,
			Limits: usecase.QuotaLimits{
				MaxRequests:      cfg.Quota.Limits.MaxRequests,
				MaxResourceUnits: cfg.Quota.Limits.MaxResourceUnits,
				MaxCost:          cfg.Quota.Limits.MaxCost,
			},
			RecordFailed: cfg.Quota.RecordFailed,
		}, log)
	}

	var cache *usecase.ResultCache
	if cfg.Cache.Enabled {
		cache = usecase.NewResultCache(store, usecase.CacheConfig{
			TTL:           cfg.Cache.TTL,
			MaxEntryBytes: cfg.Cache.MaxEntryBytes,
		}, log)
	}

	coordinator := usecase.NewCoordinator(registry, classifier, quota, cache,
		usecase.NewTokenEstimator(), bus, usecase.CoordinatorConfig{
			HighConfidence:     cfg.Coordinator.HighConfidence,
			SecondaryThreshold: cfg.Coordinator.SecondaryThreshold,
			MaxCandidates:      cfg.Coordinator.MaxCandidates,
			CostPerUnit:        cfg.Coordinator.CostPerUnit,
			Constraints: domain.ExecutionConstraints{
				MaxExecutionTime: cfg.Coordinator.Constraints.MaxExecutionTime,
				MaxResourceUnits: cfg.Coordinator.Constraints.MaxResourceUnits,
				MaxCost:          cfg.Coordinator.Constraints.MaxCost,
				AllowSubWorkers:  cfg.Coordinator.Constraints.AllowSubWorkers,
				RetryCount:       cfg.Coordinator.Constraints.RetryCount,
			},
		}, log)

	scheduler, err := initScheduler(ctx, cfg.Scheduler, registry, coordinator, log)
	if err != nil {
		bus.Close()
		storeCloser()
		return nil, nil, fmt.Errorf("scheduler: %w", err)
	}

	cleanup := func() {
		if scheduler != nil {
			if err := scheduler.Stop(); err != nil {
				log.Error("scheduler stop error", "error", err)
			}
		}
		bus.Close()
		storeCloser()
	}

	return &Runtime{
		Coordinator: coordinator,
		Registry:    registry,
		Bus:         bus,
		Scheduler:   scheduler,
	}, cleanup, nil
}

// initStore builds the configured KV backend.
func initStore(ctx context.Context, cfg config.StoreConfig) (domain.KVStore, func(), error) {
	noop := func() {}
	switch cfg.Backend {
	case "memory", "":
		return kv.NewMemoryStore(), noop, nil
	case "redis":
		store, err := kv.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	case "sqlite":
		store, err := kv.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend: %s", cfg.Backend)
	}
}

// initLLM builds all configured providers, each wrapped in a circuit
// breaker when enabled, and returns them with the default provider.
func initLLM(cfg *config.Config, log *slog.Logger) (map[string]domain.LLMProvider, domain.LLMProvider, error) {
	if len(cfg.LLM.Providers) == 0 {
		return nil, nil, fmt.Errorf("no llm providers configured")
	}

	providers := make(map[string]domain.LLMProvider, len(cfg.LLM.Providers))
	for _, pc := range cfg.LLM.Providers {
		p, err := createProvider(pc, log)
		if err != nil {
			return nil, nil, fmt.Errorf("provider %q: %w", pc.Name, err)
		}
		if cfg.LLM.CircuitBreaker.Enabled {
			p = llm.NewCircuitBreakerProvider(p, llm.CircuitBreakerConfig{
				MaxFailures: cfg.LLM.CircuitBreaker.MaxFailures,
				Timeout:     cfg.LLM.CircuitBreaker.Timeout,
				Interval:    cfg.LLM.CircuitBreaker.Interval,
			}, log)
		}
		providers[pc.Name] = p
	}

	name := cfg.LLM.DefaultProvider
	if name == "" {
		name = cfg.LLM.Providers[0].Name
	}
	return providers, providers[name], nil
}

func createProvider(pc config.ProviderConfig, log *slog.Logger) (domain.LLMProvider, error) {
	switch pc.Type {
	case "openai", "":
		return llm.NewOpenAIProvider(pc, log), nil
	case "bedrock":
		return createBedrockProvider(pc, log)
	default:
		return nil, fmt.Errorf("unknown provider type: %s", pc.Type)
	}
}

// initScheduler wires the maintenance actions and starts the scheduler
// when enabled. Returns nil when disabled.
func initScheduler(ctx context.Context, cfg config.SchedulerConfig, registry *usecase.Registry, coordinator *usecase.Coordinator, log *slog.Logger) (*scheduling.Scheduler, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	s := scheduling.NewScheduler(log)
	s.RegisterAction(scheduling.ActionHealthCheck, func(ctx context.Context) error {
		registry.PerformHealthCheck(ctx)
		return nil
	})
	s.RegisterAction(scheduling.ActionRegistryCleanup, func(ctx context.Context) error {
		if removed := registry.Cleanup(); removed > 0 {
			log.Info("registry cleanup", "removed", removed)
		}
		return nil
	})
	s.RegisterAction(scheduling.ActionWorkflowPrune, func(ctx context.Context) error {
		if pruned := coordinator.PruneWorkflows(workflowRetention); pruned > 0 {
			log.Info("workflow prune", "pruned", pruned)
		}
		return nil
	})

	for _, tc := range cfg.Tasks {
		if err := s.AddTask(scheduling.ScheduledTask{
			Name:     tc.Name,
			Schedule: tc.Schedule,
			Action:   scheduling.ScheduledAction(tc.Action),
			OneShot:  tc.OneShot,
		}); err != nil {
			return nil, err
		}
	}

	if err := s.Start(ctx); err != nil {
		return nil, err
	}
	return s, nil
}
