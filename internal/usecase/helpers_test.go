package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"time"

	"conductor/internal/domain"
)

// fakeProvider is a canned LLM provider for classifier and coordinator
// tests. Reply holds the next Chat content; Err forces a failure.
type fakeProvider struct {
	mu      sync.Mutex
	reply   string
	err     error
	calls   int
	lastReq domain.ChatRequest
}

func (p *fakeProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.lastReq = req
	if p.err != nil {
		return nil, p.err
	}
	return &domain.ChatResponse{
		ID:      "chat-1",
		Model:   req.Model,
		Content: p.reply,
		Usage:   domain.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// classificationJSON builds a canned classifier reply.
func classificationJSON(primary string, confidence float64, secondaries ...domain.Intent) string {
	c := domain.IntentClassification{
		PrimaryIntent:    domain.Intent{Name: primary, Confidence: confidence},
		SecondaryIntents: secondaries,
	}
	raw, _ := json.Marshal(c)
	return string(raw)
}

// fakeStore is an in-memory domain.KVStore with error injection. TTLs
// are recorded but not enforced; expiry behavior belongs to the real
// adapters and the consumers' lazy checks.
type fakeStore struct {
	mu     sync.Mutex
	data   map[string][]byte
	ttls   map[string]time.Duration
	getErr error
	setErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		data: make(map[string][]byte),
		ttls: make(map[string]time.Duration),
	}
}

func (s *fakeStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	v, ok := s.data[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *fakeStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	s.data[key] = append([]byte(nil), value...)
	s.ttls[key] = ttl
	return nil
}

func (s *fakeStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	delete(s.ttls, key)
	return nil
}

func (s *fakeStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	var keys []string
	for k := range s.data {
		if ok, _ := path.Match(pattern, k); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *fakeStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// permissiveSchema accepts any JSON object.
var permissiveSchema = json.RawMessage(`{"type":"object"}`)

// testCapability builds a complete capability for the given intent.
func testCapability(intent string, confidence float64) domain.Capability {
	return domain.Capability{
		Intent:       intent,
		Description:  intent + " capability",
		InputSchema:  permissiveSchema,
		OutputSchema: permissiveSchema,
		Confidence:   confidence,
		Examples:     []string{"example input for " + intent},
	}
}

// newTestWorker builds a BaseWorker with permissive schemas around the
// given execute function.
func newTestWorker(id, intent string, confidence float64, execute ExecuteFunc) *BaseWorker {
	w, err := NewBaseWorker(domain.WorkerMetadata{
		ID:           id,
		Name:         id,
		Category:     "test",
		Capabilities: []domain.Capability{testCapability(intent, confidence)},
	}, execute, nil)
	if err != nil {
		panic(fmt.Sprintf("newTestWorker(%s): %v", id, err))
	}
	return w
}

// echoExecute returns a fixed payload and usage.
func echoExecute(payload map[string]any) ExecuteFunc {
	return func(ctx context.Context, req domain.Request, ec *domain.ExecutionContext) (map[string]any, ExecuteUsage, error) {
		return payload, ExecuteUsage{ResourceUnits: 1}, nil
	}
}

// meteredExecute returns a fixed payload and the given usage.
func meteredExecute(payload map[string]any, usage ExecuteUsage) ExecuteFunc {
	return func(ctx context.Context, req domain.Request, ec *domain.ExecutionContext) (map[string]any, ExecuteUsage, error) {
		return payload, usage, nil
	}
}

// failExecute always returns the given error.
func failExecute(err error) ExecuteFunc {
	return func(ctx context.Context, req domain.Request, ec *domain.ExecutionContext) (map[string]any, ExecuteUsage, error) {
		return nil, ExecuteUsage{}, err
	}
}

// stubWorker is a hand-rolled domain.Worker with controllable health and
// status for registry tests; BaseWorker's own behavior is covered
// separately.
type stubWorker struct {
	mu      sync.Mutex
	meta    domain.WorkerMetadata
	metrics domain.WorkerMetrics
	healthy bool
}

func newStubWorker(id, intent string, confidence float64) *stubWorker {
	return &stubWorker{
		meta: domain.WorkerMetadata{
			ID:           id,
			Name:         id,
			Capabilities: []domain.Capability{testCapability(intent, confidence)},
			Status:       domain.WorkerActive,
		},
		healthy: true,
	}
}

func (w *stubWorker) Metadata() domain.WorkerMetadata {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.meta
}

func (w *stubWorker) Metrics() domain.WorkerMetrics {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.metrics
}

func (w *stubWorker) CanHandle(intent string, input map[string]any) domain.CapabilityMatch {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, cap := range w.meta.Capabilities {
		if cap.Intent == intent {
			return domain.CapabilityMatch{Capable: true, Confidence: cap.Confidence, Intent: intent}
		}
	}
	return domain.CapabilityMatch{Capable: false}
}

func (w *stubWorker) Process(ctx context.Context, req domain.Request, ec *domain.ExecutionContext) (*domain.Response, error) {
	return &domain.Response{
		ID:        NewID(),
		RequestID: req.ID,
		Success:   true,
		WorkerID:  w.Metadata().ID,
		Payload:   map[string]any{"from": w.Metadata().ID},
	}, nil
}

func (w *stubWorker) HealthCheck(ctx context.Context) domain.HealthStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.healthy {
		return domain.HealthStatus{Healthy: true}
	}
	return domain.HealthStatus{Healthy: false, Details: "stub unhealthy"}
}

func (w *stubWorker) UpdateStatus(status domain.WorkerStatus) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.meta.Status = status
}

func (w *stubWorker) ResetMetrics() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.metrics = domain.WorkerMetrics{}
}

func (w *stubWorker) setHealthy(healthy bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.healthy = healthy
}

func (w *stubWorker) setLastActivity(t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.metrics.LastActivity = t
}

var _ domain.Worker = (*stubWorker)(nil)
