// Package rulepack defines the Rule Pack Worker capability contract
// (validate/explain/get_info/get_metadata/health_check/initialize/shutdown)
// and an HTTP-backed client plus a domain-keyed, singleflight-serialized
// worker pool, per spec.md §4.4.
package rulepack

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/compliantcore/platform/pkg/httpclient"
)

// HealthStatus is one of the three states a Worker's health_check reports.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// Finding is one rule violation or pass/fail result from Validate.
type Finding struct {
	RuleID      string  `json:"rule_id"`
	Passed      bool    `json:"passed"`
	Severity    string  `json:"severity,omitempty"`
	Message     string  `json:"message,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
}

// ValidateResult is a Worker's response to Validate.
type ValidateResult struct {
	Findings []Finding `json:"findings"`
}

// Info is static descriptive metadata about a Worker's rule pack.
type Info struct {
	Domain      string `json:"domain"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
}

// Metadata is dynamic, versioned rule-pack metadata — distinct from Info,
// which is static identity.
type Metadata struct {
	RuleCount     int      `json:"rule_count"`
	SupportedTags []string `json:"supported_tags,omitempty"`
	AgenticReady  bool     `json:"agentic_ready"`
}

// Health is the result of a Worker's health_check.
type Health struct {
	Status  HealthStatus `json:"status"`
	Detail  string       `json:"detail,omitempty"`
}

// Worker is the capability set every rule pack (whether in-process or a
// remote HTTP collaborator) must implement.
type Worker interface {
	Initialize(ctx context.Context) error
	Validate(ctx context.Context, domain string, payload json.RawMessage) (*ValidateResult, error)
	Explain(ctx context.Context, domain string, payload json.RawMessage) (string, error)
	GetInfo(ctx context.Context, domain string) (*Info, error)
	GetMetadata(ctx context.Context, domain string) (*Metadata, error)
	HealthCheck(ctx context.Context) (*Health, error)
	Shutdown(ctx context.Context) error
}

// HTTPWorker is a Worker backed by a remote rule-pack service reachable over
// HTTP, using the shared resilient client for every call.
type HTTPWorker struct {
	BaseURL string
	Client  *httpclient.Client
}

// NewHTTPWorker constructs an HTTPWorker against baseURL.
func NewHTTPWorker(baseURL string, client *httpclient.Client) *HTTPWorker {
	if client == nil {
		client = httpclient.New()
	}
	return &HTTPWorker{BaseURL: baseURL, Client: client}
}

func (w *HTTPWorker) Initialize(ctx context.Context) error {
	_, _, err := w.Client.DoJSON(ctx, "POST", w.BaseURL+"/initialize", nil, httpclient.Headers{})
	return err
}

func (w *HTTPWorker) Validate(ctx context.Context, domain string, payload json.RawMessage) (*ValidateResult, error) {
	body, err := json.Marshal(map[string]interface{}{"domain": domain, "payload": payload})
	if err != nil {
		return nil, err
	}
	data, _, err := w.Client.DoJSON(ctx, "POST", w.BaseURL+"/validate", body, httpclient.Headers{})
	if err != nil {
		return nil, err
	}
	var result ValidateResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("rulepack: decode validate response: %w", err)
	}
	return &result, nil
}

func (w *HTTPWorker) Explain(ctx context.Context, domain string, payload json.RawMessage) (string, error) {
	body, err := json.Marshal(map[string]interface{}{"domain": domain, "payload": payload})
	if err != nil {
		return "", err
	}
	data, _, err := w.Client.DoJSON(ctx, "POST", w.BaseURL+"/explain", body, httpclient.Headers{})
	if err != nil {
		return "", err
	}
	var out struct {
		Explanation string `json:"explanation"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("rulepack: decode explain response: %w", err)
	}
	return out.Explanation, nil
}

func (w *HTTPWorker) GetInfo(ctx context.Context, domain string) (*Info, error) {
	data, _, err := w.Client.DoJSON(ctx, "GET", w.BaseURL+"/info?domain="+domain, nil, httpclient.Headers{})
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("rulepack: decode info response: %w", err)
	}
	return &info, nil
}

func (w *HTTPWorker) GetMetadata(ctx context.Context, domain string) (*Metadata, error) {
	data, _, err := w.Client.DoJSON(ctx, "GET", w.BaseURL+"/metadata?domain="+domain, nil, httpclient.Headers{})
	if err != nil {
		return nil, err
	}
	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("rulepack: decode metadata response: %w", err)
	}
	return &md, nil
}

func (w *HTTPWorker) HealthCheck(ctx context.Context) (*Health, error) {
	data, status, err := w.Client.DoJSON(ctx, "GET", w.BaseURL+"/health", nil, httpclient.Headers{})
	if err != nil {
		return &Health{Status: HealthUnhealthy, Detail: err.Error()}, nil
	}
	var h Health
	if jsonErr := json.Unmarshal(data, &h); jsonErr != nil || h.Status == "" {
		if status >= 200 && status < 300 {
			return &Health{Status: HealthHealthy}, nil
		}
		return &Health{Status: HealthDegraded, Detail: fmt.Sprintf("unexpected status %d", status)}, nil
	}
	return &h, nil
}

func (w *HTTPWorker) Shutdown(ctx context.Context) error {
	_, _, err := w.Client.DoJSON(ctx, "POST", w.BaseURL+"/shutdown", nil, httpclient.Headers{})
	return err
}

// Factory constructs a Worker for a domain not yet in the Pool.
type Factory func(domain string) (Worker, error)

// Pool is a domain-keyed cache of Workers. Concurrent requests for the same
// uninitialized domain are serialized through singleflight so a cold start
// only constructs and Initializes one Worker, no matter how many goroutines
// ask for it at once.
type Pool struct {
	factory Factory
	group   singleflight.Group

	mu      sync.RWMutex
	workers map[string]Worker
}

// NewPool constructs a Pool that lazily builds Workers via factory.
func NewPool(factory Factory) *Pool {
	return &Pool{factory: factory, workers: make(map[string]Worker)}
}

// Get returns the Worker for domain, constructing and initializing it on
// first use.
func (p *Pool) Get(ctx context.Context, domain string) (Worker, error) {
	p.mu.RLock()
	w, ok := p.workers[domain]
	p.mu.RUnlock()
	if ok {
		return w, nil
	}

	v, err, _ := p.group.Do(domain, func() (interface{}, error) {
		p.mu.RLock()
		if w, ok := p.workers[domain]; ok {
			p.mu.RUnlock()
			return w, nil
		}
		p.mu.RUnlock()

		worker, err := p.factory(domain)
		if err != nil {
			return nil, fmt.Errorf("rulepack: construct worker for domain %q: %w", domain, err)
		}
		if err := worker.Initialize(ctx); err != nil {
			return nil, fmt.Errorf("rulepack: initialize worker for domain %q: %w", domain, err)
		}

		p.mu.Lock()
		p.workers[domain] = worker
		p.mu.Unlock()

		return worker, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Worker), nil
}

// Domains returns the list of domains currently cached in the pool.
func (p *Pool) Domains() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.workers))
	for d := range p.workers {
		out = append(out, d)
	}
	return out
}

// HealthSummary aggregates every cached Worker's health into the pool-wide
// status. A worker's HealthCheck call itself erroring (as opposed to
// returning a non-healthy Health) never escalates past degraded — the pool
// has no notion of the Registry being unreachable, which is the only
// condition that makes the wider system unhealthy; see Router.HealthStatus.
func (p *Pool) HealthSummary(ctx context.Context) (HealthStatus, map[string]*Health) {
	p.mu.RLock()
	workers := make(map[string]Worker, len(p.workers))
	for d, w := range p.workers {
		workers[d] = w
	}
	p.mu.RUnlock()

	results := make(map[string]*Health, len(workers))
	allHealthy := true
	for domain, w := range workers {
		h, err := w.HealthCheck(ctx)
		if err != nil || h == nil {
			h = &Health{Status: HealthDegraded, Detail: "health_check failed"}
			if err != nil {
				h.Detail = fmt.Sprintf("health_check failed: %v", err)
			}
		}
		results[domain] = h
		if h.Status != HealthHealthy {
			allHealthy = false
		}
	}

	if len(workers) == 0 || allHealthy {
		return HealthHealthy, results
	}
	return HealthDegraded, results
}

// Shutdown tears down every cached Worker.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	workers := p.workers
	p.workers = make(map[string]Worker)
	p.mu.Unlock()

	var firstErr error
	for _, w := range workers {
		if err := w.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
