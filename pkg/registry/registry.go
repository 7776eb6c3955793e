// Package registry implements the Rule Pack Registration store: the
// per-domain list of candidate rule-pack endpoints the Policy Router
// selects from, per spec.md §3 and §4.1.
package registry

import (
	"errors"
	"sync"
)

// Status is a Rule Pack Registration's operational status.
type Status string

const (
	StatusActive   Status = "active"
	StatusDraining Status = "draining"
	StatusDown     Status = "down"
)

// Registration is one Rule Pack's registration against a domain (spec.md
// §3). A domain may have more than one Registration (e.g. during a
// blue/green rollout); Select applies the spec's deterministic ordering.
type Registration struct {
	Domain         string
	Endpoint       string
	Status         Status
	SupportedModes []string // "static" | "hybrid" | "agentic"
	RuleCount      int
	Categories     []string
}

// SupportsMode reports whether r lists mode among its SupportedModes.
func (r Registration) SupportsMode(mode string) bool {
	for _, m := range r.SupportedModes {
		if m == mode {
			return true
		}
	}
	return false
}

// ErrNoRegistration is returned when a domain has no registration at all
// (distinct from ErrNoRulePackForDomain in pkg/router, which is the
// caller-facing wrapper around this condition).
var ErrNoRegistration = errors.New("registry: no registration for domain")

// Registry holds every domain's Rule Pack Registrations. Implementations
// must support concurrent reads; registration changes are expected to be
// infrequent (pack deploys), so a single RWMutex over the whole map is
// sufficient.
type Registry struct {
	mu   sync.RWMutex
	byDomain map[string][]*Registration
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{byDomain: make(map[string][]*Registration)}
}

// Register adds or replaces reg within its domain's registration list,
// keyed by Endpoint (re-registering the same endpoint updates it in place;
// a new endpoint is appended, preserving registration order).
func (r *Registry) Register(reg *Registration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.byDomain[reg.Domain]
	for i, existing := range list {
		if existing.Endpoint == reg.Endpoint {
			list[i] = reg
			return
		}
	}
	r.byDomain[reg.Domain] = append(list, reg)
}

// Deregister removes every registration for endpoint within domain.
func (r *Registry) Deregister(domain, endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.byDomain[domain]
	out := list[:0]
	for _, reg := range list {
		if reg.Endpoint != endpoint {
			out = append(out, reg)
		}
	}
	r.byDomain[domain] = out
}

// Select applies spec.md §3's invariant: "for each domain, Router uses the
// first active registration; if none, first registration regardless of
// status; if none at all, the request fails with NO_RULEPACK_FOR_DOMAIN."
func (r *Registry) Select(domain string) (*Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.byDomain[domain]
	if len(list) == 0 {
		return nil, ErrNoRegistration
	}
	for _, reg := range list {
		if reg.Status == StatusActive {
			return reg, nil
		}
	}
	return list[0], nil
}

// List returns every registration for domain, in registration order.
func (r *Registry) List(domain string) []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Registration, len(r.byDomain[domain]))
	copy(out, r.byDomain[domain])
	return out
}

// Domains returns every domain with at least one registration.
func (r *Registry) Domains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byDomain))
	for d, list := range r.byDomain {
		if len(list) > 0 {
			out = append(out, d)
		}
	}
	return out
}
