// Package router implements the Policy Router: the three-mode validation
// strategy (conservative / hybrid / agentic) that decides how much weight
// a Rule Pack Worker's static rules carry versus a RAG validator's AI
// judgment, per spec.md §4.1.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/compliantcore/platform/pkg/rag"
	"github.com/compliantcore/platform/pkg/registry"
	"github.com/compliantcore/platform/pkg/rulepack"
)

// Mode is the validation mode a caller requests.
type Mode string

const (
	ModeStatic  Mode = "static"
	ModeHybrid  Mode = "hybrid"
	ModeAgentic Mode = "agentic"
)

// Decision is the policy the router actually chose to execute, which may
// differ from the requested Mode (e.g. agentic falling back to hybrid when
// a domain's rule pack doesn't support it).
type Decision string

const (
	DecisionConservative Decision = "conservative"
	DecisionHybrid       Decision = "hybrid"
	DecisionAgentic      Decision = "agentic"
)

// ErrNoRulePackForDomain is returned when no Worker is registered or
// reachable for a requested domain.
var ErrNoRulePackForDomain = errors.New("NO_RULEPACK_FOR_DOMAIN")

// Request is one validation request routed through the policy router.
type Request struct {
	Domain              string
	TenantID            string
	Mode                Mode
	ConfidenceThreshold float64
	Payload             interface{}
}

// Failure is one rule/AI finding, unified across static and RAG sources.
type Failure struct {
	RuleID             string   `json:"rule_id"`
	Severity           string   `json:"severity,omitempty"`
	Message            string   `json:"message,omitempty"`
	AIExplanation      string   `json:"ai_explanation,omitempty"`
	AIRecommendation   string   `json:"ai_recommendation,omitempty"`
	AIConfidence       float64  `json:"ai_confidence,omitempty"`
	PolicyReferences   []string `json:"policy_references,omitempty"`
	SuggestedActions   []string `json:"suggested_actions,omitempty"`
}

// ComparisonDelta is the hybrid-mode agreement analysis between the static
// rule pack and the RAG validator, used to drive the training dashboard.
type ComparisonDelta struct {
	JSONOnlyFailures []string `json:"json_only_failures"`
	RAGOnlyFailures  []string `json:"rag_only_failures"`
	CommonFailures   []string `json:"common_failures"`
	AgreementRate    float64  `json:"agreement_rate"`
	JSONFailureCount int      `json:"json_failure_count"`
	RAGFailureCount  int      `json:"rag_failure_count"`
	AvgRAGConfidence float64  `json:"avg_rag_confidence"`
}

// Response is the routed validation result.
type Response struct {
	Domain          string           `json:"domain"`
	ModeRequested   Mode             `json:"mode_requested"`
	ModeExecuted    Decision         `json:"mode_executed"`
	Failures        []Failure        `json:"failures"`
	FallbackReason  string           `json:"fallback_reason,omitempty"`
	ComparisonDelta *ComparisonDelta `json:"comparison_delta,omitempty"`
}

// Router routes validation requests to the appropriate Rule Pack Worker(s)
// and, in hybrid/agentic modes, a RAG validator.
type Router struct {
	pool      *rulepack.Pool
	validator rag.Validator
	registry  *registry.Registry
	limiter   *TenantRateLimiter
	logger    *slog.Logger
}

// New constructs a Router over a worker pool and a RAG validator.
func New(pool *rulepack.Pool, validator rag.Validator, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{pool: pool, validator: validator, logger: logger}
}

// WithRegistry attaches the Rule Pack Registry, whose per-domain
// supported_modes list is the spec-literal source of truth for the agentic
// capability check (spec.md §4.1). Without a registry, the Router falls
// back to asking the worker's own GetMetadata for agentic readiness.
func (r *Router) WithRegistry(reg *registry.Registry) *Router {
	r.registry = reg
	return r
}

// WithRateLimiter attaches a per-tenant request cap in front of
// RouteValidation. Without one, every request is allowed through.
func (r *Router) WithRateLimiter(rl *TenantRateLimiter) *Router {
	r.limiter = rl
	return r
}

// RouteValidation routes req to the policy its mode (and the domain's
// rule-pack capabilities) determine.
func (r *Router) RouteValidation(ctx context.Context, req Request) (*Response, error) {
	if r.limiter != nil {
		if err := r.limiter.Allow(req.TenantID); err != nil {
			return nil, err
		}
	}

	decision, err := r.determinePolicy(ctx, req)
	if err != nil {
		return nil, err
	}

	r.logger.Info("routing validation request",
		"domain", req.Domain, "mode_requested", req.Mode, "policy", decision)

	switch decision {
	case DecisionHybrid:
		return r.routeHybrid(ctx, req)
	case DecisionAgentic:
		return r.routeAgentic(ctx, req)
	default:
		return r.routeConservative(ctx, req)
	}
}

func (r *Router) determinePolicy(ctx context.Context, req Request) (Decision, error) {
	switch req.Mode {
	case ModeStatic:
		return DecisionConservative, nil
	case ModeHybrid:
		return DecisionHybrid, nil
	case ModeAgentic:
		if r.registry != nil {
			reg, err := r.registry.Select(req.Domain)
			if err != nil {
				return "", fmt.Errorf("%w: %s", ErrNoRulePackForDomain, req.Domain)
			}
			if reg.SupportsMode("agentic") {
				return DecisionAgentic, nil
			}
			return DecisionHybrid, nil
		}

		worker, err := r.pool.Get(ctx, req.Domain)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrNoRulePackForDomain, req.Domain)
		}
		md, err := worker.GetMetadata(ctx, req.Domain)
		if err == nil && md != nil && md.AgenticReady {
			return DecisionAgentic, nil
		}
		return DecisionHybrid, nil
	default:
		return DecisionConservative, nil
	}
}

// routeConservative runs the static rule pack and enhances any failures
// with RAG-sourced explanations. JSON rules are authoritative.
func (r *Router) routeConservative(ctx context.Context, req Request) (*Response, error) {
	worker, err := r.pool.Get(ctx, req.Domain)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoRulePackForDomain, req.Domain)
	}

	payload, err := marshalPayload(req.Payload)
	if err != nil {
		return nil, err
	}

	result, err := worker.Validate(ctx, req.Domain, payload)
	if err != nil {
		return nil, fmt.Errorf("router: static validation: %w", err)
	}

	failures := toFailures(result.Findings)
	if r.validator != nil {
		for i := range failures {
			expl, err := r.validator.Explain(ctx, req.Domain, failures[i].RuleID, req.Payload)
			if err != nil {
				r.logger.Warn("rag explanation failed", "rule_id", failures[i].RuleID, "error", err)
				continue
			}
			failures[i].AIExplanation = expl.Explanation
			failures[i].AIRecommendation = expl.Recommendation
			failures[i].AIConfidence = expl.Confidence
			failures[i].PolicyReferences = append(failures[i].PolicyReferences, expl.PolicyReferences...)
			failures[i].SuggestedActions = append(failures[i].SuggestedActions, expl.SuggestedActions...)
		}
	}

	return &Response{
		Domain:        req.Domain,
		ModeRequested: req.Mode,
		ModeExecuted:  DecisionConservative,
		Failures:      failures,
	}, nil
}

// routeHybrid launches the static rule pack and the RAG validator as two
// concurrently-runnable legs awaited together (spec.md §5: "gather-style
// semantics... exceptions from one do not cancel the other"). Both legs
// always run to completion; only after both have returned is the merge (or
// fallback) decided.
func (r *Router) routeHybrid(ctx context.Context, req Request) (*Response, error) {
	worker, err := r.pool.Get(ctx, req.Domain)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoRulePackForDomain, req.Domain)
	}

	payload, err := marshalPayload(req.Payload)
	if err != nil {
		return nil, err
	}

	var (
		staticResult *rulepack.ValidateResult
		ragFailures  []rag.ValidationFailure
		ragErr       error
	)

	var g errgroup.Group
	g.Go(func() error {
		var staticErr error
		staticResult, staticErr = worker.Validate(ctx, req.Domain, payload)
		return staticErr
	})
	g.Go(func() error {
		if r.validator == nil {
			return nil
		}
		// The RAG leg's own error is captured, not propagated through the
		// group: a RAG failure must not cancel or fail the static leg.
		ragFailures, ragErr = r.validator.Validate(ctx, req.Domain, req.Payload)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("router: static validation: %w", err)
	}

	staticFailures := toFailures(staticResult.Findings)

	if r.validator == nil {
		return &Response{Domain: req.Domain, ModeRequested: req.Mode, ModeExecuted: DecisionConservative,
			Failures: staticFailures, FallbackReason: "no RAG validator configured"}, nil
	}

	if ragErr != nil {
		r.logger.Warn("rag validation failed in hybrid mode", "error", ragErr)
		return &Response{
			Domain: req.Domain, ModeRequested: req.Mode, ModeExecuted: DecisionConservative,
			Failures: staticFailures, FallbackReason: fmt.Sprintf("RAG validation error: %v", ragErr),
		}, nil
	}

	merged := mergeHybridResults(staticFailures, ragFailures)
	return &Response{
		Domain:          req.Domain,
		ModeRequested:   req.Mode,
		ModeExecuted:    DecisionHybrid,
		Failures:        merged.failures,
		ComparisonDelta: merged.delta,
	}, nil
}

// routeAgentic runs the RAG validator as primary, falling back to
// conservative mode when the validator errors or its average confidence
// across failures is below req.ConfidenceThreshold.
func (r *Router) routeAgentic(ctx context.Context, req Request) (*Response, error) {
	if r.validator == nil {
		return r.routeConservative(ctx, req)
	}

	ragFailures, err := r.validator.Validate(ctx, req.Domain, req.Payload)
	if err != nil {
		r.logger.Warn("agentic validation failed, falling back to conservative", "error", err)
		fallback, fbErr := r.routeConservative(ctx, req)
		if fbErr != nil {
			return nil, fbErr
		}
		fallback.FallbackReason = fmt.Sprintf("RAG validation error: %v", err)
		return fallback, nil
	}

	avgConfidence := averageConfidence(ragFailures)
	if avgConfidence < req.ConfidenceThreshold {
		r.logger.Info("RAG confidence below threshold, falling back to conservative",
			"avg_confidence", avgConfidence, "threshold", req.ConfidenceThreshold)
		fallback, fbErr := r.routeConservative(ctx, req)
		if fbErr != nil {
			return nil, fbErr
		}
		fallback.FallbackReason = fmt.Sprintf("Low RAG confidence: %.3f", avgConfidence)
		return fallback, nil
	}

	return &Response{
		Domain:        req.Domain,
		ModeRequested: req.Mode,
		ModeExecuted:  DecisionAgentic,
		Failures:      toRouterFailures(ragFailures),
	}, nil
}

type hybridMerge struct {
	failures []Failure
	delta    *ComparisonDelta
}

func mergeHybridResults(staticFailures []Failure, ragFailures []rag.ValidationFailure) hybridMerge {
	staticIDs := make(map[string]bool, len(staticFailures))
	for _, f := range staticFailures {
		staticIDs[f.RuleID] = true
	}
	ragIDs := make(map[string]bool, len(ragFailures))
	ragByRule := make(map[string]rag.ValidationFailure, len(ragFailures))
	for _, f := range ragFailures {
		ragIDs[f.RuleID] = true
		ragByRule[f.RuleID] = f
	}

	var jsonOnly, ragOnly, common []string
	union := map[string]bool{}
	for id := range staticIDs {
		union[id] = true
		if ragIDs[id] {
			common = append(common, id)
		} else {
			jsonOnly = append(jsonOnly, id)
		}
	}
	for id := range ragIDs {
		union[id] = true
		if !staticIDs[id] {
			ragOnly = append(ragOnly, id)
		}
	}

	agreement := 0.0
	if len(union) > 0 {
		agreement = float64(len(common)) / float64(len(union))
	}

	merged := make([]Failure, len(staticFailures))
	copy(merged, staticFailures)
	for i := range merged {
		ragFailure, ok := ragByRule[merged[i].RuleID]
		if !ok {
			continue
		}
		if merged[i].AIExplanation == "" {
			merged[i].AIExplanation = ragFailure.AIExplanation
		}
		if merged[i].AIRecommendation == "" {
			merged[i].AIRecommendation = ragFailure.AIRecommendation
		}
		if merged[i].AIConfidence == 0 {
			confidence := ragFailure.AIConfidence
			if confidence == 0 {
				confidence = 0.8
			}
			merged[i].AIConfidence = confidence
		}
		merged[i].PolicyReferences = append(merged[i].PolicyReferences, ragFailure.PolicyReferences...)
		merged[i].SuggestedActions = append(merged[i].SuggestedActions, ragFailure.SuggestedActions...)
	}

	return hybridMerge{
		failures: merged,
		delta: &ComparisonDelta{
			JSONOnlyFailures: jsonOnly,
			RAGOnlyFailures:  ragOnly,
			CommonFailures:   common,
			AgreementRate:    agreement,
			JSONFailureCount: len(staticFailures),
			RAGFailureCount:  len(ragFailures),
			AvgRAGConfidence: averageConfidence(ragFailures),
		},
	}
}

// averageConfidence returns 1.0 for no failures (perfect confidence), the
// default 0.8 when failures exist but carry no confidence value, or the mean
// of whatever confidences are present.
func averageConfidence(failures []rag.ValidationFailure) float64 {
	if len(failures) == 0 {
		return 1.0
	}
	var sum float64
	var n int
	for _, f := range failures {
		if f.AIConfidence > 0 {
			sum += f.AIConfidence
			n++
		}
	}
	if n == 0 {
		return 0.8
	}
	return sum / float64(n)
}

func toFailures(findings []rulepack.Finding) []Failure {
	out := make([]Failure, 0, len(findings))
	for _, f := range findings {
		if f.Passed {
			continue
		}
		out = append(out, Failure{RuleID: f.RuleID, Severity: f.Severity, Message: f.Message})
	}
	return out
}

func toRouterFailures(ragFailures []rag.ValidationFailure) []Failure {
	out := make([]Failure, len(ragFailures))
	for i, f := range ragFailures {
		out[i] = Failure{
			RuleID:           f.RuleID,
			Severity:         f.Severity,
			Message:          f.Message,
			AIExplanation:    f.AIExplanation,
			AIRecommendation: f.AIRecommendation,
			AIConfidence:     f.AIConfidence,
			PolicyReferences: f.PolicyReferences,
			SuggestedActions: f.SuggestedActions,
		}
	}
	return out
}

func marshalPayload(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// HealthStatus reports the router's own health (spec.md §4.1): unhealthy
// only when the Registry itself is unreachable — the Router has no registry
// attached, or the attached one cannot be queried — since without it the
// Router cannot resolve a single domain to a rule pack; degraded when the
// Registry is reachable but the rule-pack pool reports any non-healthy
// worker; healthy otherwise. A worker's own HealthCheck call erroring never
// escalates past degraded; see Pool.HealthSummary.
func (r *Router) HealthStatus(ctx context.Context) (rulepack.HealthStatus, map[string]*rulepack.Health) {
	if !r.registryReachable() {
		return rulepack.HealthUnhealthy, nil
	}
	return r.pool.HealthSummary(ctx)
}

// registryReachable probes the attached Registry. A Router with no Registry
// attached can never resolve a domain to a rule pack, so it is treated the
// same as an unreachable one.
func (r *Router) registryReachable() bool {
	if r.registry == nil {
		return false
	}
	_ = r.registry.Domains()
	return true
}

// ExplainFailure serves `POST /explain` (spec.md §6): it enriches a single
// already-known failure with RAG-sourced context, independent of a full
// validation pass. It never fails the caller's request on enrichment error;
// an empty Explanation with no error is returned instead, matching the
// conservative-mode enrichment's own silent-degrade policy (spec.md §7).
func (r *Router) ExplainFailure(ctx context.Context, domain, failureID string, payload interface{}) (*Failure, error) {
	if r.validator == nil {
		return &Failure{RuleID: failureID}, nil
	}
	expl, err := r.validator.Explain(ctx, domain, failureID, payload)
	if err != nil {
		r.logger.Warn("explain failed", "domain", domain, "failure_id", failureID, "error", err)
		return &Failure{RuleID: failureID}, nil
	}
	return &Failure{
		RuleID:           failureID,
		AIExplanation:    expl.Explanation,
		AIRecommendation: expl.Recommendation,
		AIConfidence:     expl.Confidence,
		PolicyReferences: expl.PolicyReferences,
		SuggestedActions: expl.SuggestedActions,
	}, nil
}
