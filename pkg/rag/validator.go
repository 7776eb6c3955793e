package rag

import (
	"context"
	"fmt"
)

// ValidationFailure is one AI-judged rule violation, in the shape the
// Policy Router merges with static rule-pack findings.
type ValidationFailure struct {
	RuleID           string
	Severity         string
	Message          string
	AIExplanation    string
	AIRecommendation string
	AIConfidence     float64
	PolicyReferences []string
	SuggestedActions []string
}

// Explanation is the RAG-sourced context the router attaches to a static
// rule pack's failure (conservative mode).
type Explanation struct {
	Explanation       string
	Recommendation    string
	Confidence        float64
	PolicyReferences  []string
	SuggestedActions  []string
}

// Validator is the contract the Policy Router's hybrid and agentic modes
// depend on. The upstream system this was distilled from left RAG
// validation as an unimplemented placeholder; this module implements it for
// real, grounded in retrieved policy-document chunks rather than returning
// an empty result.
type Validator interface {
	// Validate runs independent AI-assisted validation over payload and
	// returns every rule violation it judges present, each carrying its own
	// confidence score.
	Validate(ctx context.Context, domain string, payload interface{}) ([]ValidationFailure, error)
	// Explain returns policy-grounded context for a single rule_id that a
	// static rule pack already flagged as a failure.
	Explain(ctx context.Context, domain, ruleID string, payload interface{}) (*Explanation, error)
}

// RuleJudge scores one candidate rule violation against retrieved policy
// context. Concrete judges (an LLM call, a classifier) plug in here;
// Service owns only the retrieval and aggregation around them.
type RuleJudge interface {
	Judge(ctx context.Context, domain, ruleID string, payload interface{}, policyContext []RetrievedChunk) (*ValidationFailure, error)
}

// Service is the default Validator: it retrieves policy context via a
// Retriever and scores candidate rules via a RuleJudge.
type Service struct {
	retriever Retriever
	judge     RuleJudge
	domainRules map[string][]string // domain -> candidate rule_ids to evaluate agentically
}

// NewService constructs a Service. domainRules lists, per domain, the
// rule_ids agentic/hybrid validation should evaluate.
func NewService(retriever Retriever, judge RuleJudge, domainRules map[string][]string) *Service {
	return &Service{retriever: retriever, judge: judge, domainRules: domainRules}
}

// Validate implements Validator.
func (s *Service) Validate(ctx context.Context, domain string, payload interface{}) ([]ValidationFailure, error) {
	ruleIDs := s.domainRules[domain]
	var failures []ValidationFailure
	for _, ruleID := range ruleIDs {
		query := fmt.Sprintf("%s compliance rule %s", domain, ruleID)
		chunks, err := s.retriever.CascadingRetrieve(ctx, query, Context{}, 5, 0.5, nil)
		if err != nil {
			return nil, fmt.Errorf("rag: retrieve policy context for rule %q: %w", ruleID, err)
		}

		finding, err := s.judge.Judge(ctx, domain, ruleID, payload, chunks)
		if err != nil {
			return nil, fmt.Errorf("rag: judge rule %q: %w", ruleID, err)
		}
		if finding != nil {
			failures = append(failures, *finding)
		}
	}
	return failures, nil
}

// Explain implements Validator.
func (s *Service) Explain(ctx context.Context, domain, ruleID string, payload interface{}) (*Explanation, error) {
	query := fmt.Sprintf("%s compliance rule %s explanation", domain, ruleID)
	chunks, err := s.retriever.CascadingRetrieve(ctx, query, Context{}, 3, 0.5, nil)
	if err != nil {
		return nil, fmt.Errorf("rag: retrieve explanation context for rule %q: %w", ruleID, err)
	}
	if len(chunks) == 0 {
		return &Explanation{Explanation: "No policy context found for this rule.", Confidence: 0.0}, nil
	}

	refs := make([]string, 0, len(chunks))
	for _, c := range chunks {
		refs = append(refs, fmt.Sprintf("%s (%s)", c.DocumentTitle, c.Heading))
	}

	return &Explanation{
		Explanation:      chunks[0].Content,
		Recommendation:   fmt.Sprintf("Review policy reference: %s", chunks[0].DocumentTitle),
		Confidence:       chunks[0].FinalScore,
		PolicyReferences: refs,
	}, nil
}
