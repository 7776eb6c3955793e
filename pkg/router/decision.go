package router

import "fmt"

// FailureDecision is the caller's disposition on one Validation Failure,
// submitted via `PUT /failures/{id}/decision` (spec.md §6).
type FailureDecision string

const (
	DecisionAccept   FailureDecision = "accept"
	DecisionDefer    FailureDecision = "defer"
	DecisionIgnore   FailureDecision = "ignore"
	DecisionOverride FailureDecision = "override"
)

// ErrInvalidDecision is returned for any value outside FailureDecision's
// enum, matching spec.md §6's "400 invalid decision" contract.
var ErrInvalidDecision = fmt.Errorf("router: invalid failure decision")

// ValidateFailureDecision rejects any value outside the four allowed
// dispositions.
func ValidateFailureDecision(d FailureDecision) error {
	switch d {
	case DecisionAccept, DecisionDefer, DecisionIgnore, DecisionOverride:
		return nil
	default:
		return ErrInvalidDecision
	}
}

// FailureDecisionRecord is the caller's recorded disposition, alongside the
// optional reason/notes the endpoint accepts.
type FailureDecisionRecord struct {
	FailureID string
	Decision  FailureDecision
	Reason    string
	Notes     string
}
