package workflow

import (
	"encoding/json"
	"strconv"
	"strings"
)

// sensitiveTypes are workflow_type values (case-insensitive) that always
// require HIL approval, per spec.md §4.2.
var sensitiveTypes = map[string]bool{
	"legal":      true,
	"financial":  true,
	"title":      true,
	"ownership":  true,
	"lien":       true,
}

// sensitiveKeys are top-level payload keys (lowercased) that always require
// HIL approval, per spec.md §4.2.
var sensitiveKeys = map[string]bool{
	"legal_description":  true,
	"ownership_chain":    true,
	"lien_data":          true,
	"judgment":           true,
	"title_commitment":   true,
	"deed":               true,
	"mortgage":           true,
	"encumbrance":        true,
}

// AmountThreshold is the configuration constant above which a top-level
// numeric "amount"-substring key triggers HIL approval. Exactly the
// threshold does NOT trigger (spec.md §8 boundary behavior).
const AmountThreshold = 10000

// RequiresApproval applies spec.md §4.2's deterministic HIL classification
// to a workflow type and top-level payload. Nested structures are never
// inspected, by design — designers hoist sensitive fields to the top level.
func RequiresApproval(workflowType string, payload json.RawMessage) bool {
	if sensitiveTypes[strings.ToLower(workflowType)] {
		return true
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(payload, &top); err != nil {
		return false
	}

	for key, raw := range top {
		lower := strings.ToLower(key)
		if sensitiveKeys[lower] {
			return true
		}
		if strings.Contains(lower, "amount") && isAmountOverThreshold(raw) {
			return true
		}
	}
	return false
}

func isAmountOverThreshold(raw json.RawMessage) bool {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f > AmountThreshold
	}
	// Tolerate numeric-as-string payloads from loosely typed designers.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v > AmountThreshold
		}
	}
	return false
}

// Classifier composes the deterministic rule set with an optional secondary
// check (e.g. a CEL program) that may only ADD an approval requirement,
// never remove one the deterministic rules already flagged.
type Classifier struct {
	// Secondary, when non-nil, is consulted only when the deterministic
	// rules did not already require approval.
	Secondary func(workflowType string, payload json.RawMessage) (bool, error)
}

// Classify returns whether the workflow requires HIL approval, and the
// secondary classifier's error (if any) is reported but never allowed to
// suppress a deterministic-rule "true".
func (c *Classifier) Classify(workflowType string, payload json.RawMessage) (requiresApproval bool, secondaryErr error) {
	if RequiresApproval(workflowType, payload) {
		return true, nil
	}
	if c == nil || c.Secondary == nil {
		return false, nil
	}
	extra, err := c.Secondary(workflowType, payload)
	if err != nil {
		return false, err
	}
	return extra, nil
}
