// Package redaction implements the local PII-masking heuristic spec.md §6
// requires (SSNs, credit card numbers, emails, phone numbers) and the
// pluggable remote collaborator contract that falls back to it silently.
package redaction

import (
	"context"
	"encoding/json"
	"regexp"
)

var (
	ssnRE   = regexp.MustCompile(`\b(\d{3})[- ]?(\d{2})[- ]?(\d{4})\b`)
	ccRE    = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
	emailRE = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	phoneRE = regexp.MustCompile(`\b(?:\+?1[-.\s]?)?(?:\(\d{3}\)|\d{3})[-.\s]?\d{3}[-.\s]?\d{4}\b`)

	digitsRE = regexp.MustCompile(`\D`)
)

// StripPII applies the local heuristic masking rules:
//   - SSNs: 123-45-6789 -> ***-**-6789
//   - credit-card-shaped digit runs: keep the last 4 digits, or
//     [REDACTED-CC] if fewer than 8 digits remain after stripping separators
//   - emails -> [REDACTED-EMAIL]
//   - US-shaped phone numbers -> [REDACTED-PHONE]
//
// This is best-effort and heuristic, not a PII detection guarantee.
func StripPII(text string) string {
	text = ssnRE.ReplaceAllStringFunc(text, maskSSN)
	text = ccRE.ReplaceAllStringFunc(text, maskCC)
	text = emailRE.ReplaceAllString(text, "[REDACTED-EMAIL]")
	text = phoneRE.ReplaceAllString(text, "[REDACTED-PHONE]")
	return text
}

func maskSSN(match string) string {
	groups := ssnRE.FindStringSubmatch(match)
	if len(groups) != 4 {
		return match
	}
	return "***-**-" + groups[3]
}

func maskCC(match string) string {
	digits := digitsRE.ReplaceAllString(match, "")
	if len(digits) < 8 {
		return "[REDACTED-CC]"
	}
	return "[CC-**" + digits[len(digits)-4:] + "]"
}

// Remote is the out-of-scope named collaborator: an external redaction
// service CORE may optionally delegate to. Its implementation (transport,
// auth, the service itself) is not part of this module; only the contract
// and the silent-fallback calling convention are.
type Remote interface {
	RedactText(ctx context.Context, text string) (string, error)
}

// Redactor applies PII redaction, preferring a Remote collaborator when one
// is configured and falling back to the local heuristic whenever the remote
// call errors, times out, or is absent — callers never see a redaction
// failure, only ever more or less precise masking.
type Redactor struct {
	remote Remote
}

// New returns a Redactor. remote may be nil, in which case StripPII is
// always used directly.
func New(remote Remote) *Redactor {
	return &Redactor{remote: remote}
}

// Redact masks PII in text, preferring the remote collaborator if present.
func (r *Redactor) Redact(ctx context.Context, text string) string {
	if r.remote == nil {
		return StripPII(text)
	}
	redacted, err := r.remote.RedactText(ctx, text)
	if err != nil || redacted == "" {
		return StripPII(text)
	}
	return redacted
}

// RedactJSON walks an arbitrary JSON document (as produced by
// json.Unmarshal into interface{}) and redacts every string leaf,
// preserving structure, numbers, booleans, and nulls. Used by the Workflow
// Executor to redact payloads before persistence or forwarding while
// keeping them valid JSON for downstream consumers (spec.md §4.2).
func (r *Redactor) RedactJSON(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	redacted := r.redactValue(ctx, v)
	return json.Marshal(redacted)
}

func (r *Redactor) redactValue(ctx context.Context, v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return r.Redact(ctx, t)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = r.redactValue(ctx, val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = r.redactValue(ctx, val)
		}
		return out
	default:
		return v
	}
}
