// Package ledger implements the append-only, hash-chained, tenant-partitioned
// audit log described in spec.md §4.3: append, paginated/filterable query,
// CSV export, and whole-chain tamper verification.
package ledger

import (
	"encoding/json"
	"errors"
	"time"
)

// Genesis is the canonical previous_hash for a tenant's first event.
const Genesis = "0000000000000000000000000000000000000000000000000000000000000000"

var (
	// ErrStalePreviousHash is returned when a concurrent appender's view of
	// the tenant's chain head was stale (spec.md §5 Conflict semantics).
	ErrStalePreviousHash = errors.New("ledger: stale previous_hash, retry append")
	// ErrNotFound is declared for event lookups; no Store method in this
	// package returns it.
	ErrNotFound = errors.New("ledger: event not found")
	// ErrInvalidPage is returned for out-of-bounds limit/offset (spec.md §8).
	ErrInvalidPage = errors.New("ledger: limit must be in [1,1000] and offset >= 0")
)

// EventType is an opaque, caller-defined event category.
type EventType string

// Event is one immutable, hash-chained ledger entry (spec.md §3).
type Event struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenant_id"`
	EventType     EventType       `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`
	ContentHash   string          `json:"content_hash"`
	PreviousHash  string          `json:"previous_hash"`
	ChainHash     string          `json:"chain_hash"`
	CreatedAt     time.Time       `json:"created_at"`
	UserID        string          `json:"user_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Description   string          `json:"description,omitempty"`
}

// AppendRequest is the caller-supplied content for a new event. EventData
// must be a JSON-serializable value; it is hashed via canonical_json before
// any key ordering, whitespace, or number formatting peculiarities of the
// caller's own JSON encoder can matter.
type AppendRequest struct {
	TenantID      string
	EventType     EventType
	EventData     interface{}
	UserID        string
	CorrelationID string
	Description   string
}

// AppendResult is returned from a successful Append.
type AppendResult struct {
	ID        string
	ChainHash string
	CreatedAt time.Time
}

// Page is a filterable, paginated query over one tenant's events.
type Page struct {
	TenantID      string
	EventType     EventType // optional filter
	CorrelationID string    // optional filter
	Limit         int       // required, 1..1000
	Offset        int       // required, >=0
}

// PageResult is the response to a Query call.
type PageResult struct {
	Events []*Event
	Total  int
	Limit  int
	Offset int
}

// VerifyResult is the outcome of verifying a tenant's chain.
type VerifyResult struct {
	OK             bool
	FirstBadOffset int // -1 if OK
	Reason         string
}

// Store is the durable backing for one or more tenant chains. Implementations
// must serialize Append per-tenant (spec.md §5) while allowing different
// tenants to proceed independently.
type Store interface {
	// Append atomically reads the tenant's current chain head, computes the
	// next event's hashes, and persists it. It never partially succeeds.
	Append(req AppendRequest) (*AppendResult, error)
	// Query returns a page of one tenant's events, newest first.
	Query(p Page) (*PageResult, error)
	// AllForVerify returns every event of one tenant in ascending
	// created_at order, for chain verification or export.
	AllForVerify(tenantID string) ([]*Event, error)
}

func validatePage(p Page) error {
	if p.Limit < 1 || p.Limit > 1000 {
		return ErrInvalidPage
	}
	if p.Offset < 0 {
		return ErrInvalidPage
	}
	return nil
}
