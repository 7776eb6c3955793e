package ledger

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/compliantcore/platform/pkg/canonicalize"
)

// MemoryStore is a process-local Store, used in tests and for local
// development without Postgres. It serializes Append per-tenant with a
// dedicated mutex per chain, mirroring the row-lock semantics the Postgres
// store gets from Postgres itself.
type MemoryStore struct {
	mu      sync.Mutex
	chains  map[string][]*Event
	chainMu map[string]*sync.Mutex
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chains:  make(map[string][]*Event),
		chainMu: make(map[string]*sync.Mutex),
	}
}

func (s *MemoryStore) lockFor(tenantID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.chainMu[tenantID]
	if !ok {
		m = &sync.Mutex{}
		s.chainMu[tenantID] = m
	}
	return m
}

// Append implements Store.
func (s *MemoryStore) Append(req AppendRequest) (*AppendResult, error) {
	lock := s.lockFor(req.TenantID)
	lock.Lock()
	defer lock.Unlock()

	contentHash, err := canonicalize.CanonicalHash(req.EventData)
	if err != nil {
		return nil, err
	}
	data, err := canonicalize.JCS(req.EventData)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	chain := s.chains[req.TenantID]
	s.mu.Unlock()

	prevHash := Genesis
	if len(chain) > 0 {
		prevHash = chain[len(chain)-1].ChainHash
	}
	chainHash := canonicalize.HashBytes([]byte(contentHash + prevHash))

	ev := &Event{
		ID:            uuid.NewString(),
		TenantID:      req.TenantID,
		EventType:     req.EventType,
		EventData:     data,
		ContentHash:   contentHash,
		PreviousHash:  prevHash,
		ChainHash:     chainHash,
		CreatedAt:     time.Now().UTC(),
		UserID:        req.UserID,
		CorrelationID: req.CorrelationID,
		Description:   req.Description,
	}

	s.mu.Lock()
	s.chains[req.TenantID] = append(s.chains[req.TenantID], ev)
	s.mu.Unlock()

	return &AppendResult{ID: ev.ID, ChainHash: ev.ChainHash, CreatedAt: ev.CreatedAt}, nil
}

// Query implements Store.
func (s *MemoryStore) Query(p Page) (*PageResult, error) {
	if err := validatePage(p); err != nil {
		return nil, err
	}

	s.mu.Lock()
	chain := append([]*Event(nil), s.chains[p.TenantID]...)
	s.mu.Unlock()

	var filtered []*Event
	for _, ev := range chain {
		if p.EventType != "" && ev.EventType != p.EventType {
			continue
		}
		if p.CorrelationID != "" && ev.CorrelationID != p.CorrelationID {
			continue
		}
		filtered = append(filtered, ev)
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	total := len(filtered)
	start := p.Offset
	if start > total {
		start = total
	}
	end := start + p.Limit
	if end > total {
		end = total
	}

	return &PageResult{
		Events: filtered[start:end],
		Total:  total,
		Limit:  p.Limit,
		Offset: p.Offset,
	}, nil
}

// AllForVerify implements Store.
func (s *MemoryStore) AllForVerify(tenantID string) ([]*Event, error) {
	s.mu.Lock()
	chain := append([]*Event(nil), s.chains[tenantID]...)
	s.mu.Unlock()

	sort.Slice(chain, func(i, j int) bool {
		return chain[i].CreatedAt.Before(chain[j].CreatedAt)
	})
	return chain, nil
}
