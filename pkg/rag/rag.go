// Package rag implements hierarchical retrieval-augmented-generation:
// cascading and hybrid chunk retrieval with tenant/module/suite context
// boosts, a semantic query cache, and the real (non-stub) Validator the
// Policy Router's hybrid/agentic modes call, per spec.md §4.6.
package rag

import (
	"context"
)

// Level is the hierarchy level of a Document.
type Level string

const (
	LevelPlatform Level = "platform"
	LevelSuite    Level = "suite"
	LevelModule   Level = "module"
	LevelEntity   Level = "entity"
)

// AccessLevel gates which documents a retrieval may surface.
type AccessLevel string

const (
	AccessPublic   AccessLevel = "public"
	AccessInternal AccessLevel = "internal"
	AccessRestricted AccessLevel = "restricted"
)

// DefaultAccessLevels is the access-level filter used when a caller doesn't
// specify one.
var DefaultAccessLevels = []AccessLevel{AccessPublic, AccessInternal}

// Embedding is a dense vector representation of a piece of text.
type Embedding []float32

// Embedder produces an Embedding for arbitrary text.
type Embedder interface {
	Embed(ctx context.Context, text string) (Embedding, error)
}

// Document is one ingested knowledge-base document.
type Document struct {
	ID          string
	TenantID    string
	Title       string
	Level       Level
	SuiteID     string
	ModuleID    string
	SourceType  string
	AccessLevel AccessLevel
	Status      string // "active", "archived", or "deleted"
}

// Chunk is one retrievable slice of a Document. (document_id, ord) is
// unique; content_hash enables dedup of re-ingested identical content.
type Chunk struct {
	ID          string
	DocumentID  string
	Ord         int
	Content     string
	ContentHash string
	Heading     string
	PageNumber  int
	TokenCount  int
	Embedding   Embedding
}

// Context carries the caller's position in the content hierarchy, used to
// compute cascading context boosts.
type Context struct {
	TenantID string
	UserID   string
	SuiteID  string
	ModuleID string
	EntityID string
	UserRole string
}

// RetrievedChunk is one scored retrieval hit.
type RetrievedChunk struct {
	ChunkID         string
	DocumentID      string
	Content         string
	Heading         string
	PageNumber      int
	DocumentTitle   string
	DocumentLevel   Level
	SuiteID         string
	ModuleID        string
	Similarity      float64
	KeywordScore    float64
	ContextBoost    float64
	FinalScore      float64
}

// contextBoost returns the cascading boost for a document given a
// retrieval context: entity-level (tenant-matched) +0.15, module-level
// (module-matched) +0.10, suite-level (suite-matched) +0.05, else 0.0.
func contextBoost(doc Document, ctx Context) float64 {
	switch {
	case doc.Level == LevelEntity && doc.TenantID == ctx.TenantID:
		return 0.15
	case doc.Level == LevelModule && doc.ModuleID == ctx.ModuleID && ctx.ModuleID != "":
		return 0.10
	case doc.Level == LevelSuite && doc.SuiteID == ctx.SuiteID && ctx.SuiteID != "":
		return 0.05
	default:
		return 0.0
	}
}

// KBStats is the retrieval-count/last-retrieved bookkeeping kept per
// document for knowledge-base observability.
type KBStats struct {
	DocumentID       string
	RetrievalCount   int64
	LastRetrievedAt  string
}
