package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// QueryRequest is the `/query` HTTP surface's body (spec.md §6).
type QueryRequest struct {
	Query      string
	Context    Context
	TopK       int
	UseCache   bool
	UseHybrid  bool
	MaxTokens  int
}

// QueryResponse is the generated answer plus its retrieval provenance.
type QueryResponse struct {
	ResponseText string
	Chunks       []RetrievedChunk
	FromCache    bool
	CacheHits    int64
}

// Generator turns retrieved chunks into a final natural-language answer.
// The concrete generation model is out of scope (spec.md §1 Non-goals);
// CORE only defines the contract and a deterministic default for tests.
type Generator interface {
	Generate(ctx context.Context, query string, chunks []RetrievedChunk, maxTokens int) (string, error)
}

// ExtractiveGenerator is a dependency-free default Generator: it
// concatenates the top chunks' content up to maxTokens (estimated at 4
// chars/token, a common rough heuristic), grounded in the teacher's
// preference for no-op/local defaults behind pluggable model interfaces.
type ExtractiveGenerator struct{}

// Generate implements Generator.
func (ExtractiveGenerator) Generate(_ context.Context, _ string, chunks []RetrievedChunk, maxTokens int) (string, error) {
	if len(chunks) == 0 {
		return "No relevant policy context was found.", nil
	}
	maxChars := maxTokens * 4
	if maxChars <= 0 {
		maxChars = 2000
	}

	var b strings.Builder
	for _, c := range chunks {
		if b.Len() >= maxChars {
			break
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(c.Content)
	}
	out := b.String()
	if len(out) > maxChars {
		out = out[:maxChars]
	}
	return out, nil
}

// QueryService composes the Retriever, the semantic Cache, and a Generator
// into the `/query` operation, per spec.md §4.4's cache contract: hit
// increments hit_count; miss populates the cache with the generated
// response and the chunk/document IDs used.
type QueryService struct {
	retriever Retriever
	cache     Cache
	generator Generator
	logger    *slog.Logger
}

// NewQueryService constructs a QueryService. cache may be nil to disable
// caching regardless of req.UseCache.
func NewQueryService(retriever Retriever, cache Cache, generator Generator, logger *slog.Logger) *QueryService {
	if generator == nil {
		generator = ExtractiveGenerator{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryService{retriever: retriever, cache: cache, generator: generator, logger: logger}
}

// Query implements the `/query` operation.
func (s *QueryService) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	topK := req.TopK
	if topK <= 0 {
		topK = 5
	}

	key := CacheKey{
		QueryHash: NormalizeQueryHash(req.Query),
		TenantID:  req.Context.TenantID,
		SuiteID:   req.Context.SuiteID,
		ModuleID:  req.Context.ModuleID,
	}

	if req.UseCache && s.cache != nil {
		entry, hit, err := s.cache.Get(ctx, key)
		if err != nil {
			s.logger.Warn("rag: query cache lookup failed, falling through to retrieval", "error", err)
		} else if hit {
			return &QueryResponse{ResponseText: entry.ResponseText, FromCache: true, CacheHits: entry.HitCount}, nil
		}
	}

	var chunks []RetrievedChunk
	var err error
	if req.UseHybrid {
		chunks, err = s.retriever.HybridRetrieve(ctx, req.Query, req.Context, topK, nil)
	} else {
		chunks, err = s.retriever.CascadingRetrieve(ctx, req.Query, req.Context, topK, 0, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("rag: retrieve for query: %w", err)
	}

	responseText, err := s.generator.Generate(ctx, req.Query, chunks, req.MaxTokens)
	if err != nil {
		return nil, fmt.Errorf("rag: generate response: %w", err)
	}

	if req.UseCache && s.cache != nil {
		chunkIDs := make([]string, len(chunks))
		docIDs := make([]string, 0, len(chunks))
		seen := make(map[string]bool, len(chunks))
		for i, c := range chunks {
			chunkIDs[i] = c.ChunkID
			if !seen[c.DocumentID] {
				seen[c.DocumentID] = true
				docIDs = append(docIDs, c.DocumentID)
			}
		}
		entry := CacheEntry{ResponseText: responseText, ChunkIDs: chunkIDs, DocumentIDs: docIDs}
		if putErr := s.cache.Put(ctx, key, entry, DefaultCacheTTL); putErr != nil {
			s.logger.Warn("rag: query cache write failed", "error", putErr)
		}
	}

	return &QueryResponse{ResponseText: responseText, Chunks: chunks}, nil
}

// Retrieve implements the `/retrieve` operation — chunks only, no
// generation or caching.
func (s *QueryService) Retrieve(ctx context.Context, req QueryRequest) ([]RetrievedChunk, error) {
	topK := req.TopK
	if topK <= 0 {
		topK = 5
	}
	if req.UseHybrid {
		return s.retriever.HybridRetrieve(ctx, req.Query, req.Context, topK, nil)
	}
	return s.retriever.CascadingRetrieve(ctx, req.Query, req.Context, topK, 0, nil)
}
