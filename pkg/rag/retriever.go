package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// DefaultSimilarityThreshold is the minimum cosine similarity a chunk must
// clear before its context boost is even considered (spec.md §4.4).
const DefaultSimilarityThreshold = 0.5

// DefaultVectorWeight and DefaultKeywordWeight are hybrid retrieval's
// default score blend (spec.md §4.4).
const (
	DefaultVectorWeight  = 0.7
	DefaultKeywordWeight = 0.3
)

// Retriever is the contract the Policy Router's RAG validator and the
// `/query`/`/retrieve` HTTP handlers depend on.
type Retriever interface {
	CascadingRetrieve(ctx context.Context, query string, rctx Context, topK int, threshold float64, accessLevels []AccessLevel) ([]RetrievedChunk, error)
	HybridRetrieve(ctx context.Context, query string, rctx Context, topK int, accessLevels []AccessLevel) ([]RetrievedChunk, error)
}

// ErrInvalidTopK is returned when top_k <= 0 (spec.md §8 boundary).
var ErrInvalidTopK = fmt.Errorf("rag: top_k must be > 0")

// RetrievalService is the default Retriever: an Embedder over a Store, with
// KB stats bookkeeping. It does no caching; QueryService layers the semantic
// Cache on top of a Retriever.
type RetrievalService struct {
	store    Store
	embedder Embedder
	logger   *slog.Logger
}

// NewRetrievalService constructs a RetrievalService.
func NewRetrievalService(store Store, embedder Embedder, logger *slog.Logger) *RetrievalService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetrievalService{store: store, embedder: embedder, logger: logger}
}

func normalizeAccessLevels(levels []AccessLevel) []AccessLevel {
	if len(levels) == 0 {
		return DefaultAccessLevels
	}
	return levels
}

// CascadingRetrieve implements Retriever, per spec.md §4.4's algorithm:
// embed, filter by status/access/tenant, drop below-threshold similarity,
// add the hierarchical context boost, and return the top_k by final_score.
func (s *RetrievalService) CascadingRetrieve(ctx context.Context, query string, rctx Context, topK int, threshold float64, accessLevels []AccessLevel) ([]RetrievedChunk, error) {
	if topK <= 0 {
		return nil, ErrInvalidTopK
	}
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("rag: embed query: %w", err)
	}

	rows, err := s.store.ActiveChunks(ctx, rctx.TenantID, normalizeAccessLevels(accessLevels))
	if err != nil {
		return nil, fmt.Errorf("rag: load active chunks: %w", err)
	}

	var hits []RetrievedChunk
	for _, row := range rows {
		similarity := cosineSimilarity(row.Chunk.Embedding, queryVec)
		if similarity < threshold {
			continue
		}
		boost := contextBoost(row.Doc, rctx)
		hits = append(hits, toRetrievedChunk(row, similarity, 0, boost))
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].FinalScore > hits[j].FinalScore })
	if len(hits) > topK {
		hits = hits[:topK]
	}

	s.bumpStats(ctx, hits)
	return hits, nil
}

// HybridRetrieve implements Retriever's keyword-fused variant, per
// spec.md §4.4: final_score = w_vec*similarity + w_kw*keyword_score + boost,
// with candidate admission requiring a keyword hit OR similarity >= 0.5.
func (s *RetrievalService) HybridRetrieve(ctx context.Context, query string, rctx Context, topK int, accessLevels []AccessLevel) ([]RetrievedChunk, error) {
	if topK <= 0 {
		return nil, ErrInvalidTopK
	}

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("rag: embed query: %w", err)
	}
	tokens := strings.Fields(query)

	rows, err := s.store.ActiveChunks(ctx, rctx.TenantID, normalizeAccessLevels(accessLevels))
	if err != nil {
		return nil, fmt.Errorf("rag: load active chunks: %w", err)
	}

	var hits []RetrievedChunk
	for _, row := range rows {
		similarity := cosineSimilarity(row.Chunk.Embedding, queryVec)
		kw := keywordScore(row.Chunk.Content, tokens)
		if kw <= 0 && similarity < DefaultSimilarityThreshold {
			continue
		}
		boost := contextBoost(row.Doc, rctx)
		finalScore := DefaultVectorWeight*similarity + DefaultKeywordWeight*kw + boost
		hit := toRetrievedChunk(row, similarity, kw, boost)
		hit.FinalScore = finalScore
		hits = append(hits, hit)
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].FinalScore > hits[j].FinalScore })
	if len(hits) > topK {
		hits = hits[:topK]
	}

	s.bumpStats(ctx, hits)
	return hits, nil
}

func (s *RetrievalService) bumpStats(ctx context.Context, hits []RetrievedChunk) {
	if len(hits) == 0 {
		return
	}
	seen := make(map[string]bool, len(hits))
	var ids []string
	for _, h := range hits {
		if seen[h.DocumentID] {
			continue
		}
		seen[h.DocumentID] = true
		ids = append(ids, h.DocumentID)
	}
	// Stats errors never fail a retrieval (spec.md §4.4).
	if err := s.store.BumpStats(ctx, ids, time.Now()); err != nil {
		s.logger.Warn("rag: failed to update KB stats", "error", err)
	}
}

func toRetrievedChunk(row chunkRow, similarity, keyword, boost float64) RetrievedChunk {
	return RetrievedChunk{
		ChunkID:       row.Chunk.ID,
		DocumentID:    row.Doc.ID,
		Content:       row.Chunk.Content,
		Heading:       row.Chunk.Heading,
		PageNumber:    row.Chunk.PageNumber,
		DocumentTitle: row.Doc.Title,
		DocumentLevel: row.Doc.Level,
		SuiteID:       row.Doc.SuiteID,
		ModuleID:      row.Doc.ModuleID,
		Similarity:    similarity,
		KeywordScore:  keyword,
		ContextBoost:  boost,
		FinalScore:    similarity + boost,
	}
}
