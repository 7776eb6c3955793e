package rag

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ErrDocumentNotFound is returned when a document lookup misses.
var ErrDocumentNotFound = fmt.Errorf("rag: document not found")

// chunkRow is the join of a Chunk with enough of its parent Document to
// score and render a retrieval hit, mirroring the `chunks JOIN documents`
// shape the cascading/hybrid SQL queries project.
type chunkRow struct {
	Chunk Chunk
	Doc   Document
}

// Store owns RAG Documents, Chunks, and KB stats (spec.md §3's ownership
// rule: "the RAG Service owns Documents, Chunks, KB stats, and the query
// cache"). It is the retrieval substrate CascadingRetrieve/HybridRetrieve
// and GetSimilarDocuments run their scoring over.
type Store interface {
	PutDocument(ctx context.Context, doc Document) error
	GetDocument(ctx context.Context, id string) (*Document, error)
	PutChunk(ctx context.Context, chunk Chunk) error
	// ActiveChunks returns every (chunk, document) row whose document is
	// active and whose access level is in accessLevels, additionally
	// restricted to tenantID for entity-level documents.
	ActiveChunks(ctx context.Context, tenantID string, accessLevels []AccessLevel) ([]chunkRow, error)
	ChunksForDocument(ctx context.Context, documentID string) ([]Chunk, error)
	// BumpStats increments retrieval_count and sets last_retrieved_at=now
	// for every document ID, creating the stats row on first use. Errors
	// here must never fail a retrieval (spec.md §4.4).
	BumpStats(ctx context.Context, documentIDs []string, now time.Time) error
	GetStats(ctx context.Context, documentID string) (*KBStats, error)
}

// MemoryStore is a process-local Store used for tests and single-process
// deployments, mirroring MemoryStore's role in pkg/ledger.
type MemoryStore struct {
	mu        sync.RWMutex
	documents map[string]Document
	chunks    map[string][]Chunk // documentID -> chunks, ord-ordered
	stats     map[string]*KBStats
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[string]Document),
		chunks:    make(map[string][]Chunk),
		stats:     make(map[string]*KBStats),
	}
}

func (s *MemoryStore) PutDocument(_ context.Context, doc Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[doc.ID] = doc
	return nil
}

func (s *MemoryStore) GetDocument(_ context.Context, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	return &doc, nil
}

func (s *MemoryStore) PutChunk(_ context.Context, chunk Chunk) error {
	if chunk.ID == "" {
		chunk.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.chunks[chunk.DocumentID]
	for i, c := range existing {
		if c.Ord == chunk.Ord {
			existing[i] = chunk
			s.chunks[chunk.DocumentID] = existing
			return nil
		}
	}
	s.chunks[chunk.DocumentID] = append(existing, chunk)
	return nil
}

func (s *MemoryStore) ActiveChunks(_ context.Context, tenantID string, accessLevels []AccessLevel) ([]chunkRow, error) {
	allowed := make(map[AccessLevel]bool, len(accessLevels))
	for _, a := range accessLevels {
		allowed[a] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []chunkRow
	for _, doc := range s.documents {
		if doc.Status != "active" {
			continue
		}
		if !allowed[doc.AccessLevel] {
			continue
		}
		if doc.Level == LevelEntity && doc.TenantID != tenantID {
			continue
		}
		for _, chunk := range s.chunks[doc.ID] {
			rows = append(rows, chunkRow{Chunk: chunk, Doc: doc})
		}
	}
	return rows, nil
}

func (s *MemoryStore) ChunksForDocument(_ context.Context, documentID string) ([]Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Chunk, len(s.chunks[documentID]))
	copy(out, s.chunks[documentID])
	return out, nil
}

func (s *MemoryStore) BumpStats(_ context.Context, documentIDs []string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range documentIDs {
		st, ok := s.stats[id]
		if !ok {
			s.stats[id] = &KBStats{DocumentID: id, RetrievalCount: 1, LastRetrievedAt: now.UTC().Format(time.RFC3339Nano)}
			continue
		}
		st.RetrievalCount++
		st.LastRetrievedAt = now.UTC().Format(time.RFC3339Nano)
	}
	return nil
}

func (s *MemoryStore) GetStats(_ context.Context, documentID string) (*KBStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stats[documentID]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

// averageEmbedding returns the mean of a set of unit vectors. It is not
// itself guaranteed unit-length; callers only use it for relative cosine
// comparison, matching the original's `AVG(embedding)` SQL aggregate.
func averageEmbedding(vectors []Embedding) Embedding {
	if len(vectors) == 0 {
		return nil
	}
	dim := len(vectors[0])
	avg := make(Embedding, dim)
	for _, v := range vectors {
		for i := 0; i < dim && i < len(v); i++ {
			avg[i] += v[i]
		}
	}
	for i := range avg {
		avg[i] /= float32(len(vectors))
	}
	return avg
}

// cosineSimilarity returns 1-cosine_distance for two vectors, reducing to a
// dot product when both are unit-normalized per spec.md §6.
func cosineSimilarity(a, b Embedding) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// keywordScore is a lightweight stand-in for PostgreSQL's `ts_rank`: the
// fraction of query tokens (repeats counted each time) present in content,
// case-insensitive. HybridRetrieve uses it for every Store, PostgresStore
// included; no `ts_rank` query is issued.
func keywordScore(content string, tokens []string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	hits := 0
	for _, t := range tokens {
		if strings.Contains(lower, strings.ToLower(t)) {
			hits++
		}
	}
	return float64(hits) / float64(len(tokens))
}

// PostgresStore is a durable Store backed by Postgres with a pgvector
// extension, grounded on `pkg/store/embeddings.go`'s PGVectorStore and
// `original_source/services/rag/app/retrieval.py`'s raw SQL shape for the
// cascading/hybrid queries and KB stats upsert.
type PostgresStore struct {
	db  *sql.DB
	dim int
}

// NewPostgresStore wraps an already-opened *sql.DB. dim is the fixed
// embedding dimension (384 per spec.md §6) used to size the pgvector column.
func NewPostgresStore(db *sql.DB, dim int) *PostgresStore {
	return &PostgresStore{db: db, dim: dim}
}

const pgRAGSchema = `
CREATE TABLE IF NOT EXISTS rag_documents (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL DEFAULT '',
	level TEXT NOT NULL,
	suite_id TEXT NOT NULL DEFAULT '',
	module_id TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL,
	source_type TEXT NOT NULL DEFAULT '',
	access_level TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	metadata JSONB
);

CREATE TABLE IF NOT EXISTS rag_chunks (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES rag_documents(id),
	ord INTEGER NOT NULL,
	content TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	heading TEXT,
	page_number INTEGER,
	token_count INTEGER,
	embedding vector(%d),
	UNIQUE(document_id, ord)
);

CREATE INDEX IF NOT EXISTS idx_rag_chunks_embedding
	ON rag_chunks USING ivfflat (embedding vector_cosine_ops);

CREATE TABLE IF NOT EXISTS rag_kb_stats (
	document_id TEXT PRIMARY KEY REFERENCES rag_documents(id),
	retrieval_count BIGINT NOT NULL DEFAULT 0,
	last_retrieved_at TIMESTAMPTZ
);
`

// Init creates the RAG tables, indexes, and the pgvector extension if they
// do not already exist.
func (s *PostgresStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("rag: create vector extension: %w", err)
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(pgRAGSchema, s.dim))
	return err
}

func vecLiteral(v Embedding) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = fmt.Sprintf("%g", f)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func (s *PostgresStore) PutDocument(ctx context.Context, doc Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rag_documents (id, tenant_id, level, suite_id, module_id, title, source_type, access_level, status, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,'{}')
		ON CONFLICT (id) DO UPDATE SET
			tenant_id=$2, level=$3, suite_id=$4, module_id=$5, title=$6, source_type=$7, access_level=$8, status=$9
	`, doc.ID, doc.TenantID, string(doc.Level), doc.SuiteID, doc.ModuleID, doc.Title, doc.SourceType, string(doc.AccessLevel), doc.Status)
	return err
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	var doc Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, level, suite_id, module_id, title, source_type, access_level, status
		FROM rag_documents WHERE id=$1
	`, id).Scan(&doc.ID, &doc.TenantID, &doc.Level, &doc.SuiteID, &doc.ModuleID, &doc.Title, &doc.SourceType, &doc.AccessLevel, &doc.Status)
	if err == sql.ErrNoRows {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *PostgresStore) PutChunk(ctx context.Context, chunk Chunk) error {
	if chunk.ID == "" {
		chunk.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rag_chunks (id, document_id, ord, content, content_hash, heading, page_number, token_count, embedding)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9::vector)
		ON CONFLICT (document_id, ord) DO UPDATE SET
			content=$4, content_hash=$5, heading=$6, page_number=$7, token_count=$8, embedding=$9::vector
	`, chunk.ID, chunk.DocumentID, chunk.Ord, chunk.Content, chunk.ContentHash, chunk.Heading, chunk.PageNumber, chunk.TokenCount, vecLiteral(chunk.Embedding))
	return err
}

func (s *PostgresStore) ActiveChunks(ctx context.Context, tenantID string, accessLevels []AccessLevel) ([]chunkRow, error) {
	levels := make([]string, len(accessLevels))
	for i, a := range accessLevels {
		levels[i] = string(a)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.document_id, c.ord, c.content, c.content_hash, c.heading, c.page_number, c.token_count, c.embedding,
		       d.id, d.tenant_id, d.level, d.suite_id, d.module_id, d.title, d.source_type, d.access_level, d.status
		FROM rag_chunks c
		JOIN rag_documents d ON c.document_id = d.id
		WHERE d.status = 'active'
		  AND d.access_level = ANY($1)
		  AND (d.level != 'entity' OR d.tenant_id = $2)
	`, pq.Array(levels), tenantID)
	if err != nil {
		return nil, fmt.Errorf("rag: active chunks query: %w", err)
	}
	defer rows.Close()

	var out []chunkRow
	for rows.Next() {
		var (
			cr                                  chunkRow
			embeddingLiteral                   string
			heading, sourceType, suiteID, modID sql.NullString
			pageNumber, tokenCount              sql.NullInt64
		)
		if err := rows.Scan(
			&cr.Chunk.ID, &cr.Chunk.DocumentID, &cr.Chunk.Ord, &cr.Chunk.Content, &cr.Chunk.ContentHash,
			&heading, &pageNumber, &tokenCount, &embeddingLiteral,
			&cr.Doc.ID, &cr.Doc.TenantID, &cr.Doc.Level, &suiteID, &modID, &cr.Doc.Title, &sourceType, &cr.Doc.AccessLevel, &cr.Doc.Status,
		); err != nil {
			return nil, fmt.Errorf("rag: scan active chunk row: %w", err)
		}
		cr.Chunk.Heading = heading.String
		cr.Chunk.PageNumber = int(pageNumber.Int64)
		cr.Chunk.TokenCount = int(tokenCount.Int64)
		cr.Doc.SourceType = sourceType.String
		cr.Doc.SuiteID = suiteID.String
		cr.Doc.ModuleID = modID.String
		out = append(out, cr)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ChunksForDocument(ctx context.Context, documentID string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, ord, content, content_hash, heading, page_number, token_count
		FROM rag_chunks WHERE document_id=$1 ORDER BY ord ASC
	`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Chunk
	for rows.Next() {
		var c Chunk
		var heading sql.NullString
		var pageNumber, tokenCount sql.NullInt64
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Ord, &c.Content, &c.ContentHash, &heading, &pageNumber, &tokenCount); err != nil {
			return nil, err
		}
		c.Heading = heading.String
		c.PageNumber = int(pageNumber.Int64)
		c.TokenCount = int(tokenCount.Int64)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) BumpStats(ctx context.Context, documentIDs []string, now time.Time) error {
	for _, id := range documentIDs {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO rag_kb_stats (document_id, retrieval_count, last_retrieved_at)
			VALUES ($1, 1, $2)
			ON CONFLICT (document_id) DO UPDATE SET
				retrieval_count = rag_kb_stats.retrieval_count + 1,
				last_retrieved_at = $2
		`, id, now.UTC())
		if err != nil {
			return fmt.Errorf("rag: bump stats for %q: %w", id, err)
		}
	}
	return nil
}

func (s *PostgresStore) GetStats(ctx context.Context, documentID string) (*KBStats, error) {
	var st KBStats
	var lastRetrieved sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT document_id, retrieval_count, last_retrieved_at FROM rag_kb_stats WHERE document_id=$1
	`, documentID).Scan(&st.DocumentID, &st.RetrievalCount, &lastRetrieved)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if lastRetrieved.Valid {
		st.LastRetrievedAt = lastRetrieved.Time.UTC().Format(time.RFC3339Nano)
	}
	return &st, nil
}

// SimilarDocuments finds other active documents whose average chunk
// embedding is cosine-similar to documentID's average chunk embedding,
// grounded on retrieval.py's `get_similar_documents` CTE query. This
// implementation scores in Go rather than issuing the raw pgvector SQL so
// it works identically against MemoryStore and PostgresStore.
func SimilarDocuments(ctx context.Context, store Store, documentID string, topK int, minSimilarity float64) ([]SimilarDocument, error) {
	target, err := store.ChunksForDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if len(target) == 0 {
		return nil, nil
	}
	targetVecs := make([]Embedding, len(target))
	for i, c := range target {
		targetVecs[i] = c.Embedding
	}
	targetAvg := averageEmbedding(targetVecs)

	rows, err := store.ActiveChunks(ctx, "", []AccessLevel{AccessPublic, AccessInternal, AccessRestricted})
	if err != nil {
		return nil, err
	}

	byDoc := make(map[string][]Embedding)
	docs := make(map[string]Document)
	for _, r := range rows {
		if r.Doc.ID == documentID {
			continue
		}
		byDoc[r.Doc.ID] = append(byDoc[r.Doc.ID], r.Chunk.Embedding)
		docs[r.Doc.ID] = r.Doc
	}

	var out []SimilarDocument
	for docID, vecs := range byDoc {
		sim := cosineSimilarity(targetAvg, averageEmbedding(vecs))
		if sim < minSimilarity {
			continue
		}
		d := docs[docID]
		out = append(out, SimilarDocument{
			DocumentID: d.ID, Title: d.Title, Level: d.Level,
			SuiteID: d.SuiteID, ModuleID: d.ModuleID, Similarity: sim,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// SimilarDocument is one result of SimilarDocuments.
type SimilarDocument struct {
	DocumentID string
	Title      string
	Level      Level
	SuiteID    string
	ModuleID   string
	Similarity float64
}
