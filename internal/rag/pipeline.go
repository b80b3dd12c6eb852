package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/invoice-agent/backend/internal/cache/redis"
	"github.com/invoice-agent/backend/internal/embedding"
	"github.com/invoice-agent/backend/internal/llm"
	"github.com/invoice-agent/backend/internal/metrics"
	"github.com/invoice-agent/backend/internal/storage/models"
	"github.com/invoice-agent/backend/pkg/logger"
	"github.com/invoice-agent/backend/pkg/utils"
)

// NotIndexedAnswer is returned without a generation call when a document has
// no stored chunks.
const NotIndexedAnswer = "No relevant information found in this invoice. The document may not have been indexed yet."

const ragSystemPrompt = `You are an AI assistant specialized in answering questions about invoices.
You MUST answer based ONLY on the provided context from the invoice document.
If the information is not in the context, say "This information is not available in the invoice."
Do NOT make up information. Be precise and cite specific values from the invoice.

Context from the invoice:
%s

Answer the user's question based solely on this context.`

// ChunkStore persists per-document chunks. ReplaceChunks must be atomic:
// delete-all-then-insert-all, never a partial merge.
type ChunkStore interface {
	ReplaceChunks(ctx context.Context, documentID string, chunks []models.DocumentChunk) error
	GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error)
	DeleteChunksByDocument(ctx context.Context, documentID string) error
}

// DocumentStore resolves a document's correction overlay at query time.
type DocumentStore interface {
	GetDocument(id string) (*models.Document, error)
}

// VectorIndex is an optional indexed searcher layered over the chunk store.
// When present it serves ranking; the chunk store stays authoritative.
type VectorIndex interface {
	ReplaceDocument(ctx context.Context, documentID string, chunks []models.DocumentChunk) error
	Search(ctx context.Context, documentID string, queryEmbedding []float32, topK int) ([]models.DocumentChunk, error)
	DeleteDocument(ctx context.Context, documentID string) error
}

// Generator is the slice of the model gateway the pipeline needs.
type Generator interface {
	Invoke(ctx context.Context, messages []llm.Message, opts llm.InvokeOptions) (*llm.Result, error)
}

type Pipeline struct {
	embedder  embedding.Embedder
	chunks    ChunkStore
	documents DocumentStore
	generator Generator
	index     VectorIndex
	cache     *redis.Client
	chunkSize int
	overlap   int
}

type QueryResult struct {
	Answer         string
	Sources        []string
	ChunksUsed     int
	ModelUsed      string
	HasCorrections bool
}

func NewPipeline(embedder embedding.Embedder, chunks ChunkStore, documents DocumentStore, generator Generator) *Pipeline {
	return &Pipeline{
		embedder:  embedder,
		chunks:    chunks,
		documents: documents,
		generator: generator,
		chunkSize: DefaultChunkSize,
		overlap:   DefaultOverlap,
	}
}

// WithVectorIndex attaches an indexed searcher that replaces the brute-force
// similarity scan without changing the pipeline contract.
func (p *Pipeline) WithVectorIndex(index VectorIndex) *Pipeline {
	p.index = index
	return p
}

// WithAnswerCache caches answers per document and question. Entries for a
// document are dropped whenever it is reindexed.
func (p *Pipeline) WithAnswerCache(cache *redis.Client) *Pipeline {
	p.cache = cache
	return p
}

// Index replaces the document's chunk set: chunk, embed, persist, all in one
// generation. Re-indexing is idempotent.
func (p *Pipeline) Index(ctx context.Context, documentID, text string) (int, error) {
	texts := ChunkText(text, p.chunkSize, p.overlap)

	if len(texts) == 0 {
		// Still clear any previous generation.
		if err := p.chunks.ReplaceChunks(ctx, documentID, nil); err != nil {
			return 0, fmt.Errorf("clearing chunks for %s: %w", documentID, err)
		}
		p.invalidateAnswers(ctx, documentID)
		logger.Warn("No chunks generated for document", zap.String("document_id", documentID))
		return 0, nil
	}

	embeddings, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embedding chunks for %s: %w", documentID, err)
	}
	if len(embeddings) != len(texts) {
		return 0, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(embeddings), len(texts))
	}

	now := time.Now()
	chunks := make([]models.DocumentChunk, 0, len(texts))
	for i, chunkText := range texts {
		chunks = append(chunks, models.DocumentChunk{
			ID:         uuid.New().String(),
			DocumentID: documentID,
			ChunkIndex: i,
			Text:       chunkText,
			Embedding:  embeddings[i],
			CreatedAt:  now,
		})
	}

	if err := p.chunks.ReplaceChunks(ctx, documentID, chunks); err != nil {
		return 0, fmt.Errorf("storing chunks for %s: %w", documentID, err)
	}

	if p.index != nil {
		if err := p.index.ReplaceDocument(ctx, documentID, chunks); err != nil {
			return 0, fmt.Errorf("updating vector index for %s: %w", documentID, err)
		}
	}

	p.invalidateAnswers(ctx, documentID)

	logger.Info("Document indexed",
		zap.String("document_id", documentID),
		zap.Int("chunks", len(chunks)),
	)

	return len(chunks), nil
}

// Query answers a question from the document's retrieved chunks only.
func (p *Pipeline) Query(ctx context.Context, documentID, question string, topK int) (*QueryResult, error) {
	if topK <= 0 {
		topK = 3
	}

	doc, err := p.documents.GetDocument(documentID)
	if err != nil {
		logger.Warn("Failed to load document for correction overlay", zap.Error(err))
	}

	// The correction overlay is part of the cache key, so admin edits
	// never serve an answer generated from the uncorrected document.
	questionHash := answerKey(question, doc)
	if p.cache != nil {
		var cached QueryResult
		found, err := p.cache.GetAnswer(ctx, documentID, questionHash, &cached)
		if err != nil {
			logger.Warn("Answer cache lookup failed", zap.Error(err))
		} else if found {
			metrics.CacheHits.WithLabelValues("answer").Inc()
			return &cached, nil
		}
		metrics.CacheMisses.WithLabelValues("answer").Inc()
	}

	ranked, err := p.retrieve(ctx, documentID, question, topK)
	if err != nil {
		return nil, err
	}
	metrics.RetrievedChunks.Observe(float64(len(ranked)))

	if len(ranked) == 0 {
		return &QueryResult{Answer: NotIndexedAnswer}, nil
	}

	contextText := buildContext(ranked, doc)

	result, err := p.generator.Invoke(ctx,
		[]llm.Message{{Role: llm.RoleUser, Content: question}},
		llm.InvokeOptions{SystemPrompt: fmt.Sprintf(ragSystemPrompt, contextText)},
	)
	if err != nil {
		return nil, fmt.Errorf("generating answer for %s: %w", documentID, err)
	}

	sources := make([]string, 0, len(ranked))
	for _, chunk := range ranked {
		sources = append(sources, preview(chunk.Text, 100))
	}

	answer := &QueryResult{
		Answer:         result.Content,
		Sources:        sources,
		ChunksUsed:     len(ranked),
		ModelUsed:      result.ModelUsed,
		HasCorrections: doc != nil && len(doc.AdminCorrections) > 0,
	}

	if p.cache != nil {
		if err := p.cache.SetAnswer(ctx, documentID, questionHash, answer, time.Hour); err != nil {
			logger.Warn("Failed to cache answer", zap.Error(err))
		}
	}

	return answer, nil
}

// Remove clears every trace of a document from the retrieval path: stored
// chunks, the vector index entry if one is attached, and cached answers.
func (p *Pipeline) Remove(ctx context.Context, documentID string) error {
	if err := p.chunks.DeleteChunksByDocument(ctx, documentID); err != nil {
		return fmt.Errorf("deleting chunks for %s: %w", documentID, err)
	}

	if p.index != nil {
		if err := p.index.DeleteDocument(ctx, documentID); err != nil {
			return fmt.Errorf("removing %s from vector index: %w", documentID, err)
		}
	}

	p.invalidateAnswers(ctx, documentID)
	return nil
}

func (p *Pipeline) invalidateAnswers(ctx context.Context, documentID string) {
	if p.cache == nil {
		return
	}
	if err := p.cache.InvalidateDocument(ctx, documentID); err != nil {
		logger.Warn("Failed to invalidate answer cache", zap.Error(err))
	}
}

func (p *Pipeline) retrieve(ctx context.Context, documentID, question string, topK int) ([]models.DocumentChunk, error) {
	if p.index != nil {
		queryEmbedding, err := p.embedder.Embed(ctx, question)
		if err != nil {
			return nil, fmt.Errorf("embedding question: %w", err)
		}
		chunks, err := p.index.Search(ctx, documentID, queryEmbedding, topK)
		if err != nil {
			return nil, fmt.Errorf("searching vector index: %w", err)
		}
		return chunks, nil
	}

	chunks, err := p.chunks.GetChunksByDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("loading chunks for %s: %w", documentID, err)
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	queryEmbedding, err := p.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embedding question: %w", err)
	}

	return RankChunks(chunks, queryEmbedding, topK), nil
}

// RankChunks scores every chunk against the query embedding and returns the
// top k by descending cosine similarity. The sort is stable: ties keep the
// original chunk order. This is a deliberate O(n) scan per query; per-invoice
// corpora are small.
func RankChunks(chunks []models.DocumentChunk, queryEmbedding []float32, topK int) []models.DocumentChunk {
	type scored struct {
		chunk models.DocumentChunk
		score float64
	}

	scoredChunks := make([]scored, 0, len(chunks))
	for _, chunk := range chunks {
		scoredChunks = append(scoredChunks, scored{
			chunk: chunk,
			score: CosineSimilarity(queryEmbedding, chunk.Embedding),
		})
	}

	sort.SliceStable(scoredChunks, func(i, j int) bool {
		return scoredChunks[i].score > scoredChunks[j].score
	})

	if topK > len(scoredChunks) {
		topK = len(scoredChunks)
	}

	ranked := make([]models.DocumentChunk, 0, topK)
	for _, s := range scoredChunks[:topK] {
		ranked = append(ranked, s.chunk)
	}
	return ranked
}

// CosineSimilarity guards the denominator with a small epsilon so zero
// vectors score 0 instead of dividing by zero.
func CosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	return dot / (math.Sqrt(normA)*math.Sqrt(normB) + 1e-8)
}

func buildContext(chunks []models.DocumentChunk, doc *models.Document) string {
	parts := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		parts = append(parts, chunk.Text)
	}
	contextText := strings.Join(parts, "\n\n---\n\n")

	if doc == nil || len(doc.AdminCorrections) == 0 {
		return contextText
	}

	var corrections strings.Builder
	for _, field := range sortedKeys(doc.AdminCorrections) {
		corrections.WriteString(fmt.Sprintf("- %s: %s\n", field, doc.AdminCorrections[field]))
	}

	return contextText + fmt.Sprintf(`

---

IMPORTANT: Admin Corrections Applied to This Invoice
The following fields were manually corrected by an administrator:
%s
When answering questions about these fields, mention BOTH the original value from the document AND the corrected value from the admin. Format: "The [field] in the document is [original], but an admin has corrected it to [corrected value]."`, corrections.String())
}

func answerKey(question string, doc *models.Document) string {
	if doc == nil || len(doc.AdminCorrections) == 0 {
		return utils.HashString(question)
	}

	var sb strings.Builder
	sb.WriteString(question)
	for _, field := range sortedKeys(doc.AdminCorrections) {
		sb.WriteString("|")
		sb.WriteString(field)
		sb.WriteString("=")
		sb.WriteString(doc.AdminCorrections[field])
	}
	return utils.HashString(sb.String())
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func preview(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "..."
}
