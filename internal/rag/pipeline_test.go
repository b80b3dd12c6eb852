package rag

import (
	"context"
	"strings"
	"testing"

	"github.com/invoice-agent/backend/internal/llm"
	"github.com/invoice-agent/backend/internal/storage/models"
)

type fakeEmbedder struct {
	vectors  map[string][]float32
	fallback []float32
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return f.fallback, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

type memChunkStore struct {
	chunks map[string][]models.DocumentChunk
}

func newMemChunkStore() *memChunkStore {
	return &memChunkStore{chunks: make(map[string][]models.DocumentChunk)}
}

func (m *memChunkStore) ReplaceChunks(ctx context.Context, documentID string, chunks []models.DocumentChunk) error {
	m.chunks[documentID] = chunks
	return nil
}

func (m *memChunkStore) GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error) {
	return m.chunks[documentID], nil
}

func (m *memChunkStore) DeleteChunksByDocument(ctx context.Context, documentID string) error {
	delete(m.chunks, documentID)
	return nil
}

type fakeDocStore struct {
	doc *models.Document
}

func (f *fakeDocStore) GetDocument(id string) (*models.Document, error) {
	return f.doc, nil
}

type fakeGenerator struct {
	content      string
	model        string
	calls        int
	systemPrompt string
}

func (f *fakeGenerator) Invoke(ctx context.Context, messages []llm.Message, opts llm.InvokeOptions) (*llm.Result, error) {
	f.calls++
	f.systemPrompt = opts.SystemPrompt
	return &llm.Result{Content: f.content, ModelUsed: f.model}, nil
}

func TestQueryNotIndexed(t *testing.T) {
	gen := &fakeGenerator{content: "should not be used"}
	p := NewPipeline(&fakeEmbedder{fallback: []float32{1, 0}}, newMemChunkStore(), &fakeDocStore{}, gen)

	result, err := p.Query(context.Background(), "doc-1", "what is the total?", 3)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}

	if result.Answer != NotIndexedAnswer {
		t.Errorf("Answer = %q, want not-indexed answer", result.Answer)
	}
	if gen.calls != 0 {
		t.Errorf("generator called %d times, want 0", gen.calls)
	}
}

func TestQueryRanksAndAnswers(t *testing.T) {
	store := newMemChunkStore()
	store.chunks["doc-1"] = []models.DocumentChunk{
		{ID: "c0", DocumentID: "doc-1", ChunkIndex: 0, Text: "Shipping terms and notes.", Embedding: []float32{0, 1}},
		{ID: "c1", DocumentID: "doc-1", ChunkIndex: 1, Text: "Total due: $150.00", Embedding: []float32{1, 0}},
		{ID: "c2", DocumentID: "doc-1", ChunkIndex: 2, Text: "Vendor: Acme Corp", Embedding: []float32{0.9, 0.1}},
	}

	gen := &fakeGenerator{content: "The total is $150.00", model: "model-a"}
	embedder := &fakeEmbedder{
		vectors:  map[string][]float32{"what is the total?": {1, 0}},
		fallback: []float32{0, 0},
	}
	p := NewPipeline(embedder, store, &fakeDocStore{}, gen)

	result, err := p.Query(context.Background(), "doc-1", "what is the total?", 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}

	if result.Answer != "The total is $150.00" {
		t.Errorf("Answer = %q", result.Answer)
	}
	if result.ChunksUsed != 2 {
		t.Errorf("ChunksUsed = %d, want 2", result.ChunksUsed)
	}
	if result.ModelUsed != "model-a" {
		t.Errorf("ModelUsed = %q, want model-a", result.ModelUsed)
	}
	if len(result.Sources) != 2 {
		t.Fatalf("Sources = %d, want 2", len(result.Sources))
	}
	if result.Sources[0] != "Total due: $150.00" {
		t.Errorf("best source = %q, want the total chunk first", result.Sources[0])
	}

	if !strings.Contains(gen.systemPrompt, "Total due: $150.00") {
		t.Error("system prompt missing the best chunk")
	}
	if strings.Contains(gen.systemPrompt, "Shipping terms") {
		t.Error("system prompt contains a chunk outside the top k")
	}
}

func TestQueryAppliesCorrectionOverlay(t *testing.T) {
	store := newMemChunkStore()
	store.chunks["doc-1"] = []models.DocumentChunk{
		{ID: "c0", Text: "Total due: $150.00", Embedding: []float32{1, 0}},
	}

	docs := &fakeDocStore{doc: &models.Document{
		ID:               "doc-1",
		AdminCorrections: map[string]string{"total": "175.00"},
	}}

	gen := &fakeGenerator{content: "answer"}
	embedder := &fakeEmbedder{fallback: []float32{1, 0}}
	p := NewPipeline(embedder, store, docs, gen)

	result, err := p.Query(context.Background(), "doc-1", "total?", 3)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}

	if !result.HasCorrections {
		t.Error("HasCorrections = false, want true")
	}
	if !strings.Contains(gen.systemPrompt, "Admin Corrections") {
		t.Error("system prompt missing correction overlay")
	}
	if !strings.Contains(gen.systemPrompt, "- total: 175.00") {
		t.Error("system prompt missing corrected field")
	}
}

func TestIndexReplacesChunks(t *testing.T) {
	store := newMemChunkStore()
	store.chunks["doc-1"] = []models.DocumentChunk{{ID: "stale"}}

	embedder := &fakeEmbedder{fallback: []float32{1, 0}}
	p := NewPipeline(embedder, store, &fakeDocStore{}, &fakeGenerator{})

	text := strings.Repeat("An invoice line item with details. ", 40)
	count, err := p.Index(context.Background(), "doc-1", text)
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if count < 2 {
		t.Fatalf("chunks = %d, want several", count)
	}

	stored := store.chunks["doc-1"]
	if len(stored) != count {
		t.Fatalf("stored = %d, want %d", len(stored), count)
	}
	for i, chunk := range stored {
		if chunk.ChunkIndex != i {
			t.Errorf("chunk %d has index %d", i, chunk.ChunkIndex)
		}
		if chunk.ID == "" || chunk.ID == "stale" {
			t.Errorf("chunk %d kept a stale or empty id", i)
		}
		if len(chunk.Embedding) == 0 {
			t.Errorf("chunk %d has no embedding", i)
		}
	}
}

func TestIndexEmptyTextClearsChunks(t *testing.T) {
	store := newMemChunkStore()
	store.chunks["doc-1"] = []models.DocumentChunk{{ID: "stale"}}

	p := NewPipeline(&fakeEmbedder{}, store, &fakeDocStore{}, &fakeGenerator{})

	count, err := p.Index(context.Background(), "doc-1", "   ")
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}
	if len(store.chunks["doc-1"]) != 0 {
		t.Error("stale chunks survived an empty reindex")
	}
}

type fakeVectorIndex struct {
	replaced map[string]int
	deleted  []string
}

func (f *fakeVectorIndex) ReplaceDocument(ctx context.Context, documentID string, chunks []models.DocumentChunk) error {
	if f.replaced == nil {
		f.replaced = make(map[string]int)
	}
	f.replaced[documentID] = len(chunks)
	return nil
}

func (f *fakeVectorIndex) Search(ctx context.Context, documentID string, queryEmbedding []float32, topK int) ([]models.DocumentChunk, error) {
	return nil, nil
}

func (f *fakeVectorIndex) DeleteDocument(ctx context.Context, documentID string) error {
	f.deleted = append(f.deleted, documentID)
	return nil
}

func TestRemoveClearsChunksAndIndex(t *testing.T) {
	store := newMemChunkStore()
	store.chunks["doc-1"] = []models.DocumentChunk{{ID: "c0"}}

	index := &fakeVectorIndex{}
	p := NewPipeline(&fakeEmbedder{}, store, &fakeDocStore{}, &fakeGenerator{}).WithVectorIndex(index)

	if err := p.Remove(context.Background(), "doc-1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if len(store.chunks["doc-1"]) != 0 {
		t.Error("chunks survived removal")
	}
	if len(index.deleted) != 1 || index.deleted[0] != "doc-1" {
		t.Errorf("index deletions = %v, want [doc-1]", index.deleted)
	}
}

func TestRankChunksStableOrder(t *testing.T) {
	chunks := []models.DocumentChunk{
		{ID: "a", ChunkIndex: 0, Embedding: []float32{1, 0}},
		{ID: "b", ChunkIndex: 1, Embedding: []float32{1, 0}},
		{ID: "c", ChunkIndex: 2, Embedding: []float32{0, 1}},
	}

	ranked := RankChunks(chunks, []float32{1, 0}, 2)
	if len(ranked) != 2 {
		t.Fatalf("ranked = %d, want 2", len(ranked))
	}
	// Equal scores keep insertion order.
	if ranked[0].ID != "a" || ranked[1].ID != "b" {
		t.Errorf("order = %s,%s, want a,b", ranked[0].ID, ranked[1].ID)
	}
}

func TestRankChunksTopKClamped(t *testing.T) {
	chunks := []models.DocumentChunk{{ID: "a", Embedding: []float32{1, 0}}}
	if got := len(RankChunks(chunks, []float32{1, 0}, 5)); got != 1 {
		t.Errorf("ranked = %d, want 1", got)
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := CosineSimilarity([]float32{1, 0}, []float32{1, 0}); got < 0.99 {
		t.Errorf("identical vectors = %f, want ~1", got)
	}
	if got := CosineSimilarity([]float32{1, 0}, []float32{0, 1}); got > 0.01 {
		t.Errorf("orthogonal vectors = %f, want ~0", got)
	}
	if got := CosineSimilarity([]float32{0, 0}, []float32{0, 0}); got != 0 {
		t.Errorf("zero vectors = %f, want 0", got)
	}
}
