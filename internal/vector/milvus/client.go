package milvus

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/invoice-agent/backend/internal/storage/models"
	"github.com/invoice-agent/backend/pkg/logger"
)

// Client is an indexed chunk searcher satisfying rag.VectorIndex. The SQLite
// chunk store stays authoritative; this index only serves ranking.
type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

func NewClient(endpoint, collectionName string, vectorDim int) (*Client, error) {
	c, err := client.NewGrpcClient(context.Background(), endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

func (m *Client) EnsureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if has {
		return nil
	}

	schema := &entity.Schema{
		CollectionName: m.collectionName,
		Description:    "Per-invoice text chunk embeddings",
		Fields: []*entity.Field{
			{
				Name:       "chunk_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       "document_id",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:     "chunk_index",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:       "text",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "4096"},
			},
			{
				Name:       "embedding",
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": fmt.Sprintf("%d", m.vectorDim)},
			},
		},
	}

	if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.IP, 1024)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	if err := m.client.CreateIndex(ctx, m.collectionName, "embedding", idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	if err := m.client.LoadCollection(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", m.collectionName))
	return nil
}

// ReplaceDocument mirrors the chunk store's reindex contract: delete every
// chunk for the document, then insert the new generation.
func (m *Client) ReplaceDocument(ctx context.Context, documentID string, chunks []models.DocumentChunk) error {
	if err := m.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	chunkIDs := make([]string, len(chunks))
	documentIDs := make([]string, len(chunks))
	indices := make([]int64, len(chunks))
	texts := make([]string, len(chunks))
	embeddings := make([][]float32, len(chunks))

	for i, chunk := range chunks {
		chunkIDs[i] = chunk.ID
		documentIDs[i] = chunk.DocumentID
		indices[i] = int64(chunk.ChunkIndex)
		texts[i] = chunk.Text
		embeddings[i] = chunk.Embedding
	}

	_, err := m.client.Insert(
		ctx,
		m.collectionName,
		"",
		entity.NewColumnVarChar("chunk_id", chunkIDs),
		entity.NewColumnVarChar("document_id", documentIDs),
		entity.NewColumnInt64("chunk_index", indices),
		entity.NewColumnVarChar("text", texts),
		entity.NewColumnFloatVector("embedding", m.vectorDim, embeddings),
	)
	if err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}

	if err := m.client.Flush(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Chunks indexed",
		zap.String("document_id", documentID),
		zap.Int("count", len(chunks)),
	)
	return nil
}

func (m *Client) Search(ctx context.Context, documentID string, queryEmbedding []float32, topK int) ([]models.DocumentChunk, error) {
	sp, _ := entity.NewIndexIvfFlatSearchParam(16)

	searchResult, err := m.client.Search(
		ctx,
		m.collectionName,
		[]string{},
		fmt.Sprintf(`document_id == "%s"`, documentID),
		[]string{"chunk_id", "document_id", "chunk_index", "text"},
		[]entity.Vector{entity.FloatVector(queryEmbedding)},
		"embedding",
		entity.IP,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	var chunks []models.DocumentChunk
	for _, sr := range searchResult {
		chunkIDCol := sr.Fields.GetColumn("chunk_id")
		documentIDCol := sr.Fields.GetColumn("document_id")
		indexCol := sr.Fields.GetColumn("chunk_index")
		textCol := sr.Fields.GetColumn("text")

		for i := 0; i < sr.ResultCount; i++ {
			chunkID, _ := chunkIDCol.Get(i)
			docID, _ := documentIDCol.Get(i)
			chunkIndex, _ := indexCol.Get(i)
			text, _ := textCol.Get(i)

			chunk := models.DocumentChunk{}
			if s, ok := chunkID.(string); ok {
				chunk.ID = s
			}
			if s, ok := docID.(string); ok {
				chunk.DocumentID = s
			}
			if n, ok := chunkIndex.(int64); ok {
				chunk.ChunkIndex = int(n)
			}
			if s, ok := text.(string); ok {
				chunk.Text = s
			}
			chunks = append(chunks, chunk)
		}
	}

	return chunks, nil
}

func (m *Client) DeleteDocument(ctx context.Context, documentID string) error {
	err := m.client.Delete(ctx, m.collectionName, "", fmt.Sprintf(`document_id == "%s"`, documentID))
	if err != nil {
		return fmt.Errorf("failed to delete document chunks: %w", err)
	}
	return nil
}
