package chromemdb

import (
	"context"
	"fmt"
	"runtime"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"

	"csv-rag/internal/config"
	"csv-rag/internal/embedding"
	"csv-rag/internal/helper"
)

var _ vectorstores.VectorStore = (*VectorDBManager)(nil)

// VectorDBManager encapsulates the chromem-go database operations and exposes
// them as a langchaingo vector store.
type VectorDBManager struct {
	db             *chromem.DB
	collection     *chromem.Collection
	collectionName string
	embedder       embeddings.Embedder
	dedup          bool
	dbPath         string
	compress       bool
	encryptionKey  string
	filePath       string
}

// NewVectorDBManager opens (or creates) the database and its collection.
func NewVectorDBManager(cfg *config.VectorStoreConfig, embedder embeddings.Embedder, dedup bool) (*VectorDBManager, error) {
	var db *chromem.DB
	var err error
	if cfg.InMemory {
		db = chromem.NewDB()
	} else {
		if err := helper.CreateFolder(cfg.Path); err != nil {
			return nil, fmt.Errorf("failed to create folder: %w", err)
		}
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	m := &VectorDBManager{
		db:             db,
		collectionName: cfg.Collection,
		embedder:       embedder,
		dedup:          dedup,
		dbPath:         cfg.Path,
		compress:       cfg.Compress,
		encryptionKey:  cfg.EncryptionKey,
		filePath:       cfg.SnapshotFile,
	}
	if _, err := m.GetOrCreateCollection(cfg.Collection); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *VectorDBManager) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return m.embedder.EmbedQuery(ctx, text)
	}
}

// create or read collection
func (m *VectorDBManager) GetOrCreateCollection(collectionName string) (*chromem.Collection, error) {
	c, err := m.db.GetOrCreateCollection(collectionName, nil, m.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	m.collection = c
	return c, nil
}

// add multiple documents
func (m *VectorDBManager) CreateDocs(ctx context.Context, documents []chromem.Document) error {
	if len(documents) == 0 {
		return nil
	}
	err := m.collection.AddDocuments(ctx, documents, runtime.NumCPU())
	if err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

// AddDocuments embeds the documents in one batch and stores them. It returns the stored ids.
func (m *VectorDBManager) AddDocuments(ctx context.Context, docs []schema.Document, options ...vectorstores.Option) ([]string, error) {
	opts := m.getOptions(options...)

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.PageContent
	}
	vectors, err := embedding.GenerateEmbeddings(ctx, opts.Embedder, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed documents: %w", err)
	}

	ids := make([]string, len(docs))
	chromemDocs := make([]chromem.Document, len(docs))
	for i, doc := range docs {
		id, err := helper.DocumentID(doc, m.dedup)
		if err != nil {
			return nil, err
		}
		ids[i] = id
		chromemDocs[i] = chromem.Document{
			ID:        id,
			Content:   doc.PageContent,
			Metadata:  helper.ToStringMap(doc.Metadata),
			Embedding: vectors[i],
		}
	}

	if err := m.CreateDocs(ctx, chromemDocs); err != nil {
		return nil, err
	}
	return ids, nil
}

// SimilaritySearch returns up to numDocuments chunks ordered by cosine similarity.
func (m *VectorDBManager) SimilaritySearch(ctx context.Context, query string, numDocuments int, options ...vectorstores.Option) ([]schema.Document, error) {
	opts := m.getOptions(options...)

	n := min(numDocuments, m.collection.Count())
	if n <= 0 {
		return nil, nil
	}

	queryEmbedding, err := opts.Embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	where, err := helper.WhereFilter(opts.Filters)
	if err != nil {
		return nil, err
	}

	results, err := m.SearchWithQueryOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: queryEmbedding,
		NResults:       n,
		Where:          where,
	})
	if err != nil {
		return nil, err
	}

	docs := make([]schema.Document, 0, len(results))
	for _, r := range results {
		if opts.ScoreThreshold > 0 && r.Similarity < opts.ScoreThreshold {
			continue
		}
		docs = append(docs, schema.Document{
			PageContent: r.Content,
			Metadata:    toAnyMap(r.Metadata),
			Score:       r.Similarity,
		})
	}
	return docs, nil
}

// Read retrieves documents by ID or performs a similarity search
func (m *VectorDBManager) SearchWithQueryOptions(ctx context.Context, opts chromem.QueryOptions) ([]chromem.Result, error) {
	// exit if query or embedding is not provided
	if opts.QueryText == "" && opts.QueryEmbedding == nil {
		return nil, fmt.Errorf("either query or embedding must be provided")
	}

	results, err := m.collection.QueryWithOptions(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}
	return results, nil
}

func (m *VectorDBManager) Count(_ context.Context) (int, error) {
	return m.collection.Count(), nil
}

// Reset drops every stored chunk and recreates an empty collection.
func (m *VectorDBManager) Reset(_ context.Context) error {
	if err := m.DeleteCollection(); err != nil {
		return err
	}
	_, err := m.GetOrCreateCollection(m.collectionName)
	return err
}

// delete collection
func (m *VectorDBManager) DeleteCollection() error {
	err := m.db.DeleteCollection(m.collection.Name)
	if err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	return nil
}

// export to file
func (m *VectorDBManager) Export(ctx context.Context) error {
	if m.encryptionKey == "" {
		return fmt.Errorf("encryption key is required")
	}
	if m.collection == nil {
		return fmt.Errorf("collection is required")
	}
	if m.filePath == "" {
		return fmt.Errorf("snapshot file is required")
	}

	log.Debug().Str("collection", m.collection.Name).Str("file", m.filePath).Bool("compress", m.compress).Msg("Exporting collection")
	err := m.db.ExportToFile(m.filePath, m.compress, m.encryptionKey, m.collection.Name)
	if err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// import from file
func (m *VectorDBManager) Import(ctx context.Context) error {
	if m.filePath == "" {
		return fmt.Errorf("snapshot file is required")
	}
	err := m.db.ImportFromFile(m.filePath, m.encryptionKey, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	// the import replaces the collection object, so pick up the new one
	_, err = m.GetOrCreateCollection(m.collectionName)
	return err
}

func (m *VectorDBManager) getOptions(options ...vectorstores.Option) vectorstores.Options {
	opts := vectorstores.Options{}
	for _, opt := range options {
		opt(&opts)
	}
	if opts.Embedder == nil {
		opts.Embedder = m.embedder
	}
	return opts
}

func toAnyMap(in map[string]string) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
