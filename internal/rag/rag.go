package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/chains"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"

	"csv-rag/internal/config"
	"csv-rag/internal/models"
	"csv-rag/internal/parser"
)

// ErrEmptyQuery is returned for a missing or blank query.
var ErrEmptyQuery = errors.New("query is required")

// Store is a vector store the pipeline can also count and clear.
type Store interface {
	vectorstores.VectorStore
	Count(ctx context.Context) (int, error)
	Reset(ctx context.Context) error
}

// RAG holds the clients built at startup. It is safe for concurrent queries.
type RAG struct {
	store Store
	llm   llms.Model
	cfg   *config.Config
	chain chains.RetrievalQA
}

func NewRAG(store Store, llm llms.Model, cfg *config.Config) *RAG {
	prompt := prompts.NewPromptTemplate(models.QAPromptTemplate, []string{models.ContextKey, models.QuestionKey})
	combine := chains.NewStuffDocuments(chains.NewLLMChain(llm, prompt))

	chain := chains.NewRetrievalQA(combine, vectorstores.ToRetriever(store, cfg.VectorStore.TopK))
	chain.ReturnSourceDocuments = true

	return &RAG{store: store, llm: llm, cfg: cfg, chain: chain}
}

// Ingest loads the configured folder, splits it and indexes the chunks.
// It returns the number of chunks added.
func (r *RAG) Ingest(ctx context.Context) (int, error) {
	p := parser.NewParser(&r.cfg.Ingest)

	docs, err := p.LoadFolder(ctx, r.cfg.Ingest.Folder)
	if err != nil {
		return 0, err
	}
	chunks, err := p.Split(docs)
	if err != nil {
		return 0, err
	}
	log.Info().Int("rows", len(docs)).Int("chunks", len(chunks)).Msg("Parsed folder")

	if r.cfg.Ingest.Reset {
		log.Info().Msg("Resetting vector store")
		if err := r.store.Reset(ctx); err != nil {
			return 0, fmt.Errorf("failed to reset vector store: %w", err)
		}
	}
	return r.Index(ctx, chunks)
}

// Index embeds and stores chunks in batches of ingest.batch_size.
func (r *RAG) Index(ctx context.Context, chunks []schema.Document) (int, error) {
	batchSize := r.cfg.Ingest.BatchSize
	if batchSize <= 0 {
		batchSize = len(chunks)
	}

	added := 0
	for start := 0; start < len(chunks); start += batchSize {
		end := min(start+batchSize, len(chunks))
		ids, err := r.store.AddDocuments(ctx, chunks[start:end])
		if err != nil {
			return added, fmt.Errorf("failed to index chunks %d-%d: %w", start, end, err)
		}
		added += len(ids)
		log.Debug().Int("indexed", added).Int("total", len(chunks)).Msg("Indexing")
	}

	total, err := r.store.Count(ctx)
	if err != nil {
		return added, fmt.Errorf("failed to count documents: %w", err)
	}
	log.Info().Int("added", added).Int("stored", total).Msg("Indexed chunks")
	return added, nil
}

// Query retrieves the top-k chunks for query and asks the model once.
func (r *RAG) Query(ctx context.Context, query string) (*models.Answer, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	start := time.Now()
	res, err := chains.Call(ctx, r.chain, map[string]any{models.QueryKey: query})
	if err != nil {
		return nil, fmt.Errorf("failed to answer query: %w", err)
	}

	text, ok := res[models.TextKey].(string)
	if !ok {
		return nil, fmt.Errorf("unexpected chain output: %T", res[models.TextKey])
	}
	sources, _ := res[models.SourcesKey].([]schema.Document)

	log.Debug().
		Str("query", query).
		Int("sources", len(sources)).
		Dur("took", time.Since(start)).
		Msg("Answered query")

	return &models.Answer{
		Query:   query,
		Content: strings.TrimSpace(text),
		Sources: sources,
	}, nil
}
