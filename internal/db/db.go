package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"csv-rag/internal/config"
	"csv-rag/internal/embedding"
	"csv-rag/internal/helper"
)

type Document struct {
	bun.BaseModel `bun:"table:documents,alias:d"`
	ID            string         `bun:"id,pk"`
	Content       string         `bun:"content,notnull"`
	Metadata      map[string]any `bun:"metadata,type:jsonb"`
	Embedding     Vector         `bun:"embedding,notnull"`
	Score         float32        `bun:"score,scanonly"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	switch cfg.Driver {
	case config.DriverPQ:
		return sql.Open("postgres", cfg.URL)
	case config.DriverPG, "":
		opts := []pgdriver.Option{pgdriver.WithDSN(cfg.URL)}
		if cfg.Password != "" {
			opts = append(opts, pgdriver.WithPassword(cfg.Password))
		}
		return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
	default:
		return nil, fmt.Errorf("unknown database driver: %s", cfg.Driver)
	}
}

func InitDB(ctx context.Context, db *bun.DB, table string, vectorSize int) error {
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to enable pgvector: %w", err)
	}
	_, err := db.ExecContext(ctx,
		"CREATE TABLE IF NOT EXISTS ? (id text PRIMARY KEY, content text NOT NULL, metadata jsonb, embedding vector(?) NOT NULL)",
		bun.Ident(table), vectorSize)
	return err
}

// insertQuery overwrites rows with the same id when upsert is set, so
// content-derived ids re-ingest in place.
func insertQuery(db *bun.DB, table string, docs *[]Document, upsert bool) *bun.InsertQuery {
	q := db.NewInsert().Model(docs).ModelTableExpr("?", bun.Ident(table))
	if upsert {
		q = q.On("CONFLICT (id) DO UPDATE").
			Set("content = EXCLUDED.content").
			Set("metadata = EXCLUDED.metadata").
			Set("embedding = EXCLUDED.embedding")
	}
	return q
}

func StoreDocuments(ctx context.Context, db *bun.DB, table string, docs []Document, upsert bool) error {
	if len(docs) == 0 {
		return nil
	}
	_, err := insertQuery(db, table, &docs, upsert).Exec(ctx)
	return err
}

func searchQuery(db *bun.DB, table string, queryEmbedding Vector, limit int, where map[string]string) (*bun.SelectQuery, *[]Document) {
	docs := new([]Document)
	q := db.NewSelect().
		Model(docs).
		ModelTableExpr("? AS d", bun.Ident(table)).
		Column("id", "content", "metadata").
		ColumnExpr("1 - (embedding <=> ?::vector) AS score", queryEmbedding).
		OrderExpr("embedding <=> ?::vector", queryEmbedding).
		Limit(limit)
	for k, v := range where {
		q = q.Where("metadata->>? = ?", k, v)
	}
	return q, docs
}

func SearchDocuments(ctx context.Context, db *bun.DB, table string, queryEmbedding Vector, limit int, where map[string]string) ([]Document, error) {
	q, docs := searchQuery(db, table, queryEmbedding, limit, where)
	err := q.Scan(ctx)
	return *docs, err
}

// drop all rows, keep the table
func TruncateDocuments(ctx context.Context, db *bun.DB, table string) error {
	_, err := db.ExecContext(ctx, "TRUNCATE TABLE ?", bun.Ident(table))
	return err
}

func CountDocuments(ctx context.Context, db *bun.DB, table string) (int, error) {
	var n int
	err := db.NewRaw("SELECT count(*) FROM ?", bun.Ident(table)).Scan(ctx, &n)
	return n, err
}

var _ vectorstores.VectorStore = (*Store)(nil)

// Store is the pgvector-backed alternative to the chromem collection.
type Store struct {
	db       *bun.DB
	table    string
	embedder embeddings.Embedder
	dedup    bool
}

func NewStore(ctx context.Context, cfg *config.DatabaseConfig, embedder embeddings.Embedder, dedup bool) (*Store, error) {
	sqldb, err := ConnectDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	bunDB := NewDB(sqldb, cfg.Debug)
	if err := InitDB(ctx, bunDB, cfg.Table, cfg.VectorSize); err != nil {
		bunDB.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return &Store{db: bunDB, table: cfg.Table, embedder: embedder, dedup: dedup}, nil
}

func (s *Store) AddDocuments(ctx context.Context, docs []schema.Document, options ...vectorstores.Option) ([]string, error) {
	opts := s.getOptions(options...)

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.PageContent
	}
	vectors, err := embedding.GenerateEmbeddings(ctx, opts.Embedder, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed documents: %w", err)
	}

	ids := make([]string, len(docs))
	rows := make([]Document, len(docs))
	for i, doc := range docs {
		id, err := helper.DocumentID(doc, s.dedup)
		if err != nil {
			return nil, err
		}
		ids[i] = id
		rows[i] = Document{
			ID:        id,
			Content:   doc.PageContent,
			Metadata:  doc.Metadata,
			Embedding: vectors[i],
		}
	}

	if err := StoreDocuments(ctx, s.db, s.table, rows, s.dedup); err != nil {
		return nil, fmt.Errorf("failed to store documents: %w", err)
	}
	return ids, nil
}

func (s *Store) SimilaritySearch(ctx context.Context, query string, numDocuments int, options ...vectorstores.Option) ([]schema.Document, error) {
	opts := s.getOptions(options...)

	where, err := helper.WhereFilter(opts.Filters)
	if err != nil {
		return nil, err
	}

	queryEmbedding, err := opts.Embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	rows, err := SearchDocuments(ctx, s.db, s.table, queryEmbedding, numDocuments, where)
	if err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}
	return toSchemaDocuments(rows, opts.ScoreThreshold), nil
}

// rows below threshold are dropped; a zero threshold keeps everything
func toSchemaDocuments(rows []Document, threshold float32) []schema.Document {
	docs := make([]schema.Document, 0, len(rows))
	for _, r := range rows {
		if threshold > 0 && r.Score < threshold {
			continue
		}
		docs = append(docs, schema.Document{PageContent: r.Content, Metadata: r.Metadata, Score: r.Score})
	}
	return docs
}

func (s *Store) Count(ctx context.Context) (int, error) {
	return CountDocuments(ctx, s.db, s.table)
}

func (s *Store) Reset(ctx context.Context) error {
	return TruncateDocuments(ctx, s.db, s.table)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) getOptions(options ...vectorstores.Option) vectorstores.Options {
	opts := vectorstores.Options{}
	for _, opt := range options {
		opt(&opts)
	}
	if opts.Embedder == nil {
		opts.Embedder = s.embedder
	}
	return opts
}
