package rag

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"csv-rag/internal/chromemdb"
	"csv-rag/internal/config"
	"csv-rag/internal/testutil"
)

const foodCSV = "name,kind\napple,fruit\ncarrot,vegetable\n"

type fixture struct {
	rag   *RAG
	store *chromemdb.VectorDBManager
	emb   *testutil.Embedder
	llm   *testutil.LLM
	cfg   *config.Config
}

func newFixture(t *testing.T, files map[string]string, tweak func(*config.Config)) *fixture {
	t.Helper()

	folder := t.TempDir()
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(folder, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	cfg := config.Default()
	cfg.Ingest.Folder = folder
	cfg.VectorStore.InMemory = true
	if tweak != nil {
		tweak(cfg)
	}

	emb := testutil.NewEmbedder("apple", "fruit", "carrot", "vegetable")
	store, err := chromemdb.NewVectorDBManager(&cfg.VectorStore, emb, cfg.Ingest.Dedup)
	if err != nil {
		t.Fatalf("NewVectorDBManager() error = %v", err)
	}
	llm := &testutil.LLM{Answer: "A carrot is a vegetable."}

	return &fixture{rag: NewRAG(store, llm, cfg), store: store, emb: emb, llm: llm, cfg: cfg}
}

func (f *fixture) count(t *testing.T) int {
	t.Helper()
	n, err := f.store.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	return n
}

func TestQueryFindsCarrotRow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]string{"food.csv": foodCSV}, nil)

	if _, err := f.rag.Ingest(ctx); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	answer, err := f.rag.Query(ctx, "what is a carrot?")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if answer.Content != "A carrot is a vegetable." {
		t.Errorf("Query() content = %q", answer.Content)
	}

	found := false
	for _, s := range answer.Sources {
		if strings.Contains(s.PageContent, "carrot") {
			found = true
		}
	}
	if !found {
		t.Errorf("carrot row missing from sources: %v", answer.Sources)
	}

	prompts := f.llm.Prompts()
	if len(prompts) != 1 {
		t.Fatalf("model called %d times, want 1", len(prompts))
	}
	for _, want := range []string{"name: carrot\nkind: vegetable", "Question: what is a carrot?"} {
		if !strings.Contains(prompts[0], want) {
			t.Errorf("prompt missing %q:\n%s", want, prompts[0])
		}
	}
}

func TestQueryEmptyFolder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)

	added, err := f.rag.Ingest(ctx)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if added != 0 || f.count(t) != 0 {
		t.Fatalf("Ingest() added %d, stored %d, want 0", added, f.count(t))
	}

	f.llm.Answer = "I don't know."
	answer, err := f.rag.Query(ctx, "what is a carrot?")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if answer.Content != "I don't know." || len(answer.Sources) != 0 {
		t.Errorf("Query() = %+v", answer)
	}
}

func TestQueryTopK(t *testing.T) {
	var rows strings.Builder
	rows.WriteString("name,kind\n")
	for i := 0; i < 15; i++ {
		fmt.Fprintf(&rows, "carrot %d,vegetable\n", i)
	}
	f := newFixture(t, map[string]string{"veg.csv": rows.String()}, nil)
	ctx := context.Background()

	if _, err := f.rag.Ingest(ctx); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	answer, err := f.rag.Query(ctx, "carrot")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(answer.Sources) != 10 {
		t.Errorf("Query() returned %d sources, want 10", len(answer.Sources))
	}
}

func TestQueryErrors(t *testing.T) {
	boom := errors.New("upstream unavailable")

	tests := []struct {
		name    string
		query   string
		llmErr  error
		embErr  error
		wantErr string
	}{
		{"blank query", "   ", nil, nil, ErrEmptyQuery.Error()},
		{"model failure", "what is a carrot?", boom, nil, "upstream unavailable"},
		{"embedding failure", "what is a carrot?", nil, boom, "upstream unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, map[string]string{"food.csv": foodCSV}, nil)
			if _, err := f.rag.Ingest(ctx); err != nil {
				t.Fatalf("Ingest() error = %v", err)
			}
			f.llm.Err = tt.llmErr
			f.emb.Err = tt.embErr

			_, err := f.rag.Query(ctx, tt.query)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Query() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestQueryBlankIsErrEmptyQuery(t *testing.T) {
	f := newFixture(t, nil, nil)
	_, err := f.rag.Query(context.Background(), "")
	if !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("Query() error = %v, want ErrEmptyQuery", err)
	}
}

func TestReingest(t *testing.T) {
	tests := []struct {
		name  string
		tweak func(*config.Config)
		want  int
	}{
		{"duplicates by default", nil, 4},
		{"dedup keeps one copy", func(c *config.Config) { c.Ingest.Dedup = true }, 2},
		{"reset drops previous run", func(c *config.Config) { c.Ingest.Reset = true }, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, map[string]string{"food.csv": foodCSV}, tt.tweak)
			for i := 0; i < 2; i++ {
				if _, err := f.rag.Ingest(ctx); err != nil {
					t.Fatalf("Ingest() error = %v", err)
				}
			}
			if got := f.count(t); got != tt.want {
				t.Errorf("Count() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestIngestMalformedFileFails(t *testing.T) {
	f := newFixture(t, map[string]string{"bad.csv": "a,b\n1,2,3\n"}, nil)
	if _, err := f.rag.Ingest(context.Background()); err == nil {
		t.Error("Ingest() error = nil, want parse error")
	}
}

func TestIndexBatches(t *testing.T) {
	ctx := context.Background()
	var rows strings.Builder
	rows.WriteString("name,kind\n")
	for i := 0; i < 7; i++ {
		fmt.Fprintf(&rows, "apple %d,fruit\n", i)
	}
	f := newFixture(t, map[string]string{"fruit.csv": rows.String()}, func(c *config.Config) { c.Ingest.BatchSize = 3 })

	added, err := f.rag.Ingest(ctx)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if added != 7 || f.count(t) != 7 {
		t.Errorf("Ingest() added %d, stored %d, want 7", added, f.count(t))
	}
}
