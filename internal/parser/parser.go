package parser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"csv-rag/internal/config"
	"csv-rag/internal/models"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/xuri/excelize/v2"
)

const (
	defaultChunkSize    = 1000 // runes
	defaultChunkOverlap = 200  // runes
)

type Parser interface {
	ParseFile(ctx context.Context, filePath string) ([]schema.Document, error)
}

type ParserConfig struct {
	Config *config.IngestConfig
}

func NewParser(cfg *config.IngestConfig) *ParserConfig {
	// if config is nil, use default values
	if cfg == nil {
		cfg = &config.IngestConfig{
			Extensions:   []string{".csv", ".xlsx"},
			ChunkSize:    defaultChunkSize,
			ChunkOverlap: defaultChunkOverlap,
		}
	}
	return &ParserConfig{Config: cfg}
}

// LoadFolder reads every supported file directly under folder, in name order,
// and returns one document per table row.
func (p *ParserConfig) LoadFolder(ctx context.Context, folder string) ([]schema.Document, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("failed to read folder %s: %w", folder, err)
	}

	var docs []schema.Document
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		filePath := filepath.Join(folder, entry.Name())
		if !p.supported(filePath) {
			log.Debug().Str("file", filePath).Msg("Skipping unsupported file")
			continue
		}

		fileDocs, err := p.ParseFile(ctx, filePath)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", filePath, err)
		}
		log.Info().Str("file", filePath).Int("rows", len(fileDocs)).Msg("Loaded file")
		docs = append(docs, fileDocs...)
	}
	return docs, nil
}

func (p *ParserConfig) supported(filePath string) bool {
	ext := strings.ToLower(filepath.Ext(filePath))
	for _, e := range p.Config.Extensions {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

func (p *ParserConfig) ParseFile(ctx context.Context, filePath string) ([]schema.Document, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".csv":
		return p.parseCSV(ctx, filePath)
	case ".xlsx", ".xlsm":
		return p.parseXLSX(filePath)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", ext)
	}
}

func (p *ParserConfig) parseCSV(ctx context.Context, filePath string) ([]schema.Document, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	docs, err := documentloaders.NewCSV(f, p.Config.Columns...).Load(ctx)
	if err != nil {
		return nil, err
	}
	for i := range docs {
		if docs[i].Metadata == nil {
			docs[i].Metadata = map[string]any{}
		}
		docs[i].Metadata[models.MetaSource] = filePath
	}
	return docs, nil
}

// parseXLSX renders each data row the same way the CSV loader does:
// one "header: value" line per column.
func (p *ParserConfig) parseXLSX(filePath string) ([]schema.Document, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var docs []schema.Document
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %s: %w", sheetName, err)
		}
		if len(rows) == 0 {
			continue
		}

		header := rows[0]
		rowNum := 0
		for _, row := range rows[1:] {
			rowNum++
			var lines []string
			for i, value := range row {
				if i >= len(header) {
					break
				}
				if len(p.Config.Columns) > 0 && !slices.Contains(p.Config.Columns, header[i]) {
					continue
				}
				lines = append(lines, fmt.Sprintf("%s: %s", header[i], value))
			}
			if strings.TrimSpace(strings.Join(row, "")) == "" {
				continue
			}
			docs = append(docs, schema.Document{
				PageContent: strings.Join(lines, "\n"),
				Metadata: map[string]any{
					models.MetaSource: filePath,
					models.MetaSheet:  sheetName,
					models.MetaRow:    rowNum,
				},
			})
		}
	}
	return docs, nil
}

// Split cuts documents into overlapping chunks with the recursive character splitter.
// Empty chunks are dropped.
func (p *ParserConfig) Split(docs []schema.Document) ([]schema.Document, error) {
	chunkSize, chunkOverlap := p.Config.ChunkSize, p.Config.ChunkOverlap
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 5
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
	)
	chunks, err := textsplitter.SplitDocuments(splitter, docs)
	if err != nil {
		return nil, fmt.Errorf("failed to split documents: %w", err)
	}

	out := chunks[:0]
	for _, c := range chunks {
		if strings.TrimSpace(c.PageContent) != "" {
			out = append(out, c)
		}
	}
	return out, nil
}
