// Package testutil holds deterministic stand-ins for the embedding and chat
// APIs so the pipeline can be tested offline.
package testutil

import (
	"context"
	"strings"
	"sync"
	"unicode"

	"github.com/tmc/langchaingo/llms"
)

// Embedder maps each vocabulary word to its own dimension. Dimension 0 is a
// constant so no vector is ever zero.
type Embedder struct {
	Vocabulary []string
	Err        error
}

func NewEmbedder(vocabulary ...string) *Embedder {
	return &Embedder{Vocabulary: vocabulary}
}

func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.EmbedQuery(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *Embedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	vec := make([]float32, len(e.Vocabulary)+1)
	vec[0] = 1
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool { return !unicode.IsLetter(r) })
	for _, w := range words {
		for i, v := range e.Vocabulary {
			if w == v {
				vec[i+1]++
			}
		}
	}
	return vec, nil
}

// LLM answers every prompt with Answer and remembers the prompts it saw.
type LLM struct {
	Answer string
	Err    error

	mu      sync.Mutex
	prompts []string
}

func (l *LLM) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	var prompt strings.Builder
	for _, m := range messages {
		for _, p := range m.Parts {
			if t, ok := p.(llms.TextContent); ok {
				prompt.WriteString(t.Text)
			}
		}
	}

	l.mu.Lock()
	l.prompts = append(l.prompts, prompt.String())
	l.mu.Unlock()

	if l.Err != nil {
		return nil, l.Err
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: l.Answer}},
	}, nil
}

func (l *LLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, l, prompt, options...)
}

func (l *LLM) Prompts() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.prompts...)
}
