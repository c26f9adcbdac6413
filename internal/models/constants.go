package models

import "github.com/tmc/langchaingo/schema"

const (
	MetaSource = "source"
	MetaRow    = "row"
	MetaSheet  = "sheet"

	// keys used by the retrieval QA chain
	ContextKey  = "context"
	QuestionKey = "question"
	QueryKey    = "query"
	TextKey     = "text"
	SourcesKey  = "source_documents"
)

var (
	QAPromptTemplate = `You are an AI assistant that provides clear, structured answers based on the provided documents.

**Response Formatting Guidelines:**
- Use bullet points for lists or key details.
- Use paragraphs for explanations.
- Keep responses concise and well-structured.
- Maintain a user-friendly conversational tone.

If the documents do not contain the answer, say that you don't know.

Documents:
{{.context}}

Question: {{.question}}
Answer:
`
)

// Answer is the result of one retrieval-then-generation run.
type Answer struct {
	Query   string
	Content string
	Sources []schema.Document
}
