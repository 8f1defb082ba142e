package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"

	"github.com/hirakuhq/hiraku/internal/knowledge"
)

// Canned answers matching the original behavior when retrieval has
// nothing to offer.
const (
	answerNoDocuments = "Please upload some documents first."
	answerNoMatches   = "No relevant information found."
)

// sourcePreviewRunes is how much chunk content is echoed back in a citation.
const sourcePreviewRunes = 200

// answerPrompt instructs the model to stay inside the retrieved context.
const answerPrompt = `Based only on the following context, answer the question. If you cannot find the exact information in the context, say "I don't have enough information to answer that."

Context: %s

Question: %s

Give a precise, factual answer using only the information provided above.

Answer: `

// Retriever is the slice of the knowledge store the engine needs.
// *knowledge.Store satisfies it.
type Retriever interface {
	Search(ctx context.Context, owner uuid.UUID, embedding []float32, opts ...knowledge.SearchOption) ([]knowledge.Result, error)
	CountChunks(ctx context.Context, owner uuid.UUID) (int, error)
}

// QueryEmbedder embeds a single query string.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Source is one citation in an answer.
type Source struct {
	Content    string  `json:"content"`
	Source     string  `json:"source"`
	Similarity float64 `json:"similarity"`
}

// Answer is the result of a RAG query.
type Answer struct {
	Text    string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// Engine answers questions against an owner's indexed documents.
//
// Engine is safe for concurrent use by multiple goroutines.
type Engine struct {
	retriever Retriever
	embedder  QueryEmbedder
	model     llms.Model
	logger    *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(retriever Retriever, embedder QueryEmbedder, model llms.Model, logger *slog.Logger) (*Engine, error) {
	if retriever == nil {
		return nil, fmt.Errorf("retriever is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if model == nil {
		return nil, fmt.Errorf("model is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{retriever: retriever, embedder: embedder, model: model, logger: logger}, nil
}

// Query answers a question synchronously.
func (e *Engine) Query(ctx context.Context, owner uuid.UUID, question string, mode Mode) (*Answer, error) {
	return e.run(ctx, owner, question, mode, nil)
}

// Stream answers a question, delivering partial answer text through
// onChunk as the model produces it. The complete answer (with sources)
// is returned once generation finishes. A non-nil error from onChunk
// aborts generation.
func (e *Engine) Stream(ctx context.Context, owner uuid.UUID, question string, mode Mode, onChunk func(text string) error) (*Answer, error) {
	if onChunk == nil {
		return nil, fmt.Errorf("onChunk is required")
	}
	return e.run(ctx, owner, question, mode, onChunk)
}

func (e *Engine) run(ctx context.Context, owner uuid.UUID, question string, mode Mode, onChunk func(string) error) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("question is required")
	}

	count, err := e.retriever.CountChunks(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("checking indexed chunks: %w", err)
	}
	if count == 0 {
		return &Answer{Text: answerNoDocuments, Sources: []Source{}}, nil
	}

	vec, err := e.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embedding question: %w", err)
	}

	params := mode.params()
	results, err := e.retriever.Search(ctx, owner, vec, knowledge.WithTopK(params.topK))
	if err != nil {
		return nil, fmt.Errorf("retrieving context: %w", err)
	}
	if len(results) == 0 {
		return &Answer{Text: answerNoMatches, Sources: []Source{}}, nil
	}

	prompt := buildPrompt(question, results)

	opts := []llms.CallOption{
		llms.WithTemperature(params.temperature),
		llms.WithMaxTokens(params.maxTokens),
	}
	if onChunk != nil {
		opts = append(opts, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			return onChunk(string(chunk))
		}))
	}

	text, err := llms.GenerateFromSinglePrompt(ctx, e.model, prompt, opts...)
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}

	answer := &Answer{
		Text:    strings.TrimSpace(text),
		Sources: buildSources(results),
	}

	e.logger.Debug("answered query",
		"owner", owner, "mode", string(mode),
		"retrieved", len(results), "answer_length", len(answer.Text))
	return answer, nil
}

// buildPrompt joins retrieved chunks into the answer prompt.
func buildPrompt(question string, results []knowledge.Result) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, r.Content)
	}
	return fmt.Sprintf(answerPrompt, strings.Join(parts, "\n"), question)
}

// buildSources converts retrieval results into citations, truncating
// content previews to sourcePreviewRunes.
func buildSources(results []knowledge.Result) []Source {
	sources := make([]Source, 0, len(results))
	for _, r := range results {
		content := r.Content
		if runes := []rune(content); len(runes) > sourcePreviewRunes {
			content = string(runes[:sourcePreviewRunes]) + "..."
		}
		sources = append(sources, Source{
			Content:    content,
			Source:     r.Source,
			Similarity: r.Similarity,
		})
	}
	return sources
}
