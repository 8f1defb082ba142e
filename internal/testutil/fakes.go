package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

// EmbeddingDim matches the schema's vector column width.
const EmbeddingDim = 768

// FakeEmbedder produces deterministic embeddings derived from the text,
// so identical texts always land on identical vectors and similarity
// ordering is stable across runs. Satisfies both the engine's query
// embedder and the indexer's document embedder.
type FakeEmbedder struct {
	mu    sync.Mutex
	Calls int

	// Err, when set, is returned by every call.
	Err error
}

// EmbedDocuments embeds a batch of texts.
func (f *FakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.Calls++
	f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = DeterministicVector(text)
	}
	return out, nil
}

// EmbedQuery embeds a single query string.
func (f *FakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// DeterministicVector expands a sha256 of the text into a unit-ish
// vector of EmbeddingDim components.
func DeterministicVector(text string) []float32 {
	seed := sha256.Sum256([]byte(text))
	vec := make([]float32, EmbeddingDim)
	for i := range vec {
		// Re-hash the seed with the index to fill all components.
		var buf [36]byte
		copy(buf[:32], seed[:])
		binary.LittleEndian.PutUint32(buf[32:], uint32(i))
		h := sha256.Sum256(buf[:])
		vec[i] = float32(binary.LittleEndian.Uint16(h[:2]))/65535 - 0.5
	}
	return vec
}

// FakeModel is a canned chat model. It satisfies llms.Model and honors
// the streaming callback by emitting the response word by word.
type FakeModel struct {
	// Response is returned for every generation. Defaults to a fixed
	// marker when empty.
	Response string

	// Err, when set, fails every generation.
	Err error

	mu      sync.Mutex
	Prompts []string
}

// LastPrompt returns the most recent prompt, or "".
func (f *FakeModel) LastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Prompts) == 0 {
		return ""
	}
	return f.Prompts[len(f.Prompts)-1]
}

// GenerateContent implements llms.Model.
func (f *FakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	if f.Err != nil {
		return nil, f.Err
	}

	var prompt strings.Builder
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				prompt.WriteString(text.Text)
			}
		}
	}
	f.mu.Lock()
	f.Prompts = append(f.Prompts, prompt.String())
	f.mu.Unlock()

	response := f.Response
	if response == "" {
		response = "fake model response"
	}

	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}
	if opts.StreamingFunc != nil {
		for i, word := range strings.Fields(response) {
			chunk := word
			if i > 0 {
				chunk = " " + word
			}
			if err := opts.StreamingFunc(ctx, []byte(chunk)); err != nil {
				return nil, fmt.Errorf("streaming callback: %w", err)
			}
		}
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: response}},
	}, nil
}

// Call implements the deprecated llms.Model single-prompt method.
func (f *FakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	resp, err := f.GenerateContent(ctx, []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)}, options...)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Content, nil
}
