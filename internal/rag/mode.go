// Package rag orchestrates retrieval-augmented answering: embed the
// question, retrieve the owner's most similar chunks from the knowledge
// store, prompt the model, and return the answer with source citations.
// It also owns document ingestion (chunk → embed → store).
package rag

import (
	"errors"
	"fmt"
)

// Mode selects the answer precision trade-off. It controls how many
// chunks are retrieved and how the model samples.
type Mode string

// Supported precision modes.
const (
	// ModePrecise retrieves widely and samples near-deterministically.
	ModePrecise Mode = "precise"

	// ModeBalanced is the default.
	ModeBalanced Mode = "balanced"

	// ModeFast retrieves little and answers quickly.
	ModeFast Mode = "fast"
)

// ErrUnknownMode is returned for precision values outside the known set.
var ErrUnknownMode = errors.New("unknown precision mode")

// modeParams are the generation settings for one mode.
type modeParams struct {
	topK        int
	temperature float64
	maxTokens   int
}

var modeTable = map[Mode]modeParams{
	ModePrecise:  {topK: 8, temperature: 0.05, maxTokens: 512},
	ModeBalanced: {topK: 4, temperature: 0.3, maxTokens: 512},
	ModeFast:     {topK: 2, temperature: 0.7, maxTokens: 256},
}

// ParseMode validates a precision mode string. Empty input returns
// ModeBalanced.
func ParseMode(s string) (Mode, error) {
	if s == "" {
		return ModeBalanced, nil
	}
	m := Mode(s)
	if _, ok := modeTable[m]; !ok {
		return "", fmt.Errorf("%w: %q (want precise, balanced or fast)", ErrUnknownMode, s)
	}
	return m, nil
}

func (m Mode) params() modeParams {
	if p, ok := modeTable[m]; ok {
		return p
	}
	return modeTable[ModeBalanced]
}
