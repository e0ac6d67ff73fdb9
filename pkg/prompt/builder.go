// Package prompt assembles language-model prompts from retrieved context.
//
// Lengths are measured in Unicode code points and used as a cheap stand-in
// for a token count.
package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	DefaultCharBudget = 3750

	ContextSeparator = "\n\n---\n\n"
	NoContext        = "No sufficient context available."

	Preamble = "Answer the question based on the context below. If you don't know the answer based on the context provided below, just respond with 'I don't know' instead of making up an answer. Don't start your response with the word 'Answer:'" +
		"Context:\n"
	suffixFormat = "\n\nQuestion: %s\nAnswer:"
)

// OversizeFallback decides what goes into the context when not even the
// first chunk fits the budget.
type OversizeFallback string

const (
	FallbackSentinel OversizeFallback = "sentinel"
	FallbackSmallest OversizeFallback = "smallest"
)

type BuilderConfig struct {
	CharBudget int
	Fallback   OversizeFallback
}

type Builder struct {
	config BuilderConfig
	logger *zap.Logger
}

func NewWithConfig(config BuilderConfig, logger *zap.Logger) *Builder {
	if config.CharBudget <= 0 {
		config.CharBudget = DefaultCharBudget
	}
	if config.Fallback == "" {
		config.Fallback = FallbackSentinel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{config: config, logger: logger}
}

// Build returns the prompt for query using the longest prefix of chunks whose
// joined length stays under the budget.
func (b *Builder) Build(query string, chunks []string) string {
	b.logger.Debug("building prompt", zap.Int("context_chunks", len(chunks)))

	context := b.selectContext(chunks)
	prompt := Preamble + context + fmt.Sprintf(suffixFormat, query)

	b.logger.Debug("prompt built",
		zap.Int("context_length", utf8.RuneCountInString(context)),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)))

	return prompt
}

// SelectContext returns the context section Build would use for chunks.
func (b *Builder) SelectContext(chunks []string) string {
	return b.selectContext(chunks)
}

func (b *Builder) selectContext(chunks []string) string {
	n := FitPrefix(chunks, b.config.CharBudget)
	if n > 0 {
		return strings.Join(chunks[:n], ContextSeparator)
	}

	if b.config.Fallback == FallbackSmallest {
		if smallest, ok := smallestFitting(chunks, b.config.CharBudget); ok {
			return smallest
		}
	}
	return NoContext
}

// FitPrefix returns the length of the longest prefix of chunks whose
// separator-joined length is strictly less than budget.
func FitPrefix(chunks []string, budget int) int {
	sepLen := utf8.RuneCountInString(ContextSeparator)

	fit := 0
	joined := 0
	for i, chunk := range chunks {
		if i > 0 {
			joined += sepLen
		}
		joined += utf8.RuneCountInString(chunk)
		if joined >= budget {
			break
		}
		fit = i + 1
	}
	return fit
}

func smallestFitting(chunks []string, budget int) (string, bool) {
	best := -1
	bestLen := 0
	for i, chunk := range chunks {
		l := utf8.RuneCountInString(chunk)
		if l >= budget {
			continue
		}
		if best < 0 || l < bestLen {
			best, bestLen = i, l
		}
	}
	if best < 0 {
		return "", false
	}
	return chunks[best], true
}
