package processor

import (
	"strings"
	"unicode/utf8"

	"github.com/xhad/brandvoice/internal/models"
)

// SentenceDelimiter separates sentence candidates and is re-appended to each
// one when it is added to a chunk.
const SentenceDelimiter = ". "

const DefaultChunkSize = 200

type ProcessorConfig struct {
	ChunkSize          int
	CollapseWhitespace bool
}

type Processor struct {
	config ProcessorConfig
}

func NewWithConfig(config ProcessorConfig) Processor {
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkSize
	}

	return Processor{
		config: config,
	}
}

// ChunkSize returns the configured maximum chunk length.
func (p *Processor) ChunkSize() int {
	return p.config.ChunkSize
}

// Process splits the document content into ordered chunks.
func (p *Processor) Process(doc models.Document) []string {
	text := doc.Content
	if p.config.CollapseWhitespace {
		text = strings.Join(strings.Fields(text), " ")
	}
	return ChunkText(text, p.config.ChunkSize)
}

// ChunkText splits text on ". " and packs the sentences into chunks of at
// most maxChunkSize code points. Every sentence keeps a trailing ". ". A
// sentence that is longer than maxChunkSize on its own becomes a single chunk
// and is never truncated.
func ChunkText(text string, maxChunkSize int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if maxChunkSize <= 0 {
		maxChunkSize = DefaultChunkSize
	}

	delimLen := utf8.RuneCountInString(SentenceDelimiter)

	var chunks []string
	current := strings.Builder{}
	currentLen := 0

	for _, sentence := range strings.Split(text, SentenceDelimiter) {
		sentenceLen := utf8.RuneCountInString(sentence) + delimLen

		if currentLen > 0 && currentLen+sentenceLen > maxChunkSize {
			chunks = append(chunks, current.String())
			current.Reset()
			currentLen = 0
		}

		current.WriteString(sentence)
		current.WriteString(SentenceDelimiter)
		currentLen += sentenceLen
	}

	if currentLen > 0 {
		chunks = append(chunks, current.String())
	}

	return chunks
}
