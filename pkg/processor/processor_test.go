package processor_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/brandvoice/internal/models"
	"github.com/xhad/brandvoice/pkg/processor"
)

func TestChunkText(t *testing.T) {
	longSentence := strings.Repeat("x", 250)

	tests := []struct {
		name string
		text string
		size int
		want []string
	}{
		{
			name: "empty input",
			text: "",
			size: 200,
			want: nil,
		},
		{
			name: "whitespace only",
			text: "   \n\t ",
			size: 200,
			want: nil,
		},
		{
			name: "single short sentence",
			text: "Hello world",
			size: 200,
			want: []string{"Hello world. "},
		},
		{
			name: "sentences packed until the limit",
			text: "First sentence. Second sentence. Third sentence.",
			size: 40,
			want: []string{"First sentence. Second sentence. ", "Third sentence.. "},
		},
		{
			name: "oversized sentence without delimiter",
			text: longSentence,
			size: 200,
			want: []string{longSentence + ". "},
		},
		{
			name: "oversized sentence between short ones",
			text: "Short. " + longSentence + ". Tail",
			size: 50,
			want: []string{"Short. ", longSentence + ". ", "Tail. "},
		},
		{
			name: "exact fit stays in one chunk",
			text: "abcd. efgh",
			size: 12,
			want: []string{"abcd. efgh. "},
		},
		{
			name: "one over the limit splits",
			text: "abcd. efgh",
			size: 11,
			want: []string{"abcd. ", "efgh. "},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := processor.ChunkText(tt.text, tt.size)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChunkTextCountsCodePoints(t *testing.T) {
	// "héllo" is 5 code points but 6 bytes.
	chunks := processor.ChunkText("héllo. wörld", 14)
	assert.Equal(t, []string{"héllo. wörld. "}, chunks)

	chunks = processor.ChunkText("héllo. wörld", 13)
	assert.Equal(t, []string{"héllo. ", "wörld. "}, chunks)
}

func TestChunkTextPreservesSentences(t *testing.T) {
	texts := []string{
		"The quick brown fox jumps over the lazy dog. Pack my box with five dozen liquor jugs. How vexingly quick daft zebras jump. Sphinx of black quartz, judge my vow.",
		strings.Repeat("Our voice is warm and direct. ", 40),
		"No delimiter at all in this text",
		"Odd.. spacing.  Double spaces. . Empty sentence",
		"Line one.\nLine two. Line three" + strings.Repeat(" word", 80) + ". End",
	}

	for _, size := range []int{10, 50, 200, 1000} {
		for _, text := range texts {
			chunks := processor.ChunkText(text, size)
			require.NotEmpty(t, chunks)

			// Every sentence carries its delimiter, so the rejoined text is the
			// original followed by one trailing delimiter.
			assert.Equal(t, text+processor.SentenceDelimiter, strings.Join(chunks, ""))

			for _, chunk := range chunks {
				sentences := strings.Count(chunk, processor.SentenceDelimiter)
				if sentences > 1 {
					assert.LessOrEqual(t, utf8.RuneCountInString(chunk), size,
						"multi-sentence chunk %q exceeds %d", chunk, size)
				}
			}
		}
	}
}

func TestProcessor_Process(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{})
	assert.Equal(t, processor.DefaultChunkSize, p.ChunkSize())

	doc := models.Document{Content: "This is a test document. It contains several sentences to demonstrate text processing."}
	chunks := p.Process(doc)
	require.Len(t, chunks, 1)
	assert.Equal(t, doc.Content+". ", chunks[0])
}

func TestProcessor_CollapseWhitespace(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:          200,
		CollapseWhitespace: true,
	})

	chunks := p.Process(models.Document{Content: "  Brand\n\nvoice   is\tbold.   Always   "})
	assert.Equal(t, []string{"Brand voice is bold. Always. "}, chunks)
}
