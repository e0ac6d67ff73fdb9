package models

const (
	ContentTypePDF  = "application/pdf"
	ContentTypeHTML = "text/html"
)

// Document is the raw text extracted from a single source. It lives only for
// the duration of an ingestion request.
type Document struct {
	Source      string
	ContentType string
	Title       string
	Content     string
	Metadata    map[string]interface{}
}

// IndexedChunk is a chunk paired with its embedding, addressed by a
// sequential id inside a named index.
type IndexedChunk struct {
	ID        string
	Text      string
	Embedding []float32
}

// Match is a stored chunk returned by a similarity search.
type Match struct {
	ID    string
	Text  string
	Score float32
}

// IngestResult reports what happened to each chunk of a document.
type IngestResult struct {
	Index     string   `json:"index_name"`
	Chunks    int      `json:"chunks"`
	Stored    int      `json:"chunks_stored"`
	Failed    int      `json:"chunks_failed"`
	FailedIDs []string `json:"failed_ids,omitempty"`
	Skipped   bool     `json:"skipped"`
}

// Answer is the outcome of a question asked against an index.
type Answer struct {
	Question string
	Answer   string
	Context  []string
	Prompt   string
}
