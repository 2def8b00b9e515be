package domain

import "time"

// Document is one source file of the corpus.
type Document struct {
	ID       string
	Path     string
	Text     string
	LoadedAt time.Time
}

// Chunk is a contiguous character span of exactly one document.
type Chunk struct {
	DocID  string
	Index  int
	Text   string
	Start  int
	Length int
}

type ScoredChunk struct {
	Chunk Chunk
	Score float64
}

// IndexEntry pairs a chunk with its unit-length embedding.
type IndexEntry struct {
	Chunk  Chunk
	Vector []float32
}

// IndexMeta describes how an index was built. Fingerprint changes whenever
// the chunking or embedding configuration changes.
type IndexMeta struct {
	SchemaVersion  int       `json:"schema_version"`
	Fingerprint    string    `json:"fingerprint"`
	EmbeddingModel string    `json:"embedding_model"`
	Dimension      int       `json:"dimension"`
	ChunkSize      int       `json:"chunk_size"`
	Overlap        int       `json:"overlap"`
	BuiltAt        time.Time `json:"built_at"`
}

// IndexSnapshot is the persisted form of an index.
type IndexSnapshot struct {
	Meta      IndexMeta
	Documents []Document
	Entries   []IndexEntry
}

type Turn struct {
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	At       time.Time `json:"timestamp"`
}

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

type SourceRef struct {
	DocumentID string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
}

// Answer is the result of one ask request, successful or not.
type Answer struct {
	SessionID   string      `json:"session_id"`
	Text        string      `json:"answer"`
	Sources     []SourceRef `json:"sources"`
	Status      Status      `json:"status"`
	ErrorDetail string      `json:"error_detail,omitempty"`
	At          time.Time   `json:"timestamp"`
}

type Health struct {
	Ready        bool      `json:"ready"`
	State        string    `json:"state"`
	IndexEntries int       `json:"index_entries"`
	IndexBuiltAt time.Time `json:"index_built_at,omitempty"`
}
