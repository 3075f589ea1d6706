// Package model provides data models for the docuseek service.
package model

import (
	"time"
)

// DocumentMetadata describes an ingested source file.
type DocumentMetadata struct {
	Filename   string    `json:"filename"`
	FileType   string    `json:"file_type"`
	FileSize   int64     `json:"file_size"`
	UploadTime time.Time `json:"upload_time"`
}

// Document represents a parsed document in the knowledge base.
// A document is immutable once created; it is removed only by deleting
// all of its chunks from the vector index.
type Document struct {
	ID        string           `json:"id"`
	SourceURI string           `json:"source_uri"`
	RawText   string           `json:"-"`
	Metadata  DocumentMetadata `json:"metadata"`
}

// Chunk is a contiguous passage of a document. StartOffset and EndOffset
// are rune positions in the document's raw text; SequenceIndex is the
// chunk's position among its siblings, assigned in a single pass.
type Chunk struct {
	ID            string    `json:"id"`
	DocumentID    string    `json:"document_id"`
	Text          string    `json:"text"`
	StartOffset   int       `json:"start_offset"`
	EndOffset     int       `json:"end_offset"`
	SequenceIndex int       `json:"sequence_index"`
	Embedding     []float32 `json:"-"`
}

// RetrievalResult is a scored chunk returned by the retriever.
// Similarity is normalized to [0,1], higher means more relevant.
// Results are ephemeral; they are built per query and never persisted.
type RetrievalResult struct {
	ChunkID       string  `json:"chunk_id"`
	Text          string  `json:"text"`
	Similarity    float64 `json:"score"`
	DocumentID    string  `json:"document_id"`
	DocumentName  string  `json:"source"`
	FileType      string  `json:"file_type"`
	SequenceIndex int     `json:"sequence_index"`
}

// QueryRequest is a question against the knowledge base.
type QueryRequest struct {
	Question            string   `json:"question" binding:"required"`
	TopK                int      `json:"top_k,omitempty"`
	SimilarityThreshold *float64 `json:"similarity_threshold,omitempty"`
}

// ConversationMessage is one prior turn in a conversation.
type ConversationMessage struct {
	Role    string `json:"role" binding:"required,oneof=user assistant"`
	Content string `json:"content" binding:"required"`
}

// ConversationQueryRequest is a question asked in the context of prior
// conversation turns. Retrieval is driven by the question alone; history
// only shapes the generation step.
type ConversationQueryRequest struct {
	Question            string                `json:"question" binding:"required"`
	History             []ConversationMessage `json:"history,omitempty"`
	TopK                int                   `json:"top_k,omitempty"`
	SimilarityThreshold *float64              `json:"similarity_threshold,omitempty"`
}

// QueryResult is the generated answer together with the sources that
// were actually included in the final prompt, in rank order.
type QueryResult struct {
	Answer  string             `json:"answer"`
	Sources []*RetrievalResult `json:"sources"`
}

// UploadResult summarizes a multi-file upload.
type UploadResult struct {
	Status         string   `json:"status"`
	Message        string   `json:"message"`
	FileCount      int      `json:"file_count"`
	ProcessedFiles []string `json:"processed_files"`
	FailedFiles    []string `json:"failed_files"`
	TotalChunks    int      `json:"total_chunks"`
}

// IngestResult reports the outcome of indexing a single document.
type IngestResult struct {
	DocumentID  string `json:"document_id"`
	ChunksAdded int    `json:"chunks_added"`
}
