// Package models defines core data structures for documents, chunks, embedding records and search.
package models

import "time"

// DocumentRef identifies a source document as seen by one indexing pass.
type DocumentRef struct {
	Path        string    `json:"path" db:"path"`
	ModTime     time.Time `json:"mod_time" db:"mod_time"`
	Size        int64     `json:"size" db:"size"`
	ContentHash string    `json:"content_hash,omitempty" db:"content_hash"`
}

// SameStat reports whether r and other carry the same modification time and size.
// Used as the cheap pre-filter before rehashing.
func (r DocumentRef) SameStat(other DocumentRef) bool {
	return r.ModTime.Equal(other.ModTime) && r.Size == other.Size
}

// Chunk is a contiguous span of a document's extracted text.
type Chunk struct {
	ID           string `json:"id" db:"id"`
	DocumentPath string `json:"document_path" db:"document_path"`
	Index        int    `json:"index" db:"chunk_index"`
	Start        int    `json:"start" db:"start_offset"`
	End          int    `json:"end" db:"end_offset"`
	Text         string `json:"text" db:"text"`
}

// EmbeddingRecord is the persisted unit: one vector per (chunk, model).
type EmbeddingRecord struct {
	ChunkID      string    `json:"chunk_id" db:"chunk_id"`
	Model        string    `json:"model" db:"model"`
	Dimension    int       `json:"dimension" db:"dimension"`
	Vector       []float32 `json:"-" db:"vector"`
	DocumentPath string    `json:"document_path" db:"document_path"`
	ChunkIndex   int       `json:"chunk_index" db:"chunk_index"`
	Start        int       `json:"start" db:"start_offset"`
	End          int       `json:"end" db:"end_offset"`
	Text         string    `json:"text" db:"text"`
	ContentHash  string    `json:"content_hash" db:"content_hash"`
}

// Manifest records which embedding model, dimension and chunk policy are authoritative for search.
type Manifest struct {
	Model       string    `json:"model"`
	Dimension   int       `json:"dimension"`
	ChunkPolicy string    `json:"chunk_policy"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Matches reports whether m describes the same index generation as other (UpdatedAt is ignored).
// A zero dimension on either side is treated as unknown and does not cause a mismatch.
func (m Manifest) Matches(other Manifest) bool {
	if m.Model != other.Model || m.ChunkPolicy != other.ChunkPolicy {
		return false
	}
	if m.Dimension != 0 && other.Dimension != 0 && m.Dimension != other.Dimension {
		return false
	}
	return true
}
