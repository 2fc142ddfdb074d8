// Package fileid provides deterministic identities for files, file contents and chunks.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strconv"
)

const prefix = "file:"

// FileDocID returns a stable identifier for the given absolute path.
// Same path always yields the same ID.
func FileDocID(absolutePath string) string {
	normalized := filepath.Clean(absolutePath)
	hash := sha256.Sum256([]byte(normalized))
	return prefix + hex.EncodeToString(hash[:])
}

// ContentHash returns the hex sha256 of content.
func ContentHash(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}

// ChunkID derives a chunk identity from the document path, the span offsets, the chunk
// policy version and the span text. It changes if and only if the span text, its position
// or the policy changes.
func ChunkID(documentPath string, start, end int, policyVersion, text string) string {
	textHash := sha256.Sum256([]byte(text))
	h := sha256.New()
	h.Write([]byte(filepath.Clean(documentPath)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(start)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(end)))
	h.Write([]byte{0})
	h.Write([]byte(policyVersion))
	h.Write([]byte{0})
	h.Write(textHash[:])
	return hex.EncodeToString(h.Sum(nil))
}
