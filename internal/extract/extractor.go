// Package extract turns document bytes into plain text for chunking.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type formatFunc func(content []byte) (string, error)

var formats = map[string]formatFunc{
	".pdf":  extractPDF,
	".docx": extractDOCX,
	".xlsx": extractExcel,
	".pptx": extractPPTX,
	".odp":  func(c []byte) (string, error) { return extractODF(c, "ODP") },
	".ods":  func(c []byte) (string, error) { return extractODF(c, "ODS") },
	".odt":  func(c []byte) (string, error) { return extractODF(c, "ODT") },
	".md":   extractMarkdown,
	".txt":  extractText,
	".rst":  extractText,
}

// Extractor extracts plain text from document files.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract reads the file at path and extracts its text.
func (e *Extractor) Extract(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, filepath.Ext(path))
}

// ExtractBytes extracts text from content based on the given extension, which
// includes the leading dot. Unknown extensions are read as UTF-8 text.
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	if fn, ok := formats[strings.ToLower(ext)]; ok {
		return fn(content)
	}
	return extractText(content)
}

// SupportedExtensions lists the extensions with a dedicated extractor.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(formats))
	for ext := range formats {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}
