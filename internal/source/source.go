// Package source enumerates and reads the documents to index.
package source

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/hyperjump/ragindex/internal/models"
	"go.uber.org/zap"
)

// Source lists documents with their stat information and reads their raw bytes.
type Source interface {
	// List returns every current document, sorted by path. ContentHash is left empty.
	List(ctx context.Context) ([]models.DocumentRef, error)
	Read(ctx context.Context, path string) ([]byte, error)
}

// DirectorySource lists regular files under a set of root directories.
type DirectorySource struct {
	mu         sync.RWMutex
	roots      []string
	extensions []string
	recursive  bool
	exclude    []string
	logger     *zap.Logger
}

var _ Source = (*DirectorySource)(nil)

// Option configures a DirectorySource.
type Option func(*DirectorySource)

// WithExtensions limits listing to files with these extensions (case-insensitive, dot optional).
func WithExtensions(exts []string) Option {
	return func(s *DirectorySource) { s.extensions = append([]string(nil), exts...) }
}

// WithRecursive controls whether subdirectories are walked. Default true.
func WithRecursive(recursive bool) Option {
	return func(s *DirectorySource) { s.recursive = recursive }
}

// WithExclude skips these paths and everything below them (e.g. the data directory).
func WithExclude(paths ...string) Option {
	return func(s *DirectorySource) {
		for _, p := range paths {
			if abs, err := filepath.Abs(p); err == nil {
				s.exclude = append(s.exclude, filepath.Clean(abs))
			}
		}
	}
}

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(s *DirectorySource) { s.logger = l }
}

// NewDirectorySource creates a source over roots. Relative roots are made absolute.
func NewDirectorySource(roots []string, opts ...Option) *DirectorySource {
	s := &DirectorySource{recursive: true}
	for _, opt := range opts {
		opt(s)
	}
	s.roots = normalizeRoots(roots)
	return s
}

// SetRoots replaces the root directories. The next List reflects the change.
func (s *DirectorySource) SetRoots(roots []string) {
	norm := normalizeRoots(roots)
	s.mu.Lock()
	s.roots = norm
	s.mu.Unlock()
}

// Roots returns a copy of the current root directories.
func (s *DirectorySource) Roots() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.roots...)
}

// List walks every root and returns the matching regular files. Symlinks are followed
// for files only. A missing root is skipped.
func (s *DirectorySource) List(ctx context.Context) ([]models.DocumentRef, error) {
	roots := s.Roots()
	seen := make(map[string]struct{})
	var refs []models.DocumentRef
	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil {
			if os.IsNotExist(err) {
				if s.logger != nil {
					s.logger.Debug("source root missing", zap.String("root", root))
				}
				continue
			}
			return nil, fmt.Errorf("stat root %s: %w", root, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("not a directory: %s", root)
		}
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				if path == root {
					return walkErr
				}
				if s.logger != nil {
					s.logger.Debug("source walk error", zap.String("path", path), zap.Error(walkErr))
				}
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if s.excluded(path) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				if path != root && !s.recursive {
					return filepath.SkipDir
				}
				return nil
			}
			if !MatchExtension(path, s.extensions) {
				return nil
			}
			finfo, err := os.Stat(path)
			if err != nil || !finfo.Mode().IsRegular() {
				return nil
			}
			if _, dup := seen[path]; dup {
				return nil
			}
			seen[path] = struct{}{}
			refs = append(refs, models.DocumentRef{Path: path, ModTime: finfo.ModTime(), Size: finfo.Size()})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", root, err)
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Path < refs[j].Path })
	return refs, nil
}

// Read returns the raw bytes of path.
func (s *DirectorySource) Read(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

func (s *DirectorySource) excluded(path string) bool {
	for _, ex := range s.exclude {
		if path == ex || strings.HasPrefix(path, ex+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// MatchExtension reports whether path has one of extensions. An empty list matches everything.
func MatchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

func normalizeRoots(roots []string) []string {
	out := make([]string, 0, len(roots))
	seen := make(map[string]struct{}, len(roots))
	for _, r := range roots {
		if strings.TrimSpace(r) == "" {
			continue
		}
		abs, err := filepath.Abs(r)
		if err != nil {
			continue
		}
		abs = filepath.Clean(abs)
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	}
	return out
}
