// Package tracker classifies source documents against the last committed snapshot.
//
// Classification is two-tier: a document whose modification time and size match the
// snapshot is unchanged without being read. Anything else is read and hashed, and only a
// different content hash makes it modified.
package tracker

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"time"

	"github.com/hyperjump/ragindex/internal/fileid"
	"github.com/hyperjump/ragindex/internal/models"
	"github.com/hyperjump/ragindex/internal/source"
	"github.com/hyperjump/ragindex/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ChangeKind classifies a document relative to the snapshot.
type ChangeKind int

const (
	Unchanged ChangeKind = iota
	Created
	Modified
	Deleted
)

func (k ChangeKind) String() string {
	switch k {
	case Unchanged:
		return "unchanged"
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	default:
		return fmt.Sprintf("ChangeKind(%d)", int(k))
	}
}

// Change is one document that needs work. Ref carries the new stat and content hash;
// for Deleted it is the snapshot's ref. The bytes read while hashing are not kept; call
// Load when the document is processed.
type Change struct {
	Kind ChangeKind
	Ref  models.DocumentRef
}

// Diff is the result of one scan.
type Diff struct {
	Created  []Change
	Modified []Change
	Deleted  []Change
	// Touched are unchanged documents whose stat changed; their refs must be refreshed on commit.
	Touched   []models.DocumentRef
	Unchanged int
	// Errors holds per-document read failures. Those documents keep their snapshot entry.
	Errors []error
}

// Pending returns the documents the pass must process, created then modified then deleted.
func (d *Diff) Pending() []Change {
	out := make([]Change, 0, len(d.Created)+len(d.Modified)+len(d.Deleted))
	out = append(out, d.Created...)
	out = append(out, d.Modified...)
	return append(out, d.Deleted...)
}

// Empty reports whether the scan found nothing to do.
func (d *Diff) Empty() bool {
	return len(d.Created) == 0 && len(d.Modified) == 0 && len(d.Deleted) == 0 && len(d.Touched) == 0
}

// Tracker scans a source against a snapshot.
type Tracker struct {
	src     source.Source
	workers int
	logger  *zap.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithWorkers bounds concurrent reads. Values <= 0 use GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(t *Tracker) { t.workers = n }
}

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// New creates a tracker over src.
func New(src source.Source, opts ...Option) *Tracker {
	t := &Tracker{src: src}
	for _, opt := range opts {
		opt(t)
	}
	if t.workers <= 0 {
		t.workers = runtime.GOMAXPROCS(0)
	}
	return t
}

type readResult struct {
	ref   models.DocumentRef
	prev  models.DocumentRef
	known bool
	err   error
}

// Scan lists the source and classifies every document against previous.
// previous is keyed by path and is not modified. A previous ref with no content hash
// marks a document that has stored records but was never committed: it is Created
// when listed and Deleted when not.
func (t *Tracker) Scan(ctx context.Context, previous map[string]models.DocumentRef) (*Diff, error) {
	start := time.Now()
	listed, err := t.src.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	diff := &Diff{}
	current := make(map[string]struct{}, len(listed))
	var toRead []*readResult
	for _, ref := range listed {
		current[ref.Path] = struct{}{}
		prev, known := previous[ref.Path]
		if known && prev.SameStat(ref) {
			diff.Unchanged++
			continue
		}
		toRead = append(toRead, &readResult{ref: ref, prev: prev, known: known})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.workers)
	for _, r := range toRead {
		r := r
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := t.src.Read(gctx, r.ref.Path)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				r.err = fmt.Errorf("read %s: %w", r.ref.Path, err)
				return nil
			}
			r.ref.ContentHash = fileid.ContentHash(data)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, r := range toRead {
		switch {
		case r.err != nil:
			diff.Errors = append(diff.Errors, r.err)
			if t.logger != nil {
				t.logger.Warn("tracker read failed", zap.String("path", r.ref.Path), zap.Error(r.err))
			}
		case !r.known || r.prev.ContentHash == "":
			diff.Created = append(diff.Created, Change{Kind: Created, Ref: r.ref})
		case r.prev.ContentHash == r.ref.ContentHash:
			diff.Unchanged++
			diff.Touched = append(diff.Touched, r.ref)
		default:
			diff.Modified = append(diff.Modified, Change{Kind: Modified, Ref: r.ref})
		}
	}

	deleted := make([]string, 0)
	for path := range previous {
		if _, ok := current[path]; !ok {
			deleted = append(deleted, path)
		}
	}
	sort.Strings(deleted)
	for _, path := range deleted {
		diff.Deleted = append(diff.Deleted, Change{Kind: Deleted, Ref: previous[path]})
	}

	if t.logger != nil {
		t.logger.Debug("tracker scan complete",
			zap.Int("listed", len(listed)),
			zap.Int("read", len(toRead)),
			zap.Int("created", len(diff.Created)),
			zap.Int("modified", len(diff.Modified)),
			zap.Int("deleted", len(diff.Deleted)),
			zap.Int("touched", len(diff.Touched)),
			zap.Int("unchanged", diff.Unchanged),
			zap.Duration("duration", time.Since(start)))
	}
	return diff, nil
}

// Load reads the current bytes of a created or modified document. If the document
// changed since the scan, ch.Ref takes the new hash so the snapshot records what was
// actually indexed.
func (t *Tracker) Load(ctx context.Context, ch *Change) ([]byte, error) {
	data, err := t.src.Read(ctx, ch.Ref.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ch.Ref.Path, err)
	}
	if h := fileid.ContentHash(data); h != ch.Ref.ContentHash {
		if t.logger != nil {
			t.logger.Debug("document changed since scan", zap.String("path", ch.Ref.Path))
		}
		ch.Ref.ContentHash = h
	}
	return data, nil
}

// Commit records refs as indexed and forgets removed paths. Call it only with documents
// the pass processed completely.
func (t *Tracker) Commit(ctx context.Context, store storage.StateStore, refs []models.DocumentRef, removed []string) error {
	if len(refs) == 0 && len(removed) == 0 {
		return nil
	}
	if err := store.CommitSnapshot(ctx, refs, removed); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	if t.logger != nil {
		t.logger.Debug("tracker snapshot committed", zap.Int("refs", len(refs)), zap.Int("removed", len(removed)))
	}
	return nil
}
