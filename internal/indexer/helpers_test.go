package indexer

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperjump/ragindex/internal/keyword"
	"github.com/hyperjump/ragindex/internal/source"
	"github.com/hyperjump/ragindex/internal/storage"
	"github.com/hyperjump/ragindex/internal/vector"
	"github.com/stretchr/testify/require"
)

// topics maps vocabulary words to a dedicated axis so related texts land close together.
var topics = map[string]int{
	"apple": 0, "banana": 0, "cherry": 0, "mango": 0, "fruit": 0, "juicy": 0,
	"car": 1, "engine": 1, "wheel": 1, "brake": 1, "motor": 1, "drive": 1,
}

// topicEmbedder is a deterministic embedder: topic words add weight to their axis,
// other words hash onto the remaining axes.
type topicEmbedder struct {
	dim   int
	model string

	mu    sync.Mutex
	calls int
	texts int
	// hook runs before each batch call; a non-nil error fails the call.
	hook func(call int, texts []string) error
	// dimFor overrides the output dimension for a text when it returns > 0.
	dimFor func(text string) int
	// queryErr fails single-text Embed calls.
	queryErr error
}

func newTopicEmbedder(dim int) *topicEmbedder {
	return &topicEmbedder{dim: dim, model: fmt.Sprintf("topic-%d", dim)}
}

func (e *topicEmbedder) vector(text string, dim int) []float32 {
	v := make([]float32, dim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:!?")
		if ax, ok := topics[w]; ok {
			v[ax]++
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[2+int(h.Sum32()%uint32(dim-2))] += 0.25
	}
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		v[dim-1] = 1
		return v
	}
	n := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= n
	}
	return v
}

func (e *topicEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.queryErr != nil {
		return nil, e.queryErr
	}
	return e.vector(text, e.dim), nil
}

func (e *topicEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.texts += len(texts)
	call, hook, dimFor := e.calls, e.hook, e.dimFor
	e.mu.Unlock()
	if hook != nil {
		if err := hook(call, texts); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		dim := e.dim
		if dimFor != nil {
			if d := dimFor(t); d > 0 {
				dim = d
			}
		}
		out[i] = e.vector(t, dim)
	}
	return out, nil
}

func (e *topicEmbedder) Dimensions() int   { return e.dim }
func (e *topicEmbedder) ModelName() string { return e.model }
func (e *topicEmbedder) Close() error      { return nil }

func (e *topicEmbedder) counts() (calls, texts int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls, e.texts
}

// env is a document folder plus a data dir with a manager over them.
type env struct {
	t    *testing.T
	docs string
	data string
	emb  *topicEmbedder
	m    *Manager
	tick int
}

type envConfig struct {
	settings Settings
	opts     []ManagerOption
	primary  BackendFactory
	keyword  bool
	docs     string
	exts     []string
}

func newEnv(t *testing.T, emb *topicEmbedder, configure ...func(*envConfig)) *env {
	t.Helper()
	e := &env{t: t, docs: t.TempDir(), data: t.TempDir(), emb: emb}
	cfg := envConfig{
		settings: Settings{Embedder: emb, Policy: ChunkPolicy{Size: 8}, MaxRetries: 0},
		exts:     []string{".txt", ".md"},
	}
	for _, c := range configure {
		c(&cfg)
	}
	if cfg.docs != "" {
		e.docs = cfg.docs
	}
	if cfg.primary == nil {
		cfg.primary = primaryAt(e.data)
	}
	opts := append([]ManagerOption{WithFallback(fallbackAt(e.data)), WithDataDir(e.data)}, cfg.opts...)
	if cfg.keyword {
		kw, err := keyword.NewBleveIndex(filepath.Join(e.data, "keyword"), nil)
		require.NoError(t, err)
		opts = append(opts, WithKeywordIndex(kw), WithSearchConfig(SearchConfig{KeywordPrefilter: true, OverFetchFactor: 2}))
	}
	src := source.NewDirectorySource([]string{e.docs}, source.WithExtensions(cfg.exts))
	m, err := NewManager(src, cfg.primary, cfg.settings, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	e.m = m
	return e
}

// failingIndex fails Add while failAdds is positive, counting it down.
type failingIndex struct {
	vector.Index
	failAdds *atomic.Int32
}

func (f *failingIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if f.failAdds.Add(-1) >= 0 {
		return errors.New("index unavailable")
	}
	return f.Index.Add(ctx, ids, vectors)
}

// flakyPrimaryAt is primaryAt with in-memory HNSW graphs wrapped in failingIndex.
func flakyPrimaryAt(dir string, failAdds *atomic.Int32) BackendFactory {
	return func(ctx context.Context) (*vector.Backend, error) {
		db, err := storage.NewSQLiteStorage(filepath.Join(dir, "ragindex.db"))
		if err != nil {
			return nil, err
		}
		factory := func(_ context.Context, dim int) (vector.Index, error) {
			idx, err := vector.NewHNSWIndex("", dim, vector.HNSWConfig{}, nil)
			if err != nil {
				return nil, err
			}
			return &failingIndex{Index: idx, failAdds: failAdds}, nil
		}
		store, err := vector.NewIndexedStore(ctx, db, factory)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return &vector.Backend{Store: store, State: db, Kind: vector.KindHNSW}, nil
	}
}

func primaryAt(dir string) BackendFactory {
	return func(ctx context.Context) (*vector.Backend, error) {
		return vector.OpenPrimary(ctx, vector.PrimaryConfig{DatabasePath: filepath.Join(dir, "ragindex.db")}, nil)
	}
}

func fallbackAt(dir string) BackendFactory {
	return func(ctx context.Context) (*vector.Backend, error) {
		return vector.OpenFallback(ctx, filepath.Join(dir, "fallback.gob"), nil)
	}
}

// write creates or replaces a document and gives it a fresh mtime so the stat
// pre-filter always sees the change.
func (e *env) write(name, content string) string {
	e.t.Helper()
	path := filepath.Join(e.docs, name)
	require.NoError(e.t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(e.t, os.WriteFile(path, []byte(content), 0644))
	e.tick++
	mt := time.Date(2024, 1, 1, 0, 0, e.tick, 0, time.UTC)
	require.NoError(e.t, os.Chtimes(path, mt, mt))
	return path
}

func (e *env) remove(name string) {
	e.t.Helper()
	require.NoError(e.t, os.Remove(filepath.Join(e.docs, name)))
}

func (e *env) backend() *vector.Backend {
	e.t.Helper()
	b, err := e.m.loader.Get(context.Background())
	require.NoError(e.t, err)
	return b
}
