package indexer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/hyperjump/ragindex/internal/models"
	"github.com/hyperjump/ragindex/internal/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const (
	fruitText = "apple banana cherry mango fruit juicy apple banana"
	carText   = "car engine wheel brake motor drive car engine"
)

// words returns n generated words "<prefix><i>" starting at from.
func words(prefix string, from, n int) string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d", prefix, from+i)
	}
	return strings.Join(out, " ")
}

func runSearch(t *testing.T, m *Manager, q string, limit int, f *models.SearchFilters) *models.SearchResponse {
	t.Helper()
	resp, err := m.Search(context.Background(), &models.SearchQuery{Query: q, Limit: limit, Filters: f})
	require.NoError(t, err)
	return resp
}

func TestManager_FruitAndCar(t *testing.T) {
	e := newEnv(t, newTopicEmbedder(128))
	fruit := e.write("fruit.txt", fruitText)
	car := e.write("car.txt", carText)

	rep, err := e.m.BuildOrUpdate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Created)
	assert.Equal(t, 2, rep.ChunksEmbedded)
	assert.False(t, rep.Rebuilt)
	assert.NoError(t, rep.Errors)

	resp := runSearch(t, e.m, "juicy apple", 2, nil)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, fruit, resp.Results[0].Path)
	assert.Equal(t, 1, resp.Results[0].Rank)
	assert.Greater(t, resp.Results[0].Score, resp.Results[1].Score)
	assert.Equal(t, 128, resp.Dimension)
	assert.Equal(t, "topic-128", resp.Model)
	assert.False(t, resp.Degraded)

	resp = runSearch(t, e.m, "engine brake", 1, nil)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, car, resp.Results[0].Path)
	assert.NotEmpty(t, resp.Results[0].Snippet)
}

func TestManager_IdenticalTextScoresOne(t *testing.T) {
	e := newEnv(t, newTopicEmbedder(128))
	e.write("doc.txt", words("w", 0, 20))
	_, err := e.m.BuildOrUpdate(context.Background())
	require.NoError(t, err)

	chunk := words("w", 8, 8)
	resp := runSearch(t, e.m, chunk, 3, nil)
	require.NotEmpty(t, resp.Results)
	top := resp.Results[0]
	assert.InDelta(t, 1.0, top.Score, 1e-5)
	assert.Equal(t, chunk, top.Text)
	for i := 1; i < len(resp.Results); i++ {
		assert.LessOrEqual(t, resp.Results[i].Score, resp.Results[i-1].Score)
	}
}

func TestManager_Idempotent(t *testing.T) {
	emb := newTopicEmbedder(128)
	e := newEnv(t, emb)
	e.write("fruit.txt", fruitText)
	e.write("long.txt", words("x", 0, 30))

	first, err := e.m.BuildOrUpdate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, first.ChunksEmbedded)
	calls, _ := emb.counts()

	second, err := e.m.BuildOrUpdate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.EmbedCalls)
	assert.Equal(t, 0, second.Writes())
	assert.Equal(t, 2, second.Unchanged)
	after, _ := emb.counts()
	assert.Equal(t, calls, after, "no embedding calls on an unchanged source")
	assert.NotEqual(t, first.PassID, second.PassID)
}

func TestManager_TouchedButUnchanged(t *testing.T) {
	emb := newTopicEmbedder(128)
	e := newEnv(t, emb)
	e.write("fruit.txt", fruitText)
	_, err := e.m.BuildOrUpdate(context.Background())
	require.NoError(t, err)

	// Same bytes, new mtime: read and hashed once, never embedded.
	e.write("fruit.txt", fruitText)
	rep, err := e.m.BuildOrUpdate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Unchanged)
	assert.Equal(t, 0, rep.EmbedCalls)
	snap, err := e.backend().State.LoadSnapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap, 1)
}

func TestManager_EditOnlyReembedsChangedChunks(t *testing.T) {
	emb := newTopicEmbedder(128)
	e := newEnv(t, emb)
	a := e.write("a.txt", words("a", 0, 16))
	b := e.write("b.txt", words("b", 0, 16))
	c := e.write("c.txt", words("c", 0, 16))
	ctx := context.Background()

	first, err := e.m.BuildOrUpdate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, first.ChunksEmbedded)
	store := e.backend().Store
	idsA, _ := store.ChunkIDsByDocument(ctx, a)
	idsC, _ := store.ChunkIDsByDocument(ctx, c)
	idsB, _ := store.ChunkIDsByDocument(ctx, b)
	_, textsBefore := emb.counts()

	// Rewrite the second half of B only.
	e.write("b.txt", words("b", 0, 8)+" "+words("z", 0, 8))
	rep, err := e.m.BuildOrUpdate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Modified)
	assert.Equal(t, 2, rep.Unchanged)
	assert.Equal(t, 1, rep.ChunksEmbedded)
	assert.Equal(t, 1, rep.ChunksDeleted)
	_, textsAfter := emb.counts()
	assert.Equal(t, 1, textsAfter-textsBefore)

	gotA, _ := store.ChunkIDsByDocument(ctx, a)
	gotC, _ := store.ChunkIDsByDocument(ctx, c)
	gotB, _ := store.ChunkIDsByDocument(ctx, b)
	assert.Equal(t, idsA, gotA)
	assert.Equal(t, idsC, gotC)
	require.Len(t, gotB, 2)
	assert.NotEmpty(t, intersect(idsB, gotB), "first chunk of B keeps its identity")

	resp := runSearch(t, e.m, words("z", 0, 8), 1, nil)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, b, resp.Results[0].Path)
	assert.InDelta(t, 1.0, resp.Results[0].Score, 1e-5)

	old := words("b", 8, 8)
	for _, r := range runSearch(t, e.m, old, 10, nil).Results {
		assert.NotEqual(t, old, r.Text, "stale chunk still searchable")
	}
}

func intersect(a, b []string) string {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return x
			}
		}
	}
	return ""
}

func TestManager_Deletion(t *testing.T) {
	e := newEnv(t, newTopicEmbedder(128))
	e.write("fruit.txt", fruitText)
	e.write("long.txt", words("x", 0, 24))
	ctx := context.Background()
	_, err := e.m.BuildOrUpdate(ctx)
	require.NoError(t, err)
	n, _ := e.backend().Store.Count(ctx)
	assert.Equal(t, int64(4), n)

	e.remove("long.txt")
	rep, err := e.m.BuildOrUpdate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Deleted)
	assert.Equal(t, 3, rep.ChunksDeleted)
	n, _ = e.backend().Store.Count(ctx)
	assert.Equal(t, int64(1), n)

	for _, r := range runSearch(t, e.m, words("x", 0, 8), 10, nil).Results {
		assert.NotContains(t, r.Path, "long.txt")
	}
	snap, _ := e.backend().State.LoadSnapshot(ctx)
	assert.Len(t, snap, 1)

	again, err := e.m.BuildOrUpdate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Deleted)
}

// recordsOf returns chunk ID -> vector for every document under docs.
func recordsOf(t *testing.T, e *env, paths ...string) map[string][]float32 {
	t.Helper()
	ctx := context.Background()
	store := e.backend().Store
	out := map[string][]float32{}
	for _, p := range paths {
		ids, err := store.ChunkIDsByDocument(ctx, p)
		require.NoError(t, err)
		recs, err := store.Records(ctx, ids)
		require.NoError(t, err)
		for id, r := range recs {
			out[id] = r.Vector
		}
	}
	return out
}

func TestManager_OrderIndependent(t *testing.T) {
	docs := t.TempDir()
	incremental := newEnv(t, newTopicEmbedder(128), func(c *envConfig) { c.docs = docs })
	ctx := context.Background()

	z := incremental.write("z.txt", words("z", 0, 12))
	_, err := incremental.m.BuildOrUpdate(ctx)
	require.NoError(t, err)
	x := incremental.write("x.txt", fruitText)
	y := incremental.write("y.txt", carText+" "+words("y", 0, 5))
	_, err = incremental.m.BuildOrUpdate(ctx)
	require.NoError(t, err)

	oneShot := newEnv(t, newTopicEmbedder(128), func(c *envConfig) { c.docs = docs })
	_, err = oneShot.m.BuildOrUpdate(ctx)
	require.NoError(t, err)

	got := recordsOf(t, incremental, x, y, z)
	want := recordsOf(t, oneShot, x, y, z)
	assert.Len(t, got, 5)
	assert.Equal(t, want, got)
}

func TestManager_ModelChangeRebuildsInNewDimension(t *testing.T) {
	e := newEnv(t, newTopicEmbedder(128))
	e.write("fruit.txt", fruitText)
	e.write("car.txt", carText)
	ctx := context.Background()
	_, err := e.m.BuildOrUpdate(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{128}, e.backend().Store.Dimensions())

	require.NoError(t, e.m.UpdateSettings(Settings{Embedder: newTopicEmbedder(256), Policy: ChunkPolicy{Size: 8}}))
	rep, err := e.m.BuildOrUpdate(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Rebuilt)
	assert.Equal(t, 2, rep.Created)
	assert.Equal(t, []int{256}, e.backend().Store.Dimensions())

	m, err := e.backend().State.LoadManifest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "topic-256", m.Model)
	assert.Equal(t, 256, m.Dimension)

	resp := runSearch(t, e.m, "apple", 1, nil)
	assert.Equal(t, 256, resp.Dimension)
	require.Len(t, resp.Results, 1)
	assert.Contains(t, resp.Results[0].Path, "fruit.txt")
}

func TestManager_ChunkPolicyChangeRebuilds(t *testing.T) {
	e := newEnv(t, newTopicEmbedder(128))
	e.write("long.txt", words("x", 0, 16))
	ctx := context.Background()
	_, err := e.m.BuildOrUpdate(ctx)
	require.NoError(t, err)

	require.NoError(t, e.m.UpdateSettings(Settings{Embedder: e.emb, Policy: ChunkPolicy{Size: 4}}))
	rep, err := e.m.BuildOrUpdate(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Rebuilt)
	assert.Equal(t, 4, rep.ChunksEmbedded)
}

func TestManager_UnsupportedDimensionSkipsOnlyThatRecord(t *testing.T) {
	emb := newTopicEmbedder(128)
	emb.dimFor = func(text string) int {
		if strings.Contains(text, "weird") {
			return 100
		}
		return 0
	}
	e := newEnv(t, emb)
	e.write("fruit.txt", fruitText)
	e.write("weird.txt", "weird text here")
	ctx := context.Background()

	rep, err := e.m.BuildOrUpdate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.ChunksEmbedded)
	var dimErr *models.DimensionMismatchError
	require.True(t, errors.As(rep.Errors, &dimErr))
	assert.Equal(t, 100, dimErr.Got)
	assert.Equal(t, 0, dimErr.Expected)

	// The weird document was not committed, so it is retried.
	emb.dimFor = nil
	rep, err = e.m.BuildOrUpdate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Created)
	assert.Equal(t, 1, rep.ChunksEmbedded)
}

func TestManager_FailedBatchIsRetriedNextPass(t *testing.T) {
	emb := newTopicEmbedder(128)
	var broken atomic.Bool
	broken.Store(true)
	emb.hook = func(_ int, texts []string) error {
		for _, s := range texts {
			if broken.Load() && strings.Contains(s, "flaky") {
				return errors.New("backend hiccup")
			}
		}
		return nil
	}
	e := newEnv(t, emb, func(c *envConfig) { c.settings.BatchSize = 1 })
	fruit := e.write("fruit.txt", fruitText)
	e.write("flaky.txt", "flaky network document")
	ctx := context.Background()

	rep, err := e.m.BuildOrUpdate(ctx)
	require.NoError(t, err)
	var batchErr *models.EmbeddingBatchError
	require.True(t, errors.As(rep.Errors, &batchErr))
	assert.Equal(t, 1, batchErr.Size)
	assert.Equal(t, 1, rep.ChunksEmbedded)

	resp := runSearch(t, e.m, "apple", 5, nil)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, fruit, resp.Results[0].Path)

	broken.Store(false)
	rep, err = e.m.BuildOrUpdate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Created)
	assert.Equal(t, 1, rep.Unchanged)
	assert.Equal(t, 1, rep.ChunksEmbedded)
	assert.NoError(t, rep.Errors)
}

func failSecondCall(call int, _ []string) error {
	if call == 2 {
		return errors.New("backend hiccup")
	}
	return nil
}

func TestManager_PartiallyIndexedDocumentIsDeleted(t *testing.T) {
	emb := newTopicEmbedder(128)
	emb.hook = failSecondCall
	e := newEnv(t, emb, func(c *envConfig) { c.settings.BatchSize = 1 })
	e.write("big.txt", words("w", 0, 16))
	ctx := context.Background()

	rep, err := e.m.BuildOrUpdate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.ChunksEmbedded)
	n, _ := e.backend().Store.Count(ctx)
	require.Equal(t, int64(1), n, "first chunk stored, second failed")
	snap, err := e.backend().State.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap, "a partly indexed document is not committed")

	e.remove("big.txt")
	rep, err = e.m.BuildOrUpdate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Deleted)
	assert.Equal(t, 1, rep.ChunksDeleted)
	n, _ = e.backend().Store.Count(ctx)
	assert.Zero(t, n)
	assert.Empty(t, runSearch(t, e.m, words("w", 0, 8), 5, nil).Results)
}

func TestManager_PartiallyIndexedDocumentCompletes(t *testing.T) {
	emb := newTopicEmbedder(128)
	emb.hook = failSecondCall
	e := newEnv(t, emb, func(c *envConfig) { c.settings.BatchSize = 1 })
	big := e.write("big.txt", words("w", 0, 16))
	ctx := context.Background()

	_, err := e.m.BuildOrUpdate(ctx)
	require.NoError(t, err)

	rep, err := e.m.BuildOrUpdate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Created)
	assert.Equal(t, 1, rep.ChunksEmbedded, "only the missing chunk is embedded")
	assert.Equal(t, 0, rep.ChunksDeleted)
	n, _ := e.backend().Store.Count(ctx)
	assert.Equal(t, int64(2), n)
	snap, err := e.backend().State.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Contains(t, snap, big)
}

func TestManager_IndexFailureIsRetriedNextPass(t *testing.T) {
	var failAdds atomic.Int32
	failAdds.Store(1)
	dir := t.TempDir()
	e := newEnv(t, newTopicEmbedder(128), func(c *envConfig) { c.primary = flakyPrimaryAt(dir, &failAdds) })
	fruit := e.write("fruit.txt", fruitText)
	ctx := context.Background()

	rep, err := e.m.BuildOrUpdate(ctx)
	require.NoError(t, err)
	require.Error(t, rep.Errors)
	assert.Contains(t, rep.Errors.Error(), "index unavailable")
	assert.Equal(t, 0, rep.ChunksEmbedded)
	n, _ := e.backend().Store.Count(ctx)
	assert.Zero(t, n, "rows without vectors are rolled back")

	rep, err = e.m.BuildOrUpdate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Created)
	assert.Equal(t, 1, rep.ChunksEmbedded)
	resp := runSearch(t, e.m, "juicy apple", 5, nil)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, fruit, resp.Results[0].Path)
}

func TestManager_QueryEmbeddingFailureIsUnavailable(t *testing.T) {
	emb := newTopicEmbedder(128)
	emb.queryErr = errors.New("embedder down")
	e := newEnv(t, emb)
	_, err := e.m.Search(context.Background(), &models.SearchQuery{Query: "apple"})
	require.ErrorIs(t, err, models.ErrSearchUnavailable)
	assert.Contains(t, err.Error(), "embedder down")
}

func TestManager_BatchRetriesWithinPass(t *testing.T) {
	emb := newTopicEmbedder(128)
	emb.hook = func(call int, _ []string) error {
		if call == 1 {
			return errors.New("transient")
		}
		return nil
	}
	e := newEnv(t, emb, func(c *envConfig) { c.settings.MaxRetries = 2 })
	e.write("fruit.txt", fruitText)
	rep, err := e.m.BuildOrUpdate(context.Background())
	require.NoError(t, err)
	assert.NoError(t, rep.Errors)
	assert.Equal(t, 2, rep.EmbedCalls)
	assert.Equal(t, 1, rep.ChunksEmbedded)
}

func TestManager_ExtractionFailureSkipsDocument(t *testing.T) {
	e := newEnv(t, newTopicEmbedder(128), func(c *envConfig) { c.exts = []string{".txt", ".docx"} })
	e.write("fruit.txt", fruitText)
	broken := e.write("broken.docx", "this is not a zip archive")
	ctx := context.Background()

	rep, err := e.m.BuildOrUpdate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, 1, rep.ChunksEmbedded)
	var extErr *models.ExtractionError
	require.True(t, errors.As(rep.Errors, &extErr))
	assert.Equal(t, broken, extErr.Path)

	// Skipped documents are not committed and are tried again.
	rep, err = e.m.BuildOrUpdate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, 1, rep.Created)
}

func TestManager_CancellationKeepsFinishedWork(t *testing.T) {
	emb := newTopicEmbedder(128)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	emb.hook = func(call int, _ []string) error {
		if call == 2 {
			cancel()
			return context.Canceled
		}
		return nil
	}
	e := newEnv(t, emb, func(c *envConfig) { c.settings.BatchSize = 1 })
	e.write("a.txt", fruitText)
	e.write("b.txt", carText)

	_, err := e.m.BuildOrUpdate(ctx)
	require.ErrorIs(t, err, context.Canceled)
	n, _ := e.backend().Store.Count(context.Background())
	assert.Equal(t, int64(1), n)

	emb.hook = nil
	rep, err := e.m.BuildOrUpdate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Created)
	assert.Equal(t, 1, rep.Unchanged)
}

func TestManager_SettingsChangeMidPassAborts(t *testing.T) {
	emb := newTopicEmbedder(128)
	e := newEnv(t, emb, func(c *envConfig) { c.settings.BatchSize = 1 })
	emb.hook = func(call int, _ []string) error {
		if call == 1 {
			return e.m.UpdateSettings(Settings{Embedder: newTopicEmbedder(256), Policy: ChunkPolicy{Size: 8}})
		}
		return nil
	}
	e.write("a.txt", fruitText)
	e.write("b.txt", carText)

	_, err := e.m.BuildOrUpdate(context.Background())
	var conflict *models.ManifestConflictError
	require.True(t, errors.As(err, &conflict), "got %v", err)
	assert.Equal(t, "topic-128", conflict.Active.Model)
	assert.Equal(t, "topic-256", conflict.Requested.Model)

	emb.hook = nil
	rep, err := e.m.BuildOrUpdate(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.Rebuilt)
	assert.Equal(t, 2, rep.ChunksEmbedded)
}

func TestManager_ConcurrentPassesWait(t *testing.T) {
	e := newEnv(t, newTopicEmbedder(128))
	for i := 0; i < 5; i++ {
		e.write(fmt.Sprintf("doc%d.txt", i), words(fmt.Sprintf("d%d_", i), 0, 10))
	}
	var embedded atomic.Int64
	var g errgroup.Group
	for i := 0; i < 3; i++ {
		g.Go(func() error {
			rep, err := e.m.BuildOrUpdate(context.Background())
			if err == nil {
				embedded.Add(int64(rep.ChunksEmbedded))
			}
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int64(10), embedded.Load(), "each chunk embedded exactly once")
	assert.False(t, e.m.Indexing())
}

func TestManager_RebuildAll(t *testing.T) {
	e := newEnv(t, newTopicEmbedder(128), func(c *envConfig) { c.keyword = true })
	e.write("fruit.txt", fruitText)
	ctx := context.Background()
	_, err := e.m.BuildOrUpdate(ctx)
	require.NoError(t, err)

	var phases []models.Phase
	rep, err := e.m.RebuildAll(ctx, WithProgress(func(p models.Progress) { phases = append(phases, p.Phase) }))
	require.NoError(t, err)
	assert.True(t, rep.Rebuilt)
	assert.Equal(t, 1, rep.Created)
	assert.Equal(t, 1, rep.ChunksEmbedded)
	assert.Equal(t, models.PhaseRebuilding, phases[0])
	assert.Contains(t, phases, models.PhaseEmbedding)
	assert.Equal(t, models.PhaseCommitting, phases[len(phases)-1])

	st, err := e.m.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Records)
	assert.Equal(t, uint64(1), st.KeywordChunks)
}

func TestManager_ProgressIsPerDocument(t *testing.T) {
	e := newEnv(t, newTopicEmbedder(128))
	e.write("a.txt", words("a", 0, 40))
	e.write("b.txt", fruitText)
	var last models.Progress
	var max int
	_, err := e.m.BuildOrUpdate(context.Background(), WithProgress(func(p models.Progress) {
		last = p
		if p.Processed > max {
			max = p.Processed
		}
	}))
	require.NoError(t, err)
	assert.Equal(t, 2, last.Total)
	assert.Equal(t, 2, max)
}

func TestManager_Filters(t *testing.T) {
	for _, kw := range []bool{false, true} {
		t.Run(fmt.Sprintf("keyword=%v", kw), func(t *testing.T) {
			e := newEnv(t, newTopicEmbedder(128), func(c *envConfig) { c.keyword = kw })
			e.write("recipes/apple.txt", "apple pie with cinnamon")
			e.write("recipes/banana.md", "banana bread with walnuts")
			e.write("market/fruit.txt", "fruit stand apple banana prices")
			e.write("garage/car.txt", carText)
			ctx := context.Background()
			_, err := e.m.BuildOrUpdate(ctx)
			require.NoError(t, err)

			resp := runSearch(t, e.m, "apple banana", 10, &models.SearchFilters{PathPrefix: filepath.Join(e.docs, "recipes")})
			require.Len(t, resp.Results, 2)
			for _, r := range resp.Results {
				assert.True(t, strings.HasPrefix(r.Path, filepath.Join(e.docs, "recipes")))
			}

			resp = runSearch(t, e.m, "apple banana", 10, &models.SearchFilters{Extensions: []string{"md"}})
			require.Len(t, resp.Results, 1)
			assert.Contains(t, resp.Results[0].Path, "banana.md")

			// The car document ranks last; a limit of 1 forces the store to be asked for more.
			resp = runSearch(t, e.m, "apple banana", 1, &models.SearchFilters{MustMatch: "Engine"})
			require.Len(t, resp.Results, 1)
			assert.Contains(t, resp.Results[0].Path, "car.txt")

			resp = runSearch(t, e.m, "apple", 10, &models.SearchFilters{MustMatch: "walnuts cinnamon"})
			assert.Empty(t, resp.Results)
		})
	}
}

func TestManager_MinScore(t *testing.T) {
	e := newEnv(t, newTopicEmbedder(128))
	e.write("fruit.txt", fruitText)
	e.write("car.txt", carText)
	_, err := e.m.BuildOrUpdate(context.Background())
	require.NoError(t, err)
	min := 0.5
	resp, err := e.m.Search(context.Background(), &models.SearchQuery{Query: "apple", MinScore: &min})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Contains(t, resp.Results[0].Path, "fruit.txt")
}

func TestManager_SearchErrors(t *testing.T) {
	e := newEnv(t, newTopicEmbedder(128))
	_, err := e.m.Search(context.Background(), &models.SearchQuery{Query: "  "})
	assert.ErrorIs(t, err, models.ErrInvalidQuery)
	bad := 2.0
	_, err = e.m.Search(context.Background(), &models.SearchQuery{Query: "x", MinScore: &bad})
	assert.ErrorIs(t, err, models.ErrInvalidQuery)

	// An empty index is not an error.
	resp := runSearch(t, e.m, "apple", 5, nil)
	assert.Empty(t, resp.Results)

	// Query vectors must match the manifest dimension.
	e.write("fruit.txt", fruitText)
	_, err = e.m.BuildOrUpdate(context.Background())
	require.NoError(t, err)
	require.NoError(t, e.m.UpdateSettings(Settings{Embedder: newTopicEmbedder(256), Policy: ChunkPolicy{Size: 8}}))
	_, err = e.m.Search(context.Background(), &models.SearchQuery{Query: "apple"})
	var dimErr *models.DimensionMismatchError
	require.True(t, errors.As(err, &dimErr))
	assert.Equal(t, 128, dimErr.Expected)

	require.NoError(t, e.m.Close())
	_, err = e.m.Search(context.Background(), &models.SearchQuery{Query: "apple"})
	assert.ErrorIs(t, err, models.ErrClosed)
}

func TestManager_SearchUnavailable(t *testing.T) {
	broken := func(context.Context) (*vector.Backend, error) { return nil, errors.New("no disk") }
	e := newEnv(t, newTopicEmbedder(128), func(c *envConfig) {
		c.primary = broken
		c.opts = append(c.opts, WithFallback(broken))
	})
	_, err := e.m.Search(context.Background(), &models.SearchQuery{Query: "apple"})
	require.ErrorIs(t, err, models.ErrSearchUnavailable)
	var initErr *models.StoreInitializationError
	assert.True(t, errors.As(err, &initErr))
}

func TestManager_FallbackWhenPrimaryFails(t *testing.T) {
	var signals atomic.Int32
	var attempts atomic.Int32
	e := newEnv(t, newTopicEmbedder(128), func(c *envConfig) {
		c.primary = func(context.Context) (*vector.Backend, error) {
			attempts.Add(1)
			return nil, errors.New("sqlite unavailable")
		}
		c.opts = append(c.opts, WithDegradedHandler(func(error) { signals.Add(1) }))
	})
	fruit := e.write("fruit.txt", fruitText)
	e.write("car.txt", carText)
	ctx := context.Background()

	rep, err := e.m.BuildOrUpdate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.ChunksEmbedded)

	resp := runSearch(t, e.m, "juicy apple", 1, nil)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, fruit, resp.Results[0].Path)
	assert.True(t, resp.Degraded)

	again, err := e.m.BuildOrUpdate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, again.EmbedCalls, "fallback keeps the snapshot")

	degraded, cause := e.m.Degraded()
	assert.True(t, degraded)
	var initErr *models.StoreInitializationError
	assert.True(t, errors.As(cause, &initErr))
	assert.Equal(t, int32(1), signals.Load())
	assert.Equal(t, int32(1), attempts.Load(), "the fallback is kept for the process lifetime")

	st, err := e.m.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, string(vector.KindFlat), st.Backend)
	assert.True(t, st.Degraded)
	assert.NotEmpty(t, st.DegradedReason)
}

func TestManager_PersistsAcrossRestart(t *testing.T) {
	docs := t.TempDir()
	data := t.TempDir()
	emb := newTopicEmbedder(128)
	open := func() *env {
		e := newEnv(t, emb, func(c *envConfig) {
			c.docs = docs
			c.primary = primaryAt(data)
		})
		return e
	}
	first := open()
	first.write("fruit.txt", fruitText)
	_, err := first.m.BuildOrUpdate(context.Background())
	require.NoError(t, err)
	require.NoError(t, first.m.Close())

	second := open()
	rep, err := second.m.BuildOrUpdate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, rep.EmbedCalls)
	resp := runSearch(t, second.m, "apple", 1, nil)
	require.Len(t, resp.Results, 1)
}

func TestManager_StatusBeforeAnyPass(t *testing.T) {
	e := newEnv(t, newTopicEmbedder(128))
	st, err := e.m.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ready", st.State)
	assert.Equal(t, string(vector.KindHNSW), st.Backend)
	assert.Nil(t, st.Manifest)
	assert.Nil(t, st.LastReport)
	assert.Zero(t, st.Records)
	assert.Empty(t, st.Dimensions)
}
