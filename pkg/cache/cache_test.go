package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richardartoul/docpdf/backends"
	"github.com/richardartoul/docpdf/pkg/document"
	"github.com/richardartoul/docpdf/pkg/metrics"
)

// fakeClock advances one second per call, so every access gets a distinct
// timestamp.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func ref(path string) document.Ref {
	return document.NewRef("hitchhiker", "h2g2", "42", path)
}

func set(t *testing.T, c *RepositoryCache, r document.Ref, content string) {
	t.Helper()
	require.NoError(t, c.Set(context.Background(), r, strings.NewReader(content)))
}

func get(t *testing.T, c *RepositoryCache, r document.Ref) (string, bool) {
	t.Helper()
	rd, ok, err := c.Get(context.Background(), r)
	require.NoError(t, err)
	if !ok {
		return "", false
	}
	defer rd.Close()
	buf, err := io.ReadAll(rd)
	require.NoError(t, err)
	return string(buf), true
}

func TestRoundTrip(t *testing.T) {
	c, err := New(context.Background(), backends.NewMem())
	require.NoError(t, err)

	content := "%PDF-1.7 binary \x00\x01\xff"
	set(t, c, ref("a.odt"), content)

	got, ok := get(t, c, ref("a.odt"))
	require.True(t, ok)
	assert.Equal(t, content, got)
}

func TestMissDoesNotTouchIndex(t *testing.T) {
	c, err := New(context.Background(), backends.NewMem(), WithClock(newClock().now))
	require.NoError(t, err)
	set(t, c, ref("a.odt"), "a")
	before := c.Entries()

	_, ok := get(t, c, ref("b.odt"))
	assert.False(t, ok)
	if diff := cmp.Diff(before, c.Entries()); diff != "" {
		t.Errorf("index changed on miss (-before +after):\n%s", diff)
	}
}

func TestEvictsLeastRecentlyWritten(t *testing.T) {
	store := backends.NewMem()
	c, err := New(context.Background(), store, WithMaxEntries(2), WithClock(newClock().now))
	require.NoError(t, err)

	set(t, c, ref("a.odt"), "a")
	set(t, c, ref("b.odt"), "b")
	set(t, c, ref("c.odt"), "c")

	_, ok := get(t, c, ref("a.odt"))
	assert.False(t, ok)
	got, ok := get(t, c, ref("b.odt"))
	assert.True(t, ok)
	assert.Equal(t, "b", got)
	got, ok = get(t, c, ref("c.odt"))
	assert.True(t, ok)
	assert.Equal(t, "c", got)

	ids, err := store.List(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{ref("b.odt").CacheKey(), ref("c.odt").CacheKey()}, ids)
}

func TestEvictsLeastRecentlyAccessed(t *testing.T) {
	c, err := New(context.Background(), backends.NewMem(), WithMaxEntries(2), WithClock(newClock().now))
	require.NoError(t, err)

	set(t, c, ref("a.odt"), "a")
	set(t, c, ref("b.odt"), "b")
	_, ok := get(t, c, ref("a.odt"))
	require.True(t, ok)
	set(t, c, ref("c.odt"), "c")

	_, ok = get(t, c, ref("a.odt"))
	assert.True(t, ok)
	_, ok = get(t, c, ref("b.odt"))
	assert.False(t, ok)
	_, ok = get(t, c, ref("c.odt"))
	assert.True(t, ok)
}

func TestEqualTimestampsEvictInTouchOrder(t *testing.T) {
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c, err := New(context.Background(), backends.NewMem(), WithMaxEntries(2), WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)

	set(t, c, ref("a.odt"), "a")
	set(t, c, ref("b.odt"), "b")
	set(t, c, ref("c.odt"), "c")

	_, ok := get(t, c, ref("a.odt"))
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestConstructionSeedsFromStore(t *testing.T) {
	store := backends.NewMem()
	for _, id := range []string{"k1", "k2", "k3", "k4"} {
		w, err := store.Create(context.Background(), id)
		require.NoError(t, err)
		_, err = w.Write([]byte(id))
		require.NoError(t, err)
		require.NoError(t, w.Commit())
	}

	clock := newClock()
	c, err := New(context.Background(), store, WithMaxEntries(2), WithClock(clock.now))
	require.NoError(t, err)

	// the store already exceeded the bound: enumeration order decides
	want := []Entry{
		{Key: "k3", LastAccessedAt: clock.t},
		{Key: "k4", LastAccessedAt: clock.t},
	}
	if diff := cmp.Diff(want, c.Entries()); diff != "" {
		t.Errorf("unexpected entries (-want +got):\n%s", diff)
	}

	ids, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"k3", "k4"}, ids)
}

func TestConstructionWithinBound(t *testing.T) {
	store := backends.NewMem()
	first, err := New(context.Background(), store)
	require.NoError(t, err)
	set(t, first, ref("a.odt"), "a")
	set(t, first, ref("b.odt"), "b")

	// a new cache over the same store picks up what is there
	second, err := New(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Len())
	got, ok := get(t, second, ref("b.odt"))
	assert.True(t, ok)
	assert.Equal(t, "b", got)
}

func TestInvalidMaxEntries(t *testing.T) {
	_, err := New(context.Background(), backends.NewMem(), WithMaxEntries(0))
	assert.Error(t, err)
}

func TestEvictionCounted(t *testing.T) {
	recorder := metrics.NewRecorder(0.01)
	c, err := New(context.Background(), backends.NewMem(), WithMaxEntries(1), WithMetrics(recorder))
	require.NoError(t, err)

	set(t, c, ref("a.odt"), "a")
	set(t, c, ref("b.odt"), "b")
	set(t, c, ref("c.odt"), "c")
	assert.EqualValues(t, 2, recorder.Counter(metrics.CounterEviction))
}

func TestEvictFromEmptyIndexPanics(t *testing.T) {
	c, err := New(context.Background(), backends.NewMem())
	require.NoError(t, err)

	assert.Panics(t, func() {
		_ = c.evictOldest(context.Background())
	})
}

// failingStore fails the operations switched on.
type failingStore struct {
	backends.Backend
	failCommit bool
	failWrite  bool
	failRemove bool
	failGet    bool
}

var errBroken = errors.New("broken store")

func (s *failingStore) Get(ctx context.Context, id string) (io.ReadCloser, error) {
	if s.failGet {
		return nil, errBroken
	}
	return s.Backend.Get(ctx, id)
}

func (s *failingStore) Create(ctx context.Context, id string) (backends.Writer, error) {
	w, err := s.Backend.Create(ctx, id)
	if err != nil {
		return nil, err
	}
	return &failingWriter{Writer: w, store: s}, nil
}

func (s *failingStore) Remove(ctx context.Context, id string) error {
	if s.failRemove {
		return errBroken
	}
	return s.Backend.Remove(ctx, id)
}

type failingWriter struct {
	backends.Writer
	store *failingStore
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.store.failWrite {
		return 0, errBroken
	}
	return w.Writer.Write(p)
}

func (w *failingWriter) Commit() error {
	if w.store.failCommit {
		_ = w.Writer.Abort()
		return errBroken
	}
	return w.Writer.Commit()
}

func TestFailedSetLeavesIndexUnchanged(t *testing.T) {
	store := &failingStore{Backend: backends.NewMem()}
	c, err := New(context.Background(), store, WithClock(newClock().now))
	require.NoError(t, err)
	set(t, c, ref("a.odt"), "a")
	before := c.Entries()

	store.failCommit = true
	err = c.Set(context.Background(), ref("b.odt"), strings.NewReader("b"))
	assert.ErrorIs(t, err, errBroken)

	store.failCommit = false
	store.failWrite = true
	err = c.Set(context.Background(), ref("c.odt"), strings.NewReader("c"))
	assert.ErrorIs(t, err, errBroken)

	store.failWrite = false
	if diff := cmp.Diff(before, c.Entries()); diff != "" {
		t.Errorf("index changed by failed set (-before +after):\n%s", diff)
	}
	_, ok := get(t, c, ref("b.odt"))
	assert.False(t, ok)
}

func TestFailedEvictionKeepsIndexInSync(t *testing.T) {
	store := &failingStore{Backend: backends.NewMem()}
	c, err := New(context.Background(), store, WithMaxEntries(1), WithClock(newClock().now))
	require.NoError(t, err)
	set(t, c, ref("a.odt"), "a")

	store.failRemove = true
	err = c.Set(context.Background(), ref("b.odt"), strings.NewReader("b"))
	assert.ErrorIs(t, err, errBroken)

	ids, err := store.List(context.Background())
	require.NoError(t, err)
	var keys []string
	for _, e := range c.Entries() {
		keys = append(keys, e.Key)
	}
	assert.ElementsMatch(t, ids, keys)

	// the next successful set catches up
	store.failRemove = false
	set(t, c, ref("c.odt"), "c")
	assert.Equal(t, 1, c.Len())
}

func TestGetStoreFailure(t *testing.T) {
	store := &failingStore{Backend: backends.NewMem()}
	c, err := New(context.Background(), store)
	require.NoError(t, err)

	store.failGet = true
	_, _, err = c.Get(context.Background(), ref("a.odt"))
	assert.ErrorIs(t, err, errBroken)
}

func TestGetIndexesForeignBlob(t *testing.T) {
	store := backends.NewMem()
	c, err := New(context.Background(), store, WithMaxEntries(1), WithClock(newClock().now))
	require.NoError(t, err)
	set(t, c, ref("a.odt"), "a")

	// written by someone else after construction
	w, err := store.Create(context.Background(), ref("b.odt").CacheKey())
	require.NoError(t, err)
	_, err = io.Copy(w, bytes.NewReader([]byte("b")))
	require.NoError(t, err)
	require.NoError(t, w.Commit())

	got, ok := get(t, c, ref("b.odt"))
	require.True(t, ok)
	assert.Equal(t, "b", got)
	assert.Equal(t, 1, c.Len())

	_, ok = get(t, c, ref("a.odt"))
	assert.False(t, ok)
}

func TestConcurrentGetSet(t *testing.T) {
	store := backends.NewMem()
	c, err := New(context.Background(), store, WithMaxEntries(3))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				r := ref(fmt.Sprintf("doc-%d.odt", (g+i)%8))
				if i%3 == 0 {
					assert.NoError(t, c.Set(context.Background(), r, strings.NewReader(r.Path)))
					continue
				}
				rd, ok, err := c.Get(context.Background(), r)
				if !assert.NoError(t, err) || !ok {
					continue
				}
				buf, err := io.ReadAll(rd)
				assert.NoError(t, err)
				assert.Equal(t, r.Path, string(buf))
				assert.NoError(t, rd.Close())
			}
		}(g)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 3)

	var indexed []string
	for _, e := range c.Entries() {
		indexed = append(indexed, e.Key)
	}
	sort.Strings(indexed)
	stored, err := store.List(context.Background())
	require.NoError(t, err)
	if diff := cmp.Diff(stored, indexed); diff != "" {
		t.Errorf("index differs from store (-store +index):\n%s", diff)
	}
}
