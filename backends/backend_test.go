package backends

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeBlob(t *testing.T, be Backend, id string, data []byte) {
	t.Helper()
	w, err := be.Create(context.Background(), id)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Commit())
}

func readBlob(t *testing.T, be Backend, id string) []byte {
	t.Helper()
	rd, err := be.Get(context.Background(), id)
	require.NoError(t, err)
	defer rd.Close()
	buf, err := io.ReadAll(rd)
	require.NoError(t, err)
	return buf
}

// testBackend runs the behaviour every Backend must share.
func testBackend(t *testing.T, be Backend) {
	ctx := context.Background()

	t.Run("Empty", func(t *testing.T) {
		ids, err := be.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, ids)

		_, err = be.Get(ctx, "missing")
		assert.True(t, IsNotExist(err), "unexpected error %v", err)
	})

	t.Run("RoundTrip", func(t *testing.T) {
		writeBlob(t, be, "b", []byte("second"))
		writeBlob(t, be, "a", []byte("first"))

		assert.Equal(t, []byte("first"), readBlob(t, be, "a"))
		assert.Equal(t, []byte("second"), readBlob(t, be, "b"))

		ids, err := be.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, ids)
	})

	t.Run("Replace", func(t *testing.T) {
		writeBlob(t, be, "a", []byte("replaced"))
		assert.Equal(t, []byte("replaced"), readBlob(t, be, "a"))
	})

	t.Run("NotVisibleBeforeCommit", func(t *testing.T) {
		w, err := be.Create(ctx, "pending")
		require.NoError(t, err)
		_, err = w.Write([]byte("partial"))
		require.NoError(t, err)

		_, err = be.Get(ctx, "pending")
		assert.True(t, IsNotExist(err), "unexpected error %v", err)
		ids, err := be.List(ctx)
		require.NoError(t, err)
		assert.NotContains(t, ids, "pending")

		require.NoError(t, w.Commit())
		assert.Equal(t, []byte("partial"), readBlob(t, be, "pending"))
	})

	t.Run("Abort", func(t *testing.T) {
		w, err := be.Create(ctx, "aborted")
		require.NoError(t, err)
		_, err = w.Write([]byte("nope"))
		require.NoError(t, err)
		require.NoError(t, w.Abort())

		_, err = be.Get(ctx, "aborted")
		assert.True(t, IsNotExist(err), "unexpected error %v", err)
	})

	t.Run("Remove", func(t *testing.T) {
		require.NoError(t, be.Remove(ctx, "a"))
		require.NoError(t, be.Remove(ctx, "a"))

		_, err := be.Get(ctx, "a")
		assert.True(t, IsNotExist(err), "unexpected error %v", err)

		ids, err := be.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "pending"}, ids)
	})
}
