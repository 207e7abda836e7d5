package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	s := Defaults()
	assert.Equal(t, "http://localhost:3000", s.URL)
	assert.False(t, s.Enabled)
	assert.NoError(t, s.Validate())
}

func TestValidate(t *testing.T) {
	for _, u := range []string{"http://gotenberg:3000", "https://convert.example.com/base/"} {
		assert.NoError(t, Settings{URL: u}.Validate(), u)
	}
	for _, u := range []string{"", "localhost:3000", "ftp://example.com", "http://", "://x"} {
		assert.Error(t, Settings{URL: u}.Validate(), u)
	}
}

func TestMemoryStore(t *testing.T) {
	s, err := Open("", Defaults(), nil)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), s.Get())

	want := Settings{URL: "http://gotenberg:3000", Enabled: true}
	require.NoError(t, s.Set(want))
	assert.Equal(t, want, s.Get())
	assert.Equal(t, "http://gotenberg:3000", s.URL())

	assert.ErrorIs(t, s.Set(Settings{URL: "nope"}), ErrInvalid)
	assert.Equal(t, want, s.Get())
}

func TestFileStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "gotenberg.json")

	s, err := Open(path, Defaults(), nil)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), s.Get())

	want := Settings{URL: "https://gotenberg.example.com", Enabled: true}
	require.NoError(t, s.Set(want))

	reopened, err := Open(path, Defaults(), nil)
	require.NoError(t, err)
	assert.Equal(t, want, reopened.Get())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileOverlaysInitial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gotenberg.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"enabled": true}`), 0644))

	s, err := Open(path, Settings{URL: "http://from-flags:3000"}, nil)
	require.NoError(t, err)
	assert.Equal(t, Settings{URL: "http://from-flags:3000", Enabled: true}, s.Get())
}

func TestOpenInvalidFile(t *testing.T) {
	dir := t.TempDir()

	broken := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(broken, []byte(`{`), 0644))
	_, err := Open(broken, Defaults(), nil)
	assert.Error(t, err)

	invalid := filepath.Join(dir, "invalid.json")
	require.NoError(t, os.WriteFile(invalid, []byte(`{"url": "gopher://x"}`), 0644))
	_, err = Open(invalid, Defaults(), nil)
	assert.Error(t, err)
}
