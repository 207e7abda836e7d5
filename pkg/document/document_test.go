package document

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveKey(t *testing.T) {
	assert.Equal(t, "bf6371207c9c5b531bfe60a59069f609536475edda9f52007c22620e1bd5dc44", DeriveKey("42", "a.txt"))
	assert.Equal(t, "4163728df398d3cb220fa7d2eab18de01f435b260426d6683a91e8ad9df8e65e", DeriveKey("main", "docs/readme.odt"))
	assert.Equal(t, DeriveKey("42", "a.txt"), DeriveKey("42", "a.txt"))
	assert.Len(t, DeriveKey("", ""), 64)
}

func TestDeriveKeyDistinct(t *testing.T) {
	seen := make(map[string]string)
	for _, rev := range []string{"", "1", "42", "main", "a/b", "ff00ee"} {
		for _, path := range []string{"", "a.txt", "b.txt", "dir/a.txt", "a.TXT", "ümlaut.odt"} {
			in := fmt.Sprintf("%q %q", rev, path)
			key := DeriveKey(rev, path)
			if prev, ok := seen[key]; ok && prev != rev+"/"+path {
				t.Fatalf("collision between %s and %s", prev, in)
			}
			seen[key] = rev + "/" + path
		}
	}
}

func TestRef(t *testing.T) {
	ref := NewRef("hitchhiker", "h2g2", "42", "a/b/c/h2g2.PPTX")

	assert.Equal(t, DeriveKey("42", "a/b/c/h2g2.PPTX"), ref.CacheKey())
	assert.Equal(t, "h2g2.PPTX", ref.Filename())
	ext, ok := ref.Extension()
	assert.True(t, ok)
	assert.Equal(t, "pptx", ext)

	assert.Equal(t, ref, NewRef("hitchhiker", "h2g2", "42", "a/b/c/h2g2.PPTX"))
	assert.NotEqual(t, ref, NewRef("hitchhiker", "h2g2", "43", "a/b/c/h2g2.PPTX"))

	// key is scoped per repository
	assert.Equal(t, ref.CacheKey(), NewRef("other", "repo", "42", "a/b/c/h2g2.PPTX").CacheKey())

	literal := Ref{Namespace: "hitchhiker", Name: "h2g2", Revision: "42", Path: "a/b/c/h2g2.PPTX"}
	assert.Equal(t, ref.CacheKey(), literal.CacheKey())

	assert.True(t, ref.Equal(literal))
	assert.True(t, literal.Equal(ref))
	assert.False(t, ref.Equal(NewRef("hitchhiker", "h2g2", "42", "a/b/c/h2g2.pptx")))
	assert.False(t, ref.Equal(NewRef("other", "h2g2", "42", "a/b/c/h2g2.PPTX")))
}

func TestFilename(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"App.java", "App.java"},
		{"a/b/c/Main.java", "Main.java"},
		{"a/b/c/App.java/", "App.java"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, Filename(tt.path))
		})
	}
}

func TestExtension(t *testing.T) {
	tests := []struct {
		path string
		want string
		ok   bool
	}{
		{"test.txt", "txt", true},
		{"a/b/c/Main.java", "java", true},
		{"test.TxT", "txt", true},
		{"App.JAVA", "java", true},
		{"archive.tar.gz", "gz", true},
		{"Dockerfile", "", false},
		{"dir.d/Makefile", "", false},
		{"dir/.profile", "", false},
		{".hiddenfile", "", false},
		{"strange.", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			ext, ok := Extension(tt.path)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, ext)
		})
	}
}
