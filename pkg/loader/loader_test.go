package loader

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type staticLoader struct {
	data []byte
	err  error
	seen []Source
}

func (l *staticLoader) GetFileText(_ context.Context, src Source) ([]byte, error) {
	l.seen = append(l.seen, src)
	return l.data, l.err
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain utf8", input: "hello world", want: "hello world"},
		{name: "contains null byte", input: "hel\x00lo", want: "hello"},
		{name: "contains invalid utf8", input: string([]byte{'a', 0xff, 'b'}), want: "ab"},
		{name: "byte order mark", input: "\ufeffAspirin", want: "Aspirin"},
		{name: "windows newlines", input: "a\r\nb\rc", want: "a\nb\nc"},
		{name: "empty", input: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeText(tt.input)
			if got != tt.want {
				t.Fatalf("unexpected normalized value: got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSourceGetText(t *testing.T) {
	l := &staticLoader{data: []byte("Aspirin\r\nlowers fever.\x00")}
	src := NewURLSource("https://example.org/aspirin", l)

	text, err := src.GetText(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Aspirin\nlowers fever.", text)
	require.Len(t, l.seen, 1)
	require.Equal(t, SourceURL, l.seen[0].Kind)
}

func TestSourceGetTextError(t *testing.T) {
	boom := errors.New("boom")
	src := NewS3Source("docs/a.txt", &staticLoader{err: boom})

	_, err := src.GetText(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestCacheKeySeparatesKinds(t *testing.T) {
	a := CacheKey(NewFileSource("docs/a.txt", nil))
	b := CacheKey(NewS3Source("docs/a.txt", nil))
	require.NotEqual(t, a, b)
}

func TestSetLoadRoutesByKind(t *testing.T) {
	file := &staticLoader{data: []byte("file text")}
	web := &staticLoader{data: []byte("web text")}
	set := Set{File: file, Web: web}

	text, err := set.Load(context.Background(), SourceURL, "https://example.org")
	require.NoError(t, err)
	require.Equal(t, "web text", text)
	require.Empty(t, file.seen)

	_, err = set.Load(context.Background(), SourceS3, "docs/a.txt")
	require.ErrorIs(t, err, ErrNoLoader)

	_, err = set.Load(context.Background(), SourceKind("ftp"), "x")
	require.Error(t, err)
}
