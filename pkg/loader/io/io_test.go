package io

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/OFFIS-RIT/medrag/pkg/loader"
	"github.com/stretchr/testify/require"
)

func TestLoaderReadsAndCaches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aspirin.txt")
	require.NoError(t, os.WriteFile(path, []byte("Aspirin lowers fever."), 0o644))

	l := NewLoader()
	src := loader.NewFileSource(path, l)

	text, err := src.GetText(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Aspirin lowers fever.", text)

	require.NoError(t, os.WriteFile(path, []byte("changed"), 0o644))
	text, err = src.GetText(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Aspirin lowers fever.", text)
}

func TestLoaderMissingFile(t *testing.T) {
	l := NewLoader()
	_, err := l.GetFileText(context.Background(), loader.NewFileSource(filepath.Join(t.TempDir(), "nope.txt"), l))
	require.ErrorIs(t, err, os.ErrNotExist)
}
