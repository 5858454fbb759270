package io

import (
	"context"
	"fmt"
	"os"

	"github.com/OFFIS-RIT/medrag/pkg/loader"
)

// Loader reads documents directly from the local filesystem with caching.
type Loader struct {
	cache *loader.Cache
}

// NewLoader creates a new filesystem-based loader.
func NewLoader() *Loader {
	return &Loader{cache: loader.NewCache()}
}

// GetFileText reads the file content from the filesystem. Results are cached.
func (l *Loader) GetFileText(ctx context.Context, src loader.Source) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.cache.Do(loader.CacheKey(src), func() ([]byte, error) {
		b, err := os.ReadFile(src.Path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", src.Path, err)
		}
		return b, nil
	})
}
