package file

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"path/filepath"
	"sync"

	"github.com/OFFIS-RIT/medrag/pkg/logger"
)

// KVStore is a JSON object of id to value persisted as
// kv_store_<namespace>.json.
type KVStore[T any] struct {
	path      string
	namespace string

	mu      sync.RWMutex
	data    map[string]T
	gen     uint64
	flushed uint64

	flushMu sync.Mutex
}

func NewKVStore[T any](dir, namespace string) (*KVStore[T], error) {
	s := &KVStore[T]{
		path:      filepath.Join(dir, "kv_store_"+namespace+".json"),
		namespace: namespace,
		data:      map[string]T{},
	}
	raw, err := readFileIfExists(s.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	if raw != nil {
		if err := json.Unmarshal(raw, &s.data); err != nil {
			return nil, fmt.Errorf("decode %s: %w", s.path, err)
		}
		if s.data == nil {
			s.data = map[string]T{}
		}
	}
	logger.Debug("[KV] Loaded namespace", "namespace", namespace, "entries", len(s.data))
	return s, nil
}

func (s *KVStore[T]) Get(_ context.Context, id string) (T, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[id]
	return v, ok, nil
}

// GetMany returns the stored values for ids in input order, skipping
// unknown ids.
func (s *KVStore[T]) GetMany(_ context.Context, ids []string) ([]T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		if v, ok := s.data[id]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *KVStore[T]) FilterNew(_ context.Context, ids []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool, len(ids))
	var out []string
	for _, id := range ids {
		if _, ok := s.data[id]; ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}

func (s *KVStore[T]) Upsert(_ context.Context, values map[string]T) error {
	if len(values) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	maps.Copy(s.data, values)
	s.gen++
	return nil
}

func (s *KVStore[T]) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data), nil
}

func (s *KVStore[T]) Flush(context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.RLock()
	if s.gen == s.flushed {
		s.mu.RUnlock()
		return nil
	}
	gen := s.gen
	data, err := json.MarshalIndent(s.data, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode %s: %w", s.namespace, err)
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return err
	}

	s.mu.Lock()
	s.flushed = gen
	s.mu.Unlock()
	return nil
}
