package imagepref

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// Document is the untyped record bag exchanged with a storage backend.
// Every document carries its key under "id".
type Document map[string]any

// ID returns the document key, or "" when absent.
func (d Document) ID() string {
	id, _ := d["id"].(string)
	return id
}

// Store is one named dataset inside a backend.
// Items returns a snapshot in insertion order.
type Store interface {
	Create(ctx context.Context, doc Document) error
	Get(ctx context.Context, id string) (Document, error)
	Remove(ctx context.Context, id string) error
	Items(ctx context.Context) ([]Document, error)
	Count(ctx context.Context) (int, error)
}

// Upserter is implemented by stores that can replace a document in one step.
// The replaced document moves to the end of the insertion order.
type Upserter interface {
	Upsert(ctx context.Context, doc Document) error
}

// Backend hands out datasets by name.
type Backend interface {
	Dataset(name string) Store
}

// MemoryBackend is the default volatile backend.
type MemoryBackend struct {
	mu   sync.Mutex
	sets map[string]*MemoryStore
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{sets: make(map[string]*MemoryStore)}
}

// Dataset returns the named dataset, creating it on first use.
func (b *MemoryBackend) Dataset(name string) Store {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sets[name]
	if !ok {
		s = NewMemoryStore()
		b.sets[name] = s
	}
	return s
}

// MemoryStore keeps documents in memory in insertion order.
type MemoryStore struct {
	mu    sync.RWMutex
	order []string
	docs  map[string]Document
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]Document)}
}

func (s *MemoryStore) Create(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := doc.ID()
	if id == "" {
		return fmt.Errorf("%w: document without id", ErrPersistence)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docs[id]; exists {
		return fmt.Errorf("%w: duplicate id %q", ErrPersistence, id)
	}
	s.docs[id] = maps.Clone(doc)
	s.order = append(s.order, id)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return maps.Clone(doc), nil
}

func (s *MemoryStore) Remove(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	delete(s.docs, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) Upsert(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := doc.ID()
	if id == "" {
		return fmt.Errorf("%w: document without id", ErrPersistence)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docs[id]; exists {
		s.order = slices.DeleteFunc(s.order, func(v string) bool { return v == id })
	}
	s.docs[id] = maps.Clone(doc)
	s.order = append(s.order, id)
	return nil
}

func (s *MemoryStore) Items(ctx context.Context) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Document, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, maps.Clone(s.docs[id]))
	}
	return out, nil
}

func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order), nil
}

// clearStore removes every document from s.
func clearStore(ctx context.Context, s Store) error {
	items, err := s.Items(ctx)
	if err != nil {
		return err
	}
	for _, doc := range items {
		if err := s.Remove(ctx, doc.ID()); err != nil {
			return err
		}
	}
	return nil
}
