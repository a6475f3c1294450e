package cache

import (
	"context"
	"slices"
	"sync"
)

// MemoryStorage is an in-memory Storage implementation.
type MemoryStorage struct {
	mu          sync.RWMutex
	generations map[string]*MemoryGeneration
	order       []string // Maintains creation order
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		generations: make(map[string]*MemoryGeneration),
	}
}

// Open returns the named generation, creating it if absent.
func (s *MemoryStorage) Open(ctx context.Context, name string) (Generation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen, ok := s.generations[name]; ok {
		return gen, nil
	}
	gen := newMemoryGeneration(name)
	s.generations[name] = gen
	s.order = append(s.order, name)
	return gen, nil
}

// Has reports whether the named generation exists.
func (s *MemoryStorage) Has(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	_, ok := s.generations[name]
	s.mu.RUnlock()
	return ok, nil
}

// Keys lists generation names in creation order.
func (s *MemoryStorage) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order), nil
}

// Delete removes the named generation. Idempotent - returns false on miss.
func (s *MemoryStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.generations[name]; !ok {
		return false, nil
	}
	delete(s.generations, name)
	s.order = slices.DeleteFunc(s.order, func(n string) bool { return n == name })
	return true, nil
}

// MemoryGeneration is a generation held by MemoryStorage.
type MemoryGeneration struct {
	name    string
	mu      sync.RWMutex
	entries map[string]*Response
	order   []string
}

func newMemoryGeneration(name string) *MemoryGeneration {
	return &MemoryGeneration{
		name:    name,
		entries: make(map[string]*Response),
	}
}

// Name returns the generation name.
func (g *MemoryGeneration) Name() string {
	return g.name
}

// Match returns a copy of the stored response. Returns (nil, false, nil) on miss.
func (g *MemoryGeneration) Match(ctx context.Context, req Request) (*Response, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if !req.IsGet() {
		// Only GET requests are ever stored.
		return nil, false, nil
	}
	key, err := Key(req)
	if err != nil {
		return nil, false, err
	}

	g.mu.RLock()
	resp, ok := g.entries[key]
	g.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	return resp.Clone(), true, nil
}

// Put stores a copy of resp under the identity of req.
func (g *MemoryGeneration) Put(ctx context.Context, req Request, resp *Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if resp == nil {
		return ErrNilResponse
	}
	key, err := Key(req)
	if err != nil {
		return err
	}

	stored := resp.Clone()

	g.mu.Lock()
	if _, exists := g.entries[key]; !exists {
		g.order = append(g.order, key)
	}
	g.entries[key] = stored
	g.mu.Unlock()

	return nil
}

// Keys lists stored request identities in insertion order.
func (g *MemoryGeneration) Keys(ctx context.Context) ([]Request, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	reqs := make([]Request, 0, len(g.order))
	for _, key := range g.order {
		reqs = append(reqs, RequestFromKey(key))
	}
	return reqs, nil
}

// Delete removes the entry for req. Idempotent - returns false on miss.
func (g *MemoryGeneration) Delete(ctx context.Context, req Request) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !req.IsGet() {
		return false, nil
	}
	key, err := Key(req)
	if err != nil {
		return false, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.entries[key]; !ok {
		return false, nil
	}
	delete(g.entries, key)
	g.order = slices.DeleteFunc(g.order, func(k string) bool { return k == key })
	return true, nil
}

// Len returns the number of stored entries.
func (g *MemoryGeneration) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.entries)
}

// Ensure MemoryStorage implements Storage
var _ Storage = (*MemoryStorage)(nil)

// Ensure MemoryGeneration implements Generation
var _ Generation = (*MemoryGeneration)(nil)
