package store

import (
	"context"
	"sync"
	"time"
)

// MemoryProvider keeps every store in process memory. It is the reference
// Provider implementation, used by tests and by callers that want caching
// semantics without durability.
type MemoryProvider struct {
	lock   sync.Mutex
	stores map[string]*memoryStore

	// now is replaceable in tests so TimeCached can be pinned.
	now func() time.Time
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		stores: make(map[string]*memoryStore),
		now:    time.Now,
	}
}

func (p *MemoryProvider) Open(schema Schema, storeName string) (Store, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if !schema.HasStore(storeName) {
		return nil, &UnknownStoreError{Schema: schema.Name, Store: storeName}
	}

	p.lock.Lock()
	defer p.lock.Unlock()

	// A version bump leaves the old version's entries unreachable; since
	// this provider is memory-only there is nothing durable to drop.
	key := schema.Name + "\x00" + schema.Version + "\x00" + storeName
	if existing, found := p.stores[key]; found {
		return existing, nil
	}

	s := &memoryStore{
		entries: make(map[string]Entry),
		now:     p.clock,
	}
	p.stores[key] = s
	return s, nil
}

func (p *MemoryProvider) Close() error {
	p.lock.Lock()
	p.stores = make(map[string]*memoryStore)
	p.lock.Unlock()
	return nil
}

func (p *MemoryProvider) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

type memoryStore struct {
	lock    sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

func (s *memoryStore) Get(ctx context.Context, key string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.lock.RLock()
	defer s.lock.RUnlock()

	if entry, found := s.entries[key]; found {
		// Copy out so callers can't mutate the stored value.
		value := make([]byte, len(entry.Value))
		copy(value, entry.Value)
		return &Entry{TimeCached: entry.TimeCached, Value: value}, nil
	}

	return nil, nil
}

func (s *memoryStore) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	s.lock.Lock()
	s.entries[key] = Entry{
		TimeCached: s.now(),
		Value:      stored,
	}
	s.lock.Unlock()

	return nil
}

func (s *memoryStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.lock.Lock()
	s.entries = make(map[string]Entry)
	s.lock.Unlock()

	return nil
}
