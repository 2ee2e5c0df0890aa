package store

import (
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
)

var _ StoreLookup = (*Registry)(nil)

// Registry indexes stores and feeds by address.
type Registry struct {
	mu     sync.RWMutex
	stores map[solana.PublicKey]*Store
	feeds  map[solana.PublicKey]*Feed
}

func NewRegistry() *Registry {
	return &Registry{
		stores: make(map[solana.PublicKey]*Store),
		feeds:  make(map[solana.PublicKey]*Feed),
	}
}

func (r *Registry) AddStore(s *Store) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.stores[s.Address()]; exists {
		return fmt.Errorf("store %s already registered; %w", s.Address(), ErrInvalidInput)
	}
	r.stores[s.Address()] = s
	return nil
}

func (r *Registry) Store(address solana.PublicKey) (*Store, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stores[address]
	return s, ok
}

func (r *Registry) AddFeed(f *Feed) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.feeds[f.Address()]; exists {
		return fmt.Errorf("feed %s already registered; %w", f.Address(), ErrInvalidInput)
	}
	r.feeds[f.Address()] = f
	return nil
}

func (r *Registry) Feed(address solana.PublicKey) (*Feed, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.feeds[address]
	return f, ok
}

func (r *Registry) RemoveFeed(address solana.PublicKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.feeds, address)
}
