package store

import (
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/smartcontractkit/chainlink-solana-feeds/pkg/ownership"
)

// Store is an account that can own many feeds. Owning feeds through a Store
// lets one owner key, plus a lowering access list, manage all of them.
type Store struct {
	mu       sync.RWMutex
	address  solana.PublicKey
	own      ownership.Ownable
	lowering AccessChecker
}

func NewStore(address, owner solana.PublicKey, loweringAccessController AccessChecker) *Store {
	return &Store{
		address:  address,
		own:      ownership.New(owner),
		lowering: loweringAccessController,
	}
}

func (s *Store) Address() solana.PublicKey { return s.address }

func (s *Store) Owner() solana.PublicKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.own.Owner
}

func (s *Store) LoweringAccessController() AccessChecker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lowering
}

func (s *Store) TransferOwnership(authority, proposedOwner solana.PublicKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.own.TransferOwnership(authority, proposedOwner)
}

func (s *Store) AcceptOwnership(authority solana.PublicKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.own.AcceptOwnership(authority)
}

func (s *Store) SetLoweringAccessController(authority solana.PublicKey, ac AccessChecker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.own.RequireOwner(authority); err != nil {
		return err
	}
	s.lowering = ac
	return nil
}
