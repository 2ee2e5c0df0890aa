package accesscontroller

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/smartcontractkit/chainlink-solana-feeds/pkg/ownership"
)

// MaxAddrs is the capacity of a single access list.
const MaxAddrs = 64

var (
	ErrUnauthorized = ownership.ErrUnauthorized
	ErrInvalidInput = ownership.ErrInvalidInput
	ErrFull         = errors.New("access list is full")
)

// AccessController is an owner-managed allow list. The list is kept sorted so
// that membership checks are a binary search.
type AccessController struct {
	mu         sync.RWMutex
	own        ownership.Ownable
	accessList []solana.PublicKey
}

func New(owner solana.PublicKey) *AccessController {
	return &AccessController{
		own:        ownership.New(owner),
		accessList: make([]solana.PublicKey, 0, MaxAddrs),
	}
}

func comparePublicKeys(a, b solana.PublicKey) int {
	return bytes.Compare(a[:], b[:])
}

func (ac *AccessController) Owner() solana.PublicKey {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	return ac.own.Owner
}

func (ac *AccessController) TransferOwnership(authority, proposedOwner solana.PublicKey) error {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	return ac.own.TransferOwnership(authority, proposedOwner)
}

func (ac *AccessController) AcceptOwnership(authority solana.PublicKey) error {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	return ac.own.AcceptOwnership(authority)
}

// AddAccess inserts address into the list. Adding an address that is already
// present is a no-op, but still requires spare capacity.
func (ac *AccessController) AddAccess(owner, address solana.PublicKey) error {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	if err := ac.own.RequireOwner(owner); err != nil {
		return err
	}
	if len(ac.accessList) >= MaxAddrs {
		return fmt.Errorf("cannot add %s; %w", address, ErrFull)
	}
	i, found := slices.BinarySearchFunc(ac.accessList, address, comparePublicKeys)
	if found {
		return nil
	}
	ac.accessList = slices.Insert(ac.accessList, i, address)
	return nil
}

func (ac *AccessController) RemoveAccess(owner, address solana.PublicKey) error {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	if err := ac.own.RequireOwner(owner); err != nil {
		return err
	}
	if i, found := slices.BinarySearchFunc(ac.accessList, address, comparePublicKeys); found {
		ac.accessList = slices.Delete(ac.accessList, i, i+1)
	}
	return nil
}

// HasAccess reports whether address is on the list.
func (ac *AccessController) HasAccess(address solana.PublicKey) bool {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	_, found := slices.BinarySearchFunc(ac.accessList, address, comparePublicKeys)
	return found
}

// AccessList returns a copy of the sorted list.
func (ac *AccessController) AccessList() []solana.PublicKey {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	return slices.Clone(ac.accessList)
}
