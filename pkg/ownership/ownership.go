// Package ownership implements the two-step owner handover shared by every
// account type in this module: the current owner proposes a successor, and
// the successor has to accept before the change takes effect.
package ownership

import (
	"errors"

	"github.com/gagliardetto/solana-go"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidInput = errors.New("invalid input")
)

// Ownable is embedded by value; callers are responsible for locking.
type Ownable struct {
	Owner         solana.PublicKey
	ProposedOwner solana.PublicKey
}

func New(owner solana.PublicKey) Ownable {
	return Ownable{Owner: owner}
}

// IsOwner reports whether authority is the current owner.
func (o *Ownable) IsOwner(authority solana.PublicKey) bool {
	return !o.Owner.IsZero() && o.Owner.Equals(authority)
}

// RequireOwner returns ErrUnauthorized unless authority is the current owner.
func (o *Ownable) RequireOwner(authority solana.PublicKey) error {
	if !o.IsOwner(authority) {
		return ErrUnauthorized
	}
	return nil
}

func (o *Ownable) TransferOwnership(authority, proposed solana.PublicKey) error {
	if err := o.RequireOwner(authority); err != nil {
		return err
	}
	if proposed.IsZero() {
		return ErrInvalidInput
	}
	o.ProposedOwner = proposed
	return nil
}

func (o *Ownable) AcceptOwnership(authority solana.PublicKey) error {
	if o.ProposedOwner.IsZero() || !o.ProposedOwner.Equals(authority) {
		return ErrUnauthorized
	}
	o.Owner = o.ProposedOwner
	o.ProposedOwner = solana.PublicKey{}
	return nil
}
