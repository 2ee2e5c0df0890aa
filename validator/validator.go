// Package validator implements a deviation-flagging validator. Aggregators
// hand it every new answer together with the previous one. When the change
// exceeds the flagging threshold, the reporting feed is added to a bounded
// list of raised flags that an authorized party later lowers.
package validator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"

	"github.com/smartcontractkit/chainlink-solana-feeds/pkg/ownership"
	"github.com/smartcontractkit/chainlink-solana-feeds/store"
)

// MaxFlags is the number of flags that can be raised at the same time.
const MaxFlags = 128

var (
	ErrUnauthorized = ownership.ErrUnauthorized
	ErrInvalidInput = ownership.ErrInvalidInput
	ErrFull         = errors.New("flags list is full")
)

type AccessChecker interface {
	HasAccess(address solana.PublicKey) bool
}

type Validator struct {
	mu   sync.Mutex
	lggr logger.SugaredLogger

	own      ownership.Ownable
	raising  AccessChecker
	lowering AccessChecker
	flags    []solana.PublicKey
}

func New(lggr logger.Logger, owner solana.PublicKey, raising, lowering AccessChecker) *Validator {
	return &Validator{
		lggr:     logger.Sugared(lggr).Named("DeviationFlaggingValidator"),
		own:      ownership.New(owner),
		raising:  raising,
		lowering: lowering,
		flags:    make([]solana.PublicKey, 0, MaxFlags),
	}
}

func (v *Validator) Owner() solana.PublicKey {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.own.Owner
}

func (v *Validator) TransferOwnership(authority, proposedOwner solana.PublicKey) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.own.TransferOwnership(authority, proposedOwner)
}

func (v *Validator) AcceptOwnership(authority solana.PublicKey) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.own.AcceptOwnership(authority)
}

func (v *Validator) SetRaisingAccessController(authority solana.PublicKey, ac AccessChecker) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.own.RequireOwner(authority); err != nil {
		return err
	}
	v.raising = ac
	return nil
}

func (v *Validator) SetLoweringAccessController(authority solana.PublicKey, ac AccessChecker) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.own.RequireOwner(authority); err != nil {
		return err
	}
	v.lowering = ac
	return nil
}

// hasAccess lets the owner through, then falls back to the access list.
func (v *Validator) hasAccess(ac AccessChecker, authority solana.PublicKey) error {
	if v.own.IsOwner(authority) {
		return nil
	}
	if ac == nil || !ac.HasAccess(authority) {
		return fmt.Errorf("%s has no access; %w", authority, ErrUnauthorized)
	}
	return nil
}

// Validate raises a flag for feed if answer deviates from previousAnswer by
// more than flaggingThreshold. The round ids are informational.
func (v *Validator) Validate(ctx context.Context, authority, feed solana.PublicKey, flaggingThreshold uint32,
	previousRoundID uint32, previousAnswer *big.Int, roundID uint32, answer *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.hasAccess(v.raising, authority); err != nil {
		return err
	}
	if store.IsValid(flaggingThreshold, previousAnswer, answer) {
		return nil
	}
	if slices.Contains(v.flags, feed) {
		return nil
	}
	if len(v.flags) >= MaxFlags {
		return fmt.Errorf("cannot raise flag for %s; %w", feed, ErrFull)
	}
	v.flags = append(v.flags, feed)
	v.lggr.Warnw("Raised flag", "feed", feed.String(), "previousRoundID", previousRoundID,
		"previousAnswer", previousAnswer, "roundID", roundID, "answer", answer, "threshold", flaggingThreshold)
	return nil
}

// LowerFlags removes every listed feed from the raised flags. Unknown feeds
// are ignored.
func (v *Validator) LowerFlags(authority solana.PublicKey, feeds []solana.PublicKey) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.hasAccess(v.lowering, authority); err != nil {
		return err
	}
	before := len(v.flags)
	v.flags = slices.DeleteFunc(v.flags, func(flag solana.PublicKey) bool {
		return slices.Contains(feeds, flag)
	})
	v.lggr.Infow("Lowered flags", "lowered", before-len(v.flags), "raised", len(v.flags))
	return nil
}

// Flags returns the raised flags in the order they were raised.
func (v *Validator) Flags() []solana.PublicKey {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.flags)
}

func (v *Validator) IsFlagged(feed solana.PublicKey) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Contains(v.flags, feed)
}
