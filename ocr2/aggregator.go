// Package ocr2 implements an OCR2 median aggregator: oracle set management,
// verification of signed reports, and the billing of the oracles that
// produce them. Committed answers are written to a store.Feed.
package ocr2

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"

	"github.com/smartcontractkit/chainlink-solana-feeds/pkg/ownership"
	"github.com/smartcontractkit/chainlink-solana-feeds/store"
)

var (
	vaultSeed     = []byte("vault")
	storeSeed     = []byte("store")
	validatorSeed = []byte("validator")
)

// VaultAuthority returns the address that has to own an aggregator's token
// vault, and its bump seed.
func VaultAuthority(programID, aggregator solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{vaultSeed, aggregator[:]}, programID)
}

// StoreAuthority returns the address an aggregator submits rounds with. It
// has to be set as the writer of the aggregator's feed.
func StoreAuthority(programID, aggregator solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{storeSeed, aggregator[:]}, programID)
}

// ValidatorAuthority returns the address an aggregator calls its validator
// with.
func ValidatorAuthority(programID, aggregator solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{validatorSeed, aggregator[:]}, programID)
}

type Opts struct {
	Logger    logger.Logger
	ProgramID solana.PublicKey
	Address   solana.PublicKey

	Tokens TokenTransferer
	Feed   FeedWriter

	RequesterAccessController AccessChecker
	BillingAccessController   AccessChecker

	// Optional
	Events EventSink
	Fees   FeeCalculator
	Clock  store.Clock
}

func (o *Opts) verifyConfig() error {
	var errs []error
	if o.Logger == nil {
		errs = append(errs, fmt.Errorf("logger is required"))
	}
	if o.ProgramID.IsZero() {
		errs = append(errs, fmt.Errorf("program id is required"))
	}
	if o.Address.IsZero() {
		errs = append(errs, fmt.Errorf("aggregator address is required"))
	}
	if o.Tokens == nil {
		errs = append(errs, fmt.Errorf("token transferer is required"))
	}
	if o.Feed == nil {
		errs = append(errs, fmt.Errorf("feed is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid aggregator configuration: %v; %w", errs, ErrInvalidInput)
	}
	return nil
}

type Aggregator struct {
	mu   sync.Mutex
	lggr logger.SugaredLogger

	programID      solana.PublicKey
	address        solana.PublicKey
	vaultAuthority solana.PublicKey

	tokens TokenTransferer
	feed   FeedWriter
	events EventSink
	fees   FeeCalculator
	clock  store.Clock

	requesterAC AccessChecker
	billingAC   AccessChecker
	validator   AnswerValidator

	config                Config
	offchainConfig        OffchainConfig
	pendingOffchainConfig OffchainConfig
	oracles               []Oracle
	leftoverPayments      []LeftoverPayment
	closed                bool
}

// Initialize creates an aggregator owned by owner. The token vault has to be
// an account of the token mint owned by the aggregator's vault authority.
func Initialize(ctx context.Context, opts Opts, owner solana.PublicKey, params Params) (*Aggregator, error) {
	if err := opts.verifyConfig(); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	vaultAuthority, _, err := VaultAuthority(opts.ProgramID, opts.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to derive vault authority; %w", err)
	}
	vault, err := opts.Tokens.Account(ctx, params.TokenVault)
	if err != nil {
		return nil, fmt.Errorf("failed to load token vault; %w", err)
	}
	if !vault.Mint.Equals(params.TokenMint) || !vault.Owner.Equals(vaultAuthority) {
		return nil, fmt.Errorf("token vault %s must be a %s account owned by %s; %w",
			params.TokenVault, params.TokenMint, vaultAuthority, ErrInvalidTokenAccount)
	}

	a := &Aggregator{
		lggr:           logger.Sugared(opts.Logger).Named("Aggregator").With("aggregator", opts.Address.String()),
		programID:      opts.ProgramID,
		address:        opts.Address,
		vaultAuthority: vaultAuthority,
		tokens:         opts.Tokens,
		feed:           opts.Feed,
		events:         opts.Events,
		fees:           opts.Fees,
		clock:          opts.Clock,
		requesterAC:    opts.RequesterAccessController,
		billingAC:      opts.BillingAccessController,
		config: Config{
			Owner:      owner,
			TokenMint:  params.TokenMint,
			TokenVault: params.TokenVault,
			MinAnswer:  params.MinAnswer,
			MaxAnswer:  params.MaxAnswer,
		},
	}
	if a.events == nil {
		a.events = NewLoggerSink(opts.Logger)
	}
	if a.fees == nil {
		a.fees = FixedFee(DefaultLamportsPerSignature)
	}
	if a.clock == nil {
		a.clock = store.ClockFunc(func() uint64 { return 0 })
	}
	a.config = a.config.clone()
	a.lggr.Infow("Initialized aggregator", "owner", owner.String(), "feed", opts.Feed.Address().String(),
		"minAnswer", params.MinAnswer, "maxAnswer", params.MaxAnswer)
	return a, nil
}

func (a *Aggregator) Address() solana.PublicKey { return a.address }

func (a *Aggregator) ProgramID() solana.PublicKey { return a.programID }

func (a *Aggregator) VaultAuthority() solana.PublicKey { return a.vaultAuthority }

func (a *Aggregator) checkOpen() error {
	if a.closed {
		return ErrClosed
	}
	return nil
}

func (a *Aggregator) ownable() *ownership.Ownable {
	return &ownership.Ownable{Owner: a.config.Owner, ProposedOwner: a.config.ProposedOwner}
}

func (a *Aggregator) requireOwner(authority solana.PublicKey) error {
	if err := a.checkOpen(); err != nil {
		return err
	}
	return a.ownable().RequireOwner(authority)
}

// hasAccess lets the owner through, then falls back to the access list.
func (a *Aggregator) hasAccess(ac AccessChecker, authority solana.PublicKey) error {
	if err := a.checkOpen(); err != nil {
		return err
	}
	if a.ownable().IsOwner(authority) {
		return nil
	}
	if ac == nil || !ac.HasAccess(authority) {
		return fmt.Errorf("%s has no access; %w", authority, ErrUnauthorized)
	}
	return nil
}

func (a *Aggregator) emit(ctx context.Context, event Event) {
	if err := a.events.Emit(ctx, a.address, event); err != nil {
		a.lggr.Errorw("Failed to emit event", "event", event.EventName(), "err", err)
	}
}

func (a *Aggregator) TransferOwnership(authority, proposedOwner solana.PublicKey) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkOpen(); err != nil {
		return err
	}
	o := a.ownable()
	if err := o.TransferOwnership(authority, proposedOwner); err != nil {
		return err
	}
	a.config.ProposedOwner = o.ProposedOwner
	return nil
}

func (a *Aggregator) AcceptOwnership(authority solana.PublicKey) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkOpen(); err != nil {
		return err
	}
	o := a.ownable()
	if err := o.AcceptOwnership(authority); err != nil {
		return err
	}
	a.config.Owner, a.config.ProposedOwner = o.Owner, o.ProposedOwner
	a.lggr.Infow("Accepted ownership", "owner", o.Owner.String())
	return nil
}

func (a *Aggregator) SetRequesterAccessController(authority solana.PublicKey, ac AccessChecker) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requireOwner(authority); err != nil {
		return err
	}
	a.requesterAC = ac
	return nil
}

func (a *Aggregator) SetBillingAccessController(authority solana.PublicKey, ac AccessChecker) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requireOwner(authority); err != nil {
		return err
	}
	a.billingAC = ac
	return nil
}

// SetValidatorConfig sets the validator notified after each transmission. A
// nil validator disables notifications.
func (a *Aggregator) SetValidatorConfig(authority solana.PublicKey, validator AnswerValidator, flaggingThreshold uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requireOwner(authority); err != nil {
		return err
	}
	a.validator = validator
	a.config.FlaggingThreshold = flaggingThreshold
	a.lggr.Infow("Set validator config", "enabled", validator != nil, "flaggingThreshold", flaggingThreshold)
	return nil
}

// RequestNewRound asks the oracles for a new report. The next round id is
// one past the latest, callers assume that on their side.
func (a *Aggregator) RequestNewRound(ctx context.Context, authority solana.PublicKey) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.hasAccess(a.requesterAC, authority); err != nil {
		return err
	}
	a.emit(ctx, RoundRequested{
		Requester:    authority,
		ConfigDigest: a.config.LatestConfigDigest,
		Round:        a.config.Round,
		Epoch:        a.config.Epoch,
	})
	return nil
}

// Close pays out every oracle, sweeps what is left in the vault to receiver
// and shuts the aggregator down. Leftover payments have to be paid first.
func (a *Aggregator) Close(ctx context.Context, authority, receiver solana.PublicKey) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requireOwner(authority); err != nil {
		return err
	}
	if a.hasLeftovers() {
		return ErrPaymentsRemaining
	}
	payees := make([]solana.PublicKey, len(a.oracles))
	for i, o := range a.oracles {
		payees[i] = o.Payee
	}
	if err := a.payOracles(ctx, payees, "close"); err != nil {
		return err
	}
	balance, err := a.tokens.Balance(ctx, a.config.TokenVault)
	if err != nil {
		return fmt.Errorf("failed to read vault balance; %w", err)
	}
	if balance > 0 {
		if err := a.transfer(ctx, receiver, balance, "close"); err != nil {
			return err
		}
	}
	a.closed = true
	a.lggr.Infow("Closed aggregator", "receiver", receiver.String(), "swept", balance)
	return nil
}

// Config returns a copy of the aggregator config.
func (a *Aggregator) Config() Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.config.clone()
}

// Oracles returns a copy of the oracle set, sorted by signer.
func (a *Aggregator) Oracles() []Oracle {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.oracles)
}

func (a *Aggregator) LeftoverPayments() []LeftoverPayment {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.leftoverPayments)
}

func (a *Aggregator) OffchainConfig() OffchainConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.offchainConfig.clone()
}

func (a *Aggregator) PendingOffchainConfig() OffchainConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pendingOffchainConfig.clone()
}
