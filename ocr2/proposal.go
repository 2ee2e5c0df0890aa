package ocr2

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"slices"
	"sync"

	"github.com/gagliardetto/solana-go"
)

type ProposalState uint8

const (
	ProposalNew ProposalState = iota
	ProposalFinalized
)

func (s ProposalState) String() string {
	switch s {
	case ProposalNew:
		return "new"
	case ProposalFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("ProposalState(%d)", uint8(s))
	}
}

// ProposedOracle is an oracle of a proposed config, with its payee.
type ProposedOracle struct {
	Transmitter solana.PublicKey
	Signer      SigningKey
	Payee       solana.PublicKey
}

func proposedSigner(o ProposedOracle) SigningKey            { return o.Signer }
func proposedTransmitter(o ProposedOracle) solana.PublicKey { return o.Transmitter }

// Proposal stages a complete oracle set, its payees and offchain config. Once
// finalized it can no longer change and may be accepted by an aggregator
// whose owner agrees on its digest.
type Proposal struct {
	mu sync.Mutex

	owner          solana.PublicKey
	state          ProposalState
	f              uint8
	tokenMint      solana.PublicKey
	oracles        []ProposedOracle
	offchainConfig OffchainConfig
	closed         bool
}

// CreateProposal starts an empty proposal for an offchain config of the given
// version.
func CreateProposal(owner solana.PublicKey, offchainConfigVersion uint64) (*Proposal, error) {
	if offchainConfigVersion == 0 {
		return nil, fmt.Errorf("offchain config version must be non-zero; %w", ErrInvalidInput)
	}
	if owner.IsZero() {
		return nil, fmt.Errorf("proposal owner is required; %w", ErrInvalidInput)
	}
	return &Proposal{owner: owner, offchainConfig: OffchainConfig{Version: offchainConfigVersion}}, nil
}

func (p *Proposal) Owner() solana.PublicKey {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.owner
}

func (p *Proposal) State() ProposalState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Proposal) Oracles() []ProposedOracle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.oracles)
}

// requireEditable checks that authority may still change the proposal.
func (p *Proposal) requireEditable(authority solana.PublicKey) error {
	if p.closed {
		return fmt.Errorf("proposal; %w", ErrClosed)
	}
	if !p.owner.Equals(authority) {
		return fmt.Errorf("%s does not own the proposal; %w", authority, ErrUnauthorized)
	}
	if p.state != ProposalNew {
		return fmt.Errorf("proposal is %s; %w", p.state, ErrInvalidInput)
	}
	return nil
}

func (p *Proposal) WriteOffchainConfig(authority solana.PublicKey, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireEditable(authority); err != nil {
		return err
	}
	if len(data) >= p.offchainConfig.RemainingCapacity() {
		return fmt.Errorf("%d bytes do not fit, %d remaining; %w", len(data), p.offchainConfig.RemainingCapacity(), ErrInvalidInput)
	}
	p.offchainConfig.Data = append(p.offchainConfig.Data, data...)
	return nil
}

// ProposeConfig sets the proposed oracle set. It clears any payees proposed
// before.
func (p *Proposal) ProposeConfig(authority solana.PublicKey, newOracles []NewOracle, f uint8) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireEditable(authority); err != nil {
		return err
	}
	if err := checkOracleSetSize(len(newOracles), f); err != nil {
		return err
	}
	oracles := make([]ProposedOracle, len(newOracles))
	for i, o := range newOracles {
		oracles[i] = ProposedOracle{Transmitter: o.Transmitter, Signer: o.Signer}
	}
	if err := sortOracles(oracles, proposedSigner, proposedTransmitter); err != nil {
		return err
	}
	p.oracles = oracles
	p.f = f
	return nil
}

// ProposePayees sets the payee of every proposed oracle, in signer order.
// The payees have to be accounts of tokenMint, which AcceptProposal checks
// against the aggregator.
func (p *Proposal) ProposePayees(authority, tokenMint solana.PublicKey, payees []solana.PublicKey) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireEditable(authority); err != nil {
		return err
	}
	if len(payees) != len(p.oracles) {
		return fmt.Errorf("got %d payees for %d oracles; %w", len(payees), len(p.oracles), ErrPayeeOracleMismatch)
	}
	for i := range p.oracles {
		p.oracles[i].Payee = payees[i]
	}
	p.tokenMint = tokenMint
	return nil
}

// Finalize freezes the proposal.
func (p *Proposal) Finalize(authority solana.PublicKey) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireEditable(authority); err != nil {
		return err
	}
	if len(p.oracles) == 0 {
		return fmt.Errorf("proposal has no oracles; %w", ErrInvalidInput)
	}
	if slices.ContainsFunc(p.oracles, func(o ProposedOracle) bool { return o.Payee.IsZero() }) {
		return fmt.Errorf("proposal is missing payees; %w", ErrInvalidInput)
	}
	if p.offchainConfig.Version == 0 {
		return fmt.Errorf("proposal has no offchain config version; %w", ErrInvalidInput)
	}
	p.state = ProposalFinalized
	return nil
}

// Close discards the proposal without accepting it.
func (p *Proposal) Close(authority solana.PublicKey) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("proposal; %w", ErrClosed)
	}
	if !p.owner.Equals(authority) {
		return fmt.Errorf("%s does not own the proposal; %w", authority, ErrUnauthorized)
	}
	p.closed = true
	return nil
}

// Digest commits to everything an aggregator takes from the proposal.
func (p *Proposal) Digest() [32]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.digest()
}

func (p *Proposal) digest() [32]byte {
	h := sha256.New()
	h.Write([]byte{uint8(len(p.oracles))})
	for _, o := range p.oracles {
		h.Write(o.Signer[:])
		h.Write(o.Transmitter[:])
		h.Write(o.Payee[:])
	}
	h.Write([]byte{p.f})
	h.Write(p.tokenMint[:])
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], p.offchainConfig.Version)
	h.Write(buf[:])
	binary.BigEndian.PutUint32(buf[:4], uint32(p.offchainConfig.Len()))
	h.Write(buf[:4])
	h.Write(p.offchainConfig.Data)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// AcceptProposal rotates to the config of a finalized proposal. The current
// oracles are paid off first, so leftover payments must already be settled.
// The proposal is closed on success.
func (a *Aggregator) AcceptProposal(ctx context.Context, authority solana.PublicKey, proposal *Proposal, digest [32]byte, receiver solana.PublicKey) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	proposal.mu.Lock()
	defer proposal.mu.Unlock()

	if err := a.requireOwner(authority); err != nil {
		return err
	}
	if proposal.closed {
		return fmt.Errorf("proposal; %w", ErrClosed)
	}
	if proposal.state != ProposalFinalized {
		return fmt.Errorf("proposal is %s; %w", proposal.state, ErrInvalidInput)
	}
	if proposal.digest() != digest {
		return fmt.Errorf("proposal digest %x; %w", proposal.digest(), ErrDigestMismatch)
	}
	if !proposal.tokenMint.Equals(a.config.TokenMint) {
		return fmt.Errorf("proposal token mint %s, aggregator uses %s; %w", proposal.tokenMint, a.config.TokenMint, ErrInvalidTokenAccount)
	}
	for _, o := range proposal.oracles {
		acct, err := a.tokens.Account(ctx, o.Payee)
		if err != nil {
			return fmt.Errorf("payee %s: %v; %w", o.Payee, err, ErrInvalidTokenAccount)
		}
		if !acct.Mint.Equals(a.config.TokenMint) {
			return fmt.Errorf("payee %s holds %s; %w", o.Payee, acct.Mint, ErrInvalidTokenAccount)
		}
	}
	if a.hasLeftovers() {
		return ErrPaymentsRemaining
	}
	configCount, err := a.nextConfigCount()
	if err != nil {
		return err
	}
	onchainConfig, err := a.onchainConfig()
	if err != nil {
		return err
	}

	payees := make([]solana.PublicKey, len(a.oracles))
	for i, o := range a.oracles {
		payees[i] = o.Payee
	}
	if err = a.payOracles(ctx, payees, "proposal"); err != nil {
		return err
	}

	oracles := make([]Oracle, len(proposal.oracles))
	for i, o := range proposal.oracles {
		oracles[i] = Oracle{
			Transmitter: o.Transmitter,
			Signer:      o.Signer,
			Payee:       o.Payee,
			FromRoundID: a.config.LatestAggregatorRoundID,
		}
	}
	a.oracles = oracles
	a.leftoverPayments = a.leftoverPayments[:0]
	a.config.F = proposal.f
	a.offchainConfig = proposal.offchainConfig.clone()
	a.config.Epoch, a.config.Round = 0, 0
	a.commitConfig(ctx, configCount, onchainConfig)

	proposal.closed = true
	a.lggr.Infow("Accepted proposal", "digest", fmt.Sprintf("%x", digest), "receiver", receiver.String())
	return nil
}
