package ocr2

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/gagliardetto/solana-go"
)

// checkOracleSetSize enforces 3f < n <= MaxOracles with f > 0.
func checkOracleSetSize(n int, f uint8) error {
	if f == 0 {
		return fmt.Errorf("f must be positive; %w", ErrInvalidInput)
	}
	if n > MaxOracles {
		return fmt.Errorf("%d oracles, max is %d; %w", n, MaxOracles, ErrTooManyOracles)
	}
	if 3*int(f) >= n {
		return fmt.Errorf("%d oracles cannot tolerate f=%d; %w", n, f, ErrInvalidInput)
	}
	return nil
}

// sortOracles sorts oracles by signer in place and rejects duplicate signers
// or transmitters.
func sortOracles[T any](oracles []T, signer func(T) SigningKey, transmitter func(T) solana.PublicKey) error {
	slices.SortFunc(oracles, func(a, b T) int { return compareSigningKeys(signer(a), signer(b)) })
	for i := 1; i < len(oracles); i++ {
		if signer(oracles[i-1]) == signer(oracles[i]) {
			return fmt.Errorf("signer %s; %w", signer(oracles[i]).Address(), ErrDuplicateSigner)
		}
	}
	seen := make(map[solana.PublicKey]struct{}, len(oracles))
	for _, o := range oracles {
		t := transmitter(o)
		if _, ok := seen[t]; ok {
			return fmt.Errorf("transmitter %s; %w", t, ErrDuplicateTransmitter)
		}
		seen[t] = struct{}{}
	}
	return nil
}

func oracleSigner(o Oracle) SigningKey            { return o.Signer }
func oracleTransmitter(o Oracle) solana.PublicKey { return o.Transmitter }

func (a *Aggregator) hasLeftovers() bool {
	return slices.ContainsFunc(a.leftoverPayments, func(l LeftoverPayment) bool { return l.Amount != 0 })
}

// snapshotLeftovers returns what every current oracle is owed.
func (a *Aggregator) snapshotLeftovers() ([]LeftoverPayment, error) {
	leftovers := make([]LeftoverPayment, 0, len(a.oracles))
	for _, o := range a.oracles {
		owed, err := owedPayment(a.config, o)
		if err != nil {
			return nil, err
		}
		leftovers = append(leftovers, LeftoverPayment{Payee: o.Payee, Amount: owed})
	}
	return leftovers, nil
}

func (a *Aggregator) nextConfigCount() (uint32, error) {
	if a.config.ConfigCount == math.MaxUint32 {
		return 0, fmt.Errorf("config count; %w", ErrOverflow)
	}
	return a.config.ConfigCount + 1, nil
}

func (a *Aggregator) onchainConfig() ([]byte, error) {
	return OnchainConfigCodec{}.Encode(OnchainConfig{
		Version: onchainConfigVersion,
		Min:     a.config.MinAnswer,
		Max:     a.config.MaxAnswer,
	})
}

// commitConfig bumps the config count and recomputes the digest over the
// current oracles and offchain config.
func (a *Aggregator) commitConfig(ctx context.Context, configCount uint32, onchainConfig []byte) {
	a.config.ConfigCount = configCount
	a.config.LatestConfigBlockNumber = a.clock.Slot()
	a.config.LatestConfigDigest = ConfigDigest(DigestInput{
		ProgramID:     a.programID,
		Aggregator:    a.address,
		ConfigCount:   configCount,
		Oracles:       a.oracles,
		F:             a.config.F,
		OnchainConfig: onchainConfig,
		Offchain:      a.offchainConfig,
	})

	signers := make([]SigningKey, len(a.oracles))
	for i, o := range a.oracles {
		signers[i] = o.Signer
	}
	a.lggr.Infow("Committed config", "configCount", configCount, "configDigest", a.config.LatestConfigDigest,
		"f", a.config.F, "n", len(a.oracles), "offchainConfigVersion", a.offchainConfig.Version)
	a.emit(ctx, SetConfig{ConfigDigest: a.config.LatestConfigDigest, F: a.config.F, Signers: signers})
}

// SetConfig replaces the oracle set. What the outgoing oracles are owed is
// moved to leftover payments, which have to be paid out with PayRemaining
// before the next rotation.
func (a *Aggregator) SetConfig(ctx context.Context, authority solana.PublicKey, newOracles []NewOracle, f uint8) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requireOwner(authority); err != nil {
		return err
	}
	if err := checkOracleSetSize(len(newOracles), f); err != nil {
		return err
	}
	if a.hasLeftovers() {
		return ErrPaymentsRemaining
	}
	leftovers, err := a.snapshotLeftovers()
	if err != nil {
		return err
	}
	oracles := make([]Oracle, len(newOracles))
	for i, o := range newOracles {
		oracles[i] = Oracle{
			Signer:      o.Signer,
			Transmitter: o.Transmitter,
			FromRoundID: a.config.LatestAggregatorRoundID,
		}
	}
	if err = sortOracles(oracles, oracleSigner, oracleTransmitter); err != nil {
		return err
	}
	configCount, err := a.nextConfigCount()
	if err != nil {
		return err
	}
	onchainConfig, err := a.onchainConfig()
	if err != nil {
		return err
	}

	a.leftoverPayments = leftovers
	a.oracles = oracles
	a.config.F = f
	a.config.Epoch, a.config.Round = 0, 0
	a.commitConfig(ctx, configCount, onchainConfig)
	return nil
}
