package ocr2

import (
	"context"
	"fmt"
	"math"

	"github.com/gagliardetto/solana-go"
)

func (a *Aggregator) LatestConfigDetails() LatestConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	return LatestConfig{
		ConfigCount:  a.config.ConfigCount,
		ConfigDigest: a.config.LatestConfigDigest,
		BlockNumber:  a.config.LatestConfigBlockNumber,
	}
}

// LatestTransmitter returns the transmitter of the latest round, if any.
func (a *Aggregator) LatestTransmitter() solana.PublicKey {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.config.LatestTransmitter
}

// LinkAvailableForPayment returns the vault balance not yet owed to oracles.
// The result is negative when the vault cannot cover what is owed.
func (a *Aggregator) LinkAvailableForPayment(ctx context.Context) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	balance, due, err := a.balanceAndDue(ctx)
	if err != nil {
		return 0, err
	}
	if balance >= due {
		return int64(min(balance-due, math.MaxInt64)), nil
	}
	return -int64(min(due-balance, math.MaxInt64)), nil
}

func (a *Aggregator) balanceAndDue(ctx context.Context) (balance, due uint64, err error) {
	balance, err = a.tokens.Balance(ctx, a.config.TokenVault)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read vault balance; %w", err)
	}
	due, err = totalDue(a.config, a.oracles, a.leftoverPayments)
	if err != nil {
		return 0, 0, err
	}
	return balance, due, nil
}

// linkAvailableForPayment is the withdrawable balance, saturating at zero.
func (a *Aggregator) linkAvailableForPayment(ctx context.Context) (uint64, error) {
	balance, due, err := a.balanceAndDue(ctx)
	if err != nil {
		return 0, err
	}
	if balance < due {
		return 0, nil
	}
	return balance - due, nil
}

// OracleObservationCount returns the number of rounds transmitter has been
// paid for observing since its last payout.
func (a *Aggregator) OracleObservationCount(transmitter solana.PublicKey) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx, err := a.oracleByTransmitter(transmitter)
	if err != nil {
		return 0, err
	}
	from := a.oracles[idx].FromRoundID
	if from > a.config.LatestAggregatorRoundID {
		return 0, nil
	}
	return a.config.LatestAggregatorRoundID - from, nil
}
