package ocr2

import (
	"context"
	"fmt"
	"math"
	"math/big"

	"github.com/gagliardetto/solana-go"

	"github.com/smartcontractkit/chainlink-solana-feeds/store"
)

// reimbursement is what a transmitter is refunded for the network fee of
// submitting a report, in the aggregator's token.
func reimbursement(lamportsPerSignature, juelsPerLamport uint64) (uint64, error) {
	const signers = 1
	lamports, err := checkedMul64(lamportsPerSignature, signers)
	if err != nil {
		return 0, err
	}
	return checkedMul64(lamports, juelsPerLamport)
}

func (a *Aggregator) snapshot() configSnapshot {
	return configSnapshot{
		Epoch:        a.config.Epoch,
		Round:        a.config.Round,
		F:            a.config.F,
		ConfigDigest: a.config.LatestConfigDigest,
		MinAnswer:    a.config.MinAnswer,
		MaxAnswer:    a.config.MaxAnswer,
		Oracles:      a.oracles,
	}
}

// Transmit verifies a signed report submitted by transmitter and commits its
// median to the feed as the next round. data is the store nonce followed by
// the report context, the report and f+1 signatures.
func (a *Aggregator) Transmit(ctx context.Context, transmitter solana.PublicKey, data []byte) (err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	defer func() {
		promTransmitCount.WithLabelValues(a.address.String(), errorCode(err)).Inc()
		if err != nil {
			a.lggr.Debugw("Rejected transmission", "transmitter", transmitter.String(), "err", err)
		}
	}()
	if err = a.checkOpen(); err != nil {
		return err
	}

	r, err := verify(a.snapshot(), transmitter, data)
	if err != nil {
		return err
	}

	if a.config.LatestAggregatorRoundID == math.MaxUint32 {
		return fmt.Errorf("aggregator round id; %w", ErrOverflow)
	}
	roundID := a.config.LatestAggregatorRoundID + 1

	storeAuthority, err := solana.CreateProgramAddress([][]byte{storeSeed, a.address[:], {r.StoreNonce}}, a.programID)
	if err != nil {
		return fmt.Errorf("invalid store nonce %d: %v; %w", r.StoreNonce, err, ErrInvalidInput)
	}
	if !storeAuthority.Equals(a.feed.Writer()) {
		return fmt.Errorf("store authority %s is not the writer of feed %s; %w", storeAuthority, a.feed.Address(), ErrUnauthorized)
	}

	refund, err := reimbursement(a.fees.LamportsPerSignature(), r.Report.JuelsPerLamport)
	if err != nil {
		return err
	}
	amount, err := checkedAdd64(refund, uint64(a.config.Billing.TransmissionPaymentGjuels))
	if err != nil {
		return err
	}
	payment, err := checkedAdd64(a.oracles[r.OracleIndex].PaymentGjuels, amount)
	if err != nil {
		return err
	}

	previous, hasPrevious := a.feed.LatestRound()
	if err = a.feed.Submit(ctx, storeAuthority, store.NewTransmission{
		Timestamp: uint64(r.Report.ObservationsTimestamp),
		Answer:    r.Report.Median,
	}); err != nil {
		return fmt.Errorf("failed to submit round %d; %w", roundID, err)
	}

	a.config.Epoch = r.Context.Epoch
	a.config.Round = r.Context.Round
	a.config.LatestAggregatorRoundID = roundID
	a.config.LatestTransmitter = transmitter
	a.oracles[r.OracleIndex].PaymentGjuels = payment

	a.emit(ctx, NewTransmission{
		RoundID:               roundID,
		ConfigDigest:          a.config.LatestConfigDigest,
		Answer:                r.Report.Median,
		Transmitter:           uint8(r.OracleIndex),
		ObservationsTimestamp: r.Report.ObservationsTimestamp,
		ObserverCount:         r.Report.ObserverCount,
		Observers:             r.Report.Observers,
		JuelsPerLamport:       r.Report.JuelsPerLamport,
		Reimbursement:         refund,
	})

	if a.validator != nil {
		a.validate(ctx, previous, hasPrevious, roundID, r)
	}

	promLatestRoundID.WithLabelValues(a.address.String()).Set(float64(roundID))
	promReimbursementGjuels.WithLabelValues(a.address.String()).Add(float64(amount))
	a.lggr.Debugw("Transmitted", "roundID", roundID, "epoch", r.Context.Epoch, "round", r.Context.Round,
		"answer", r.Report.Median, "transmitter", transmitter.String(), "signatures", r.SignatureCount)
	return nil
}

// validate notifies the validator of a committed answer. Failures are logged
// and never undo the transmission.
func (a *Aggregator) validate(ctx context.Context, previous store.Round, hasPrevious bool, roundID uint32, r verifiedReport) {
	authority, _, err := ValidatorAuthority(a.programID, a.address)
	if err != nil {
		a.lggr.Errorw("Failed to derive validator authority", "err", err)
		return
	}
	var previousRoundID uint32
	var previousAnswer *big.Int
	if hasPrevious {
		previousRoundID, previousAnswer = previous.RoundID, previous.Answer
	}
	if err = a.validator.Validate(ctx, authority, a.feed.Address(), a.config.FlaggingThreshold,
		previousRoundID, previousAnswer, roundID, r.Report.Median); err != nil {
		a.lggr.Warnw("Validator call failed", "roundID", roundID, "err", err)
	}
}
