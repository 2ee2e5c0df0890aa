package ocr2

import (
	"context"
	"math/big"

	"github.com/gagliardetto/solana-go"

	"github.com/smartcontractkit/chainlink-solana-feeds/pkg/token"
	"github.com/smartcontractkit/chainlink-solana-feeds/store"
)

// TokenTransferer moves tokens out of accounts controlled by the aggregator.
type TokenTransferer interface {
	Transfer(ctx context.Context, from, to, authority solana.PublicKey, amount uint64) error
	Balance(ctx context.Context, address solana.PublicKey) (uint64, error)
	Account(ctx context.Context, address solana.PublicKey) (token.Account, error)
}

var _ TokenTransferer = (*token.Ledger)(nil)

type AccessChecker interface {
	HasAccess(address solana.PublicKey) bool
}

// FeedWriter is the transmissions feed rounds are committed to.
type FeedWriter interface {
	Address() solana.PublicKey
	Writer() solana.PublicKey
	LatestRound() (store.Round, bool)
	Submit(ctx context.Context, authority solana.PublicKey, round store.NewTransmission) error
}

var _ FeedWriter = (*store.Feed)(nil)

// AnswerValidator is notified of every new answer. Its errors never fail a
// transmission.
type AnswerValidator interface {
	Validate(ctx context.Context, authority, feed solana.PublicKey, flaggingThreshold uint32,
		previousRoundID uint32, previousAnswer *big.Int, roundID uint32, answer *big.Int) error
}

// FeeCalculator reports the current network fee for a single signature.
type FeeCalculator interface {
	LamportsPerSignature() uint64
}

// FixedFee is a constant FeeCalculator.
type FixedFee uint64

func (f FixedFee) LamportsPerSignature() uint64 { return uint64(f) }

// DefaultLamportsPerSignature is the base fee used when no FeeCalculator is
// configured.
const DefaultLamportsPerSignature = 5000
