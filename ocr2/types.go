package ocr2

import (
	"bytes"
	"encoding/hex"
	"math/big"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
	ocr2types "github.com/smartcontractkit/libocr/offchainreporting2plus/types"
)

const (
	// MaxOracles is the largest oracle set a config can hold. Signer indices
	// are tracked in a uint32 bitmask, so this has to stay below 32.
	MaxOracles = 19

	MaxOffchainConfigLen = 4096

	ReportContextLen = 96
	ReportLen        = 61
	SignatureLen     = 65

	ConfigDigestPrefix ocr2types.ConfigDigestPrefix = 3
)

// SigningKey is the 20 byte Ethereum style address of an oracle's
// secp256k1 signing key.
type SigningKey [common.AddressLength]byte

func SigningKeyFromAddress(addr common.Address) SigningKey {
	return SigningKey(addr)
}

func (k SigningKey) Address() common.Address { return common.Address(k) }

func (k SigningKey) String() string { return hex.EncodeToString(k[:]) }

func (k SigningKey) MarshalText() ([]byte, error) {
	return []byte(k.Address().Hex()), nil
}

func (k *SigningKey) UnmarshalText(text []byte) error {
	var addr common.Address
	if err := addr.UnmarshalText(text); err != nil {
		return err
	}
	*k = SigningKey(addr)
	return nil
}

func compareSigningKeys(a, b SigningKey) int {
	return bytes.Compare(a[:], b[:])
}

type Billing struct {
	ObservationPaymentGjuels  uint32 `json:"observationPaymentGjuels"`
	TransmissionPaymentGjuels uint32 `json:"transmissionPaymentGjuels"`
}

type Oracle struct {
	Transmitter   solana.PublicKey
	Signer        SigningKey
	Payee         solana.PublicKey
	ProposedPayee solana.PublicKey

	// FromRoundID is the round observation payments are counted from.
	FromRoundID uint32
	// PaymentGjuels holds accrued transmission reimbursements.
	PaymentGjuels uint64
}

// NewOracle is an entry of a new oracle set.
type NewOracle struct {
	Signer      SigningKey       `json:"signer"`
	Transmitter solana.PublicKey `json:"transmitter"`
}

// LeftoverPayment is the unpaid balance of an oracle that was rotated out.
type LeftoverPayment struct {
	Payee  solana.PublicKey
	Amount uint64
}

// Config is the aggregator state shared by transmissions, config changes and
// billing.
type Config struct {
	Owner         solana.PublicKey
	ProposedOwner solana.PublicKey

	TokenMint  solana.PublicKey
	TokenVault solana.PublicKey

	MinAnswer *big.Int
	MaxAnswer *big.Int

	F                       uint8
	Round                   uint8
	Epoch                   uint32
	LatestAggregatorRoundID uint32
	LatestTransmitter       solana.PublicKey

	ConfigCount             uint32
	LatestConfigDigest      ocr2types.ConfigDigest
	LatestConfigBlockNumber uint64

	Billing Billing

	FlaggingThreshold uint32
}

func (c Config) clone() Config {
	c.MinAnswer = new(big.Int).Set(c.MinAnswer)
	c.MaxAnswer = new(big.Int).Set(c.MaxAnswer)
	return c
}

// OffchainConfig is a versioned, size bounded blob.
type OffchainConfig struct {
	Version uint64
	Data    []byte
}

func (o OffchainConfig) Len() int { return len(o.Data) }

func (o OffchainConfig) IsEmpty() bool { return len(o.Data) == 0 }

func (o OffchainConfig) RemainingCapacity() int { return MaxOffchainConfigLen - len(o.Data) }

func (o OffchainConfig) clone() OffchainConfig {
	o.Data = slices.Clone(o.Data)
	return o
}

// LatestConfig is the result of LatestConfigDetails.
type LatestConfig struct {
	ConfigCount  uint32
	ConfigDigest ocr2types.ConfigDigest
	BlockNumber  uint64
}
