package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"
	"unicode/utf8"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

type ScopeKind uint8

const (
	ScopeVersion ScopeKind = iota
	ScopeDecimals
	ScopeDescription
	ScopeRoundData
	ScopeLatestRoundData
	ScopeAggregator
)

func (k ScopeKind) String() string {
	switch k {
	case ScopeVersion:
		return "Version"
	case ScopeDecimals:
		return "Decimals"
	case ScopeDescription:
		return "Description"
	case ScopeRoundData:
		return "RoundData"
	case ScopeLatestRoundData:
		return "LatestRoundData"
	case ScopeAggregator:
		return "Aggregator"
	default:
		return fmt.Sprintf("ScopeKind(%d)", uint8(k))
	}
}

// Scope selects what a query returns. RoundID is only used by ScopeRoundData.
type Scope struct {
	Kind    ScopeKind
	RoundID uint32
}

func RoundDataScope(roundID uint32) Scope {
	return Scope{Kind: ScopeRoundData, RoundID: roundID}
}

// MarshalWithEncoder writes the scope as a Borsh enum.
func (s Scope) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := enc.WriteUint8(uint8(s.Kind)); err != nil {
		return err
	}
	if s.Kind == ScopeRoundData {
		return enc.WriteUint32(s.RoundID, binary.LittleEndian)
	}
	return nil
}

func (s *Scope) UnmarshalWithDecoder(dec *bin.Decoder) error {
	kind, err := dec.ReadUint8()
	if err != nil {
		return err
	}
	s.Kind = ScopeKind(kind)
	if s.Kind > ScopeAggregator {
		return fmt.Errorf("unknown scope %d; %w", kind, ErrInvalidInput)
	}
	if s.Kind == ScopeRoundData {
		s.RoundID, err = dec.ReadUint32(binary.LittleEndian)
	}
	return err
}

// Round is the query view of a stored transmission.
type Round struct {
	RoundID   uint32
	Slot      uint64
	Timestamp uint32
	Answer    *big.Int
}

func newRound(roundID uint32, t Transmission) Round {
	return Round{RoundID: roundID, Slot: t.Slot, Timestamp: t.Timestamp, Answer: t.Answer}
}

// Decimal scales the raw answer by the feed's decimals.
func (r Round) Decimal(decimals uint8) decimal.Decimal {
	if r.Answer == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(r.Answer, -int32(decimals))
}

func (r Round) MarshalWithEncoder(enc *bin.Encoder) error {
	answer, err := EncodeInt128(r.Answer)
	if err != nil {
		return err
	}
	if err = enc.WriteUint32(r.RoundID, binary.LittleEndian); err != nil {
		return err
	}
	if err = enc.WriteUint64(r.Slot, binary.LittleEndian); err != nil {
		return err
	}
	if err = enc.WriteUint32(r.Timestamp, binary.LittleEndian); err != nil {
		return err
	}
	return enc.WriteBytes(answer, false)
}

func (r *Round) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	if r.RoundID, err = dec.ReadUint32(binary.LittleEndian); err != nil {
		return err
	}
	if r.Slot, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return err
	}
	if r.Timestamp, err = dec.ReadUint32(binary.LittleEndian); err != nil {
		return err
	}
	answer, err := dec.ReadNBytes(answerSize)
	if err != nil {
		return err
	}
	r.Answer, err = DecodeInt128(answer)
	return err
}

// Query serializes the requested view of the feed. The response layout is
// independent of the account layout:
//
//	Version, Decimals   u8
//	Description         u32 length + utf8 bytes
//	RoundData, Latest   Round
//	Aggregator          32 byte writer key
func (f *Feed) Query(scope Scope) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := f.checkOpen(); err != nil {
		return nil, err
	}

	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	var err error
	switch scope.Kind {
	case ScopeVersion:
		err = enc.WriteUint8(f.header.Version)
	case ScopeDecimals:
		err = enc.WriteUint8(f.header.Decimals)
	case ScopeDescription:
		desc := description(f.header.Description)
		if !utf8.ValidString(desc) {
			return nil, fmt.Errorf("description is not valid utf8; %w", ErrInvalidInput)
		}
		err = writeString(enc, desc)
	case ScopeRoundData:
		t, ok := f.ledger.Fetch(scope.RoundID)
		if !ok {
			return nil, fmt.Errorf("round %d; %w", scope.RoundID, ErrNotFound)
		}
		err = newRound(scope.RoundID, t).MarshalWithEncoder(enc)
	case ScopeLatestRoundData:
		r, ok := f.latestRound()
		if !ok {
			return nil, fmt.Errorf("latest round; %w", ErrNotFound)
		}
		err = r.MarshalWithEncoder(enc)
	case ScopeAggregator:
		err = enc.WriteBytes(f.header.Writer[:], false)
	default:
		return nil, fmt.Errorf("unknown scope %s; %w", scope.Kind, ErrInvalidInput)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s response; %w", scope.Kind, err)
	}
	return buf.Bytes(), nil
}

func writeString(enc *bin.Encoder, s string) error {
	if err := enc.WriteUint32(uint32(len(s)), binary.LittleEndian); err != nil {
		return err
	}
	return enc.WriteBytes([]byte(s), false)
}

func DecodeRound(b []byte) (r Round, err error) {
	err = r.UnmarshalWithDecoder(bin.NewBorshDecoder(b))
	return
}

// DecodeUint8 decodes Version and Decimals responses.
func DecodeUint8(b []byte) (uint8, error) {
	if len(b) != 1 {
		return 0, fmt.Errorf("expected 1 byte, got %d; %w", len(b), ErrInvalidInput)
	}
	return b[0], nil
}

func DecodeDescription(b []byte) (string, error) {
	dec := bin.NewBorshDecoder(b)
	n, err := dec.ReadUint32(binary.LittleEndian)
	if err != nil {
		return "", err
	}
	if n > DescriptionLen {
		return "", fmt.Errorf("description length %d exceeds %d; %w", n, DescriptionLen, ErrInvalidInput)
	}
	raw, err := dec.ReadNBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func DecodeAggregator(b []byte) (solana.PublicKey, error) {
	if len(b) != solana.PublicKeyLength {
		return solana.PublicKey{}, fmt.Errorf("expected %d bytes, got %d; %w", solana.PublicKeyLength, len(b), ErrInvalidInput)
	}
	return solana.PublicKeyFromBytes(b), nil
}

// EncodeScope returns the Borsh encoding of s.
func EncodeScope(s Scope) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := s.MarshalWithEncoder(bin.NewBorshEncoder(buf)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeScope(b []byte) (s Scope, err error) {
	err = s.UnmarshalWithDecoder(bin.NewBorshDecoder(b))
	return
}
