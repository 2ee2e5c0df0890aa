package store

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

const (
	// FeedVersion is the only account layout this package reads and writes.
	FeedVersion = 2

	DescriptionLen = 32

	discriminatorLen = 8
	headerLen        = 192

	// HeaderSize is the number of account bytes in front of the rings.
	HeaderSize = discriminatorLen + headerLen
)

var feedDiscriminator = func() [discriminatorLen]byte {
	sum := sha256.Sum256([]byte("account:Transmissions"))
	var d [discriminatorLen]byte
	copy(d[:], sum[:discriminatorLen])
	return d
}()

// AccountSize is the account length needed for a feed holding n records
// across both rings.
func AccountSize(n uint32) int {
	return HeaderSize + int(n)*TransmissionSize
}

// feedHeader is the fixed header stored in front of the rings.
type feedHeader struct {
	Version           uint8
	State             FeedState
	Owner             solana.PublicKey
	ProposedOwner     solana.PublicKey
	Writer            solana.PublicKey
	Description       [DescriptionLen]byte
	Decimals          uint8
	FlaggingThreshold uint32
	Ledger            LedgerHeader
}

func (h feedHeader) MarshalWithEncoder(enc *bin.Encoder) error {
	le := binary.LittleEndian
	for _, step := range []func() error{
		func() error { return enc.WriteUint8(h.Version) },
		func() error { return enc.WriteUint8(uint8(h.State)) },
		func() error { return enc.WriteBytes(h.Owner[:], false) },
		func() error { return enc.WriteBytes(h.ProposedOwner[:], false) },
		func() error { return enc.WriteBytes(h.Writer[:], false) },
		func() error { return enc.WriteBytes(h.Description[:], false) },
		func() error { return enc.WriteUint8(h.Decimals) },
		func() error { return enc.WriteUint32(h.FlaggingThreshold, le) },
		func() error { return enc.WriteUint32(h.Ledger.LatestRoundID, le) },
		func() error { return enc.WriteUint8(h.Ledger.Granularity) },
		func() error { return enc.WriteUint32(h.Ledger.LiveLength, le) },
		func() error { return enc.WriteUint32(h.Ledger.LiveCursor, le) },
		func() error { return enc.WriteUint32(h.Ledger.HistoricalCursor, le) },
	} {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

func (h *feedHeader) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	le := binary.LittleEndian
	readKey := func(dst *solana.PublicKey) error {
		b, err := dec.ReadNBytes(solana.PublicKeyLength)
		if err != nil {
			return err
		}
		*dst = solana.PublicKeyFromBytes(b)
		return nil
	}
	var state uint8
	if h.Version, err = dec.ReadUint8(); err != nil {
		return err
	}
	if state, err = dec.ReadUint8(); err != nil {
		return err
	}
	h.State = FeedState(state)
	if err = readKey(&h.Owner); err != nil {
		return err
	}
	if err = readKey(&h.ProposedOwner); err != nil {
		return err
	}
	if err = readKey(&h.Writer); err != nil {
		return err
	}
	description, err := dec.ReadNBytes(DescriptionLen)
	if err != nil {
		return err
	}
	copy(h.Description[:], description)
	if h.Decimals, err = dec.ReadUint8(); err != nil {
		return err
	}
	if h.FlaggingThreshold, err = dec.ReadUint32(le); err != nil {
		return err
	}
	if h.Ledger.LatestRoundID, err = dec.ReadUint32(le); err != nil {
		return err
	}
	if h.Ledger.Granularity, err = dec.ReadUint8(); err != nil {
		return err
	}
	if h.Ledger.LiveLength, err = dec.ReadUint32(le); err != nil {
		return err
	}
	if h.Ledger.LiveCursor, err = dec.ReadUint32(le); err != nil {
		return err
	}
	h.Ledger.HistoricalCursor, err = dec.ReadUint32(le)
	return err
}

func putHeader(account []byte, h feedHeader) error {
	b, err := encodeHeader(h)
	if err != nil {
		return err
	}
	return writeHeader(account, b)
}

func encodeHeader(h feedHeader) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, headerLen))
	if err := h.MarshalWithEncoder(bin.NewBorshEncoder(buf)); err != nil {
		return nil, fmt.Errorf("failed to encode feed header; %w", err)
	}
	if buf.Len() > headerLen {
		return nil, fmt.Errorf("encoded feed header is %d bytes, limit is %d", buf.Len(), headerLen)
	}
	return buf.Bytes(), nil
}

func writeHeader(account []byte, encoded []byte) error {
	if len(account) < HeaderSize {
		return ErrInsufficientSize
	}
	copy(account[:discriminatorLen], feedDiscriminator[:])
	region := account[discriminatorLen:HeaderSize]
	clear(region)
	copy(region, encoded)
	return nil
}

func getHeader(account []byte) (h feedHeader, err error) {
	if len(account) < HeaderSize {
		return h, ErrInsufficientSize
	}
	if !bytes.Equal(account[:discriminatorLen], feedDiscriminator[:]) {
		return h, fmt.Errorf("account is not a feed; %w", ErrInvalidInput)
	}
	if err = h.UnmarshalWithDecoder(bin.NewBorshDecoder(account[discriminatorLen:HeaderSize])); err != nil {
		return h, fmt.Errorf("failed to decode feed header; %w", err)
	}
	if h.Version != FeedVersion {
		return h, fmt.Errorf("feed version %d, expected %d; %w", h.Version, FeedVersion, ErrInvalidVersion)
	}
	return h, nil
}
