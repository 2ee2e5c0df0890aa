package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"
	"slices"

	bin "github.com/gagliardetto/binary"
	"github.com/smartcontractkit/libocr/bigbigendian"
)

// TransmissionSize is the stride of a single record in the live and
// historical rings.
//
// Layout (little endian):
//
//	slot      u64
//	timestamp u32
//	_padding  u32
//	answer    i128
//	_padding  u64
//	_padding  u64
const TransmissionSize = 48

const answerSize = 16

var (
	// MaxAnswer and MinAnswer bound every answer to the int128 range.
	MaxAnswer = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	MinAnswer = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

// Transmission is one committed round.
type Transmission struct {
	Slot      uint64
	Timestamp uint32
	Answer    *big.Int
}

// NewTransmission is what a writer submits; the slot is assigned by the feed.
type NewTransmission struct {
	Timestamp uint64
	Answer    *big.Int
}

// EncodeInt128 returns the little endian two's complement encoding of x.
func EncodeInt128(x *big.Int) ([]byte, error) {
	if x == nil {
		x = new(big.Int)
	}
	be, err := bigbigendian.SerializeSigned(answerSize, x)
	if err != nil {
		return nil, fmt.Errorf("answer %s does not fit in int128; %w", x, err)
	}
	slices.Reverse(be)
	return be, nil
}

// DecodeInt128 is the inverse of EncodeInt128.
func DecodeInt128(le []byte) (*big.Int, error) {
	if len(le) != answerSize {
		return nil, fmt.Errorf("expected %d bytes for int128, got %d", answerSize, len(le))
	}
	be := slices.Clone(le)
	slices.Reverse(be)
	return bigbigendian.DeserializeSigned(answerSize, be)
}

func (t Transmission) MarshalWithEncoder(enc *bin.Encoder) error {
	answer, err := EncodeInt128(t.Answer)
	if err != nil {
		return err
	}
	if err = enc.WriteUint64(t.Slot, binary.LittleEndian); err != nil {
		return err
	}
	if err = enc.WriteUint32(t.Timestamp, binary.LittleEndian); err != nil {
		return err
	}
	if err = enc.WriteBytes(make([]byte, 4), false); err != nil {
		return err
	}
	if err = enc.WriteBytes(answer, false); err != nil {
		return err
	}
	return enc.WriteBytes(make([]byte, 8+8), false)
}

func (t *Transmission) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	if t.Slot, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return err
	}
	if t.Timestamp, err = dec.ReadUint32(binary.LittleEndian); err != nil {
		return err
	}
	if _, err = dec.ReadNBytes(4); err != nil {
		return err
	}
	answer, err := dec.ReadNBytes(answerSize)
	if err != nil {
		return err
	}
	if t.Answer, err = DecodeInt128(answer); err != nil {
		return err
	}
	_, err = dec.ReadNBytes(8 + 8)
	return err
}

// putTransmission writes t into dst, which must be exactly one record wide.
func putTransmission(dst []byte, t Transmission) error {
	if len(dst) != TransmissionSize {
		return fmt.Errorf("record slot is %d bytes, expected %d", len(dst), TransmissionSize)
	}
	buf := bytes.NewBuffer(make([]byte, 0, TransmissionSize))
	if err := t.MarshalWithEncoder(bin.NewBorshEncoder(buf)); err != nil {
		return fmt.Errorf("failed to encode transmission; %w", err)
	}
	if buf.Len() != TransmissionSize {
		return fmt.Errorf("encoded transmission is %d bytes, expected %d", buf.Len(), TransmissionSize)
	}
	copy(dst, buf.Bytes())
	return nil
}

func getTransmission(src []byte) (t Transmission, err error) {
	if len(src) != TransmissionSize {
		return t, fmt.Errorf("record slot is %d bytes, expected %d", len(src), TransmissionSize)
	}
	if err = t.UnmarshalWithDecoder(bin.NewBorshDecoder(src)); err != nil {
		return t, fmt.Errorf("failed to decode transmission; %w", err)
	}
	return t, nil
}
