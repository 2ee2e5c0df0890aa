package ocr2

import (
	"fmt"
	"math/big"

	"github.com/smartcontractkit/libocr/bigbigendian"

	"github.com/smartcontractkit/chainlink-solana-feeds/store"
)

const onchainConfigVersion = 1

// int192 words, as expected by the median plugin
const onchainConfigWordLen = 24

const onchainConfigEncodedLength = 1 + 2*onchainConfigWordLen

// OnchainConfig carries the answer bounds into the config digest.
type OnchainConfig struct {
	Version uint8
	Min     *big.Int
	Max     *big.Int
}

// OnchainConfigCodec encodes OnchainConfig as
// <version><min><max>
// where version is a uint8 and min and max are big endian int192 values,
// sign extended from the int128 answer range.
type OnchainConfigCodec struct{}

func (OnchainConfigCodec) Encode(c OnchainConfig) ([]byte, error) {
	if c.Version != onchainConfigVersion {
		return nil, fmt.Errorf("unexpected version of OnchainConfig, expected %v, got %v", onchainConfigVersion, c.Version)
	}
	if err := checkAnswerRange(c.Min); err != nil {
		return nil, fmt.Errorf("invalid min; %w", err)
	}
	if err := checkAnswerRange(c.Max); err != nil {
		return nil, fmt.Errorf("invalid max; %w", err)
	}
	minBytes, err := bigbigendian.SerializeSigned(onchainConfigWordLen, c.Min)
	if err != nil {
		return nil, err
	}
	maxBytes, err := bigbigendian.SerializeSigned(onchainConfigWordLen, c.Max)
	if err != nil {
		return nil, err
	}
	result := make([]byte, 0, onchainConfigEncodedLength)
	result = append(result, c.Version)
	result = append(result, minBytes...)
	result = append(result, maxBytes...)
	return result, nil
}

func (OnchainConfigCodec) Decode(b []byte) (OnchainConfig, error) {
	if len(b) != onchainConfigEncodedLength {
		return OnchainConfig{}, fmt.Errorf("unexpected length of OnchainConfig, expected %v, got %v", onchainConfigEncodedLength, len(b))
	}
	if b[0] != onchainConfigVersion {
		return OnchainConfig{}, fmt.Errorf("unexpected version of OnchainConfig, expected %v, got %v", onchainConfigVersion, b[0])
	}
	minAnswer, err := bigbigendian.DeserializeSigned(onchainConfigWordLen, b[1:1+onchainConfigWordLen])
	if err != nil {
		return OnchainConfig{}, err
	}
	maxAnswer, err := bigbigendian.DeserializeSigned(onchainConfigWordLen, b[1+onchainConfigWordLen:])
	if err != nil {
		return OnchainConfig{}, err
	}
	if err = checkAnswerRange(minAnswer); err != nil {
		return OnchainConfig{}, fmt.Errorf("invalid min; %w", err)
	}
	if err = checkAnswerRange(maxAnswer); err != nil {
		return OnchainConfig{}, fmt.Errorf("invalid max; %w", err)
	}
	return OnchainConfig{Version: b[0], Min: minAnswer, Max: maxAnswer}, nil
}

func checkAnswerRange(x *big.Int) error {
	if x == nil {
		return fmt.Errorf("answer bound is nil; %w", ErrInvalidInput)
	}
	if x.Cmp(store.MinAnswer) < 0 || x.Cmp(store.MaxAnswer) > 0 {
		return fmt.Errorf("%s does not fit in int128; %w", x, ErrInvalidInput)
	}
	return nil
}
