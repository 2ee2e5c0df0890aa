package ocr2

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
	ocr2types "github.com/smartcontractkit/libocr/offchainreporting2plus/types"
)

// DigestInput is everything a config digest commits to.
type DigestInput struct {
	ProgramID     solana.PublicKey
	Aggregator    solana.PublicKey
	ConfigCount   uint32
	Oracles       []Oracle
	F             uint8
	OnchainConfig []byte
	Offchain      OffchainConfig
}

// ConfigDigest hashes the input in a fixed field order and tags the result
// with ConfigDigestPrefix.
func ConfigDigest(in DigestInput) ocr2types.ConfigDigest {
	h := sha256.New()
	h.Write(in.ProgramID[:])
	h.Write(in.Aggregator[:])
	h.Write(binary.BigEndian.AppendUint32(nil, in.ConfigCount))
	h.Write([]byte{uint8(len(in.Oracles))})
	for _, o := range in.Oracles {
		h.Write(o.Signer[:])
	}
	for _, o := range in.Oracles {
		h.Write(o.Transmitter[:])
	}
	h.Write([]byte{in.F})
	h.Write(binary.BigEndian.AppendUint32(nil, uint32(len(in.OnchainConfig))))
	h.Write(in.OnchainConfig)
	h.Write(binary.BigEndian.AppendUint64(nil, in.Offchain.Version))
	h.Write(binary.BigEndian.AppendUint32(nil, uint32(len(in.Offchain.Data))))
	h.Write(in.Offchain.Data)

	var digest ocr2types.ConfigDigest
	copy(digest[:], h.Sum(nil))
	binary.BigEndian.PutUint16(digest[:2], uint16(ConfigDigestPrefix))
	return digest
}
