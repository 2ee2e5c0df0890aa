package ocr2

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/smartcontractkit/libocr/bigbigendian"
	ocr2types "github.com/smartcontractkit/libocr/offchainreporting2plus/types"
)

const medianLen = 16

// ReportContext binds a report to a config and an (epoch, round).
//
//	32 byte config digest
//	27 byte padding
//	 4 byte big endian epoch
//	 1 byte round
//	32 byte extra hash
type ReportContext struct {
	ConfigDigest ocr2types.ConfigDigest
	Epoch        uint32
	Round        uint8
	ExtraHash    [32]byte
}

func DecodeReportContext(b []byte) (ReportContext, error) {
	if len(b) != ReportContextLen {
		return ReportContext{}, fmt.Errorf("report context is %d bytes, expected %d; %w", len(b), ReportContextLen, ErrInvalidInput)
	}
	var rc ReportContext
	copy(rc.ConfigDigest[:], b[:32])
	rc.Epoch = binary.BigEndian.Uint32(b[59:63])
	rc.Round = b[63]
	copy(rc.ExtraHash[:], b[64:])
	return rc, nil
}

func (rc ReportContext) Encode() []byte {
	b := make([]byte, ReportContextLen)
	copy(b[:32], rc.ConfigDigest[:])
	binary.BigEndian.PutUint32(b[59:63], rc.Epoch)
	b[63] = rc.Round
	copy(b[64:], rc.ExtraHash[:])
	return b
}

// Less orders contexts by (epoch, round).
func (rc ReportContext) Less(other ReportContext) bool {
	if rc.Epoch != other.Epoch {
		return rc.Epoch < other.Epoch
	}
	return rc.Round < other.Round
}

// Report is the median report signed by the oracles.
//
//	 4 byte observations timestamp
//	 1 byte observer count
//	32 byte observer indices, the first MaxOracles are used
//	16 byte int128 median
//	 8 byte juels per lamport
type Report struct {
	ObservationsTimestamp uint32
	ObserverCount         uint8
	Observers             [MaxOracles]uint8
	Median                *big.Int
	JuelsPerLamport       uint64
}

func DecodeReport(b []byte) (Report, error) {
	if len(b) != ReportLen {
		return Report{}, fmt.Errorf("report is %d bytes, expected %d; %w", len(b), ReportLen, ErrInvalidInput)
	}
	var r Report
	r.ObservationsTimestamp = binary.BigEndian.Uint32(b[0:4])
	r.ObserverCount = b[4]
	copy(r.Observers[:], b[5:5+MaxOracles])
	median, err := bigbigendian.DeserializeSigned(medianLen, b[37:53])
	if err != nil {
		return Report{}, fmt.Errorf("failed to decode median; %w", err)
	}
	r.Median = median
	r.JuelsPerLamport = binary.BigEndian.Uint64(b[53:61])
	return r, nil
}

func (r Report) Encode() ([]byte, error) {
	if r.Median == nil {
		return nil, fmt.Errorf("median is nil; %w", ErrInvalidInput)
	}
	median, err := bigbigendian.SerializeSigned(medianLen, r.Median)
	if err != nil {
		return nil, fmt.Errorf("median %s does not fit in int128; %w", r.Median, err)
	}
	b := make([]byte, ReportLen)
	binary.BigEndian.PutUint32(b[0:4], r.ObservationsTimestamp)
	b[4] = r.ObserverCount
	copy(b[5:5+MaxOracles], r.Observers[:])
	copy(b[37:53], median)
	binary.BigEndian.PutUint64(b[53:61], r.JuelsPerLamport)
	return b, nil
}

// ReportHash is the message the oracles sign:
// sha256(len(report) || report || report context).
func ReportHash(rawReport, rawContext []byte) [32]byte {
	h := sha256.New()
	h.Write([]byte{uint8(len(rawReport))})
	h.Write(rawReport)
	h.Write(rawContext)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Transmission is a split transmit payload.
type Transmission struct {
	// StoreNonce is the bump seed of the store authority address.
	StoreNonce    uint8
	RawContext    []byte
	RawReport     []byte
	RawSignatures []byte
}

// ParseTransmission splits data into its parts without interpreting them.
// The signature block has to be non-empty.
func ParseTransmission(data []byte) (Transmission, error) {
	if len(data) == 0 {
		return Transmission{}, fmt.Errorf("empty transmission; %w", ErrInvalidInput)
	}
	nonce, payload := data[0], data[1:]
	if len(payload) <= ReportContextLen+ReportLen {
		return Transmission{}, fmt.Errorf("transmission payload is %d bytes, need more than %d; %w",
			len(payload), ReportContextLen+ReportLen, ErrInvalidInput)
	}
	return Transmission{
		StoreNonce:    nonce,
		RawContext:    payload[:ReportContextLen],
		RawReport:     payload[ReportContextLen : ReportContextLen+ReportLen],
		RawSignatures: payload[ReportContextLen+ReportLen:],
	}, nil
}

// Encode is the inverse of ParseTransmission.
func (t Transmission) Encode() []byte {
	b := make([]byte, 0, 1+len(t.RawContext)+len(t.RawReport)+len(t.RawSignatures))
	b = append(b, t.StoreNonce)
	b = append(b, t.RawContext...)
	b = append(b, t.RawReport...)
	return append(b, t.RawSignatures...)
}
