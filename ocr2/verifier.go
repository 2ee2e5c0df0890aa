package ocr2

import (
	"fmt"
	"math/big"
	"math/bits"
	"slices"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"
	ocr2types "github.com/smartcontractkit/libocr/offchainreporting2plus/types"
)

// verifiedReport is a transmission that passed every check in verify.
type verifiedReport struct {
	Transmission
	Context        ReportContext
	Report         Report
	OracleIndex    int
	SignatureCount int
}

// configSnapshot is the state a transmission is verified against.
type configSnapshot struct {
	Epoch        uint32
	Round        uint8
	F            uint8
	ConfigDigest ocr2types.ConfigDigest
	MinAnswer    *big.Int
	MaxAnswer    *big.Int
	Oracles      []Oracle
}

// verify decodes data and checks it against snap. The checks run in a fixed
// order and the first failure is returned.
func verify(snap configSnapshot, transmitter solana.PublicKey, data []byte) (verifiedReport, error) {
	t, err := ParseTransmission(data)
	if err != nil {
		return verifiedReport{}, err
	}
	rc, err := DecodeReportContext(t.RawContext)
	if err != nil {
		return verifiedReport{}, err
	}

	stored := ReportContext{Epoch: snap.Epoch, Round: snap.Round}
	if !stored.Less(rc) {
		return verifiedReport{}, fmt.Errorf("report (%d, %d) is not newer than (%d, %d); %w",
			rc.Epoch, rc.Round, snap.Epoch, snap.Round, ErrStaleReport)
	}

	oracleIdx := slices.IndexFunc(snap.Oracles, func(o Oracle) bool { return o.Transmitter.Equals(transmitter) })
	if oracleIdx < 0 {
		return verifiedReport{}, fmt.Errorf("transmitter %s is not an oracle; %w", transmitter, ErrUnauthorized)
	}

	if rc.ConfigDigest != snap.ConfigDigest {
		return verifiedReport{}, fmt.Errorf("report digest %s, config digest %s; %w", rc.ConfigDigest, snap.ConfigDigest, ErrDigestMismatch)
	}

	if len(t.RawSignatures)%SignatureLen != 0 {
		return verifiedReport{}, fmt.Errorf("signature block of %d bytes is not a multiple of %d; %w", len(t.RawSignatures), SignatureLen, ErrInvalidInput)
	}
	signatureCount := len(t.RawSignatures) / SignatureLen
	if signatureCount != int(snap.F)+1 {
		return verifiedReport{}, fmt.Errorf("got %d signatures, expected %d; %w", signatureCount, int(snap.F)+1, ErrWrongNumberOfSignatures)
	}

	hash := ReportHash(t.RawReport, t.RawContext)
	var uniques uint32
	for i := 0; i < signatureCount; i++ {
		sig := t.RawSignatures[i*SignatureLen : (i+1)*SignatureLen]
		signer, err := recoverSigner(hash, sig)
		if err != nil {
			return verifiedReport{}, fmt.Errorf("signature %d; %w", i, err)
		}
		idx, found := slices.BinarySearchFunc(snap.Oracles, signer, func(o Oracle, k SigningKey) int {
			return compareSigningKeys(o.Signer, k)
		})
		if !found {
			return verifiedReport{}, fmt.Errorf("signature %d by %s; %w", i, signer.Address(), ErrUnauthorizedSigner)
		}
		uniques |= 1 << idx
	}
	if bits.OnesCount32(uniques) != signatureCount {
		return verifiedReport{}, fmt.Errorf("%d signatures from %d signers; %w", signatureCount, bits.OnesCount32(uniques), ErrDuplicateSigner)
	}

	report, err := DecodeReport(t.RawReport)
	if err != nil {
		return verifiedReport{}, err
	}
	if snap.F >= report.ObserverCount {
		return verifiedReport{}, fmt.Errorf("observer count %d must exceed f=%d; %w", report.ObserverCount, snap.F, ErrInvalidInput)
	}
	if report.Median.Cmp(snap.MinAnswer) < 0 || report.Median.Cmp(snap.MaxAnswer) > 0 {
		return verifiedReport{}, fmt.Errorf("median %s outside [%s, %s]; %w", report.Median, snap.MinAnswer, snap.MaxAnswer, ErrMedianOutOfRange)
	}

	return verifiedReport{
		Transmission:   t,
		Context:        rc,
		Report:         report,
		OracleIndex:    oracleIdx,
		SignatureCount: signatureCount,
	}, nil
}

// recoverSigner returns the address of the key that produced sig, a 64 byte
// signature followed by a recovery id.
func recoverSigner(hash [32]byte, sig []byte) (SigningKey, error) {
	if sig[SignatureLen-1] > 3 {
		return SigningKey{}, fmt.Errorf("recovery id %d; %w", sig[SignatureLen-1], ErrInvalidInput)
	}
	pub, err := crypto.Ecrecover(hash[:], sig)
	if err != nil {
		return SigningKey{}, fmt.Errorf("failed to recover signer: %v; %w", err, ErrUnauthorized)
	}
	var key SigningKey
	copy(key[:], crypto.Keccak256(pub[1:])[12:])
	return key, nil
}
