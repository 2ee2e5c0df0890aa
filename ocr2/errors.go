package ocr2

import (
	"errors"

	"github.com/smartcontractkit/chainlink-solana-feeds/pkg/ownership"
)

var (
	ErrUnauthorized            = ownership.ErrUnauthorized
	ErrInvalidInput            = ownership.ErrInvalidInput
	ErrTooManyOracles          = errors.New("too many oracles")
	ErrStaleReport             = errors.New("stale report")
	ErrDigestMismatch          = errors.New("digest mismatch")
	ErrWrongNumberOfSignatures = errors.New("wrong number of signatures")
	ErrOverflow                = errors.New("overflow")
	ErrMedianOutOfRange        = errors.New("median out of range")
	ErrDuplicateSigner         = errors.New("duplicate signer")
	ErrDuplicateTransmitter    = errors.New("duplicate transmitter")
	ErrPayeeAlreadySet         = errors.New("payee already set")
	ErrPaymentsRemaining       = errors.New("leftover payments remaining, pay remaining first")
	ErrPayeeOracleMismatch     = errors.New("payee and oracle length mismatch")
	ErrInvalidTokenAccount     = errors.New("invalid token account")
	ErrUnauthorizedSigner      = errors.New("oracle signer key not found")
	ErrInsufficientFunds       = errors.New("insufficient funds in token vault")
	ErrClosed                  = errors.New("aggregator is closed")
)

// errorCodes maps errors to short labels for metrics.
var errorCodes = []struct {
	err  error
	code string
}{
	{ErrStaleReport, "stale_report"},
	{ErrDigestMismatch, "digest_mismatch"},
	{ErrWrongNumberOfSignatures, "wrong_number_of_signatures"},
	{ErrDuplicateSigner, "duplicate_signer"},
	{ErrUnauthorizedSigner, "unauthorized_signer"},
	{ErrMedianOutOfRange, "median_out_of_range"},
	{ErrOverflow, "overflow"},
	{ErrUnauthorized, "unauthorized"},
	{ErrInvalidInput, "invalid_input"},
	{ErrClosed, "closed"},
}

func errorCode(err error) string {
	if err == nil {
		return "success"
	}
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "other"
}
