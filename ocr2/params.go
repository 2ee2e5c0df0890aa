package ocr2

import (
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/goccy/go-json"
)

// Params are the initialization parameters of an aggregator.
type Params struct {
	MinAnswer  *big.Int         `json:"minAnswer"`
	MaxAnswer  *big.Int         `json:"maxAnswer"`
	TokenMint  solana.PublicKey `json:"tokenMint"`
	TokenVault solana.PublicKey `json:"tokenVault"`
}

func (p *Params) Decode(r io.Reader) error {
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(p); err != nil {
		return fmt.Errorf("failed to decode aggregator params; %w", err)
	}
	return p.Validate()
}

func (p Params) Validate() error {
	var merr error
	if err := checkAnswerRange(p.MinAnswer); err != nil {
		merr = errors.Join(merr, fmt.Errorf("minAnswer: %w", err))
	}
	if err := checkAnswerRange(p.MaxAnswer); err != nil {
		merr = errors.Join(merr, fmt.Errorf("maxAnswer: %w", err))
	}
	if merr == nil && p.MinAnswer.Cmp(p.MaxAnswer) > 0 {
		merr = errors.Join(merr, fmt.Errorf("minAnswer %s exceeds maxAnswer %s", p.MinAnswer, p.MaxAnswer))
	}
	if p.TokenMint.IsZero() {
		merr = errors.Join(merr, errors.New("tokenMint is required"))
	}
	if p.TokenVault.IsZero() {
		merr = errors.Join(merr, errors.New("tokenVault is required"))
	}
	if merr != nil {
		return fmt.Errorf("invalid aggregator params: %w; %w", merr, ErrInvalidInput)
	}
	return nil
}
