package store

import (
	"errors"

	"github.com/smartcontractkit/chainlink-solana-feeds/pkg/ownership"
)

var (
	ErrUnauthorized     = ownership.ErrUnauthorized
	ErrInvalidInput     = ownership.ErrInvalidInput
	ErrNotFound         = errors.New("not found")
	ErrInvalidVersion   = errors.New("invalid version")
	ErrInsufficientSize = errors.New("insufficient or invalid feed account size")
	ErrClosed           = errors.New("feed is closed")
)
