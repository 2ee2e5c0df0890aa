package ocr2

import (
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"

	"github.com/smartcontractkit/chainlink-solana-feeds/accesscontroller"
)

func Test_Initialize(t *testing.T) {
	e := newTestEnv(t)

	t.Run("initial state", func(t *testing.T) {
		cfg := e.agg.Config()
		assert.Equal(t, e.owner, cfg.Owner)
		assert.Equal(t, e.mint, cfg.TokenMint)
		assert.Equal(t, e.vault, cfg.TokenVault)
		assert.Zero(t, cfg.ConfigCount)
		assert.Empty(t, e.agg.Oracles())
		assert.Equal(t, LatestConfig{}, e.agg.LatestConfigDetails())
	})

	opts := Opts{Logger: logger.Test(t), ProgramID: e.programID, Address: e.keys.next(t), Tokens: e.tok, Feed: e.feed}
	params := Params{MinAnswer: e.agg.Config().MinAnswer, MaxAnswer: e.agg.Config().MaxAnswer, TokenMint: e.mint, TokenVault: e.vault}

	t.Run("missing options", func(t *testing.T) {
		_, err := Initialize(e.ctx, Opts{}, e.owner, params)
		require.ErrorIs(t, err, ErrInvalidInput)
		assert.Contains(t, err.Error(), "feed is required")
	})

	t.Run("vault must belong to the aggregator", func(t *testing.T) {
		// e.vault is owned by the vault authority of a different aggregator address
		_, err := Initialize(e.ctx, opts, e.owner, params)
		require.ErrorIs(t, err, ErrInvalidTokenAccount)
	})

	t.Run("params", func(t *testing.T) {
		var p Params
		err := p.Decode(strings.NewReader(`{"minAnswer": -10, "maxAnswer": 10, "tokenMint": "` +
			e.mint.String() + `", "tokenVault": "` + e.vault.String() + `"}`))
		require.NoError(t, err)
		assert.Equal(t, int64(-10), p.MinAnswer.Int64())
		assert.Equal(t, e.vault, p.TokenVault)

		p = Params{}
		err = p.Decode(strings.NewReader(`{"minAnswer": 10, "maxAnswer": -10, "tokenMint": "` + e.mint.String() + `"}`))
		require.ErrorIs(t, err, ErrInvalidInput)
		assert.Contains(t, err.Error(), "exceeds maxAnswer")
		assert.Contains(t, err.Error(), "tokenVault is required")

		p = Params{}
		err = p.Decode(strings.NewReader(`{"minAnswer": 1, "maxAnswer": 170141183460469231731687303715884105728}`))
		require.ErrorIs(t, err, ErrInvalidInput)

		err = p.Decode(strings.NewReader(`{"bogus": 1}`))
		require.Error(t, err)
	})
}

func Test_Ownership(t *testing.T) {
	e := newTestEnv(t)
	next := e.keys.next(t)

	require.ErrorIs(t, e.agg.TransferOwnership(next, next), ErrUnauthorized)
	require.ErrorIs(t, e.agg.TransferOwnership(e.owner, solana.PublicKey{}), ErrInvalidInput)
	require.NoError(t, e.agg.TransferOwnership(e.owner, next))
	require.ErrorIs(t, e.agg.AcceptOwnership(e.owner), ErrUnauthorized)
	require.NoError(t, e.agg.AcceptOwnership(next))

	cfg := e.agg.Config()
	assert.Equal(t, next, cfg.Owner)
	assert.True(t, cfg.ProposedOwner.IsZero())
	require.ErrorIs(t, e.agg.SetBilling(e.ctx, e.owner, 1, 1), ErrUnauthorized)
	require.NoError(t, e.agg.SetBilling(e.ctx, next, 1, 1))
}

func Test_RequestNewRound(t *testing.T) {
	e := newTestEnv(t)
	e.configure(t, 4, 1)
	requester := e.keys.next(t)

	require.ErrorIs(t, e.agg.RequestNewRound(e.ctx, requester), ErrUnauthorized)

	ac := accesscontroller.New(e.owner)
	require.NoError(t, ac.AddAccess(e.owner, requester))
	require.ErrorIs(t, e.agg.SetRequesterAccessController(requester, ac), ErrUnauthorized)
	require.NoError(t, e.agg.SetRequesterAccessController(e.owner, ac))

	require.NoError(t, e.agg.Transmit(e.ctx, e.oracles[0].transmitter, e.transmission(t, reportArgs{epoch: 3, round: 2, median: 1})))
	require.NoError(t, e.agg.RequestNewRound(e.ctx, requester))
	events := e.sink.named("RoundRequested")
	require.Len(t, events, 1)
	assert.Equal(t, RoundRequested{
		Requester:    requester,
		ConfigDigest: e.agg.Config().LatestConfigDigest,
		Round:        2,
		Epoch:        3,
	}, events[0])

	require.NoError(t, e.agg.SetBillingAccessController(e.owner, nil))
	require.ErrorIs(t, e.agg.SetBilling(e.ctx, e.billingAdmin, 1, 1), ErrUnauthorized)
}

func Test_SetConfig(t *testing.T) {
	e := newTestEnv(t)
	oracles := e.newOracles(t, MaxOracles+1)

	for _, tc := range []struct {
		name string
		set  []NewOracle
		f    uint8
		err  error
	}{
		{"f is zero", newOracleSet(oracles[:4]), 0, ErrInvalidInput},
		{"too many oracles", newOracleSet(oracles), 1, ErrTooManyOracles},
		{"3f >= n", newOracleSet(oracles[:3]), 1, ErrInvalidInput},
		{"duplicate signer", func() []NewOracle {
			s := newOracleSet(oracles[:4])
			s[3].Signer = s[0].Signer
			return s
		}(), 1, ErrDuplicateSigner},
		{"duplicate transmitter", func() []NewOracle {
			s := newOracleSet(oracles[:4])
			s[3].Transmitter = s[2].Transmitter
			return s
		}(), 1, ErrDuplicateTransmitter},
	} {
		t.Run(tc.name, func(t *testing.T) {
			require.ErrorIs(t, e.agg.SetConfig(e.ctx, e.owner, tc.set, tc.f), tc.err)
			assert.Zero(t, e.agg.Config().ConfigCount)
		})
	}

	t.Run("largest oracle set", func(t *testing.T) {
		e.slot = 77
		require.ErrorIs(t, e.agg.SetConfig(e.ctx, e.keys.next(t), newOracleSet(oracles[:MaxOracles]), 6), ErrUnauthorized)
		require.NoError(t, e.agg.SetConfig(e.ctx, e.owner, newOracleSet(oracles[:MaxOracles]), 6))

		details := e.agg.LatestConfigDetails()
		assert.Equal(t, uint32(1), details.ConfigCount)
		assert.Equal(t, uint64(77), details.BlockNumber)
		assert.Equal(t, []byte{0x00, 0x03}, details.ConfigDigest[:2])

		got := e.agg.Oracles()
		require.Len(t, got, MaxOracles)
		for i := 1; i < len(got); i++ {
			assert.Negative(t, compareSigningKeys(got[i-1].Signer, got[i].Signer))
		}

		events := e.sink.named("SetConfig")
		require.Len(t, events, 1)
		ev := events[0].(SetConfig)
		assert.Equal(t, details.ConfigDigest, ev.ConfigDigest)
		assert.Equal(t, uint8(6), ev.F)
		assert.Len(t, ev.Signers, MaxOracles)
	})
}

func Test_OffchainConfig(t *testing.T) {
	e := newTestEnv(t)
	e.configure(t, 4, 1)
	stranger := e.keys.next(t)

	t.Run("staging", func(t *testing.T) {
		require.ErrorIs(t, e.agg.WriteOffchainConfig(e.owner, []byte{1}), ErrInvalidInput)
		require.ErrorIs(t, e.agg.CommitOffchainConfig(e.ctx, e.owner), ErrInvalidInput)
		require.ErrorIs(t, e.agg.ResetPendingOffchainConfig(e.owner), ErrInvalidInput)
		require.ErrorIs(t, e.agg.BeginOffchainConfig(e.owner, 0), ErrInvalidInput)
		require.ErrorIs(t, e.agg.BeginOffchainConfig(stranger, 1), ErrUnauthorized)

		require.NoError(t, e.agg.BeginOffchainConfig(e.owner, 1))
		require.ErrorIs(t, e.agg.BeginOffchainConfig(e.owner, 2), ErrInvalidInput)
		require.ErrorIs(t, e.agg.CommitOffchainConfig(e.ctx, e.owner), ErrInvalidInput)

		require.NoError(t, e.agg.WriteOffchainConfig(e.owner, make([]byte, MaxOffchainConfigLen-2)))
		// writes must leave at least one byte of capacity
		require.ErrorIs(t, e.agg.WriteOffchainConfig(e.owner, make([]byte, 2)), ErrInvalidInput)
		require.NoError(t, e.agg.WriteOffchainConfig(e.owner, []byte{7}))
		assert.Equal(t, MaxOffchainConfigLen-1, e.agg.PendingOffchainConfig().Len())

		require.NoError(t, e.agg.ResetPendingOffchainConfig(e.owner))
		assert.Equal(t, OffchainConfig{}, e.agg.PendingOffchainConfig())
	})

	t.Run("commit keeps epoch and round", func(t *testing.T) {
		require.NoError(t, e.agg.Transmit(e.ctx, e.oracles[0].transmitter, e.transmission(t, reportArgs{epoch: 4, round: 1, median: 1})))
		before := e.agg.Config()

		require.NoError(t, e.agg.BeginOffchainConfig(e.owner, 3))
		require.NoError(t, e.agg.WriteOffchainConfig(e.owner, []byte("abc")))
		require.NoError(t, e.agg.WriteOffchainConfig(e.owner, []byte("def")))
		require.NoError(t, e.agg.CommitOffchainConfig(e.ctx, e.owner))

		assert.Equal(t, OffchainConfig{Version: 3, Data: []byte("abcdef")}, e.agg.OffchainConfig())
		assert.True(t, e.agg.PendingOffchainConfig().IsEmpty())
		assert.Zero(t, e.agg.PendingOffchainConfig().Version)

		cfg := e.agg.Config()
		assert.Equal(t, before.ConfigCount+1, cfg.ConfigCount)
		assert.NotEqual(t, before.LatestConfigDigest, cfg.LatestConfigDigest)
		assert.Equal(t, uint32(4), cfg.Epoch)
		assert.Equal(t, uint8(1), cfg.Round)
	})
}
