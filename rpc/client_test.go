package rpc

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"math/big"
	"net"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/smartcontractkit/chainlink-common/pkg/services/servicetest"
	"github.com/smartcontractkit/chainlink-common/pkg/utils/tests"

	"github.com/smartcontractkit/chainlink-solana-feeds/store"
)

func randomBytes(t *testing.T, n int) (r []byte) {
	r = make([]byte, n)
	_, err := rand.Read(r)
	require.NoError(t, err)
	return
}

func randomKey(t *testing.T) solana.PublicKey {
	return solana.PublicKeyFromBytes(randomBytes(t, solana.PublicKeyLength))
}

type queryEnv struct {
	feed     *store.Feed
	owner    solana.PublicKey
	writer   solana.PublicKey
	registry *store.Registry

	serverPrivKey ed25519.PrivateKey
	clientPrivKey ed25519.PrivateKey
	lis           *bufconn.Listener
	srv           Server
}

func newQueryEnv(t *testing.T) *queryEnv {
	e := &queryEnv{
		owner:         randomKey(t),
		writer:        randomKey(t),
		registry:      store.NewRegistry(),
		serverPrivKey: ed25519.NewKeyFromSeed(randomBytes(t, 32)),
		clientPrivKey: ed25519.NewKeyFromSeed(randomBytes(t, 32)),
		lis:           bufconn.Listen(1 << 20),
	}

	slot := uint64(100)
	params := store.FeedParams{Description: "SOL / USD", Decimals: 9, Granularity: 2, LiveLength: 4, HistoricalLength: 2}
	f, err := store.CreateFeed(store.FeedOpts{
		Logger: logger.Test(t),
		Clock:  store.ClockFunc(func() uint64 { return slot }),
	}, randomKey(t), e.owner, params, make([]byte, params.AccountSize()))
	require.NoError(t, err)
	require.NoError(t, f.SetWriter(e.owner, e.writer))
	require.NoError(t, e.registry.AddFeed(f))
	e.feed = f

	for i, answer := range []int64{150_000_000_000, 151_250_000_000, -5} {
		slot = uint64(100 + i)
		require.NoError(t, f.Submit(tests.Context(t), e.writer, store.NewTransmission{
			Timestamp: uint64(1_700_000_000 + i),
			Answer:    big.NewInt(answer),
		}))
	}

	e.srv, err = NewServer(ServerOpts{
		Logger:               logger.Test(t),
		ServerPrivKey:        e.serverPrivKey,
		AllowedClientPubKeys: []ed25519.PublicKey{e.clientPrivKey.Public().(ed25519.PublicKey)},
		Listener:             e.lis,
		Feeds:                e.registry,
	})
	require.NoError(t, err)
	servicetest.Run(t, e.srv)
	return e
}

func (e *queryEnv) newClient(t *testing.T, signer ed25519.PrivateKey) Client {
	c, err := NewClient(ClientOpts{
		Logger:       logger.Test(t),
		ClientSigner: signer,
		ServerPubKey: e.serverPrivKey.Public().(ed25519.PublicKey),
		ServerURL:    "passthrough:///bufnet",
		Dialer: func(ctx context.Context, _ string) (net.Conn, error) {
			return e.lis.DialContext(ctx)
		},
	})
	require.NoError(t, err)
	return c
}

func Test_Client(t *testing.T) {
	e := newQueryEnv(t)
	feed := e.feed.Address()

	t.Run("errors if not started", func(t *testing.T) {
		c := e.newClient(t, e.clientPrivKey)
		resp, err := c.Query(tests.Context(t), feed, store.Scope{Kind: store.ScopeVersion})
		assert.Nil(t, resp)
		require.EqualError(t, err, "service is Unstarted, not started")
	})

	c := e.newClient(t, e.clientPrivKey)
	servicetest.Run(t, c)
	assert.Equal(t, "passthrough:///bufnet", c.ServerURL())

	t.Run("header scopes", func(t *testing.T) {
		ctx := tests.Context(t)

		version, err := c.Version(ctx, feed)
		require.NoError(t, err)
		assert.Equal(t, uint8(store.FeedVersion), version)

		decimals, err := c.Decimals(ctx, feed)
		require.NoError(t, err)
		assert.Equal(t, uint8(9), decimals)

		desc, err := c.Description(ctx, feed)
		require.NoError(t, err)
		assert.Equal(t, "SOL / USD", desc)

		agg, err := c.Aggregator(ctx, feed)
		require.NoError(t, err)
		assert.Equal(t, e.writer, agg)
	})

	t.Run("rounds", func(t *testing.T) {
		ctx := tests.Context(t)

		latest, err := c.LatestRoundData(ctx, feed)
		require.NoError(t, err)
		assert.Equal(t, uint32(3), latest.RoundID)
		assert.Equal(t, uint64(102), latest.Slot)
		assert.Equal(t, uint32(1_700_000_002), latest.Timestamp)
		assert.Equal(t, "-5", latest.Answer.String())

		first, err := c.RoundData(ctx, feed, 1)
		require.NoError(t, err)
		assert.Equal(t, uint32(1), first.RoundID)
		assert.Equal(t, "150", first.Decimal(decimals(t, c, feed)).String())

		_, err = c.RoundData(ctx, feed, 99)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("raw query matches store", func(t *testing.T) {
		want, err := e.feed.Query(store.RoundDataScope(2))
		require.NoError(t, err)
		got, err := c.Query(tests.Context(t), feed, store.RoundDataScope(2))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("unknown feed", func(t *testing.T) {
		_, err := c.LatestRoundData(tests.Context(t), randomKey(t))
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("invalid scope", func(t *testing.T) {
		_, err := c.Query(tests.Context(t), feed, store.Scope{Kind: store.ScopeKind(42)})
		require.ErrorIs(t, err, store.ErrInvalidInput)
	})

	t.Run("closed feed", func(t *testing.T) {
		require.NoError(t, e.feed.Close(e.owner))
		_, err := c.Decimals(tests.Context(t), feed)
		require.ErrorIs(t, err, store.ErrClosed)
	})
}

func decimals(t *testing.T, c Client, feed solana.PublicKey) uint8 {
	d, err := c.Decimals(tests.Context(t), feed)
	require.NoError(t, err)
	return d
}

func Test_Client_UnknownKey(t *testing.T) {
	e := newQueryEnv(t)

	c := e.newClient(t, ed25519.NewKeyFromSeed(randomBytes(t, 32)))
	servicetest.Run(t, c)

	_, err := c.Version(tests.Context(t), e.feed.Address())
	require.Error(t, err)
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func Test_Opts_verifyConfig(t *testing.T) {
	_, err := NewClient(ClientOpts{})
	require.Error(t, err)
	for _, msg := range []string{"logger is required", "client signer is required", "server public key is required", "server URL is required"} {
		assert.ErrorContains(t, err, msg)
	}

	_, err = NewServer(ServerOpts{})
	require.Error(t, err)
	for _, msg := range []string{"logger is required", "server private key is required", "at least one client public key", "listen address or listener", "feed source is required"} {
		assert.ErrorContains(t, err, msg)
	}
}
