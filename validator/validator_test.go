package validator

import (
	"math/big"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/smartcontractkit/chainlink-common/pkg/utils/tests"

	"github.com/smartcontractkit/chainlink-solana-feeds/accesscontroller"
)

func randomKeys(t *testing.T, seed uint64, n int) []solana.PublicKey {
	t.Helper()
	r := rand.New(rand.NewSource(seed)) //nolint:gosec
	keys := make([]solana.PublicKey, n)
	for i := range keys {
		var b [32]byte
		_, err := r.Read(b[:])
		require.NoError(t, err)
		keys[i] = solana.PublicKeyFromBytes(b[:])
	}
	return keys
}

func Test_Validator(t *testing.T) {
	ctx := tests.Context(t)
	keys := randomKeys(t, 42, 5)
	owner, raiser, lowerer, stranger := keys[0], keys[1], keys[2], keys[3]

	raising := accesscontroller.New(owner)
	require.NoError(t, raising.AddAccess(owner, raiser))
	lowering := accesscontroller.New(owner)
	require.NoError(t, lowering.AddAccess(owner, lowerer))

	v := New(logger.Test(t), owner, raising, lowering)
	feed := keys[4]

	t.Run("raising requires access", func(t *testing.T) {
		err := v.Validate(ctx, stranger, feed, 0, 1, big.NewInt(100), 2, big.NewInt(200))
		require.ErrorIs(t, err, ErrUnauthorized)
		assert.Empty(t, v.Flags())
	})

	t.Run("answers within the threshold do not raise a flag", func(t *testing.T) {
		require.NoError(t, v.Validate(ctx, raiser, feed, 1000, 1, big.NewInt(10000), 2, big.NewInt(10050)))
		assert.False(t, v.IsFlagged(feed))
	})

	t.Run("deviating answers raise a single flag", func(t *testing.T) {
		require.NoError(t, v.Validate(ctx, raiser, feed, 1000, 2, big.NewInt(10000), 3, big.NewInt(20000)))
		require.NoError(t, v.Validate(ctx, owner, feed, 1000, 3, big.NewInt(20000), 4, big.NewInt(1)))
		assert.Equal(t, []solana.PublicKey{feed}, v.Flags())
	})

	t.Run("lowering requires access", func(t *testing.T) {
		require.ErrorIs(t, v.LowerFlags(raiser, []solana.PublicKey{feed}), ErrUnauthorized)
		require.NoError(t, v.LowerFlags(lowerer, []solana.PublicKey{stranger, feed}))
		assert.Empty(t, v.Flags())
	})

	t.Run("access controllers are owner managed", func(t *testing.T) {
		require.ErrorIs(t, v.SetRaisingAccessController(raiser, nil), ErrUnauthorized)
		require.NoError(t, v.SetRaisingAccessController(owner, lowering))
		require.ErrorIs(t, v.Validate(ctx, raiser, feed, 0, 1, big.NewInt(1), 2, big.NewInt(2)), ErrUnauthorized)
		require.NoError(t, v.Validate(ctx, lowerer, feed, 0, 1, big.NewInt(1), 2, big.NewInt(2)))
		require.NoError(t, v.SetLoweringAccessController(owner, nil))
		require.ErrorIs(t, v.LowerFlags(lowerer, []solana.PublicKey{feed}), ErrUnauthorized)
		require.NoError(t, v.LowerFlags(owner, []solana.PublicKey{feed}))
	})

	t.Run("ownership", func(t *testing.T) {
		require.ErrorIs(t, v.TransferOwnership(owner, solana.PublicKey{}), ErrInvalidInput)
		require.NoError(t, v.TransferOwnership(owner, stranger))
		require.ErrorIs(t, v.AcceptOwnership(raiser), ErrUnauthorized)
		require.NoError(t, v.AcceptOwnership(stranger))
		assert.Equal(t, stranger, v.Owner())
	})
}

func Test_Validator_Full(t *testing.T) {
	ctx := tests.Context(t)
	keys := randomKeys(t, 1, MaxFlags+2)
	owner := keys[0]
	v := New(logger.Nop(), owner, nil, nil)

	for _, feed := range keys[1 : MaxFlags+1] {
		require.NoError(t, v.Validate(ctx, owner, feed, 0, 1, big.NewInt(1), 2, big.NewInt(2)))
	}
	require.Len(t, v.Flags(), MaxFlags)
	// already raised flags are fine at capacity
	require.NoError(t, v.Validate(ctx, owner, keys[1], 0, 1, big.NewInt(1), 2, big.NewInt(2)))
	require.ErrorIs(t, v.Validate(ctx, owner, keys[MaxFlags+1], 0, 1, big.NewInt(1), 2, big.NewInt(2)), ErrFull)

	require.NoError(t, v.LowerFlags(owner, keys[1:3]))
	flags := v.Flags()
	require.Len(t, flags, MaxFlags-2)
	assert.Equal(t, keys[3], flags[0])
}
