package ocr2

import (
	"math"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (e *testEnv) balance(t *testing.T, account solana.PublicKey) uint64 {
	t.Helper()
	b, err := e.tok.Balance(e.ctx, account)
	require.NoError(t, err)
	return b
}

func (e *testEnv) transmitRounds(t *testing.T, transmitter int, rounds int) {
	t.Helper()
	for i := 0; i < rounds; i++ {
		cfg := e.agg.Config()
		data := e.transmission(t, reportArgs{epoch: cfg.Epoch + 1, median: 5, juelsPerLamport: 3})
		require.NoError(t, e.agg.Transmit(e.ctx, e.oracles[transmitter].transmitter, data))
	}
}

func (e *testEnv) tokenAccount(t *testing.T, owner solana.PublicKey) solana.PublicKey {
	t.Helper()
	addr := e.keys.next(t)
	require.NoError(t, e.tok.CreateAccount(addr, e.mint, owner))
	return addr
}

func Test_OwedPayment(t *testing.T) {
	cfg := Config{LatestAggregatorRoundID: 10, Billing: Billing{ObservationPaymentGjuels: 4}}

	owed, err := owedPayment(cfg, Oracle{FromRoundID: 7, PaymentGjuels: 5})
	require.NoError(t, err)
	assert.Equal(t, uint64(4*3+5), owed)

	_, err = owedPayment(cfg, Oracle{FromRoundID: 7, PaymentGjuels: math.MaxUint64})
	require.ErrorIs(t, err, ErrOverflow)

	due, err := totalDue(cfg, []Oracle{{FromRoundID: 7, PaymentGjuels: 5}, {FromRoundID: 0}},
		[]LeftoverPayment{{Amount: 100}})
	require.NoError(t, err)
	assert.Equal(t, uint64(4*13+5+100), due)

	_, err = totalDue(cfg, nil, []LeftoverPayment{{Amount: math.MaxUint64}, {Amount: 1}})
	require.ErrorIs(t, err, ErrOverflow)

	t.Run("round counts summed past u32", func(t *testing.T) {
		cfg := Config{LatestAggregatorRoundID: math.MaxUint32, Billing: Billing{ObservationPaymentGjuels: 1}}
		oracles := make([]Oracle, MaxOracles)
		due, err := totalDue(cfg, oracles, nil)
		require.NoError(t, err)
		assert.Equal(t, uint64(MaxOracles)*math.MaxUint32, due)
	})

	refund, err := reimbursement(5000, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(10000), refund)
	_, err = reimbursement(math.MaxUint64, 2)
	require.ErrorIs(t, err, ErrOverflow)
}

func Test_Billing(t *testing.T) {
	e := newTestEnv(t)
	e.configure(t, 4, 1)
	stranger := e.keys.next(t)

	t.Run("set billing requires billing access", func(t *testing.T) {
		require.ErrorIs(t, e.agg.SetBilling(e.ctx, stranger, 1, 1), ErrUnauthorized)
		require.NoError(t, e.agg.SetBilling(e.ctx, e.owner, 1, 1))
		require.NoError(t, e.agg.SetBilling(e.ctx, e.billingAdmin, 10, 7))
		assert.Equal(t, Billing{ObservationPaymentGjuels: 10, TransmissionPaymentGjuels: 7}, e.agg.Config().Billing)
		events := e.sink.named("SetBilling")
		require.Len(t, events, 2)
		assert.Equal(t, SetBilling{ObservationPaymentGjuels: 10, TransmissionPaymentGjuels: 7}, events[1])
	})

	e.transmitRounds(t, 0, 3)

	t.Run("queries", func(t *testing.T) {
		count, err := e.agg.OracleObservationCount(e.oracles[1].transmitter)
		require.NoError(t, err)
		assert.Equal(t, uint32(3), count)
		_, err = e.agg.OracleObservationCount(stranger)
		require.ErrorIs(t, err, ErrInvalidInput)

		// 4 oracles observed 3 rounds at 10, and 3 transmissions at 2*3+7
		available, err := e.agg.LinkAvailableForPayment(e.ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(vaultFunds-(4*3*10+3*13)), available)
	})

	t.Run("withdraw payment", func(t *testing.T) {
		o := e.oracles[0]
		require.ErrorIs(t, e.agg.WithdrawPayment(e.ctx, stranger, o.payee), ErrUnauthorized)

		notPayee := e.tokenAccount(t, stranger)
		require.ErrorIs(t, e.agg.WithdrawPayment(e.ctx, stranger, notPayee), ErrUnauthorized)

		otherMint := e.keys.next(t)
		require.NoError(t, e.tok.CreateAccount(otherMint, e.keys.next(t), o.payeeOwner))
		require.ErrorIs(t, e.agg.WithdrawPayment(e.ctx, o.payeeOwner, otherMint), ErrInvalidInput)

		require.NoError(t, e.agg.WithdrawPayment(e.ctx, o.payeeOwner, o.payee))
		assert.Equal(t, uint64(3*10+3*13), e.balance(t, o.payee))
		require.NoError(t, e.agg.WithdrawPayment(e.ctx, o.payeeOwner, o.payee))
		assert.Equal(t, uint64(3*10+3*13), e.balance(t, o.payee))

		oracles := e.agg.Oracles()
		assert.Zero(t, oracles[0].PaymentGjuels)
		assert.Equal(t, uint32(3), oracles[0].FromRoundID)
	})

	t.Run("pay oracles", func(t *testing.T) {
		require.ErrorIs(t, e.agg.PayOracles(e.ctx, stranger, payeesOf(e.oracles)), ErrUnauthorized)
		payees := payeesOf(e.oracles)
		payees[1], payees[2] = payees[2], payees[1]
		require.ErrorIs(t, e.agg.PayOracles(e.ctx, e.billingAdmin, payees), ErrInvalidInput)
		require.ErrorIs(t, e.agg.PayOracles(e.ctx, e.billingAdmin, payeesOf(e.oracles)[1:]), ErrInvalidInput)

		require.NoError(t, e.agg.PayOracles(e.ctx, e.billingAdmin, payeesOf(e.oracles)))
		for _, o := range e.oracles[1:] {
			assert.Equal(t, uint64(30), e.balance(t, o.payee))
		}
		require.NoError(t, e.agg.PayOracles(e.ctx, e.billingAdmin, payeesOf(e.oracles)))
		for _, o := range e.oracles[1:] {
			assert.Equal(t, uint64(30), e.balance(t, o.payee))
		}
		available, err := e.agg.LinkAvailableForPayment(e.ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(e.balance(t, e.vault)), available)
	})

	t.Run("withdraw funds never touches what is owed", func(t *testing.T) {
		recipient := e.tokenAccount(t, stranger)
		e.transmitRounds(t, 1, 1)

		require.ErrorIs(t, e.agg.WithdrawFunds(e.ctx, stranger, recipient, 1), ErrUnauthorized)
		require.NoError(t, e.agg.WithdrawFunds(e.ctx, e.billingAdmin, recipient, 100))
		assert.Equal(t, uint64(100), e.balance(t, recipient))

		require.NoError(t, e.agg.WithdrawFunds(e.ctx, e.billingAdmin, recipient, math.MaxUint64))
		available, err := e.agg.LinkAvailableForPayment(e.ctx)
		require.NoError(t, err)
		assert.Zero(t, available)
		assert.Equal(t, uint64(4*10+13), e.balance(t, e.vault))

		require.NoError(t, e.agg.WithdrawFunds(e.ctx, e.billingAdmin, recipient, 1))
		assert.Equal(t, uint64(4*10+13), e.balance(t, e.vault))
	})

	t.Run("payouts the vault cannot cover move nothing", func(t *testing.T) {
		e.transmitRounds(t, 1, 1)
		available, err := e.agg.LinkAvailableForPayment(e.ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(-(4*10 + 13)), available)

		before := e.balance(t, e.oracles[0].payee)
		require.ErrorIs(t, e.agg.PayOracles(e.ctx, e.billingAdmin, payeesOf(e.oracles)), ErrInsufficientFunds)
		assert.Equal(t, before, e.balance(t, e.oracles[0].payee))
		assert.Equal(t, uint64(4*10+13), e.balance(t, e.vault))
	})
}

func Test_Payees(t *testing.T) {
	e := newTestEnv(t)
	e.oracles = e.newOracles(t, 4)
	require.NoError(t, e.agg.SetConfig(e.ctx, e.owner, newOracleSet(e.oracles), 1))
	stranger := e.keys.next(t)

	t.Run("set payees", func(t *testing.T) {
		require.ErrorIs(t, e.agg.SetPayees(e.ctx, stranger, payeesOf(e.oracles)), ErrUnauthorized)
		require.ErrorIs(t, e.agg.SetPayees(e.ctx, e.owner, payeesOf(e.oracles)[:3]), ErrPayeeOracleMismatch)

		wrongMint := payeesOf(e.oracles)
		wrongMint[3] = e.keys.next(t)
		require.NoError(t, e.tok.CreateAccount(wrongMint[3], e.keys.next(t), stranger))
		require.ErrorIs(t, e.agg.SetPayees(e.ctx, e.owner, wrongMint), ErrInvalidTokenAccount)
		missing := payeesOf(e.oracles)
		missing[0] = e.keys.next(t)
		require.ErrorIs(t, e.agg.SetPayees(e.ctx, e.owner, missing), ErrInvalidTokenAccount)

		require.NoError(t, e.agg.SetPayees(e.ctx, e.owner, payeesOf(e.oracles)))
		require.ErrorIs(t, e.agg.SetPayees(e.ctx, e.owner, payeesOf(e.oracles)), ErrPayeeAlreadySet)
		for i, o := range e.agg.Oracles() {
			assert.Equal(t, e.oracles[i].payee, o.Payee)
		}
	})

	t.Run("transfer and accept payeeship", func(t *testing.T) {
		o := e.oracles[2]
		newOwner := e.keys.next(t)
		proposed := e.tokenAccount(t, newOwner)

		require.ErrorIs(t, e.agg.TransferPayeeship(e.ctx, o.payeeOwner, o.transmitter, o.payee, o.payee), ErrInvalidInput)
		require.ErrorIs(t, e.agg.TransferPayeeship(e.ctx, o.payeeOwner, stranger, o.payee, proposed), ErrInvalidInput)
		require.ErrorIs(t, e.agg.TransferPayeeship(e.ctx, o.payeeOwner, o.transmitter, e.oracles[1].payee, proposed), ErrInvalidInput)
		require.ErrorIs(t, e.agg.TransferPayeeship(e.ctx, stranger, o.transmitter, o.payee, proposed), ErrUnauthorized)
		require.NoError(t, e.agg.TransferPayeeship(e.ctx, o.payeeOwner, o.transmitter, o.payee, proposed))
		assert.Equal(t, proposed, e.agg.Oracles()[2].ProposedPayee)

		require.ErrorIs(t, e.agg.AcceptPayeeship(e.ctx, newOwner, e.oracles[1].transmitter, proposed), ErrInvalidInput)
		require.ErrorIs(t, e.agg.AcceptPayeeship(e.ctx, o.payeeOwner, o.transmitter, proposed), ErrUnauthorized)
		require.NoError(t, e.agg.AcceptPayeeship(e.ctx, newOwner, o.transmitter, proposed))
		got := e.agg.Oracles()[2]
		assert.Equal(t, proposed, got.Payee)
		assert.True(t, got.ProposedPayee.IsZero())
		require.ErrorIs(t, e.agg.AcceptPayeeship(e.ctx, newOwner, o.transmitter, proposed), ErrInvalidInput)
	})
}

func Test_Rotation(t *testing.T) {
	e := newTestEnv(t)
	e.configure(t, 4, 1)
	require.NoError(t, e.agg.SetBilling(e.ctx, e.owner, 10, 0))
	e.transmitRounds(t, 0, 2)
	first := e.oracles

	t.Run("outgoing oracles keep what they are owed", func(t *testing.T) {
		e.configure(t, 4, 1)
		cfg := e.agg.Config()
		assert.Equal(t, uint32(2), cfg.ConfigCount)
		assert.Zero(t, cfg.Epoch)
		assert.Zero(t, cfg.Round)

		leftovers := e.agg.LeftoverPayments()
		require.Len(t, leftovers, 4)
		for i, l := range leftovers {
			assert.Equal(t, first[i].payee, l.Payee)
		}
		assert.Equal(t, uint64(20+2*6), leftovers[0].Amount)
		assert.Equal(t, uint64(20), leftovers[1].Amount)
		for _, o := range e.agg.Oracles() {
			assert.Equal(t, uint32(2), o.FromRoundID)
		}
	})

	t.Run("next rotation waits for leftover payments", func(t *testing.T) {
		require.ErrorIs(t, e.agg.SetConfig(e.ctx, e.owner, newOracleSet(e.oracles), 1), ErrPaymentsRemaining)
		require.ErrorIs(t, e.agg.Close(e.ctx, e.owner, e.owner), ErrPaymentsRemaining)

		require.ErrorIs(t, e.agg.PayRemaining(e.ctx, e.keys.next(t), payeesOf(first)), ErrUnauthorized)
		require.ErrorIs(t, e.agg.PayRemaining(e.ctx, e.billingAdmin, payeesOf(first)[:2]), ErrInvalidInput)
		require.NoError(t, e.agg.PayRemaining(e.ctx, e.billingAdmin, payeesOf(first)))
		assert.Equal(t, uint64(32), e.balance(t, first[0].payee))
		assert.Equal(t, uint64(20), e.balance(t, first[3].payee))
		assert.Empty(t, e.agg.LeftoverPayments())

		require.NoError(t, e.agg.SetConfig(e.ctx, e.owner, newOracleSet(e.oracles), 1))
		assert.Len(t, e.agg.LeftoverPayments(), 4)
	})
}

func Test_Close(t *testing.T) {
	e := newTestEnv(t)
	e.configure(t, 4, 1)
	require.NoError(t, e.agg.SetBilling(e.ctx, e.owner, 10, 0))
	e.transmitRounds(t, 0, 1)
	receiver := e.tokenAccount(t, e.owner)

	require.ErrorIs(t, e.agg.Close(e.ctx, e.billingAdmin, receiver), ErrUnauthorized)
	require.NoError(t, e.agg.Close(e.ctx, e.owner, receiver))
	assert.Equal(t, uint64(10+6), e.balance(t, e.oracles[0].payee))
	assert.Equal(t, uint64(10), e.balance(t, e.oracles[3].payee))
	assert.Equal(t, uint64(vaultFunds-(4*10+6)), e.balance(t, receiver))
	assert.Zero(t, e.balance(t, e.vault))

	require.ErrorIs(t, e.agg.Close(e.ctx, e.owner, receiver), ErrClosed)
	require.ErrorIs(t, e.agg.SetBilling(e.ctx, e.owner, 1, 1), ErrClosed)
	require.ErrorIs(t, e.agg.Transmit(e.ctx, e.oracles[0].transmitter, e.transmission(t, reportArgs{epoch: 9, median: 1})), ErrClosed)
}
