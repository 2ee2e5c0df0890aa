package ocr2

import (
	"context"
	"fmt"
	"math/bits"
	"slices"

	"github.com/gagliardetto/solana-go"
)

func checkedAdd64(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

func checkedMul64(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrOverflow
	}
	return lo, nil
}

// owedPayment is what oracle has earned: the observation payment for every
// round since FromRoundID plus its accrued reimbursements.
func owedPayment(cfg Config, oracle Oracle) (uint64, error) {
	if cfg.LatestAggregatorRoundID < oracle.FromRoundID {
		return 0, fmt.Errorf("oracle %s counts from round %d, latest is %d; %w",
			oracle.Transmitter, oracle.FromRoundID, cfg.LatestAggregatorRoundID, ErrOverflow)
	}
	rounds := uint64(cfg.LatestAggregatorRoundID - oracle.FromRoundID)
	amount, err := checkedMul64(uint64(cfg.Billing.ObservationPaymentGjuels), rounds)
	if err != nil {
		return 0, err
	}
	return checkedAdd64(amount, oracle.PaymentGjuels)
}

// totalDue is everything owed to current and former oracles.
func totalDue(cfg Config, oracles []Oracle, leftovers []LeftoverPayment) (uint64, error) {
	var rounds, reimbursements uint64
	for _, o := range oracles {
		if cfg.LatestAggregatorRoundID < o.FromRoundID {
			return 0, ErrOverflow
		}
		var err error
		if rounds, err = checkedAdd64(rounds, uint64(cfg.LatestAggregatorRoundID-o.FromRoundID)); err != nil {
			return 0, err
		}
		if reimbursements, err = checkedAdd64(reimbursements, o.PaymentGjuels); err != nil {
			return 0, err
		}
	}
	due, err := checkedMul64(uint64(cfg.Billing.ObservationPaymentGjuels), rounds)
	if err != nil {
		return 0, err
	}
	if due, err = checkedAdd64(due, reimbursements); err != nil {
		return 0, err
	}
	for _, l := range leftovers {
		if due, err = checkedAdd64(due, l.Amount); err != nil {
			return 0, err
		}
	}
	return due, nil
}

// transfer pays amount out of the vault.
func (a *Aggregator) transfer(ctx context.Context, to solana.PublicKey, amount uint64, kind string) error {
	if err := a.tokens.Transfer(ctx, a.config.TokenVault, to, a.vaultAuthority, amount); err != nil {
		return fmt.Errorf("failed to transfer %d to %s; %w", amount, to, err)
	}
	promPaidOutGjuels.WithLabelValues(a.address.String(), kind).Add(float64(amount))
	return nil
}

// checkPayout verifies that the vault covers total and that every recipient
// is an account of the aggregator's token, so that a multi-transfer payout
// does not stop halfway.
func (a *Aggregator) checkPayout(ctx context.Context, recipients []solana.PublicKey, amounts []uint64) error {
	var total uint64
	for i, to := range recipients {
		if amounts[i] == 0 {
			continue
		}
		var err error
		if total, err = checkedAdd64(total, amounts[i]); err != nil {
			return err
		}
		acct, err := a.tokens.Account(ctx, to)
		if err != nil {
			return fmt.Errorf("payee %s: %v; %w", to, err, ErrInvalidTokenAccount)
		}
		if !acct.Mint.Equals(a.config.TokenMint) {
			return fmt.Errorf("payee %s holds %s, expected %s; %w", to, acct.Mint, a.config.TokenMint, ErrInvalidTokenAccount)
		}
	}
	balance, err := a.tokens.Balance(ctx, a.config.TokenVault)
	if err != nil {
		return fmt.Errorf("failed to read vault balance; %w", err)
	}
	if balance < total {
		return fmt.Errorf("vault holds %d, payout needs %d; %w", balance, total, ErrInsufficientFunds)
	}
	return nil
}

// payOracles pays every oracle what it is owed. payees must list the payee of
// every oracle, in oracle order.
func (a *Aggregator) payOracles(ctx context.Context, payees []solana.PublicKey, kind string) error {
	if len(payees) != len(a.oracles) {
		return fmt.Errorf("got %d payees for %d oracles; %w", len(payees), len(a.oracles), ErrInvalidInput)
	}
	amounts := make([]uint64, len(a.oracles))
	for i, o := range a.oracles {
		if !o.Payee.Equals(payees[i]) {
			return fmt.Errorf("payee %d is %s, expected %s; %w", i, payees[i], o.Payee, ErrInvalidInput)
		}
		owed, err := owedPayment(a.config, o)
		if err != nil {
			return err
		}
		if owed > 0 && o.Payee.IsZero() {
			return fmt.Errorf("oracle %s is owed %d but has no payee; %w", o.Transmitter, owed, ErrInvalidInput)
		}
		amounts[i] = owed
	}
	if err := a.checkPayout(ctx, payees, amounts); err != nil {
		return err
	}
	for i := range a.oracles {
		if amounts[i] > 0 {
			if err := a.transfer(ctx, payees[i], amounts[i], kind); err != nil {
				return err
			}
		}
		a.oracles[i].PaymentGjuels = 0
		a.oracles[i].FromRoundID = a.config.LatestAggregatorRoundID
	}
	return nil
}

// PayOracles pays every oracle to its payee.
func (a *Aggregator) PayOracles(ctx context.Context, authority solana.PublicKey, payees []solana.PublicKey) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.hasAccess(a.billingAC, authority); err != nil {
		return err
	}
	return a.payOracles(ctx, payees, "oracles")
}

// PayRemaining pays out the leftover balances of rotated out oracles. payees
// must match the leftover payments in order.
func (a *Aggregator) PayRemaining(ctx context.Context, authority solana.PublicKey, payees []solana.PublicKey) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.hasAccess(a.billingAC, authority); err != nil {
		return err
	}
	if len(payees) != len(a.leftoverPayments) {
		return fmt.Errorf("got %d payees for %d leftover payments; %w", len(payees), len(a.leftoverPayments), ErrInvalidInput)
	}
	amounts := make([]uint64, len(payees))
	for i, l := range a.leftoverPayments {
		if !l.Payee.Equals(payees[i]) {
			return fmt.Errorf("payee %d is %s, expected %s; %w", i, payees[i], l.Payee, ErrInvalidInput)
		}
		amounts[i] = l.Amount
	}
	if err := a.checkPayout(ctx, payees, amounts); err != nil {
		return err
	}
	for i := range a.leftoverPayments {
		if amounts[i] > 0 {
			if err := a.transfer(ctx, payees[i], amounts[i], "remaining"); err != nil {
				return err
			}
		}
		a.leftoverPayments[i].Amount = 0
	}
	a.leftoverPayments = a.leftoverPayments[:0]
	return nil
}

// WithdrawPayment pays an oracle what it is owed. The authority has to own
// the payee token account.
func (a *Aggregator) WithdrawPayment(ctx context.Context, authority, payee solana.PublicKey) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkOpen(); err != nil {
		return err
	}
	acct, err := a.tokens.Account(ctx, payee)
	if err != nil {
		return fmt.Errorf("failed to load payee account; %w", err)
	}
	if !acct.Mint.Equals(a.config.TokenMint) {
		return fmt.Errorf("payee %s is not a %s account; %w", payee, a.config.TokenMint, ErrInvalidInput)
	}
	idx := slices.IndexFunc(a.oracles, func(o Oracle) bool { return !o.Payee.IsZero() && o.Payee.Equals(payee) })
	if idx < 0 {
		return fmt.Errorf("%s is not an oracle payee; %w", payee, ErrUnauthorized)
	}
	if !acct.Owner.Equals(authority) {
		return fmt.Errorf("%s does not own %s; %w", authority, payee, ErrUnauthorized)
	}
	amount, err := owedPayment(a.config, a.oracles[idx])
	if err != nil {
		return err
	}
	if amount > 0 {
		if err = a.checkPayout(ctx, []solana.PublicKey{payee}, []uint64{amount}); err != nil {
			return err
		}
		if err = a.transfer(ctx, payee, amount, "withdraw_payment"); err != nil {
			return err
		}
	}
	a.oracles[idx].PaymentGjuels = 0
	a.oracles[idx].FromRoundID = a.config.LatestAggregatorRoundID
	a.lggr.Debugw("Withdrew payment", "payee", payee.String(), "amount", amount)
	return nil
}

// WithdrawFunds transfers up to amount of the vault balance that is not owed
// to oracles.
func (a *Aggregator) WithdrawFunds(ctx context.Context, authority, recipient solana.PublicKey, amount uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.hasAccess(a.billingAC, authority); err != nil {
		return err
	}
	available, err := a.linkAvailableForPayment(ctx)
	if err != nil {
		return err
	}
	amount = min(amount, available)
	if amount == 0 {
		return nil
	}
	return a.transfer(ctx, recipient, amount, "withdraw_funds")
}

func (a *Aggregator) SetBilling(ctx context.Context, authority solana.PublicKey, observationPaymentGjuels, transmissionPaymentGjuels uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.hasAccess(a.billingAC, authority); err != nil {
		return err
	}
	a.config.Billing = Billing{
		ObservationPaymentGjuels:  observationPaymentGjuels,
		TransmissionPaymentGjuels: transmissionPaymentGjuels,
	}
	a.emit(ctx, SetBilling{
		ObservationPaymentGjuels:  observationPaymentGjuels,
		TransmissionPaymentGjuels: transmissionPaymentGjuels,
	})
	return nil
}

// SetPayees sets the payee of every oracle, in oracle order. Payees can only
// be set once, later changes go through TransferPayeeship.
func (a *Aggregator) SetPayees(ctx context.Context, authority solana.PublicKey, payees []solana.PublicKey) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requireOwner(authority); err != nil {
		return err
	}
	if len(payees) != len(a.oracles) {
		return fmt.Errorf("got %d payees for %d oracles; %w", len(payees), len(a.oracles), ErrPayeeOracleMismatch)
	}
	for _, p := range payees {
		acct, err := a.tokens.Account(ctx, p)
		if err != nil {
			return fmt.Errorf("payee %s: %v; %w", p, err, ErrInvalidTokenAccount)
		}
		if !acct.Mint.Equals(a.config.TokenMint) {
			return fmt.Errorf("payee %s holds %s; %w", p, acct.Mint, ErrInvalidTokenAccount)
		}
	}
	for _, o := range a.oracles {
		if !o.Payee.IsZero() {
			return fmt.Errorf("oracle %s; %w", o.Transmitter, ErrPayeeAlreadySet)
		}
	}
	for i := range a.oracles {
		a.oracles[i].Payee = payees[i]
	}
	return nil
}

func (a *Aggregator) oracleByTransmitter(transmitter solana.PublicKey) (int, error) {
	idx := slices.IndexFunc(a.oracles, func(o Oracle) bool { return o.Transmitter.Equals(transmitter) })
	if idx < 0 {
		return -1, fmt.Errorf("transmitter %s is not an oracle; %w", transmitter, ErrInvalidInput)
	}
	return idx, nil
}

// TransferPayeeship proposes a new payee for the oracle with the given
// transmitter. The authority has to own the current payee account.
func (a *Aggregator) TransferPayeeship(ctx context.Context, authority, transmitter, payee, proposedPayee solana.PublicKey) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkOpen(); err != nil {
		return err
	}
	if payee.Equals(proposedPayee) {
		return fmt.Errorf("cannot transfer payeeship to the current payee; %w", ErrInvalidInput)
	}
	proposed, err := a.tokens.Account(ctx, proposedPayee)
	if err != nil {
		return fmt.Errorf("failed to load proposed payee account; %w", err)
	}
	if !proposed.Mint.Equals(a.config.TokenMint) {
		return fmt.Errorf("proposed payee %s is not a %s account; %w", proposedPayee, a.config.TokenMint, ErrInvalidInput)
	}
	idx, err := a.oracleByTransmitter(transmitter)
	if err != nil {
		return err
	}
	if !a.oracles[idx].Payee.Equals(payee) {
		return fmt.Errorf("%s is not the payee of %s; %w", payee, transmitter, ErrInvalidInput)
	}
	current, err := a.tokens.Account(ctx, payee)
	if err != nil {
		return fmt.Errorf("failed to load payee account; %w", err)
	}
	if !current.Owner.Equals(authority) {
		return fmt.Errorf("%s does not own %s; %w", authority, payee, ErrUnauthorized)
	}
	a.oracles[idx].ProposedPayee = proposedPayee
	return nil
}

// AcceptPayeeship completes a payee transfer. The authority has to own the
// proposed payee account.
func (a *Aggregator) AcceptPayeeship(ctx context.Context, authority, transmitter, proposedPayee solana.PublicKey) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkOpen(); err != nil {
		return err
	}
	idx, err := a.oracleByTransmitter(transmitter)
	if err != nil {
		return err
	}
	o := &a.oracles[idx]
	if o.ProposedPayee.IsZero() || !o.ProposedPayee.Equals(proposedPayee) {
		return fmt.Errorf("%s is not the proposed payee of %s; %w", proposedPayee, transmitter, ErrInvalidInput)
	}
	acct, err := a.tokens.Account(ctx, proposedPayee)
	if err != nil {
		return fmt.Errorf("failed to load proposed payee account; %w", err)
	}
	if !acct.Owner.Equals(authority) {
		return fmt.Errorf("%s does not own %s; %w", authority, proposedPayee, ErrUnauthorized)
	}
	o.Payee, o.ProposedPayee = o.ProposedPayee, solana.PublicKey{}
	return nil
}
