// Package token is an in-memory SPL-style token ledger. Accounts are keyed by
// address, hold a single mint and are controlled by an owner key, which is
// the only authority allowed to move funds out of them.
package token

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"
)

var (
	ErrAccountNotFound   = errors.New("token account not found")
	ErrAccountExists     = errors.New("token account already exists")
	ErrMintMismatch      = errors.New("token mint mismatch")
	ErrOwnerMismatch     = errors.New("authority does not own the token account")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrOverflow          = errors.New("token amount overflow")
)

var promTransferredAmount = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ocr2",
	Subsystem: "token",
	Name:      "transferred_amount_total",
	Help:      "Total amount moved between token accounts, by mint",
},
	[]string{"mint"},
)

type Account struct {
	Mint   solana.PublicKey
	Owner  solana.PublicKey
	Amount uint64
}

type Ledger struct {
	mu       sync.Mutex
	lggr     logger.SugaredLogger
	accounts map[solana.PublicKey]*Account
}

func NewLedger(lggr logger.Logger) *Ledger {
	return &Ledger{
		lggr:     logger.Sugared(lggr).Named("TokenLedger"),
		accounts: make(map[solana.PublicKey]*Account),
	}
}

func (l *Ledger) CreateAccount(address, mint, owner solana.PublicKey) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.accounts[address]; ok {
		return fmt.Errorf("%s; %w", address, ErrAccountExists)
	}
	l.accounts[address] = &Account{Mint: mint, Owner: owner}
	return nil
}

// MintTo credits amount to address out of thin air.
func (l *Ledger) MintTo(address solana.PublicKey, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, err := l.get(address)
	if err != nil {
		return err
	}
	sum, carry := bits.Add64(acct.Amount, amount, 0)
	if carry != 0 {
		return ErrOverflow
	}
	acct.Amount = sum
	return nil
}

func (l *Ledger) get(address solana.PublicKey) (*Account, error) {
	acct, ok := l.accounts[address]
	if !ok {
		return nil, fmt.Errorf("%s; %w", address, ErrAccountNotFound)
	}
	return acct, nil
}

// Transfer moves amount from one account to another of the same mint. The
// authority must own the source account.
func (l *Ledger) Transfer(ctx context.Context, from, to, authority solana.PublicKey, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	src, err := l.get(from)
	if err != nil {
		return err
	}
	dst, err := l.get(to)
	if err != nil {
		return err
	}
	if !src.Owner.Equals(authority) {
		return fmt.Errorf("%s does not own %s; %w", authority, from, ErrOwnerMismatch)
	}
	if !src.Mint.Equals(dst.Mint) {
		return fmt.Errorf("%s -> %s; %w", from, to, ErrMintMismatch)
	}
	if src.Amount < amount {
		return fmt.Errorf("%s holds %d, need %d; %w", from, src.Amount, amount, ErrInsufficientFunds)
	}
	if from.Equals(to) {
		return nil
	}
	sum, carry := bits.Add64(dst.Amount, amount, 0)
	if carry != 0 {
		return ErrOverflow
	}
	src.Amount -= amount
	dst.Amount = sum
	promTransferredAmount.WithLabelValues(src.Mint.String()).Add(float64(amount))
	l.lggr.Debugw("Transferred tokens", "from", from.String(), "to", to.String(), "amount", amount)
	return nil
}

func (l *Ledger) Balance(ctx context.Context, address solana.PublicKey) (uint64, error) {
	acct, err := l.Account(ctx, address)
	if err != nil {
		return 0, err
	}
	return acct.Amount, nil
}

// Account returns a copy of the account at address.
func (l *Ledger) Account(ctx context.Context, address solana.PublicKey) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, err := l.get(address)
	if err != nil {
		return Account{}, err
	}
	return *acct, nil
}
