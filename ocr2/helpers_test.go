package ocr2

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"slices"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/smartcontractkit/chainlink-common/pkg/utils/tests"

	"github.com/smartcontractkit/chainlink-solana-feeds/accesscontroller"
	"github.com/smartcontractkit/chainlink-solana-feeds/pkg/token"
	"github.com/smartcontractkit/chainlink-solana-feeds/store"
)

type keySource struct {
	r *rand.Rand
}

func newKeySource(seed uint64) *keySource {
	return &keySource{r: rand.New(rand.NewSource(seed))} //nolint:gosec
}

func (k *keySource) next(t *testing.T) solana.PublicKey {
	t.Helper()
	var b [32]byte
	_, err := k.r.Read(b[:])
	require.NoError(t, err)
	return solana.PublicKeyFromBytes(b[:])
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Emit(_ context.Context, _ solana.PublicKey, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) named(name string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.EventName() == name {
			out = append(out, e)
		}
	}
	return out
}

type recordingValidator struct {
	mu    sync.Mutex
	calls [][2]*big.Int
	err   error
}

func (v *recordingValidator) Validate(_ context.Context, _, _ solana.PublicKey, _ uint32, _ uint32, previous *big.Int, _ uint32, answer *big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls = append(v.calls, [2]*big.Int{previous, answer})
	return v.err
}

type testOracle struct {
	key         *ecdsa.PrivateKey
	signer      SigningKey
	transmitter solana.PublicKey
	payee       solana.PublicKey
	payeeOwner  solana.PublicKey
}

type testEnv struct {
	ctx   context.Context
	keys  *keySource
	agg   *Aggregator
	feed  *store.Feed
	tok   *token.Ledger
	sink  *recordingSink
	slot  uint64
	nonce uint8

	programID, address, owner solana.PublicKey
	mint, vault               solana.PublicKey
	billing                   *accesscontroller.AccessController
	billingAdmin              solana.PublicKey

	// oracles in signer order, as the aggregator stores them
	oracles []testOracle
}

const vaultFunds = 1_000_000_000

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := tests.Context(t)
	lggr := logger.Test(t)
	keys := newKeySource(11)
	e := &testEnv{ctx: ctx, keys: keys, sink: &recordingSink{}}

	e.programID = keys.next(t)
	e.address = keys.next(t)
	e.owner = keys.next(t)
	e.mint = keys.next(t)
	e.vault = keys.next(t)
	e.billingAdmin = keys.next(t)

	vaultAuthority, _, err := VaultAuthority(e.programID, e.address)
	require.NoError(t, err)
	e.tok = token.NewLedger(lggr)
	require.NoError(t, e.tok.CreateAccount(e.vault, e.mint, vaultAuthority))
	require.NoError(t, e.tok.MintTo(e.vault, vaultFunds))

	clock := store.ClockFunc(func() uint64 { return e.slot })
	params := store.FeedParams{Description: "LINK / USD", Decimals: 8, Granularity: 5, LiveLength: 8, HistoricalLength: 4}
	e.feed, err = store.CreateFeed(store.FeedOpts{Logger: lggr, Clock: clock}, keys.next(t), e.owner, params, make([]byte, params.AccountSize()))
	require.NoError(t, err)
	storeAuthority, nonce, err := StoreAuthority(e.programID, e.address)
	require.NoError(t, err)
	require.NoError(t, e.feed.SetWriter(e.owner, storeAuthority))
	e.nonce = nonce

	e.billing = accesscontroller.New(e.owner)
	require.NoError(t, e.billing.AddAccess(e.owner, e.billingAdmin))

	e.agg, err = Initialize(ctx, Opts{
		Logger:                  lggr,
		ProgramID:               e.programID,
		Address:                 e.address,
		Tokens:                  e.tok,
		Feed:                    e.feed,
		BillingAccessController: e.billing,
		Events:                  e.sink,
		Fees:                    FixedFee(2),
		Clock:                   clock,
	}, e.owner, Params{
		MinAnswer:  big.NewInt(-1_000_000),
		MaxAnswer:  big.NewInt(1_000_000),
		TokenMint:  e.mint,
		TokenVault: e.vault,
	})
	require.NoError(t, err)
	return e
}

// newOracles generates n oracles with payee accounts, sorted by signer.
func (e *testEnv) newOracles(t *testing.T, n int) []testOracle {
	t.Helper()
	oracles := make([]testOracle, n)
	for i := range oracles {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		o := testOracle{
			key:         key,
			signer:      SigningKeyFromAddress(crypto.PubkeyToAddress(key.PublicKey)),
			transmitter: e.keys.next(t),
			payee:       e.keys.next(t),
			payeeOwner:  e.keys.next(t),
		}
		require.NoError(t, e.tok.CreateAccount(o.payee, e.mint, o.payeeOwner))
		oracles[i] = o
	}
	slices.SortFunc(oracles, func(a, b testOracle) int { return compareSigningKeys(a.signer, b.signer) })
	return oracles
}

func newOracleSet(oracles []testOracle) []NewOracle {
	out := make([]NewOracle, len(oracles))
	for i, o := range oracles {
		out[i] = NewOracle{Signer: o.signer, Transmitter: o.transmitter}
	}
	return out
}

func payeesOf(oracles []testOracle) []solana.PublicKey {
	out := make([]solana.PublicKey, len(oracles))
	for i, o := range oracles {
		out[i] = o.payee
	}
	return out
}

// configure installs n oracles with f faulty and sets their payees.
func (e *testEnv) configure(t *testing.T, n int, f uint8) {
	t.Helper()
	e.oracles = e.newOracles(t, n)
	require.NoError(t, e.agg.SetConfig(e.ctx, e.owner, newOracleSet(e.oracles), f))
	require.NoError(t, e.agg.SetPayees(e.ctx, e.owner, payeesOf(e.oracles)))
}

type reportArgs struct {
	epoch           uint32
	round           uint8
	median          int64
	observerCount   uint8
	juelsPerLamport uint64
	timestamp       uint32
	// indices into the oracles that sign, defaults to the first f+1
	signers []int
	digest  *[32]byte
}

// transmission builds a signed transmit payload.
func (e *testEnv) transmission(t *testing.T, args reportArgs) []byte {
	t.Helper()
	cfg := e.agg.Config()
	if args.signers == nil {
		for i := 0; i <= int(cfg.F); i++ {
			args.signers = append(args.signers, i)
		}
	}
	if args.observerCount == 0 {
		args.observerCount = cfg.F + 1
	}
	if args.timestamp == 0 {
		args.timestamp = 1_700_000_000
	}
	rc := ReportContext{ConfigDigest: cfg.LatestConfigDigest, Epoch: args.epoch, Round: args.round}
	if args.digest != nil {
		copy(rc.ConfigDigest[:], args.digest[:])
	}
	report := Report{
		ObservationsTimestamp: args.timestamp,
		ObserverCount:         args.observerCount,
		Median:                big.NewInt(args.median),
		JuelsPerLamport:       args.juelsPerLamport,
	}
	for i := range report.Observers {
		report.Observers[i] = uint8(i)
	}
	rawReport, err := report.Encode()
	require.NoError(t, err)
	rawContext := rc.Encode()
	hash := ReportHash(rawReport, rawContext)
	var sigs []byte
	for _, i := range args.signers {
		sig, err := crypto.Sign(hash[:], e.oracles[i].key)
		require.NoError(t, err)
		sigs = append(sigs, sig...)
	}
	return Transmission{StoreNonce: e.nonce, RawContext: rawContext, RawReport: rawReport, RawSignatures: sigs}.Encode()
}
