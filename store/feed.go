package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/goccy/go-json"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"

	"github.com/smartcontractkit/chainlink-solana-feeds/pkg/ownership"
)

type FeedState uint8

const (
	FeedNormal FeedState = iota
	FeedFlagged
)

func (s FeedState) String() string {
	switch s {
	case FeedNormal:
		return "normal"
	case FeedFlagged:
		return "flagged"
	default:
		return fmt.Sprintf("FeedState(%d)", uint8(s))
	}
}

// AccessChecker is a membership test against an access list.
type AccessChecker interface {
	HasAccess(address solana.PublicKey) bool
}

// Clock provides the slot stamped on each submitted round.
type Clock interface {
	Slot() uint64
}

type ClockFunc func() uint64

func (f ClockFunc) Slot() uint64 { return f() }

// StoreLookup resolves a feed owner key to a Store account, if it is one.
type StoreLookup interface {
	Store(address solana.PublicKey) (*Store, bool)
}

// FeedParams are the creation parameters of a feed.
type FeedParams struct {
	Description      string `json:"description"`
	Decimals         uint8  `json:"decimals"`
	Granularity      uint8  `json:"granularity"`
	LiveLength       uint32 `json:"liveLength"`
	HistoricalLength uint32 `json:"historicalLength"`
}

func (p *FeedParams) Decode(r io.Reader) error {
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(p); err != nil {
		return fmt.Errorf("failed to decode feed params; %w", err)
	}
	return p.Validate()
}

func (p FeedParams) Validate() error {
	var merr error
	if len(p.Description) > DescriptionLen {
		merr = errors.Join(merr, fmt.Errorf("description is %d bytes, max is %d", len(p.Description), DescriptionLen))
	}
	if p.Granularity == 0 {
		merr = errors.Join(merr, errors.New("granularity must be greater than zero"))
	}
	if p.LiveLength == 0 {
		merr = errors.Join(merr, errors.New("live length must be greater than zero"))
	}
	if merr != nil {
		return fmt.Errorf("invalid feed params: %w; %w", merr, ErrInvalidInput)
	}
	return nil
}

// AccountSize is the account length that fits both rings.
func (p FeedParams) AccountSize() int {
	return AccountSize(p.LiveLength + p.HistoricalLength)
}

type FeedOpts struct {
	Logger logger.Logger
	Clock  Clock
	// Stores is optional; it is only needed for feeds owned by a Store.
	Stores StoreLookup
}

// Feed is a transmissions account: a header followed by the live and
// historical rings, all backed by a single byte slice.
type Feed struct {
	mu      sync.RWMutex
	lggr    logger.SugaredLogger
	clock   Clock
	stores  StoreLookup
	address solana.PublicKey
	account []byte

	header feedHeader
	ledger *Ledger
	closed bool
}

// CreateFeed initializes a zeroed account as a feed owned by authority.
func CreateFeed(opts FeedOpts, address, authority solana.PublicKey, params FeedParams, account []byte) (*Feed, error) {
	if len(account) < HeaderSize || (len(account)-HeaderSize)%TransmissionSize != 0 {
		return nil, fmt.Errorf("account has %d bytes, need %d + n*%d; %w", len(account), HeaderSize, TransmissionSize, ErrInsufficientSize)
	}
	if !bytes.Equal(account[:discriminatorLen], make([]byte, discriminatorLen)) {
		return nil, fmt.Errorf("account %s is already initialized; %w", address, ErrInvalidInput)
	}
	space := uint32((len(account) - HeaderSize) / TransmissionSize)
	if params.LiveLength > space {
		return nil, fmt.Errorf("live length %d exceeds capacity %d; %w", params.LiveLength, space, ErrInvalidInput)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	h := feedHeader{
		Version:  FeedVersion,
		State:    FeedNormal,
		Owner:    authority,
		Decimals: params.Decimals,
		Ledger: LedgerHeader{
			Granularity: params.Granularity,
			LiveLength:  params.LiveLength,
		},
	}
	copy(h.Description[:], params.Description)
	if err := putHeader(account, h); err != nil {
		return nil, err
	}
	f, err := LoadFeed(opts, address, account)
	if err != nil {
		return nil, err
	}
	f.lggr.Infow("Created feed", "description", params.Description, "decimals", params.Decimals,
		"granularity", params.Granularity, "liveLength", params.LiveLength, "historicalLength", f.ledger.HistoricalLength())
	return f, nil
}

// LoadFeed opens a previously created feed account.
func LoadFeed(opts FeedOpts, address solana.PublicKey, account []byte) (*Feed, error) {
	h, err := getHeader(account)
	if err != nil {
		return nil, err
	}
	ledger, err := NewLedger(h.Ledger, account[HeaderSize:])
	if err != nil {
		return nil, err
	}
	lggr := opts.Logger
	if lggr == nil {
		lggr = logger.Nop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = ClockFunc(func() uint64 { return 0 })
	}
	return &Feed{
		lggr:    logger.Sugared(lggr).Named("Feed").With("feed", address.String()),
		clock:   clock,
		stores:  opts.Stores,
		address: address,
		account: account,
		header:  h,
		ledger:  ledger,
	}, nil
}

// flush writes the in-memory header back to the account. Callers hold mu.
func (f *Feed) flush() error {
	f.header.Ledger = f.ledger.Header()
	return putHeader(f.account, f.header)
}

func (f *Feed) checkOpen() error {
	if f.closed {
		return ErrClosed
	}
	return nil
}

// resolveOwner maps a Store-owned key to the Store's owner.
func (f *Feed) resolveOwner(key solana.PublicKey) solana.PublicKey {
	if f.stores != nil {
		if s, ok := f.stores.Store(key); ok {
			return s.Owner()
		}
	}
	return key
}

func (f *Feed) requireOwner(authority solana.PublicKey) error {
	own := f.ownable()
	return own.RequireOwner(authority)
}

func (f *Feed) Address() solana.PublicKey { return f.address }

func (f *Feed) Owner() solana.PublicKey {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.header.Owner
}

func (f *Feed) Writer() solana.PublicKey {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.header.Writer
}

func (f *Feed) State() FeedState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.header.State
}

func (f *Feed) Decimals() uint8 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.header.Decimals
}

func (f *Feed) FlaggingThreshold() uint32 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.header.FlaggingThreshold
}

// Description returns the description up to the first null byte.
func (f *Feed) Description() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return description(f.header.Description)
}

func description(raw [DescriptionLen]byte) string {
	if i := bytes.IndexByte(raw[:], 0); i >= 0 {
		return string(raw[:i])
	}
	return string(raw[:])
}

// ownable views the header's owner keys with Store owned keys resolved to
// the Store's owner.
func (f *Feed) ownable() ownership.Ownable {
	return ownership.Ownable{
		Owner:         f.resolveOwner(f.header.Owner),
		ProposedOwner: f.resolveOwner(f.header.ProposedOwner),
	}
}

func (f *Feed) TransferOwnership(authority, proposedOwner solana.PublicKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkOpen(); err != nil {
		return err
	}
	own := f.ownable()
	if err := own.TransferOwnership(authority, proposedOwner); err != nil {
		return err
	}
	f.header.ProposedOwner = proposedOwner
	return f.flush()
}

// AcceptOwnership completes a transfer. If the proposed owner is a Store, its
// owner has to sign.
func (f *Feed) AcceptOwnership(authority solana.PublicKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkOpen(); err != nil {
		return err
	}
	proposed := f.header.ProposedOwner
	own := f.ownable()
	if err := own.AcceptOwnership(authority); err != nil {
		return err
	}
	f.header.Owner = proposed
	f.header.ProposedOwner = solana.PublicKey{}
	return f.flush()
}

func (f *Feed) SetValidatorConfig(authority solana.PublicKey, flaggingThreshold uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkOpen(); err != nil {
		return err
	}
	if err := f.requireOwner(authority); err != nil {
		return err
	}
	f.header.FlaggingThreshold = flaggingThreshold
	return f.flush()
}

// SetWriter authorizes writer to submit rounds. Only one writer is allowed
// at a time.
func (f *Feed) SetWriter(authority, writer solana.PublicKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkOpen(); err != nil {
		return err
	}
	if err := f.requireOwner(authority); err != nil {
		return err
	}
	f.header.Writer = writer
	f.lggr.Infow("Set writer", "writer", writer.String())
	return f.flush()
}

// LowerFlag resets the feed state to normal. Feeds owned by a Store can also
// be lowered by anyone on the store's lowering access list.
func (f *Feed) LowerFlag(authority solana.PublicKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkOpen(); err != nil {
		return err
	}
	if err := f.requireLowering(authority); err != nil {
		return err
	}
	f.header.State = FeedNormal
	return f.flush()
}

func (f *Feed) requireLowering(authority solana.PublicKey) error {
	if f.stores != nil {
		if s, ok := f.stores.Store(f.header.Owner); ok {
			if s.Owner().Equals(authority) {
				return nil
			}
			ac := s.LoweringAccessController()
			if ac == nil || !ac.HasAccess(authority) {
				return ErrUnauthorized
			}
			return nil
		}
	}
	if !f.header.Owner.Equals(authority) {
		return ErrUnauthorized
	}
	return nil
}

// Submit appends a round. Only the configured writer may submit. If the new
// answer deviates from the previous one by more than the flagging threshold
// the feed is flagged, but the round is still stored.
func (f *Feed) Submit(ctx context.Context, authority solana.PublicKey, round NewTransmission) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkOpen(); err != nil {
		return err
	}
	if f.header.Writer.IsZero() || !f.header.Writer.Equals(authority) {
		return fmt.Errorf("%s is not the writer of feed %s; %w", authority, f.address, ErrUnauthorized)
	}
	if round.Timestamp > math.MaxUint32 {
		return fmt.Errorf("timestamp %d does not fit in u32; %w", round.Timestamp, ErrInvalidInput)
	}

	t := Transmission{
		Slot:      f.clock.Slot(),
		Timestamp: uint32(round.Timestamp),
		Answer:    round.Answer,
	}
	// The header is encoded up front so that nothing is written unless both
	// the record and the header can be.
	header := f.header
	header.Ledger = f.ledger.nextHeader()
	previous, hasPrevious := f.ledger.Latest()
	flagged := hasPrevious && !IsValid(header.FlaggingThreshold, previous.Answer, t.Answer)
	if flagged {
		header.State = FeedFlagged
	}
	encoded, err := encodeHeader(header)
	if err != nil {
		return err
	}
	if len(f.account) < HeaderSize {
		return ErrInsufficientSize
	}
	if err = f.ledger.Insert(t); err != nil {
		return err
	}
	f.header = header
	if flagged {
		f.lggr.Warnw("Raised deviation flag", "roundID", header.Ledger.LatestRoundID,
			"previousAnswer", previous.Answer, "answer", t.Answer, "threshold", header.FlaggingThreshold)
	}
	return writeHeader(f.account, encoded)
}

// LatestRound returns the latest round and its id.
func (f *Feed) LatestRound() (Round, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.latestRound()
}

func (f *Feed) latestRound() (Round, bool) {
	t, ok := f.ledger.Latest()
	if !ok {
		return Round{}, false
	}
	return newRound(f.ledger.LatestRoundID, t), true
}

// Fetch returns the round for roundID, see Ledger.Fetch.
func (f *Feed) Fetch(roundID uint32) (Round, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.ledger.Fetch(roundID)
	if !ok {
		return Round{}, false
	}
	return newRound(roundID, t), true
}

func (f *Feed) LatestRoundID() uint32 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.ledger.LatestRoundID
}

// Close wipes the account. Every later call on the feed fails.
func (f *Feed) Close(authority solana.PublicKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkOpen(); err != nil {
		return err
	}
	if err := f.requireOwner(authority); err != nil {
		return err
	}
	clear(f.account)
	f.closed = true
	f.lggr.Infow("Closed feed")
	return nil
}
