package store

import (
	"fmt"
	"math"
	"math/bits"
)

// Ledger keeps two ring buffers over a single backing slice: a live ring that
// holds every round, followed by a historical ring that holds every
// granularity'th round. Older rounds are therefore retained at decreasing
// resolution.
type Ledger struct {
	LatestRoundID    uint32
	Granularity      uint8
	LiveLength       uint32
	LiveCursor       uint32
	HistoricalCursor uint32

	live       []byte
	historical []byte
}

// NewLedger slices data into the live and historical rings. The cursors and
// latest round are taken from the header values passed in, so a ledger can be
// reopened over previously written data.
func NewLedger(h LedgerHeader, data []byte) (*Ledger, error) {
	if h.Granularity == 0 {
		return nil, fmt.Errorf("granularity must be greater than zero; %w", ErrInvalidInput)
	}
	if h.LiveLength == 0 {
		return nil, fmt.Errorf("live length must be greater than zero; %w", ErrInvalidInput)
	}
	if len(data)%TransmissionSize != 0 {
		return nil, fmt.Errorf("ring data of %d bytes is not a multiple of %d; %w", len(data), TransmissionSize, ErrInsufficientSize)
	}
	capacity := uint32(len(data) / TransmissionSize)
	if h.LiveLength > capacity {
		return nil, fmt.Errorf("live length %d exceeds capacity %d; %w", h.LiveLength, capacity, ErrInvalidInput)
	}
	split := int(h.LiveLength) * TransmissionSize
	l := &Ledger{
		LatestRoundID:    h.LatestRoundID,
		Granularity:      h.Granularity,
		LiveLength:       h.LiveLength,
		LiveCursor:       h.LiveCursor,
		HistoricalCursor: h.HistoricalCursor,
		live:             data[:split],
		historical:       data[split:],
	}
	if l.LiveCursor >= l.LiveLength || (l.HistoricalCursor > 0 && l.HistoricalCursor >= l.HistoricalLength()) {
		return nil, fmt.Errorf("cursor out of range (live %d/%d, historical %d/%d); %w",
			l.LiveCursor, l.LiveLength, l.HistoricalCursor, l.HistoricalLength(), ErrInvalidInput)
	}
	return l, nil
}

// LedgerHeader is the persisted part of a Ledger.
type LedgerHeader struct {
	LatestRoundID    uint32
	Granularity      uint8
	LiveLength       uint32
	LiveCursor       uint32
	HistoricalCursor uint32
}

func (l *Ledger) Header() LedgerHeader {
	return LedgerHeader{
		LatestRoundID:    l.LatestRoundID,
		Granularity:      l.Granularity,
		LiveLength:       l.LiveLength,
		LiveCursor:       l.LiveCursor,
		HistoricalCursor: l.HistoricalCursor,
	}
}

func (l *Ledger) HistoricalLength() uint32 {
	return uint32(len(l.historical) / TransmissionSize)
}

func record(ring []byte, i uint32) []byte {
	off := int(i) * TransmissionSize
	return ring[off : off+TransmissionSize]
}

// Insert appends round as latest+1. The record is encoded before any cursor
// moves, so a failed insert leaves the ledger untouched.
func (l *Ledger) Insert(round Transmission) error {
	if l.LatestRoundID == ^uint32(0) {
		return fmt.Errorf("round id would wrap; %w", ErrInvalidInput)
	}
	var rec [TransmissionSize]byte
	if err := putTransmission(rec[:], round); err != nil {
		return err
	}

	next := l.nextHeader()
	copy(record(l.live, l.LiveCursor), rec[:])
	if l.historicalDue(next.LatestRoundID) {
		copy(record(l.historical, l.HistoricalCursor), rec[:])
	}
	l.LatestRoundID = next.LatestRoundID
	l.LiveCursor = next.LiveCursor
	l.HistoricalCursor = next.HistoricalCursor
	return nil
}

// nextHeader is the header the ledger has after one more successful Insert.
func (l *Ledger) nextHeader() LedgerHeader {
	h := l.Header()
	h.LatestRoundID++
	h.LiveCursor = (h.LiveCursor + 1) % h.LiveLength
	if l.historicalDue(h.LatestRoundID) {
		h.HistoricalCursor = (h.HistoricalCursor + 1) % l.HistoricalLength()
	}
	return h
}

// historicalDue reports whether roundID is also written to the historical ring.
func (l *Ledger) historicalDue(roundID uint32) bool {
	return l.HistoricalLength() > 0 && roundID%uint32(l.Granularity) == 0
}

// Latest returns the most recently inserted round.
func (l *Ledger) Latest() (Transmission, bool) {
	if l.LatestRoundID == 0 {
		return Transmission{}, false
	}
	i := (l.LiveCursor + l.LiveLength - 1) % l.LiveLength
	t, err := getTransmission(record(l.live, i))
	if err != nil {
		return Transmission{}, false
	}
	return t, true
}

// Fetch returns the round with the given id while it is still in the live
// window. Older rounds resolve to the closest preceding historical sample,
// i.e. roundID rounded down to a multiple of the granularity.
func (l *Ledger) Fetch(roundID uint32) (Transmission, bool) {
	latest := l.LatestRoundID
	if roundID == 0 || roundID > latest {
		return Transmission{}, false
	}

	liveStart := saturatingSub(latest, l.LiveLength-1)
	if roundID >= liveStart {
		offset := latest - roundID + 1
		return l.at(l.live, ringIndex(l.LiveCursor, offset, l.LiveLength))
	}

	hl := l.HistoricalLength()
	if hl == 0 {
		return Transmission{}, false
	}
	granularity := uint32(l.Granularity)
	historicalEnd := latest - latest%granularity
	historicalStart := saturatingSub(historicalEnd, saturatingMul(granularity, hl-1))
	if roundID < historicalStart || roundID > historicalEnd {
		return Transmission{}, false
	}
	rounded := roundID - roundID%granularity
	if rounded == 0 {
		return Transmission{}, false
	}
	offset := (historicalEnd-rounded)/granularity + 1
	return l.at(l.historical, ringIndex(l.HistoricalCursor, offset, hl))
}

func (l *Ledger) at(ring []byte, i uint32) (Transmission, bool) {
	t, err := getTransmission(record(ring, i))
	if err != nil {
		return Transmission{}, false
	}
	return t, true
}

// ringIndex steps offset slots back from cursor, wrapping around length.
func ringIndex(cursor, offset, length uint32) uint32 {
	if cursor >= offset {
		return cursor - offset
	}
	return length - (offset - cursor)
}

func saturatingMul(a, b uint32) uint32 {
	hi, lo := bits.Mul32(a, b)
	if hi != 0 {
		return math.MaxUint32
	}
	return lo
}

func saturatingSub(a, b uint32) uint32 {
	if b > a {
		return 0
	}
	return a - b
}
