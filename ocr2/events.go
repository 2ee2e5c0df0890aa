package ocr2

import (
	"context"
	"errors"
	"math/big"

	"github.com/gagliardetto/solana-go"
	ocr2types "github.com/smartcontractkit/libocr/offchainreporting2plus/types"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"
)

// Event is emitted by an aggregator after a successful state change.
type Event interface {
	EventName() string
}

type NewTransmission struct {
	RoundID               uint32                 `json:"roundId"`
	ConfigDigest          ocr2types.ConfigDigest `json:"configDigest"`
	Answer                *big.Int               `json:"answer"`
	Transmitter           uint8                  `json:"transmitter"`
	ObservationsTimestamp uint32                 `json:"observationsTimestamp"`
	ObserverCount         uint8                  `json:"observerCount"`
	Observers             [MaxOracles]uint8      `json:"observers"`
	JuelsPerLamport       uint64                 `json:"juelsPerLamport"`
	Reimbursement         uint64                 `json:"reimbursement"`
}

func (NewTransmission) EventName() string { return "NewTransmission" }

type SetConfig struct {
	ConfigDigest ocr2types.ConfigDigest `json:"configDigest"`
	F            uint8                  `json:"f"`
	Signers      []SigningKey           `json:"signers"`
}

func (SetConfig) EventName() string { return "SetConfig" }

type SetBilling struct {
	ObservationPaymentGjuels  uint32 `json:"observationPaymentGjuels"`
	TransmissionPaymentGjuels uint32 `json:"transmissionPaymentGjuels"`
}

func (SetBilling) EventName() string { return "SetBilling" }

type RoundRequested struct {
	Requester    solana.PublicKey       `json:"requester"`
	ConfigDigest ocr2types.ConfigDigest `json:"configDigest"`
	Round        uint8                  `json:"round"`
	Epoch        uint32                 `json:"epoch"`
}

func (RoundRequested) EventName() string { return "RoundRequested" }

// EventSink receives the events of one or more aggregators.
type EventSink interface {
	Emit(ctx context.Context, aggregator solana.PublicKey, event Event) error
}

var (
	_ EventSink = (*LoggerSink)(nil)
	_ EventSink = FanoutSink(nil)
)

// LoggerSink writes events to a logger.
type LoggerSink struct {
	lggr logger.SugaredLogger
}

func NewLoggerSink(lggr logger.Logger) *LoggerSink {
	return &LoggerSink{lggr: logger.Sugared(lggr).Named("Events")}
}

func (s *LoggerSink) Emit(_ context.Context, aggregator solana.PublicKey, event Event) error {
	s.lggr.Infow(event.EventName(), "aggregator", aggregator.String(), "event", event)
	return nil
}

// FanoutSink emits every event to all of its sinks.
type FanoutSink []EventSink

func (f FanoutSink) Emit(ctx context.Context, aggregator solana.PublicKey, event Event) error {
	var errs error
	for _, s := range f {
		errs = errors.Join(errs, s.Emit(ctx, aggregator, event))
	}
	return errs
}
