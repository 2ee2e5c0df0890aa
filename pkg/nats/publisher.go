package nats

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/gagliardetto/solana-go"
	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
	"github.com/mr-tron/base58"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/smartcontractkit/chainlink-common/pkg/services"

	"github.com/smartcontractkit/chainlink-solana-feeds/ocr2"
)

const (
	HeaderContentEncoding = "Content-Encoding"
	HeaderEvent           = "Ocr2-Event"
	encodingZstd          = "zstd"
)

var promPublishCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ocr2",
	Subsystem: "events",
	Name:      "nats_publish_count",
	Help:      "Number of aggregator events published to NATS, by event and result",
},
	[]string{"event", "result"},
)

// Envelope is the message body of every published event.
type Envelope struct {
	Aggregator string          `json:"aggregator"`
	Event      string          `json:"event"`
	Payload    json.RawMessage `json:"payload"`
}

// Decode unmarshals the payload into v, e.g. an *ocr2.NewTransmission.
func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Publisher is an ocr2.EventSink that forwards events to JetStream.
type Publisher interface {
	services.Service
	ocr2.EventSink
}

var _ Publisher = (*publisher)(nil)

type publisher struct {
	services.Service
	eng *services.Engine

	opts    PublisherOpts
	client  Client
	encoder *zstd.Encoder

	hashPool sync.Pool
}

func NewPublisher(opts PublisherOpts) (Publisher, error) {
	opts.setDefaults()
	if err := opts.verifyConfig(); err != nil {
		return nil, err
	}
	c, err := NewClient(opts.Client)
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS client: %w", err)
	}
	return newPublisher(opts, c)
}

func newPublisher(opts PublisherOpts, c Client) (*publisher, error) {
	p := &publisher{opts: opts, client: c}
	p.hashPool.New = func() any { return xxhash.New() }
	if opts.Compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		p.encoder = enc
	}
	p.Service, p.eng = services.Config{
		Name:  "NATSPublisher",
		Start: p.start,
		NewSubServices: func(logger.Logger) []services.Service {
			return []services.Service{c}
		},
	}.NewServiceEngine(opts.Logger)
	return p, nil
}

func (p *publisher) start(ctx context.Context) error {
	if p.opts.Stream == "" {
		return nil
	}
	return p.client.EnsureStream(ctx, &nats.StreamConfig{
		Name:       p.opts.Stream,
		Subjects:   []string{p.opts.SubjectPrefix + ".>"},
		Storage:    nats.FileStorage,
		MaxAge:     p.opts.MaxAge,
		Duplicates: p.opts.DedupeWindow,
	})
}

// Subject is where events of one aggregator are published.
func (p *publisher) Subject(aggregator solana.PublicKey, event string) string {
	return fmt.Sprintf("%s.%s.%s", p.opts.SubjectPrefix, aggregator, event)
}

func (p *publisher) Emit(ctx context.Context, aggregator solana.PublicKey, event ocr2.Event) (err error) {
	name := event.EventName()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		promPublishCount.WithLabelValues(name, result).Inc()
	}()

	msg, msgID, err := p.encode(aggregator, event)
	if err != nil {
		return err
	}
	if err = p.client.Publish(ctx, msg, msgID); err != nil {
		p.eng.Errorw("Failed to publish event", "aggregator", aggregator, "event", name, "err", err)
		return err
	}
	p.eng.Debugw("Published event", "subject", msg.Subject, "msgID", msgID, "size", len(msg.Data))
	return nil
}

// encode builds the message for an event. The message id is derived from the
// subject and the uncompressed body, so a re-emitted event is deduplicated by
// the stream.
func (p *publisher) encode(aggregator solana.PublicKey, event ocr2.Event) (*nats.Msg, string, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal %s; %w", event.EventName(), err)
	}
	body, err := json.Marshal(Envelope{
		Aggregator: aggregator.String(),
		Event:      event.EventName(),
		Payload:    payload,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal envelope; %w", err)
	}

	msg := nats.NewMsg(p.Subject(aggregator, event.EventName()))
	msg.Header.Set(HeaderEvent, event.EventName())

	h := p.hashPool.Get().(*xxhash.Digest)
	defer p.hashPool.Put(h)
	h.Reset()
	_, _ = h.WriteString(msg.Subject)
	_, _ = h.Write(body)
	msgID := base58.Encode(h.Sum(nil))

	if p.encoder != nil {
		body = p.encoder.EncodeAll(body, nil)
		msg.Header.Set(HeaderContentEncoding, encodingZstd)
	}
	msg.Data = body
	return msg, msgID, nil
}

var (
	decoderOnce sync.Once
	decoder     *zstd.Decoder
	decoderErr  error
)

func zstdDecoder() (*zstd.Decoder, error) {
	decoderOnce.Do(func() {
		decoder, decoderErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
	return decoder, decoderErr
}

// DecodeMsg reads an event published by a Publisher.
func DecodeMsg(msg *nats.Msg) (Envelope, error) {
	body := msg.Data
	switch enc := msg.Header.Get(HeaderContentEncoding); enc {
	case "":
	case encodingZstd:
		d, err := zstdDecoder()
		if err != nil {
			return Envelope{}, err
		}
		if body, err = d.DecodeAll(body, nil); err != nil {
			return Envelope{}, fmt.Errorf("failed to decompress event; %w", err)
		}
	default:
		return Envelope{}, fmt.Errorf("unsupported content encoding %q", enc)
	}

	var e Envelope
	if err := json.Unmarshal(body, &e); err != nil {
		return Envelope{}, fmt.Errorf("failed to unmarshal envelope; %w", err)
	}
	if e.Event == "" {
		return Envelope{}, errors.New("envelope has no event name")
	}
	return e, nil
}
