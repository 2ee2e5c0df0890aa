package rpc

import (
	"context"
	"crypto"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/smartcontractkit/chainlink-common/pkg/services"

	"github.com/smartcontractkit/chainlink-solana-feeds/rpc/mtls"
	"github.com/smartcontractkit/chainlink-solana-feeds/store"
)

const clientPublicKeyHeader = "client_public_key"

// Client reads feeds from a query server.
type Client interface {
	services.Service
	// Query returns the raw Borsh response for scope.
	Query(ctx context.Context, feed solana.PublicKey, scope store.Scope) ([]byte, error)
	Version(ctx context.Context, feed solana.PublicKey) (uint8, error)
	Decimals(ctx context.Context, feed solana.PublicKey) (uint8, error)
	Description(ctx context.Context, feed solana.PublicKey) (string, error)
	RoundData(ctx context.Context, feed solana.PublicKey, roundID uint32) (store.Round, error)
	LatestRoundData(ctx context.Context, feed solana.PublicKey) (store.Round, error)
	Aggregator(ctx context.Context, feed solana.PublicKey) (solana.PublicKey, error)
	ServerURL() string
}

var (
	_ Client = (*client)(nil)

	promClientQueryCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ocr2",
		Subsystem: "query",
		Name:      "grpc_client_query_count",
		Help:      "Number of feed queries sent to the server",
	},
		[]string{"server_url", "status"},
	)
	promClientQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ocr2",
		Subsystem: "query",
		Name:      "grpc_client_query_duration_ms",
		Help:      "Duration of successful feed queries in milliseconds",
		Buckets: []float64{
			5, 10, 25, 50, 100, 250, 500, 1000,
		},
	},
		[]string{"server_url"},
	)
)

type ClientOpts struct {
	Logger       logger.Logger
	ClientSigner crypto.Signer
	ServerPubKey ed25519.PublicKey
	ServerURL    string
	// Dialer replaces the default TCP dialer, e.g. with an in-memory one.
	Dialer func(ctx context.Context, addr string) (net.Conn, error)
}

func (o *ClientOpts) verifyConfig() error {
	var errs []error
	if o.Logger == nil {
		errs = append(errs, errors.New("logger is required for query client"))
	}
	if o.ClientSigner == nil {
		errs = append(errs, errors.New("client signer is required for query client"))
	} else if _, ok := o.ClientSigner.Public().(ed25519.PublicKey); !ok {
		errs = append(errs, errors.New("client signer must hold an ed25519 key"))
	}
	if len(o.ServerPubKey) != ed25519.PublicKeySize {
		errs = append(errs, errors.New("server public key is required for query client"))
	}
	if o.ServerURL == "" {
		errs = append(errs, errors.New("server URL is required for query client"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid query client configuration: %v", errs)
	}
	return nil
}

type client struct {
	services.Service
	eng *services.Engine

	opts            ClientOpts
	clientPubKeyHex string

	conn *grpc.ClientConn
}

func NewClient(opts ClientOpts) (Client, error) {
	if err := opts.verifyConfig(); err != nil {
		return nil, err
	}
	c := &client{
		opts:            opts,
		clientPubKeyHex: hex.EncodeToString(opts.ClientSigner.Public().(ed25519.PublicKey)),
	}
	c.Service, c.eng = services.Config{
		Name:  "GRPCQueryClient",
		Start: c.start,
		Close: c.close,
	}.NewServiceEngine(opts.Logger)
	return c, nil
}

func (c *client) start(context.Context) error {
	cMtls, err := mtls.NewTransportSigner(c.opts.ClientSigner, []ed25519.PublicKey{c.opts.ServerPubKey})
	if err != nil {
		return fmt.Errorf("failed to create client mTLS credentials: %w", err)
	}
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(cMtls),
		grpc.WithConnectParams(
			grpc.ConnectParams{
				Backoff: backoff.Config{
					BaseDelay:  500 * time.Millisecond,
					Multiplier: 2,
					Jitter:     0.2,
					MaxDelay:   30 * time.Second,
				},
				MinConnectTimeout: time.Second,
			},
		),
		grpc.WithKeepaliveParams(
			keepalive.ClientParameters{
				Time:                10 * time.Second,
				Timeout:             20 * time.Second,
				PermitWithoutStream: true,
			}),
	}
	if c.opts.Dialer != nil {
		dialOpts = append(dialOpts, grpc.WithContextDialer(c.opts.Dialer))
	}
	conn, err := grpc.NewClient(c.opts.ServerURL, dialOpts...)
	if err != nil {
		return fmt.Errorf("failed to create client connection: %w", err)
	}
	c.conn = conn
	return nil
}

func (c *client) close() error {
	return c.conn.Close()
}

func (c *client) Query(ctx context.Context, feed solana.PublicKey, scope store.Scope) (resp []byte, err error) {
	req, err := QueryRequest{Feed: feed, Scope: scope}.MarshalBinary()
	if err != nil {
		return nil, err
	}

	startTime := time.Now()
	err = c.eng.IfStarted(func() error {
		// self-identified, the server trusts the certificate instead
		qctx := metadata.AppendToOutgoingContext(ctx, clientPublicKeyHeader, c.clientPubKeyHex)
		out := new(wrapperspb.BytesValue)
		if err := c.conn.Invoke(qctx, queryMethod, wrapperspb.Bytes(req), out); err != nil {
			return err
		}
		resp = out.GetValue()
		return nil
	})

	if err == nil {
		promClientQueryDuration.WithLabelValues(c.opts.ServerURL).Observe(float64(time.Since(startTime).Milliseconds()))
	}
	promClientQueryCount.WithLabelValues(c.opts.ServerURL, status.Code(err).String()).Inc()
	if err != nil {
		return nil, fromStatus(err)
	}
	return resp, nil
}

func (c *client) Version(ctx context.Context, feed solana.PublicKey) (uint8, error) {
	b, err := c.Query(ctx, feed, store.Scope{Kind: store.ScopeVersion})
	if err != nil {
		return 0, err
	}
	return store.DecodeUint8(b)
}

func (c *client) Decimals(ctx context.Context, feed solana.PublicKey) (uint8, error) {
	b, err := c.Query(ctx, feed, store.Scope{Kind: store.ScopeDecimals})
	if err != nil {
		return 0, err
	}
	return store.DecodeUint8(b)
}

func (c *client) Description(ctx context.Context, feed solana.PublicKey) (string, error) {
	b, err := c.Query(ctx, feed, store.Scope{Kind: store.ScopeDescription})
	if err != nil {
		return "", err
	}
	return store.DecodeDescription(b)
}

func (c *client) RoundData(ctx context.Context, feed solana.PublicKey, roundID uint32) (store.Round, error) {
	b, err := c.Query(ctx, feed, store.RoundDataScope(roundID))
	if err != nil {
		return store.Round{}, err
	}
	return store.DecodeRound(b)
}

func (c *client) LatestRoundData(ctx context.Context, feed solana.PublicKey) (store.Round, error) {
	b, err := c.Query(ctx, feed, store.Scope{Kind: store.ScopeLatestRoundData})
	if err != nil {
		return store.Round{}, err
	}
	return store.DecodeRound(b)
}

func (c *client) Aggregator(ctx context.Context, feed solana.PublicKey) (solana.PublicKey, error) {
	b, err := c.Query(ctx, feed, store.Scope{Kind: store.ScopeAggregator})
	if err != nil {
		return solana.PublicKey{}, err
	}
	return store.DecodeAggregator(b)
}

func (c *client) ServerURL() string {
	return c.opts.ServerURL
}
