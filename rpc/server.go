package rpc

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/smartcontractkit/chainlink-common/pkg/services"

	"github.com/smartcontractkit/chainlink-solana-feeds/rpc/mtls"
	"github.com/smartcontractkit/chainlink-solana-feeds/store"
)

var (
	promQueryCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ocr2",
		Subsystem: "query",
		Name:      "grpc_query_count",
		Help:      "Number of feed queries served, by scope and status code",
	},
		[]string{"scope", "code"},
	)
	promQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ocr2",
		Subsystem: "query",
		Name:      "grpc_query_duration_ms",
		Help:      "Duration of served feed queries in milliseconds",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250},
	},
		[]string{"scope"},
	)
)

// FeedSource resolves feed accounts, e.g. a *store.Registry.
type FeedSource interface {
	Feed(address solana.PublicKey) (*store.Feed, bool)
}

var _ FeedSource = (*store.Registry)(nil)

type ServerOpts struct {
	Logger               logger.Logger
	ServerPrivKey        ed25519.PrivateKey
	AllowedClientPubKeys []ed25519.PublicKey
	// ListenAddr is used when Listener is nil.
	ListenAddr string
	Listener   net.Listener
	Feeds      FeedSource
}

func (o *ServerOpts) verifyConfig() error {
	var errs []error
	if o.Logger == nil {
		errs = append(errs, errors.New("logger is required for query server"))
	}
	if len(o.ServerPrivKey) != ed25519.PrivateKeySize {
		errs = append(errs, errors.New("server private key is required for query server"))
	}
	if len(o.AllowedClientPubKeys) == 0 {
		errs = append(errs, errors.New("at least one client public key is required for query server"))
	}
	if o.Listener == nil && o.ListenAddr == "" {
		errs = append(errs, errors.New("listen address or listener is required for query server"))
	}
	if o.Feeds == nil {
		errs = append(errs, errors.New("feed source is required for query server"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid query server configuration: %v", errs)
	}
	return nil
}

// Server serves feed queries over gRPC with mTLS.
type Server interface {
	services.Service
	QueryServer
	// Addr is the listening address once started.
	Addr() net.Addr
}

var _ Server = (*server)(nil)

type server struct {
	services.Service
	eng *services.Engine

	opts  ServerOpts
	grpc  *grpc.Server
	lis   net.Listener
	serve chan struct{}
}

func NewServer(opts ServerOpts) (Server, error) {
	if err := opts.verifyConfig(); err != nil {
		return nil, err
	}
	s := &server{opts: opts}
	s.Service, s.eng = services.Config{
		Name:  "GRPCQueryServer",
		Start: s.start,
		Close: s.close,
	}.NewServiceEngine(opts.Logger)
	return s, nil
}

func (s *server) start(context.Context) error {
	creds, err := mtls.NewTransportCredentials(s.opts.ServerPrivKey, s.opts.AllowedClientPubKeys)
	if err != nil {
		return fmt.Errorf("failed to create server mTLS credentials: %w", err)
	}
	lis := s.opts.Listener
	if lis == nil {
		if lis, err = net.Listen("tcp", s.opts.ListenAddr); err != nil {
			return fmt.Errorf("failed to listen on %s: %w", s.opts.ListenAddr, err)
		}
	}
	s.lis = lis
	s.grpc = grpc.NewServer(
		grpc.Creds(creds),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	RegisterQueryServer(s.grpc, s)

	s.serve = make(chan struct{})
	go func() {
		defer close(s.serve)
		if err := s.grpc.Serve(lis); err != nil {
			s.eng.Errorw("Query server stopped serving", "err", err)
		}
	}()
	s.eng.Infow("Query server listening", "addr", lis.Addr().String())
	return nil
}

func (s *server) close() error {
	s.grpc.GracefulStop()
	<-s.serve
	return nil
}

func (s *server) Addr() net.Addr {
	if s.lis == nil {
		return nil
	}
	return s.lis.Addr()
}

func (s *server) Query(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	start := time.Now()
	req, err := DecodeQueryRequest(in.GetValue())
	if err != nil {
		err = toStatus(err)
		promQueryCount.WithLabelValues("invalid", status.Code(err).String()).Inc()
		return nil, err
	}
	scope := req.Scope.Kind.String()

	resp, err := s.query(req)
	err = toStatus(err)
	if err == nil {
		promQueryDuration.WithLabelValues(scope).Observe(float64(time.Since(start).Milliseconds()))
	}
	promQueryCount.WithLabelValues(scope, status.Code(err).String()).Inc()

	s.eng.Debugw("Served query", "feed", req.Feed, "scope", scope, "client", verifiedClient(ctx),
		"claimedClient", claimedClient(ctx), "code", status.Code(err))
	if err != nil {
		return nil, err
	}
	return wrapperspb.Bytes(resp), nil
}

func (s *server) query(req QueryRequest) ([]byte, error) {
	feed, ok := s.opts.Feeds.Feed(req.Feed)
	if !ok {
		return nil, fmt.Errorf("feed %s; %w", req.Feed, store.ErrNotFound)
	}
	return feed.Query(req.Scope)
}

// verifiedClient is the key of the certificate the client authenticated with.
func verifiedClient(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok {
		return ""
	}
	info, ok := p.AuthInfo.(credentials.TLSInfo)
	if !ok || len(info.State.PeerCertificates) == 0 {
		return ""
	}
	pub, err := mtls.PubKeyFromCert(info.State.PeerCertificates[0])
	if err != nil {
		return ""
	}
	return pub.String()
}

// claimedClient is the self-identified client key. It is not verified.
func claimedClient(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(clientPublicKeyHeader); len(v) > 0 {
		return v[0]
	}
	return ""
}
