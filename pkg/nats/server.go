package nats

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	natssrv "github.com/nats-io/nats-server/v2/server"

	"github.com/smartcontractkit/chainlink-common/pkg/services"

	"github.com/smartcontractkit/chainlink-solana-feeds/rpc/mtls"
)

// Server is an embedded NATS server that event consumers and publishers
// connect to over mTLS.
type Server interface {
	services.Service

	// URL returns the connect URLs once the server is started.
	URL() []string
}

var _ Server = (*server)(nil)

type server struct {
	services.Service
	eng *services.Engine

	opts ServerOpts
	srv  *natssrv.Server
	urls []string
}

// NewServer constructs the server service. Nothing listens until Start.
func NewServer(opts ServerOpts) (Server, error) {
	if err := opts.verifyConfig(); err != nil {
		return nil, err
	}
	s := &server{opts: opts}
	s.Service, s.eng = services.Config{
		Name:  "NATSServer",
		Start: s.start,
		Close: s.close,
	}.NewServiceEngine(opts.Logger)
	return s, nil
}

// users maps every allowed client certificate to a NATS user. Clients may use
// the configured subjects, the JetStream API and their reply inboxes.
func (s *server) users() []*natssrv.User {
	subjects := s.opts.AllowedSubjects
	if len(subjects) == 0 {
		subjects = []string{DefaultSubjectPrefix + ".>"}
	}
	pub := append([]string{"$JS.API.>", "$JS.ACK.>"}, subjects...)
	sub := append([]string{"_INBOX.>"}, subjects...)

	users := make([]*natssrv.User, 0, len(s.opts.AllowedClientPubKeys))
	for _, clientPub := range s.opts.AllowedClientPubKeys {
		users = append(users, &natssrv.User{
			Username: mtls.Username(clientPub),
			Permissions: &natssrv.Permissions{
				Publish:   &natssrv.SubjectPermission{Allow: pub},
				Subscribe: &natssrv.SubjectPermission{Allow: sub},
			},
		})
	}
	return users
}

func (s *server) start(context.Context) error {
	tlsConfig, err := mtls.NewTLSConfig(s.opts.ServerPrivKey, s.opts.AllowedClientPubKeys)
	if err != nil {
		return fmt.Errorf("failed to create server TLS config; %w", err)
	}

	natsOpts := &natssrv.Options{
		ServerName:        "ocr2-feeds",
		Host:              s.opts.Host,
		Port:              s.opts.Port,
		NoLog:             true,
		NoSigs:            true,
		TLSConfig:         tlsConfig,
		TLSHandshakeFirst: true,
		AllowNonTLS:       false,
		TLSMap:            true,
		TLSTimeout:        2.0,
		AuthTimeout:       2.0,
		MaxConn:           1000,
		MaxSubs:           100,
		MaxPayload:        512 * 1024,
		MaxPending:        2 * 1024 * 1024,
		WriteDeadline:     time.Second,
		PingInterval:      2 * time.Second,
		MaxPingsOut:       3,
		LameDuckDuration:  30 * time.Second,
		// Lame-duck grace must stay below the duration.
		LameDuckGracePeriod: 10 * time.Second,
		Users:               s.users(),
	}
	if s.opts.StoreDir != "" {
		natsOpts.JetStream = true
		natsOpts.StoreDir = s.opts.StoreDir
	}

	ns, err := natssrv.NewServer(natsOpts)
	if err != nil {
		return fmt.Errorf("failed to create embedded NATS server; %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return errors.New("NATS server did not become ready")
	}
	s.srv = ns

	addr, ok := ns.Addr().(*net.TCPAddr)
	if !ok {
		ns.Shutdown()
		return fmt.Errorf("unexpected listener address %v", ns.Addr())
	}
	s.urls = []string{fmt.Sprintf("tls://%s", net.JoinHostPort(s.opts.Host, fmt.Sprint(addr.Port)))}

	s.eng.Infow("NATS server started", "url", s.urls[0], "jetstream", natsOpts.JetStream)
	return nil
}

func (s *server) close() error {
	if s.srv == nil {
		return nil
	}
	s.eng.Infow("Shutting down NATS server", "url", s.urls)
	s.srv.Shutdown()
	s.srv.WaitForShutdown()
	return nil
}

func (s *server) Ready() error {
	if err := s.Service.Ready(); err != nil {
		return err
	}
	if s.srv == nil || !s.srv.Running() {
		return errors.New("NATS server is not ready for connections")
	}
	return nil
}

func (s *server) URL() []string {
	return s.urls
}
