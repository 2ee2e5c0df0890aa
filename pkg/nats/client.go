package nats

import (
	"context"
	"crypto"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/smartcontractkit/chainlink-common/pkg/services"

	"github.com/smartcontractkit/chainlink-solana-feeds/rpc/mtls"
)

const publishTimeout = time.Second

// Client is a JetStream connection authenticated with an ed25519 certificate.
type Client interface {
	services.Service
	// Publish sends msg to JetStream and waits for the ack. The stream drops
	// messages whose msgID it has already seen within its dedupe window.
	Publish(ctx context.Context, msg *nats.Msg, msgID string) error
	// EnsureStream creates the stream, or updates it if it already exists.
	EnsureStream(ctx context.Context, cfg *nats.StreamConfig) error
	// Healthy reports whether the client is started and connected.
	Healthy() error
}

var _ Client = (*client)(nil)

type client struct {
	services.Service
	eng *services.Engine

	clientSigner    crypto.Signer
	clientPubKeyHex string
	serverPubKey    ed25519.PublicKey
	serverURLs      []string

	conn *nats.Conn
	js   nats.JetStreamContext
}

func NewClient(opts ClientOpts) (Client, error) {
	if err := opts.verifyConfig(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	c := &client{
		clientSigner:    opts.ClientSigner,
		clientPubKeyHex: hex.EncodeToString(opts.ClientSigner.Public().(ed25519.PublicKey)),
		serverPubKey:    opts.ServerPubKey,
		serverURLs:      opts.ServerURLs,
	}
	c.Service, c.eng = services.Config{
		Name:  "NATSClient",
		Start: c.start,
		Close: c.close,
	}.NewServiceEngine(opts.Logger)

	return c, nil
}

func (c *client) connect() (*nats.Conn, error) {
	cMtls, err := mtls.NewTLSTransportSigner(c.clientSigner, []ed25519.PublicKey{c.serverPubKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create client mTLS credentials: %w", err)
	}
	lggr := c.eng
	options := []nats.Option{
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectBufSize(64 * 1024 * 1024),
		nats.PingInterval(time.Second),
		nats.Timeout(5 * time.Second),
		nats.TLSHandshakeFirst(),
		nats.Secure(cMtls),
		nats.Name(c.clientPubKeyHex),
		nats.ConnectHandler(func(nc *nats.Conn) {
			lggr.Infow("NATS client connection established", "serverID", nc.ConnectedServerId(), "serverURL", nc.ConnectedUrl())
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			lggr.Infow("NATS client reconnected", "serverID", nc.ConnectedServerId(), "serverURL", nc.ConnectedUrl(), "reconnects", nc.Reconnects)
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				lggr.Errorw("NATS client disconnected with error", "serverURL", nc.ConnectedUrl(), "reconnects", nc.Reconnects, "err", err)
			}
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			lggr.Debugw("NATS client closed", "serverURL", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			var subject string
			if sub != nil {
				subject = sub.Subject
			}
			lggr.Errorw("NATS client async error", "serverURL", nc.ConnectedUrl(), "subject", subject, "err", err)
		}),
	}

	nc, err := nats.Connect(strings.Join(c.serverURLs, ","), options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS connection: %w", err)
	}

	c.js, err = nc.JetStream(
		nats.PublishAsyncMaxPending(4096),
		nats.MaxWait(2*time.Second),
	)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return nc, nil
}

func (c *client) start(context.Context) error {
	nc, err := c.connect()
	if err != nil {
		return err
	}
	c.conn = nc
	return nil
}

func (c *client) close() error {
	if c.conn == nil {
		return nil
	}
	if err := c.conn.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return err
	}
	return nil
}

func (c *client) Publish(ctx context.Context, msg *nats.Msg, msgID string) error {
	return c.eng.IfStarted(func() error {
		opts := []nats.PubOpt{nats.StallWait(200 * time.Millisecond)}
		if msgID != "" {
			opts = append(opts, nats.MsgId(msgID))
		}
		ack, err := c.js.PublishMsgAsync(msg, opts...)
		if err != nil {
			return fmt.Errorf("failed to publish to %s: %w", msg.Subject, err)
		}

		timeout := time.NewTimer(publishTimeout)
		defer timeout.Stop()
		select {
		case pa := <-ack.Ok():
			if pa.Duplicate {
				c.eng.Debugw("Duplicate publish dropped by stream", "subject", msg.Subject, "msgID", msgID, "stream", pa.Stream)
			}
			return nil
		case err := <-ack.Err():
			return fmt.Errorf("publish to %s was not acknowledged: %w", msg.Subject, err)
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			return fmt.Errorf("publish to %s timed out", msg.Subject)
		}
	})
}

func (c *client) EnsureStream(ctx context.Context, cfg *nats.StreamConfig) error {
	return c.eng.IfStarted(func() error {
		_, err := c.js.AddStream(cfg, nats.Context(ctx))
		if errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			_, err = c.js.UpdateStream(cfg, nats.Context(ctx))
		}
		if err != nil {
			return fmt.Errorf("failed to ensure stream %s: %w", cfg.Name, err)
		}
		return nil
	})
}

func (c *client) Healthy() error {
	if err := c.Service.Ready(); err != nil {
		return err
	}
	switch {
	case c.conn == nil:
		return errors.New("NATS connection is nil")
	case !c.conn.IsConnected():
		return fmt.Errorf("NATS connection is %s", c.conn.Status())
	default:
		return nil
	}
}

func (c *client) HealthReport() map[string]error {
	return map[string]error{c.Name(): c.Healthy()}
}
