package nats

import (
	"crypto"
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"
)

type ClientOpts struct {
	Logger       logger.Logger
	ClientSigner crypto.Signer
	ServerPubKey ed25519.PublicKey
	ServerURLs   []string
}

// verifyConfig validates all required fields are properly set
func (c *ClientOpts) verifyConfig() error {
	var errs []error

	if c.Logger == nil {
		errs = append(errs, fmt.Errorf("logger is required for NATS client"))
	}
	if c.ClientSigner == nil {
		errs = append(errs, fmt.Errorf("client signer is required for NATS client"))
	} else if _, ok := c.ClientSigner.Public().(ed25519.PublicKey); !ok {
		errs = append(errs, fmt.Errorf("client signer must hold an ed25519 key"))
	}
	if len(c.ServerPubKey) == 0 {
		errs = append(errs, fmt.Errorf("server public key is required for NATS client"))
	}
	if len(c.ServerURLs) == 0 {
		errs = append(errs, fmt.Errorf("at least one server URL is required for NATS client"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid NATS client configuration: %v", errs)
	}

	return nil
}

// ServerOpts is the set of options required to stand up an embedded NATS
// server with mTLS and JetStream.
type ServerOpts struct {
	Logger logger.Logger

	// ed25519 key the server proves its identity with.
	ServerPrivKey ed25519.PrivateKey

	// Clients allowed to connect. Each becomes a NATS user named after its
	// certificate subject.
	AllowedClientPubKeys []ed25519.PublicKey

	Host string
	// Port to listen on; -1 picks a random free port.
	Port int

	// Directory for JetStream file storage. JetStream is disabled when empty.
	StoreDir string

	// Subjects clients may publish and subscribe to, in addition to the
	// JetStream API and reply inboxes. Defaults to DefaultSubjectPrefix.>.
	AllowedSubjects []string
}

func (s *ServerOpts) verifyConfig() error {
	var errs []error

	if s.Logger == nil {
		errs = append(errs, fmt.Errorf("logger is required for NATS server"))
	}
	if len(s.ServerPrivKey) != ed25519.PrivateKeySize {
		errs = append(errs, fmt.Errorf("server private key is required for NATS server"))
	}
	if len(s.AllowedClientPubKeys) == 0 {
		errs = append(errs, fmt.Errorf("at least one client public key is required for NATS server"))
	}
	if s.Host == "" {
		errs = append(errs, fmt.Errorf("host must not be empty"))
	}
	if s.Port == 0 || s.Port < -1 {
		errs = append(errs, fmt.Errorf("port must be > 0, or -1 for a random port"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid NATS server configuration: %v", errs)
	}

	return nil
}

const (
	DefaultSubjectPrefix = "ocr2"
	DefaultStreamName    = "OCR2_EVENTS"
	DefaultMaxAge        = 24 * time.Hour
	DefaultDedupeWindow  = 2 * time.Minute
)

// PublisherOpts configures the aggregator event publisher.
type PublisherOpts struct {
	Logger logger.Logger
	Client ClientOpts

	// Events are published to <SubjectPrefix>.<aggregator>.<event name>.
	SubjectPrefix string

	// When set, the publisher creates or updates this stream on start so that
	// it captures every subject under SubjectPrefix.
	Stream       string
	MaxAge       time.Duration
	DedupeWindow time.Duration

	// Compress payloads with zstd.
	Compress bool
}

func (p *PublisherOpts) setDefaults() {
	if p.SubjectPrefix == "" {
		p.SubjectPrefix = DefaultSubjectPrefix
	}
	if p.MaxAge == 0 {
		p.MaxAge = DefaultMaxAge
	}
	if p.DedupeWindow == 0 {
		p.DedupeWindow = DefaultDedupeWindow
	}
	if p.Client.Logger == nil {
		p.Client.Logger = p.Logger
	}
}

func (p *PublisherOpts) verifyConfig() error {
	var errs []error

	if p.Logger == nil {
		errs = append(errs, fmt.Errorf("logger is required for NATS publisher"))
	}
	if !validToken(p.SubjectPrefix) {
		errs = append(errs, fmt.Errorf("invalid subject prefix %q", p.SubjectPrefix))
	}
	if p.MaxAge < 0 || p.DedupeWindow < 0 {
		errs = append(errs, fmt.Errorf("durations must not be negative"))
	}
	if p.DedupeWindow > p.MaxAge {
		errs = append(errs, fmt.Errorf("dedupe window %s exceeds max age %s", p.DedupeWindow, p.MaxAge))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid NATS publisher configuration: %v", errs)
	}

	return nil
}

// validToken reports whether s is a literal subject (no wildcards, no empty
// tokens, no whitespace).
func validToken(s string) bool {
	if s == "" || s[0] == '.' || s[len(s)-1] == '.' {
		return false
	}
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '>', ' ', '\t', '\r', '\n':
			return false
		case '.':
			if s[i-1] == '.' {
				return false
			}
		}
	}
	return true
}
