// Package mtls builds mutual TLS 1.3 configurations pinned to ed25519 keys.
// Certificates are self-signed and carry no meaning beyond the key they hold;
// peers are authenticated by matching that key against an allow list.
package mtls

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"google.golang.org/grpc/credentials"
)

// Organization is written into every certificate subject. NATS maps TLS
// clients to users by the full subject, see Username.
const Organization = "Chainlink OCR2 Feeds"

type StaticSizedPublicKey [ed25519.PublicKeySize]byte

func (p StaticSizedPublicKey) String() string {
	return hex.EncodeToString(p[:])
}

// Username is the subject string of the certificate minted for pub. It is the
// user name an embedded NATS server with TLSMap enabled sees for the peer.
func Username(pub ed25519.PublicKey) string {
	h := hex.EncodeToString(pub)
	return fmt.Sprintf("CN=%s,OU=%s,O=%s", commonName(h), h, Organization)
}

func commonName(pubHex string) string {
	if len(pubHex) > 32 {
		return pubHex[:32]
	}
	return pubHex
}

// NewTransportCredentials creates gRPC server credentials from a private key
// and the set of client keys allowed to connect.
func NewTransportCredentials(privKey ed25519.PrivateKey, pubKeys []ed25519.PublicKey) (credentials.TransportCredentials, error) {
	priv, err := ValidPrivateKeyFromEd25519(privKey)
	if err != nil {
		return nil, err
	}
	return NewTransportSigner(priv.key, pubKeys)
}

// NewTransportSigner creates gRPC credentials for any ed25519 crypto.Signer,
// e.g. a keystore backed one.
func NewTransportSigner(signer crypto.Signer, pubKeys []ed25519.PublicKey) (credentials.TransportCredentials, error) {
	c, err := NewTLSTransportSigner(signer, pubKeys)
	if err != nil {
		return nil, err
	}
	return credentials.NewTLS(c), nil
}

// NewTLSConfig is NewTransportCredentials for consumers that want a plain
// *tls.Config, such as the NATS server and client.
func NewTLSConfig(privKey ed25519.PrivateKey, pubKeys []ed25519.PublicKey) (*tls.Config, error) {
	priv, err := ValidPrivateKeyFromEd25519(privKey)
	if err != nil {
		return nil, err
	}
	return NewTLSTransportSigner(priv.key, pubKeys)
}

func NewTLSTransportSigner(signer crypto.Signer, pubKeys []ed25519.PublicKey) (*tls.Config, error) {
	if signer == nil {
		return nil, errors.New("signer is required")
	}
	pubs, err := ValidPublicKeysFromEd25519(pubKeys...)
	if err != nil {
		return nil, err
	}
	c, err := newMutualTLSConfig(signer, pubs)
	if err != nil {
		return nil, err
	}
	c.ClientAuth = tls.RequireAnyClientCert
	return c, nil
}

// newMutualTLSConfig returns a TLS 1.3 config presenting a certificate for
// signer and accepting only peers whose certificate key is in pubs.
//
// Standard chain verification is skipped; VerifyPeerCertificate is the only
// check. If it ever starts to rely on x509 fields such as validity periods,
// InsecureSkipVerify must be revisited.
func newMutualTLSConfig(signer crypto.Signer, pubs *PublicKeys) (*tls.Config, error) {
	cert, err := newMinimalX509Cert(signer)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates:          []tls.Certificate{cert},
		InsecureSkipVerify:    true, //nolint:gosec
		MaxVersion:            tls.VersionTLS13,
		MinVersion:            tls.VersionTLS13,
		VerifyPeerCertificate: pubs.VerifyPeerCertificate(),
	}, nil
}

// newMinimalX509Cert self-signs a certificate for the signer's ed25519 key.
// The subject is what Username returns for the same key.
func newMinimalX509Cert(signer crypto.Signer) (tls.Certificate, error) {
	pubKey, ok := signer.Public().(ed25519.PublicKey)
	if !ok {
		return tls.Certificate{}, fmt.Errorf("invalid public key type %T", signer.Public())
	}
	pubKeyHex := hex.EncodeToString(pubKey)

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate serial number; %w", err)
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:         commonName(pubKeyHex),
			Organization:       []string{Organization},
			OrganizationalUnit: []string{pubKeyHex},
		},
		NotBefore:             time.Now(),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, pubKey, signer)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{
		Certificate:                  [][]byte{der},
		PrivateKey:                   signer,
		SupportedSignatureAlgorithms: []tls.SignatureScheme{tls.Ed25519},
	}, nil
}

type PrivateKey struct {
	key ed25519.PrivateKey
}

func ValidPrivateKeyFromEd25519(key ed25519.PrivateKey) (*PrivateKey, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid key length: %d, expected: %d", len(key), ed25519.PrivateKeySize)
	}
	return &PrivateKey{key: key}, nil
}

// PublicKeys is an allow list of peer keys that can be replaced at runtime.
type PublicKeys struct {
	mu   sync.RWMutex
	keys []ed25519.PublicKey
}

func ValidPublicKeysFromEd25519(keys ...ed25519.PublicKey) (*PublicKeys, error) {
	if len(keys) == 0 {
		return nil, errors.New("no public keys provided")
	}
	for _, key := range keys {
		if len(key) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("invalid key length: %d, expected: %d", len(key), ed25519.PublicKeySize)
		}
	}
	return &PublicKeys{keys: keys}, nil
}

func (r *PublicKeys) Keys() []ed25519.PublicKey {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]ed25519.PublicKey, len(r.keys))
	copy(keys, r.keys)
	return keys
}

// VerifyPeerCertificate accepts exactly one certificate whose key is in the
// allow list.
func (r *PublicKeys) VerifyPeerCertificate() func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) != 1 {
			return errors.New("required exactly one peer certificate")
		}
		cert, err := x509.ParseCertificate(rawCerts[0])
		if err != nil {
			return err
		}
		pk, err := pubKeyFromCert(cert)
		if err != nil {
			return err
		}
		if !r.isValidPublicKey(pk) {
			return fmt.Errorf("unknown public key on cert %x", pk)
		}
		return nil
	}
}

// Replace swaps the allow list for the keys held by pubs.
func (r *PublicKeys) Replace(pubs *PublicKeys) {
	keys := pubs.Keys()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = keys
}

func (r *PublicKeys) isValidPublicKey(pub ed25519.PublicKey) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, vpub := range r.keys {
		if subtle.ConstantTimeCompare(pub, vpub) == 1 {
			return true
		}
	}
	return false
}

// PubKeyFromCert extracts the ed25519 key of a peer certificate.
func PubKeyFromCert(cert *x509.Certificate) (StaticSizedPublicKey, error) {
	pubKey, err := pubKeyFromCert(cert)
	if err != nil {
		return StaticSizedPublicKey{}, err
	}
	return ToStaticallySizedPublicKey(pubKey)
}

func pubKeyFromCert(cert *x509.Certificate) (ed25519.PublicKey, error) {
	if cert.PublicKeyAlgorithm != x509.Ed25519 {
		return nil, errors.New("requires an ed25519 public key")
	}
	pub, ok := cert.PublicKey.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key")
	}
	return pub, nil
}

func ToStaticallySizedPublicKey(pubKey ed25519.PublicKey) (StaticSizedPublicKey, error) {
	var result StaticSizedPublicKey
	if len(pubKey) != ed25519.PublicKeySize {
		return result, fmt.Errorf("invalid key length: %d, expected: %d", len(pubKey), ed25519.PublicKeySize)
	}
	copy(result[:], pubKey)
	return result, nil
}
