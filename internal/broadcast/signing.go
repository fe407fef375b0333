package broadcast

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Signer signs outbound frame bytes with Ed25519, per spec.md §4.6
// "Signing": each signed frame carries keyId, the first 16 hex characters
// of the SHA-256 digest of the public key's SPKI DER encoding, so a
// subscriber can pick the right verification key without a handshake.
type Signer struct {
	priv  ed25519.PrivateKey
	keyID string
}

// NewSigner derives a Signer from a raw 64-byte Ed25519 private key.
func NewSigner(priv ed25519.PrivateKey) (*Signer, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("broadcast: private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(priv))
	}
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("broadcast: unexpected public key type")
	}
	keyID, err := deriveKeyID(pub)
	if err != nil {
		return nil, err
	}
	return &Signer{priv: priv, keyID: keyID}, nil
}

// GenerateSigner creates a fresh keypair, used when SIGNING_ENABLED is set
// but no key material has been provisioned externally.
func GenerateSigner() (*Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	keyID, err := deriveKeyID(pub)
	if err != nil {
		return nil, err
	}
	return &Signer{priv: priv, keyID: keyID}, nil
}

func deriveKeyID(pub ed25519.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])[:16], nil
}

// KeyID returns the signer's key identifier.
func (s *Signer) KeyID() string {
	if s == nil {
		return ""
	}
	return s.keyID
}

// PublicKeyBase64 returns the base64-encoded raw Ed25519 public key, the
// form spec.md §6's public-config interface exposes so a subscriber can
// verify signed frames without a handshake.
func (s *Signer) PublicKeyBase64() string {
	if s == nil {
		return ""
	}
	pub, ok := s.priv.Public().(ed25519.PublicKey)
	if !ok {
		return ""
	}
	return base64.StdEncoding.EncodeToString(pub)
}

// Sign returns the base64-encoded Ed25519 signature over body, which must
// be the frame bytes serialized with Sig/KeyID left empty (spec.md §4.6:
// the fabric "attaches sig (base64)").
func (s *Signer) Sign(body []byte) string {
	if s == nil {
		return ""
	}
	sig := ed25519.Sign(s.priv, body)
	return base64.StdEncoding.EncodeToString(sig)
}

// Verify checks sig (base64-encoded) against body using pub.
func Verify(pub ed25519.PublicKey, body []byte, sigB64 string) bool {
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, body, sig)
}
