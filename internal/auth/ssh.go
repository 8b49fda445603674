// ABOUTME: SSH key signing and verification for control-plane handshakes
// ABOUTME: Signatures cover "timestamp|nonce"; replayed nonces are rejected

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/ovsnet/l2gw-agent/internal/dedupe"
)

const (
	// HandshakeMaxAge is the maximum age of a handshake timestamp.
	HandshakeMaxAge = 5 * time.Minute

	// nonceCacheSize bounds the nonce replay cache.
	nonceCacheSize = 10000
)

// Signer signs handshakes with the agent's SSH private key.
type Signer struct {
	signer ssh.Signer
}

// LoadSigner reads and parses an unencrypted SSH private key.
func LoadSigner(path string) (*Signer, error) {
	keyPEM, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading SSH key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parsing SSH key %s: %w", path, err)
	}
	return &Signer{signer: signer}, nil
}

// NewSigner wraps an existing ssh.Signer.
func NewSigner(signer ssh.Signer) *Signer {
	return &Signer{signer: signer}
}

// Sign signs "timestamp|nonce" and returns the base64-encoded signature.
func (s *Signer) Sign(timestamp int64, nonce string) (string, error) {
	sig, err := s.signer.Sign(rand.Reader, []byte(signedMessage(timestamp, nonce)))
	if err != nil {
		return "", fmt.Errorf("signing handshake: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ssh.Marshal(sig)), nil
}

// PublicKeyLine returns the public key in authorized_keys form, without the
// trailing newline.
func (s *Signer) PublicKeyLine() string {
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(s.signer.PublicKey())))
}

// Fingerprint returns the SHA256 fingerprint of the public key.
func (s *Signer) Fingerprint() string {
	return ComputeFingerprint(s.signer.PublicKey())
}

// Verifier checks the credentials an agent presents. The token must verify
// and its subject must match the claimed agent id; the SSH signature must be
// fresh, unreplayed, and from an allowlisted key when an allowlist is set.
type Verifier struct {
	tokens     *TokenManager
	maxAge     time.Duration
	nonceCache *dedupe.Cache

	mu      sync.RWMutex
	allowed map[string]bool // fingerprints; empty means any key
}

// NewVerifier creates a verifier with nonce replay protection.
func NewVerifier(tokens *TokenManager) *Verifier {
	return &Verifier{
		tokens:     tokens,
		maxAge:     HandshakeMaxAge,
		nonceCache: dedupe.New(HandshakeMaxAge, nonceCacheSize),
		allowed:    make(map[string]bool),
	}
}

// Close releases resources used by the verifier.
func (v *Verifier) Close() {
	if v.nonceCache != nil {
		v.nonceCache.Close()
	}
}

// AllowKey adds a public key (authorized_keys form) to the allowlist. Once
// any key is allowed, unknown keys are rejected.
func (v *Verifier) AllowKey(pubkeyLine string) error {
	fp, err := ParseFingerprintFromKey(pubkeyLine)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.allowed[fp] = true
	return nil
}

// Verify checks the credentials and returns the agent id and key fingerprint.
func (v *Verifier) Verify(c Credentials) (agentID, fingerprint string, err error) {
	subject, err := v.tokens.Verify(c.Token)
	if err != nil {
		return "", "", err
	}
	if subject != c.AgentID {
		return "", "", fmt.Errorf("token subject %q does not match agent id %q", subject, c.AgentID)
	}

	pubkey, _, _, _, err := ssh.ParseAuthorizedKey([]byte(c.Pubkey))
	if err != nil {
		return "", "", fmt.Errorf("invalid public key: %w", err)
	}

	// Check timestamp is recent, allowing a minute of forward clock skew.
	signedAt := time.Unix(c.Timestamp, 0)
	age := time.Since(signedAt)
	if age < 0 {
		if age < -time.Minute {
			return "", "", errors.New("timestamp is in the future")
		}
	} else if age > v.maxAge {
		return "", "", fmt.Errorf("signature expired (age: %v, max: %v)", age, v.maxAge)
	}

	sigBytes, err := base64.StdEncoding.DecodeString(c.Signature)
	if err != nil {
		return "", "", fmt.Errorf("invalid signature encoding: %w", err)
	}
	sig := new(ssh.Signature)
	if err := ssh.Unmarshal(sigBytes, sig); err != nil {
		return "", "", fmt.Errorf("invalid signature format: %w", err)
	}

	if err := pubkey.Verify([]byte(signedMessage(c.Timestamp, c.Nonce)), sig); err != nil {
		return "", "", fmt.Errorf("signature verification failed: %w", err)
	}

	fp := ComputeFingerprint(pubkey)

	v.mu.RLock()
	restricted := len(v.allowed) > 0
	known := v.allowed[fp]
	v.mu.RUnlock()
	if restricted && !known {
		return "", "", fmt.Errorf("key %s is not allowlisted", fp)
	}

	// The nonce key includes the fingerprint to prevent cross-key replay.
	// Duplicate is atomic, so two concurrent handshakes cannot both pass.
	nonceKey := fmt.Sprintf("%s:%d:%s", fp, c.Timestamp, c.Nonce)
	if v.nonceCache.Duplicate(nonceKey) {
		return "", "", errors.New("nonce already used (possible replay attack)")
	}

	return subject, fp, nil
}

// signedMessage builds the string both sides sign and verify.
func signedMessage(timestamp int64, nonce string) string {
	return fmt.Sprintf("%d|%s", timestamp, nonce)
}

// ComputeFingerprint computes the SHA256 fingerprint of a public key.
// Returns lowercase hex encoding without colons.
func ComputeFingerprint(pubkey ssh.PublicKey) string {
	hash := sha256.Sum256(pubkey.Marshal())
	return hex.EncodeToString(hash[:])
}

// ParseFingerprintFromKey parses a public key string and returns its
// fingerprint. Useful for allowlisting agents.
func ParseFingerprintFromKey(pubkeyStr string) (string, error) {
	pubkey, _, _, _, err := ssh.ParseAuthorizedKey([]byte(pubkeyStr))
	if err != nil {
		return "", fmt.Errorf("invalid public key: %w", err)
	}
	return ComputeFingerprint(pubkey), nil
}
