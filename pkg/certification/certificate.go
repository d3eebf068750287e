// Package certification issues and verifies run certificates: HS256 JWTs
// that bind a candidate's Merkle root and manifest hash to the baseline
// version it was certified against.
//
// The signing key is derived per baseline version with HKDF-SHA256 from a
// shared secret, so a certificate minted against one baseline never
// verifies against another.
package certification

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"

	"github.com/Mindburn-Labs/trustchain/pkg/fault"
	"github.com/Mindburn-Labs/trustchain/pkg/fsx"
)

// CertificateFile is the certificate's file name inside a run directory.
const CertificateFile = "certificate.jwt"

const (
	defaultIssuer = "trustchain/certification"
	kdfSalt       = "trustchain-certification-kdf"
	minSecretLen  = 16
)

var (
	ErrNoCertificate = errors.New("certification: no certificate")
	ErrMismatch      = errors.New("certification: certificate does not match run")
	ErrWeakSecret    = errors.New("certification: secret too short")
)

// Subject is what a certificate attests to.
type Subject struct {
	RunID           string `json:"run_id"`
	MerkleRoot      string `json:"merkle_root"`
	ManifestHash    string `json:"manifest_hash"`
	BaselineVersion string `json:"baseline_version"`
}

// Claims are the JWT claims of a certificate.
type Claims struct {
	jwt.RegisteredClaims
	MerkleRoot      string `json:"merkle_root"`
	ManifestHash    string `json:"manifest_hash"`
	BaselineVersion string `json:"baseline_version"`
}

// Certifier signs and verifies certificates.
type Certifier struct {
	secret []byte
	issuer string
	ttl    time.Duration
	clock  func() time.Time
}

// NewCertifier creates a certifier. ttl <= 0 issues certificates without
// an expiry.
func NewCertifier(secret []byte, ttl time.Duration) (*Certifier, error) {
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("%w: need at least %d bytes", ErrWeakSecret, minSecretLen)
	}
	s := make([]byte, len(secret))
	copy(s, secret)
	return &Certifier{secret: s, issuer: defaultIssuer, ttl: ttl, clock: time.Now}, nil
}

// WithClock overrides the clock for deterministic testing.
func (c *Certifier) WithClock(clock func() time.Time) *Certifier {
	c.clock = clock
	return c
}

func (c *Certifier) key(baselineVersion string) ([]byte, error) {
	r := hkdf.New(sha256.New, c.secret, []byte(kdfSalt), []byte(baselineVersion))
	k := make([]byte, 32)
	if _, err := io.ReadFull(r, k); err != nil {
		return nil, fmt.Errorf("HKDF derivation failed: %w", err)
	}
	return k, nil
}

// Issue signs a certificate for s.
func (c *Certifier) Issue(s Subject) (string, error) {
	if s.MerkleRoot == "" || s.BaselineVersion == "" {
		return "", fmt.Errorf("certification: subject needs merkle root and baseline version")
	}
	now := c.clock().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       s.RunID + "@" + s.BaselineVersion,
			Subject:  s.RunID,
			Issuer:   c.issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
		MerkleRoot:      s.MerkleRoot,
		ManifestHash:    s.ManifestHash,
		BaselineVersion: s.BaselineVersion,
	}
	if c.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(c.ttl))
	}
	key, err := c.key(s.BaselineVersion)
	if err != nil {
		return "", err
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}

// Verify checks the token's signature, issuer and expiry, then that it
// attests to exactly the expected subject.
func (c *Certifier) Verify(token string, expect Subject) (*Claims, error) {
	key, err := c.key(expect.BaselineVersion)
	if err != nil {
		return nil, err
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithTimeFunc(c.clock),
	)
	if err != nil {
		return nil, fmt.Errorf("certification: %w", err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}

	var mismatches []string
	if claims.MerkleRoot != expect.MerkleRoot {
		mismatches = append(mismatches, "merkle_root")
	}
	if expect.ManifestHash != "" && claims.ManifestHash != expect.ManifestHash {
		mismatches = append(mismatches, "manifest_hash")
	}
	if claims.BaselineVersion != expect.BaselineVersion {
		mismatches = append(mismatches, "baseline_version")
	}
	if len(mismatches) > 0 {
		return claims, fmt.Errorf("%w: %s", ErrMismatch, strings.Join(mismatches, ", "))
	}
	return claims, nil
}

// ReadCertificate loads runDir/certificate.jwt. A missing file wraps
// ErrNoCertificate; other read failures are I/O faults.
func ReadCertificate(runDir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(runDir, CertificateFile))
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoCertificate
	}
	if err != nil {
		return "", fault.IO(fmt.Errorf("certification: read: %w", err), "CERT_READ")
	}
	return strings.TrimSpace(string(data)), nil
}

// WriteCertificate stores token as runDir/certificate.jwt.
func WriteCertificate(runDir, token string) error {
	if err := fsx.WriteFileAtomic(filepath.Join(runDir, CertificateFile), []byte(token+"\n"), 0o644); err != nil {
		return fault.IO(fmt.Errorf("certification: write: %w", err), "CERT_WRITE")
	}
	return nil
}
