package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrSignatureVerification = errors.New("webhook signature verification failed")
	ErrTimestampExpired      = errors.New("webhook timestamp outside tolerance")
	ErrMalformedSignature    = errors.New("malformed webhook signature header")
)

const (
	DefaultTolerance = 300 * time.Second
	SignatureVersion = "v1"
	secretPrefix     = "whsec_"
)

// Verifier checks gateway signatures: base64(HMAC-SHA256(key, ts + "." + body))
// carried as "v1,<sig>" entries in the signature header.
type Verifier struct {
	key       []byte
	tolerance time.Duration
}

// NewVerifier decodes a base64 secret, with or without the whsec_ prefix.
func NewVerifier(secret string, tolerance time.Duration) (*Verifier, error) {
	key, err := DecodeSecret(secret)
	if err != nil {
		return nil, err
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{key: key, tolerance: tolerance}, nil
}

func DecodeSecret(secret string) ([]byte, error) {
	s := strings.TrimPrefix(strings.TrimSpace(secret), secretPrefix)
	if s == "" {
		return nil, errors.New("webhook secret is empty")
	}
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("webhook secret is not valid base64: %w", err)
	}
	return key, nil
}

// Verify checks the signature with the default tolerance.
func Verify(body []byte, sigHeader, tsHeader, secret string, now time.Time) error {
	v, err := NewVerifier(secret, DefaultTolerance)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureVerification, err)
	}
	return v.Verify(body, sigHeader, tsHeader, now)
}

func (v *Verifier) Verify(body []byte, sigHeader, tsHeader string, now time.Time) error {
	ts, err := strconv.ParseInt(strings.TrimSpace(tsHeader), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid timestamp %q", ErrTimestampExpired, tsHeader)
	}
	if d := now.Sub(time.Unix(ts, 0)); d > v.tolerance || d < -v.tolerance {
		return fmt.Errorf("%w: skew %s", ErrTimestampExpired, d.Round(time.Second))
	}

	sigs, err := parseSignatures(sigHeader)
	if err != nil {
		return err
	}
	expected := v.mac(ts, body)
	for _, sig := range sigs {
		if hmac.Equal(sig, expected) {
			return nil
		}
	}
	return ErrSignatureVerification
}

func (v *Verifier) mac(ts int64, body []byte) []byte {
	h := hmac.New(sha256.New, v.key)
	h.Write([]byte(strconv.FormatInt(ts, 10)))
	h.Write([]byte("."))
	h.Write(body)
	return h.Sum(nil)
}

// Sign returns the signature header value for body at ts.
func (v *Verifier) Sign(ts int64, body []byte) string {
	return SignatureVersion + "," + base64.StdEncoding.EncodeToString(v.mac(ts, body))
}

// parseSignatures returns the decoded v1 signatures. Entries of other
// versions are skipped; a header without any well-formed entry is malformed.
func parseSignatures(header string) ([][]byte, error) {
	var (
		out        [][]byte
		wellFormed bool
	)
	for _, entry := range strings.Fields(header) {
		version, sig, ok := strings.Cut(entry, ",")
		if !ok || version == "" || sig == "" {
			continue
		}
		// strict: unused padding bits must be zero, so no two headers decode alike
		raw, err := base64.StdEncoding.Strict().DecodeString(sig)
		if err != nil {
			continue
		}
		wellFormed = true
		if version == SignatureVersion {
			out = append(out, raw)
		}
	}
	if !wellFormed {
		return nil, ErrMalformedSignature
	}
	return out, nil
}
