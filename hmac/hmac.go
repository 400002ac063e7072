// Package hmac implements A4, HMAC request authentication: canonical
// string signing/verification and a replay-protecting nonce store with a
// clock-skew window, grounded on the teacher corpus's minimal
// HMACSign/HMACVerify helpers and its TTL-map-plus-cleanup-goroutine cache
// shape.
package hmac

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// DefaultMaxSkew is the default clock-skew tolerance for X-Olumi-Timestamp,
// per §6.
const DefaultMaxSkew = 5 * time.Minute

// Header names carrying the signature components.
const (
	HeaderSignature = "X-Olumi-Signature"
	HeaderTimestamp = "X-Olumi-Timestamp"
	HeaderNonce     = "X-Olumi-Nonce"
)

var (
	// ErrMissingSignature is returned when the signature header is absent.
	ErrMissingSignature = errors.New("hmac: missing X-Olumi-Signature header")
	// ErrBadSignature is returned when the signature does not match.
	ErrBadSignature = errors.New("hmac: signature mismatch")
	// ErrClockSkew is returned when the timestamp falls outside the
	// configured skew window.
	ErrClockSkew = errors.New("hmac: timestamp outside accepted clock skew")
	// ErrBadTimestamp is returned when the timestamp header does not parse.
	ErrBadTimestamp = errors.New("hmac: malformed X-Olumi-Timestamp header")
	// ErrNonceReplayed is returned when a nonce has already been accepted
	// within the current skew window.
	ErrNonceReplayed = errors.New("hmac: nonce already used")
)

// sign computes the hex-encoded HMAC-SHA256 of data under key.
func sign(key, data []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// bodyDigest returns the hex SHA-256 digest of body, or of the empty
// string when body is empty.
func bodyDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// CanonicalString builds the string signed by the client for a request.
// Unless timestampMs and nonce are both empty it builds the current
// form:
//
//	METHOD\nPATH\nTIMESTAMP\nNONCE\nSHA256(body_or_empty)
//
// When both are empty it builds the legacy form:
//
//	METHOD\nPATH\nSHA256(body)
func CanonicalString(method, path, timestampMs, nonce string, body []byte) string {
	digest := bodyDigest(body)
	if timestampMs == "" && nonce == "" {
		return fmt.Sprintf("%s\n%s\n%s", method, path, digest)
	}
	return fmt.Sprintf("%s\n%s\n%s\n%s\n%s", method, path, timestampMs, nonce, digest)
}

// Sign returns the hex-encoded signature a client would send for the
// given request components.
func Sign(secret []byte, method, path, timestampMs, nonce string, body []byte) string {
	return sign(secret, []byte(CanonicalString(method, path, timestampMs, nonce, body)))
}

// Request carries the components needed to verify one inbound request.
type Request struct {
	Method      string
	Path        string
	Body        []byte
	Signature   string
	TimestampMs string // empty together with Nonce selects the legacy canonical form
	Nonce       string // empty together with TimestampMs selects the legacy canonical form
}

// Verifier checks inbound request signatures against a shared secret,
// enforcing the clock-skew window and nonce replay protection.
type Verifier struct {
	secret  []byte
	maxSkew time.Duration
	nonces  *nonceStore
}

// NewVerifier builds a Verifier for secret. maxSkew <= 0 selects
// DefaultMaxSkew.
func NewVerifier(secret []byte, maxSkew time.Duration) *Verifier {
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}
	return &Verifier{
		secret:  secret,
		maxSkew: maxSkew,
		nonces:  newNonceStore(maxSkew),
	}
}

// Stop releases the nonce store's cleanup goroutine.
func (v *Verifier) Stop() { v.nonces.stop() }

// Verify checks req against now, the caller-supplied current time. The
// legacy form (no timestamp/nonce) skips clock-skew and replay checks
// entirely, matching the "legacy form (no timestamp/nonce)" carve-out.
func (v *Verifier) Verify(req Request, now time.Time) error {
	if req.Signature == "" {
		return ErrMissingSignature
	}

	expected := Sign(v.secret, req.Method, req.Path, req.TimestampMs, req.Nonce, req.Body)
	if !hmac.Equal([]byte(expected), []byte(req.Signature)) {
		return ErrBadSignature
	}

	if req.TimestampMs == "" && req.Nonce == "" {
		return nil
	}

	ms, err := strconv.ParseInt(req.TimestampMs, 10, 64)
	if err != nil {
		return ErrBadTimestamp
	}
	ts := time.UnixMilli(ms)
	skew := now.Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > v.maxSkew {
		return ErrClockSkew
	}

	if !v.nonces.claim(req.Nonce, now) {
		return ErrNonceReplayed
	}
	return nil
}
