// Package signing implements the HMAC check for pushed storage notifications.
// A sender signs "<unix timestamp>.<raw body>" with the shared secret and sends
// the hex digest alongside the timestamp.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// DefaultTolerance bounds how old a signed timestamp may be.
const DefaultTolerance = 5 * time.Minute

// Signer generates and validates HMAC based signatures.
type Signer struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewSigner creates a Signer accepting timestamps within DefaultTolerance.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret, tolerance: DefaultTolerance, now: time.Now}
}

// Sign returns the hex signature for a body sent at timestampUnix.
func (s *Signer) Sign(body []byte, timestampUnix int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(strconv.FormatInt(timestampUnix, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Validate compares the provided signature with the expected one and rejects
// timestamps outside the tolerance window in either direction.
func (s *Signer) Validate(body []byte, timestamp, signature string) bool {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	age := s.now().Sub(time.Unix(ts, 0))
	if age > s.tolerance || age < -s.tolerance {
		return false
	}
	expected := s.Sign(body, ts)
	// hmac.Equal compares in constant time.
	return hmac.Equal([]byte(expected), []byte(signature))
}
