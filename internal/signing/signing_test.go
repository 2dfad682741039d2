package signing

import (
	"strconv"
	"testing"
	"time"
)

func TestSigner(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := NewSigner([]byte("topsecret"))
	s.now = func() time.Time { return now }

	body := []byte(`{"bucket": "b", "name": "in/a.csv"}`)
	ts := strconv.FormatInt(now.Unix(), 10)
	sig := s.Sign(body, now.Unix())
	if len(sig) == 0 {
		t.Fatalf("expected signature")
	}
	if !s.Validate(body, ts, sig) {
		t.Fatalf("expected signature to validate")
	}
	// Negative cases ensure Validate is strict about every input.
	if s.Validate([]byte(`{"bucket": "other"}`), ts, sig) {
		t.Fatalf("expected validation to fail for a different body")
	}
	if s.Validate(body, "1700000001", sig) {
		t.Fatalf("expected validation to fail for a different timestamp")
	}
	if s.Validate(body, "soon", sig) {
		t.Fatalf("expected validation to fail for a malformed timestamp")
	}
	if NewSigner([]byte("other")).Sign(body, now.Unix()) == sig {
		t.Fatalf("different secrets must produce different signatures")
	}
}

func TestSignerRejectsStaleTimestamps(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := NewSigner([]byte("topsecret"))
	s.now = func() time.Time { return now }

	old := now.Add(-DefaultTolerance - time.Second).Unix()
	body := []byte("x")
	if s.Validate(body, strconv.FormatInt(old, 10), s.Sign(body, old)) {
		t.Fatalf("expected stale signature to be rejected")
	}
}
