package agent

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestSignAndVerifyRequest(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	body := []byte(`{"transaction_id":"tx-1","amount":1000}`)

	req, err := http.NewRequest(http.MethodPost, "http://localhost/api/agreements", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}

	SignRequest(req, priv, body)

	if got := req.Header.Get("X-Agent-ID"); got != string(IDFromPublicKey(pub)) {
		t.Errorf("X-Agent-ID = %q, want %q", got, IDFromPublicKey(pub))
	}
	if req.Header.Get("X-Agent-Timestamp") == "" {
		t.Error("X-Agent-Timestamp not set")
	}

	id, err := VerifyRequest(req, body, time.Now())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id != IDFromPublicKey(pub) {
		t.Errorf("verified id = %q, want %q", id, IDFromPublicKey(pub))
	}
}

func TestVerifyRequestRejectsExpiredTimestamp(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, "http://localhost/api/agreements/tx-1/release", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	signRequestAt(req, priv, nil, time.Now().Add(-10*time.Minute))

	if _, err := VerifyRequest(req, nil, time.Now()); err == nil {
		t.Fatal("expected error for expired timestamp, got nil")
	}
}

func TestVerifyRequestRejectsBadSignature(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	_, wrongPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate wrong key: %v", err)
	}

	body := []byte(`{"score":80}`)
	req, err := http.NewRequest(http.MethodPost, "http://localhost/api/agreements/tx-1/resolve", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}

	SignRequest(req, wrongPriv, body)
	// claim someone else's identity
	req.Header.Set("X-Agent-ID", string(IDFromPublicKey(pub)))

	if _, err := VerifyRequest(req, body, time.Now()); err == nil {
		t.Fatal("expected error for bad signature, got nil")
	}
}

func TestVerifyRequestRejectsTamperedBody(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	body := []byte(`{"amount":10}`)
	req, _ := http.NewRequest(http.MethodPost, "http://localhost/api/agreements", bytes.NewReader(body))
	SignRequest(req, priv, body)

	if _, err := VerifyRequest(req, []byte(`{"amount":10000}`), time.Now()); err == nil {
		t.Fatal("expected error for tampered body, got nil")
	}
}

func TestParseID(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	id := IDFromPublicKey(pub)
	if len(id) != 64 {
		t.Errorf("id length = %d, want 64", len(id))
	}
	if _, err := ParseID(string(id)); err != nil {
		t.Errorf("parse valid id: %v", err)
	}
	back, err := id.PublicKey()
	if err != nil || !bytes.Equal(back, pub) {
		t.Errorf("PublicKey() = %x, %v", back, err)
	}

	for _, bad := range []string{"", "zz", "abcd"} {
		if _, err := ParseID(bad); err == nil {
			t.Errorf("ParseID(%q) succeeded", bad)
		}
	}
}

func TestParseIDCanonicalizesCase(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	want := IDFromPublicKey(pub)

	got, err := ParseID(strings.ToUpper(string(want)))
	if err != nil {
		t.Fatalf("ParseID(upper): %v", err)
	}
	if got != want {
		t.Errorf("ParseID(upper) = %q, want %q", got, want)
	}
}

func TestVerifyRequestReturnsCanonicalID(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	body := []byte(`{"role":"requester"}`)
	req, err := http.NewRequest(http.MethodPost, "http://localhost/api/reputation", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	SignRequest(req, priv, body)
	req.Header.Set("X-Agent-ID", strings.ToUpper(req.Header.Get("X-Agent-ID")))

	id, err := VerifyRequest(req, body, time.Now())
	if err != nil {
		t.Fatalf("VerifyRequest: %v", err)
	}
	if id != IDFromPublicKey(pub) {
		t.Errorf("caller = %q, want %q", id, IDFromPublicKey(pub))
	}
}
