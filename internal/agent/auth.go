// Package agent provides participant identities, Ed25519 request signing and
// quality-assertion verification for the arbiter API.
package agent

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"
)

// TimestampWindow is the maximum age of a signed request before it is rejected.
const TimestampWindow = 5 * time.Minute

// ID identifies a participant: the lowercase hex encoding of its Ed25519
// public key. Payers, payees, oracles and admins are all IDs.
type ID string

// IDFromPublicKey returns the identity of a public key.
func IDFromPublicKey(pub ed25519.PublicKey) ID {
	return ID(hex.EncodeToString(pub))
}

// ParseID validates s as a hex-encoded Ed25519 public key and returns its
// canonical lowercase form.
func ParseID(s string) (ID, error) {
	pub, err := decodeKey(s)
	if err != nil {
		return "", err
	}
	return IDFromPublicKey(pub), nil
}

// PublicKey decodes the identity back into a public key.
func (id ID) PublicKey() (ed25519.PublicKey, error) {
	return decodeKey(string(id))
}

func (id ID) String() string { return string(id) }

func decodeKey(s string) (ed25519.PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode identity: %w", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("decode identity: want %d bytes, got %d", ed25519.PublicKeySize, len(b))
	}
	return ed25519.PublicKey(b), nil
}

// SignRequest adds X-Agent-ID, X-Agent-Timestamp, and X-Agent-Signature headers
// to an outgoing HTTP request. The signature covers:
//
//	method + path + timestamp + body
func SignRequest(req *http.Request, privKey ed25519.PrivateKey, body []byte) {
	signRequestAt(req, privKey, body, time.Now())
}

func signRequestAt(req *http.Request, privKey ed25519.PrivateKey, body []byte, at time.Time) {
	ts := strconv.FormatInt(at.Unix(), 10)
	id := IDFromPublicKey(privKey.Public().(ed25519.PublicKey))

	req.Header.Set("X-Agent-ID", string(id))
	req.Header.Set("X-Agent-Timestamp", ts)

	msg := req.Method + req.URL.Path + ts + string(body)
	sig := ed25519.Sign(privKey, []byte(msg))
	req.Header.Set("X-Agent-Signature", hex.EncodeToString(sig))
}

// VerifyRequest checks the request's timestamp window and signature and
// returns the verified caller identity.
func VerifyRequest(req *http.Request, body []byte, now time.Time) (ID, error) {
	idStr := req.Header.Get("X-Agent-ID")
	tsStr := req.Header.Get("X-Agent-Timestamp")
	sigHex := req.Header.Get("X-Agent-Signature")

	if idStr == "" {
		return "", fmt.Errorf("missing X-Agent-ID header")
	}
	if tsStr == "" {
		return "", fmt.Errorf("missing X-Agent-Timestamp header")
	}
	if sigHex == "" {
		return "", fmt.Errorf("missing X-Agent-Signature header")
	}

	pub, err := decodeKey(idStr)
	if err != nil {
		return "", err
	}

	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid timestamp: %w", err)
	}

	diff := math.Abs(float64(now.Unix() - ts))
	if diff > TimestampWindow.Seconds() {
		return "", fmt.Errorf("timestamp expired: %.0fs drift exceeds %v window", diff, TimestampWindow)
	}

	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return "", fmt.Errorf("invalid signature hex: %w", err)
	}

	msg := req.Method + req.URL.Path + tsStr + string(body)
	if !ed25519.Verify(pub, []byte(msg), sig) {
		return "", fmt.Errorf("ed25519 signature verification failed")
	}

	return IDFromPublicKey(pub), nil
}
