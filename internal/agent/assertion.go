package agent

import (
	"crypto/ed25519"
	"strconv"

	"github.com/ssd-technologies/arbiter/internal/errs"
)

var ErrInvalidSignature = errs.New("InvalidSignature", "invalid quality assertion signature", errs.Signature)

// AssertionMessage is the canonical message a verifier signs to attest a
// quality score for a transaction: "<transaction_id>:<score>".
func AssertionMessage(txID string, score uint8) []byte {
	return []byte(txID + ":" + strconv.Itoa(int(score)))
}

// SignAssertion signs a quality score for txID.
func SignAssertion(priv ed25519.PrivateKey, txID string, score uint8) []byte {
	return ed25519.Sign(priv, AssertionMessage(txID, score))
}

// Ed25519Verifier checks signatures against the public key encoded in the
// signer's identity.
type Ed25519Verifier struct{}

// Verify reports ErrInvalidSignature unless sig is signer's signature over msg.
func (Ed25519Verifier) Verify(sig []byte, signer ID, msg []byte) error {
	pub, err := signer.PublicKey()
	if err != nil {
		return ErrInvalidSignature
	}
	if len(sig) != ed25519.SignatureSize || !ed25519.Verify(pub, msg, sig) {
		return ErrInvalidSignature
	}
	return nil
}
