package escrow

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"

	"github.com/ssd-technologies/arbiter/internal/agent"
)

// EscrowAddress is the ledger address holding the funds of an agreement.
func EscrowAddress(txID string) string {
	return derive("escrow", txID)
}

// AgentAddress is the ledger address holding an agent's locked stake.
func AgentAddress(owner agent.ID) string {
	return derive("agent", string(owner))
}

func derive(seed, key string) string {
	h := sha3.New256()
	h.Write([]byte(seed))
	h.Write([]byte(key))
	return hex.EncodeToString(h.Sum(nil))
}
