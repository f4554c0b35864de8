package core

import (
	"crypto/sha256"
	"encoding/binary"

	"PerpRisk/internal/event"
)

const GenesisHashSeed = "PerpRisk:genesis:v1"

// GenesisHash is the chain tip before the first event.
func GenesisHash() event.Hash {
	return sha256.Sum256([]byte(GenesisHashSeed))
}

// StateHasher chains event digests into a tamper-evident sequence.
type StateHasher struct {
	prevHash event.Hash
}

// NewStateHasher initializes with genesis hash
func NewStateHasher() *StateHasher {
	return &StateHasher{prevHash: GenesisHash()}
}

// RestoreStateHasher resumes a chain from a persisted tip.
func RestoreStateHasher(tip event.Hash) *StateHasher {
	return &StateHasher{prevHash: tip}
}

// ComputeHash calculates state_hash[N] = SHA-256(prev_hash || sequence || digest)
// and advances the tip.
func (h *StateHasher) ComputeHash(sequence int64, digest []byte) event.Hash {
	hasher := sha256.New()
	hasher.Write(h.prevHash[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(digest)

	var hash event.Hash
	copy(hash[:], hasher.Sum(nil))
	h.prevHash = hash
	return hash
}

// Tip returns current chain tip
func (h *StateHasher) Tip() event.Hash {
	return h.prevHash
}

// VerifyChain recomputes the chain over envelopes starting at prev and
// reports the first sequence whose hashes do not match.
func VerifyChain(prev event.Hash, envs []*event.Envelope) (int64, bool) {
	h := RestoreStateHasher(prev)
	for _, env := range envs {
		if env.PrevHash != h.Tip() {
			return env.Sequence, false
		}
		if h.ComputeHash(env.Sequence, env.Digest()) != env.StateHash {
			return env.Sequence, false
		}
	}
	return 0, true
}
