package game

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// The draw chain is the commit-reveal scheme: the server seed's hash is
// published when the round starts, the seed itself when it ends, and every
// draw is HMAC-SHA256(serverSeed, clientSeed:nonce) reduced to a pool index.

// GenerateSeed creates a cryptographically secure random seed.
func GenerateSeed() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// HashCommitment creates a SHA256 hash of the seed for commitment.
func HashCommitment(seed string) string {
	h := sha256.New()
	h.Write([]byte(seed))
	return hex.EncodeToString(h.Sum(nil))
}

// FairDraw returns a DrawFunc backed by the HMAC chain. Each call advances
// the nonce, so the full draw sequence is reproducible from the two seeds.
func FairDraw(serverSeed, clientSeed string) DrawFunc {
	nonce := 0
	return func(poolSize int) int {
		nonce++
		return drawIndex(serverSeed, clientSeed, nonce, poolSize)
	}
}

func drawIndex(serverSeed, clientSeed string, nonce, poolSize int) int {
	data := fmt.Sprintf("%s:%d", clientSeed, nonce)
	h := hmac.New(sha256.New, []byte(serverSeed))
	h.Write([]byte(data))
	sum := h.Sum(nil)

	// First 8 bytes as a uint64, reduced mod pool size. The modulo bias is
	// negligible for pools of at most a few dozen characters.
	v := binary.BigEndian.Uint64(sum[:8])
	return int(v % uint64(poolSize))
}

// VerifyDraws checks a revealed seed against its published commitment and
// recomputes the claimed sequence of pool indexes.
func VerifyDraws(serverSeed, clientSeed, commitment string, poolSize int, claimed []int) bool {
	if HashCommitment(serverSeed) != commitment || poolSize <= 0 {
		return false
	}
	for i, want := range claimed {
		if drawIndex(serverSeed, clientSeed, i+1, poolSize) != want {
			return false
		}
	}
	return true
}
