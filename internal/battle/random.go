package battle

import (
	"crypto/rand"
	"math/big"
)

// Randomizer picks an index in [0, n).
type Randomizer interface {
	Intn(n int) int
}

// CryptoRandomizer draws from crypto/rand so pairings and tie-breaks cannot be
// predicted from earlier outcomes.
type CryptoRandomizer struct{}

func (CryptoRandomizer) Intn(n int) int {
	if n <= 1 {
		return 0
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic("battle: crypto/rand unavailable: " + err.Error())
	}
	return int(v.Int64())
}
