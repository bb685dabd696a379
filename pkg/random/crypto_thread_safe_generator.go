package random

import (
	crypto_rand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
)

func mustCryptoRandRead(p []byte) (int, error) {
	n, err := crypto_rand.Read(p)
	if err != nil {
		panic(fmt.Sprintf("Failed to obtain random data: %s", err))
	}
	return n, nil
}

type cryptoSource struct{}

func (s cryptoSource) Uint64() uint64 {
	var b [8]byte
	mustCryptoRandRead(b[:])
	return binary.LittleEndian.Uint64(b[:])
}

var _ rand.Source = cryptoSource{}

type cryptoThreadSafeGenerator struct {
	*rand.Rand
}

func (g cryptoThreadSafeGenerator) IsThreadSafe() {}

func (g cryptoThreadSafeGenerator) Read(p []byte) (int, error) {
	// Call into crypto_rand.Read() directly, as opposed to going
	// through rand.Rand.
	return mustCryptoRandRead(p)
}

// CryptoThreadSafeGenerator is an instance of ThreadSafeGenerator that is
// suitable for cryptographic purposes.
var CryptoThreadSafeGenerator ThreadSafeGenerator = cryptoThreadSafeGenerator{
	Rand: rand.New(cryptoSource{}),
}
