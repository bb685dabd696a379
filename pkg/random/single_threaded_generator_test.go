package random_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tessera-db/tessera/pkg/random"
)

func TestSingleThreadedGenerator(t *testing.T) {
	for name, generator := range map[string]random.SingleThreadedGenerator{
		"FastSingleThreaded": random.NewFastSingleThreadedGenerator(),
		"CryptoThreadSafe":   random.CryptoThreadSafeGenerator,
	} {
		t.Run(name, func(t *testing.T) {
			t.Run("IntN", func(t *testing.T) {
				for i := 0; i < 100; i++ {
					v := generator.IntN(42)
					require.LessOrEqual(t, 0, v)
					require.Less(t, v, 42)
				}
			})

			t.Run("Int64N", func(t *testing.T) {
				for i := 0; i < 100; i++ {
					v := generator.Int64N(123456789)
					require.LessOrEqual(t, int64(0), v)
					require.Less(t, v, int64(123456789))
				}
			})

			t.Run("Read", func(t *testing.T) {
				var b [16]byte
				n, err := generator.Read(b[:])
				require.NoError(t, err)
				require.Equal(t, 16, n)
			})

			t.Run("Shuffle", func(t *testing.T) {
				values := []int{1, 2, 3, 4, 5}
				generator.Shuffle(len(values), func(i, j int) {
					values[i], values[j] = values[j], values[i]
				})
				require.ElementsMatch(t, []int{1, 2, 3, 4, 5}, values)
			})
		})
	}
}
