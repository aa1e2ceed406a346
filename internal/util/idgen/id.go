package idgen

import (
	"math/rand/v2"
	"strings"
	"time"
)

const idAlphabet = "0123456789abcdefghjkmnpqrstvwxyz"

func init() {
	if len(idAlphabet) != 32 {
		panic("must not happen")
	}
	for i := 1; i < len(idAlphabet); i++ {
		if idAlphabet[i-1] >= idAlphabet[i] {
			panic("must not happen")
		}
	}
}

// ID generates a sortable random identifier. It follows
// https://github.com/ulid/spec, but is lowercase and not monotonic.
func ID() string {
	var b strings.Builder
	ts := uint64(time.Now().UnixMilli()) & ((1 << 48) - 1)
	for i := 45; i >= 0; i -= 5 {
		_ = b.WriteByte(idAlphabet[(ts>>i)&31])
	}
	for range 2 {
		r := rand.Uint64()
		for range 8 {
			_ = b.WriteByte(idAlphabet[r&31])
			r >>= 5
		}
	}
	return b.String()
}
