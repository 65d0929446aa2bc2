package outbox

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// deterministicJitter perturbs base by up to pct% using a hash of parts
// instead of math/rand, so retry timing stays reproducible across runs and
// processes for the same entry/attempt.
func deterministicJitter(base time.Duration, pct int, parts ...any) time.Duration {
	if pct <= 0 {
		return base
	}
	if pct > 50 {
		pct = 50
	}
	h := sha256.New()
	for _, p := range parts {
		_, _ = h.Write([]byte(fmt.Sprint(p)))
		_, _ = h.Write([]byte{0})
	}
	sum := h.Sum(nil)
	u := binary.LittleEndian.Uint64(sum[:8])
	span := uint64(pct*2 + 1)
	deltaPct := int(u%span) - pct
	delta := (base * time.Duration(deltaPct)) / 100
	return base + delta
}
