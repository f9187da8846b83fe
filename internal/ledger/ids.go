package ledger

import (
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// newUUID is swapped out in tests to exercise the fallback.
var newUUID = uuid.NewRandom

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewID returns a random document id. If the system random source is
// unavailable it falls back to a base36 timestamp with a random suffix.
// It never fails.
func NewID() string {
	id, err := newUUID()
	if err == nil {
		return id.String()
	}
	return fallbackID(time.Now())
}

// fallbackID has roughly 2 billion combinations per millisecond.
func fallbackID(now time.Time) string {
	suffix := make([]byte, 6)
	for i := range suffix {
		suffix[i] = base36[rand.IntN(len(base36))]
	}
	return strconv.FormatInt(now.UnixMilli(), 36) + string(suffix)
}
