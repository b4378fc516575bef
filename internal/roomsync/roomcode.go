package roomsync

import (
	"fmt"
	"math/rand"
	"regexp"
	"time"
)

// codeProbeBudget is how many candidate codes are probed for uniqueness
// before falling back to a timestamp-derived code.
const codeProbeBudget = 10

var roomCodePattern = regexp.MustCompile(`^[A-Z]{3}[0-9]{3}$`)

// ValidRoomCode reports whether code has the canonical 3-letters-3-digits
// form. Timestamp fallback codes do not match and are accepted anywhere a
// server handed them out.
func ValidRoomCode(code string) bool {
	return roomCodePattern.MatchString(code)
}

// newRoomCode generates a random candidate room code such as "CAT123".
func newRoomCode(rng *rand.Rand) string {
	letters := make([]byte, 3)
	for i := range letters {
		letters[i] = byte('A' + rng.Intn(26))
	}
	return fmt.Sprintf("%s%03d", letters, rng.Intn(1000))
}

// fallbackRoomCode derives a room code from the clock, used once the
// uniqueness probe budget is exhausted.
func fallbackRoomCode(now time.Time) string {
	return fmt.Sprintf("R%d", now.UnixMilli()%1_000_000)
}
