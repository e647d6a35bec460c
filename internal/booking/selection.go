package booking

import (
	"math/rand"
	"strings"
)

// SelectSlot picks the slot to book. The candidate list is shuffled first so
// concurrent runs against the same availability don't all fight over the
// same field, then the earliest preferred time prefix that matches wins.
// Preferred times are "HH:MM" prefixes checked against Slot.BeginTime in
// order; with no preference (or no match) the first slot of the shuffle is
// taken. Returns false when there is nothing to book.
func SelectSlot(slots []Slot, preferred []string, rng *rand.Rand) (Slot, bool) {
	if len(slots) == 0 {
		return Slot{}, false
	}

	shuffled := make([]Slot, len(slots))
	copy(shuffled, slots)
	if rng != nil {
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
	}

	for _, p := range preferred {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		for _, s := range shuffled {
			if strings.HasPrefix(s.BeginTime, p) {
				return s, true
			}
		}
	}
	return shuffled[0], true
}

// NormalizeTimes trims a comma list of "HH:MM" preferences, dropping blanks.
func NormalizeTimes(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
