package radio

import (
	"fmt"
	"strings"
)

var forms = []string{"Variations", "Fantasia", "Invention", "Study", "Rondo", "Canon", "Nocturne", "Etude"}

var moods = []string{"Reversed", "Folded", "Drifting", "Inverted", "Faded", "Restless", "Hushed", "Mirrored"}

// TrackName builds a display name from the theme word and seed. The same
// inputs always give the same name.
func TrackName(theme string, seed uint64) string {
	if theme == "" {
		return fmt.Sprintf("Composition no. %d", seed)
	}
	h := seed * 0x9e3779b97f4a7c15
	mood := moods[h%uint64(len(moods))]
	form := forms[(h>>16)%uint64(len(forms))]
	return fmt.Sprintf("%s %s on %q, no. %d", mood, form, strings.ToLower(theme), seed)
}
