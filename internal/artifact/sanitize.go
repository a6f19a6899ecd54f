package artifact

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxPrefixLength = 80

var nameStripper = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// SanitizeName converts an arbitrary media title into a filesystem-safe name
// prefix. Diacritics are folded to their base letters, every character
// outside [A-Za-z0-9._ -] becomes an underscore, and runs of whitespace
// collapse to a single underscore. The result is capped so output templates
// stay inside filename length limits.
func SanitizeName(title string) string {
	folded, _, err := transform.String(nameStripper, title)
	if err != nil {
		folded = title
	}

	var builder strings.Builder
	builder.Grow(len(folded))
	lastUnderscore := false
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			builder.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				builder.WriteByte('_')
				lastUnderscore = true
			}
		}
	}

	name := strings.Trim(builder.String(), "._ ")
	if len(name) > maxPrefixLength {
		name = name[:maxPrefixLength]
		name = strings.TrimRight(name, "._ ")
	}
	if name == "" {
		name = "download"
	}
	return name
}
