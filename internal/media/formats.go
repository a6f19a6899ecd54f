package media

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// DefaultQuality is the tier used when a request carries no quality selector
// or an unrecognized one.
const DefaultQuality = "1080p"

// AudioSelector is the format chain used for audio-only downloads.
const AudioSelector = "bestaudio[ext=m4a]/bestaudio/best"

// FormatTable maps caller-facing quality selectors to the external tool's
// format-selector strings. The numeric format-id pairs at the head of each
// chain are site catalog data and go stale; deployments override the table
// with a JSON file rather than patching code.
type FormatTable struct {
	selectors map[string]string
}

// DefaultFormatTable returns the compiled-in selector chains. Each tier tries
// known format-id pairs first, then falls back to a generic height-bounded
// selector.
func DefaultFormatTable() FormatTable {
	return FormatTable{selectors: map[string]string{
		"2160p": "313+140/401+140/bestvideo[height<=2160]+bestaudio/best[height<=2160]",
		"1440p": "271+140/400+140/bestvideo[height<=1440]+bestaudio/best[height<=1440]",
		"1080p": "137+140/399+140/bestvideo[height<=1080]+bestaudio/best[height<=1080]",
		"720p":  "22/136+140/bestvideo[height<=720]+bestaudio/best[height<=720]",
		"480p":  "135+140/bestvideo[height<=480]+bestaudio/best[height<=480]",
		"360p":  "18/134+140/bestvideo[height<=360]+bestaudio/best[height<=360]",
		"worst": "worstvideo+worstaudio/worst",
	}}
}

// LoadFormatTable reads selector overrides from a JSON object file mapping
// quality tier to selector string. Entries replace the compiled-in defaults
// tier by tier; tiers absent from the file keep their defaults. The file must
// contain a selector for the default tier or already inherit one.
func LoadFormatTable(path string) (FormatTable, error) {
	table := DefaultFormatTable()
	data, err := os.ReadFile(path)
	if err != nil {
		return FormatTable{}, fmt.Errorf("read format table: %w", err)
	}
	overrides := make(map[string]string)
	if err := json.Unmarshal(data, &overrides); err != nil {
		return FormatTable{}, fmt.Errorf("parse format table: %w", err)
	}
	for tier, selector := range overrides {
		tier = normalizeQuality(tier)
		selector = strings.TrimSpace(selector)
		if tier == "" || selector == "" {
			return FormatTable{}, fmt.Errorf("format table entry %q has empty tier or selector", tier)
		}
		table.selectors[tier] = selector
	}
	return table, nil
}

// Selector maps a caller-supplied quality to a format-selector string. The
// mapping is deterministic: unrecognized or empty selectors always yield the
// default tier's chain.
func (t FormatTable) Selector(quality string) string {
	if t.selectors == nil {
		t = DefaultFormatTable()
	}
	if selector, ok := t.selectors[normalizeQuality(quality)]; ok {
		return selector
	}
	return t.selectors[DefaultQuality]
}

// Tiers returns the recognized quality names, for validation messages.
func (t FormatTable) Tiers() []string {
	tiers := make([]string, 0, len(t.selectors))
	for tier := range t.selectors {
		tiers = append(tiers, tier)
	}
	return tiers
}

func normalizeQuality(quality string) string {
	normalized := strings.ToLower(strings.TrimSpace(quality))
	// Accept bare heights like "1080" as aliases for the suffixed tier.
	switch normalized {
	case "2160", "1440", "1080", "720", "480", "360":
		return normalized + "p"
	case "4k":
		return "2160p"
	case "2k":
		return "1440p"
	}
	return normalized
}
