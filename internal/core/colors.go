package core

// Palette is the preset user colour list.
var Palette = []string{
	"#0084ff", "#e91e63", "#9c27b0", "#ff5722",
	"#4caf50", "#ff9800", "#00bcd4", "#607d8b",
	"#f44336", "#3f51b5", "#009688", "#795548",
}

// DefaultColor is used for records without a usable colour.
const DefaultColor = "#0084ff"

// ColorFor returns a stable palette colour for an author name.
func ColorFor(author string) string {
	if author == "" {
		return DefaultColor
	}
	idx := int(hashCode(author)) % len(Palette)
	if idx < 0 {
		idx = -idx
	}
	return Palette[idx]
}

// hashCode is the 31-multiplier string hash over UTF-16 code units, so
// colours match what other clients of the same room compute.
func hashCode(s string) int32 {
	var h int32
	for _, r := range s {
		if r >= 0x10000 {
			r -= 0x10000
			hi := 0xD800 + (r >> 10)
			lo := 0xDC00 + (r & 0x3FF)
			h = 31*h + int32(hi)
			h = 31*h + int32(lo)
			continue
		}
		h = 31*h + int32(r)
	}
	return h
}

// ValidColor reports whether value looks like #rrggbb.
func ValidColor(value string) bool {
	if len(value) != 7 || value[0] != '#' {
		return false
	}
	for _, c := range value[1:] {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
