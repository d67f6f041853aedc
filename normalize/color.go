package normalize

import "fmt"

// AuthorColor maps an author's stable platform identifier to a CSS color.
// The rolling hash keeps full saturation and mid lightness so every hue
// stays readable on a dark background. The same identifier always yields
// the same color.
func AuthorColor(id string) string {
	var h int32
	for _, c := range id {
		h = int32(c) + (h << 5) - h
	}
	hue := h % 360
	if hue < 0 {
		hue = -hue
	}
	return fmt.Sprintf("hsl(%d, 70%%, 50%%)", hue)
}
