package extractor

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// RGB is an opaque sRGB color.
type RGB struct {
	R, G, B uint8
}

// Hex formats c as #RRGGBB.
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}

var (
	hexColor   = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)
	funcColor  = regexp.MustCompile(`^rgba?\((.*)\)$`)
	colorSplit = regexp.MustCompile(`[\s,/]+`)
)

// ParseColor accepts #rgb, #rrggbb, rgb() and rgba(). Fully transparent colors
// are reported as unparseable.
func ParseColor(s string) (RGB, bool) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == "transparent" {
		return RGB{}, false
	}
	if hexColor.MatchString(s) {
		h := s[1:]
		if len(h) == 3 {
			h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
		}
		v, err := strconv.ParseUint(h, 16, 32)
		if err != nil {
			return RGB{}, false
		}
		return RGB{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, true
	}
	m := funcColor.FindStringSubmatch(s)
	if m == nil {
		return RGB{}, false
	}
	parts := colorSplit.Split(strings.TrimSpace(m[1]), -1)
	if len(parts) != 3 && len(parts) != 4 {
		return RGB{}, false
	}
	var ch [3]uint8
	for i := 0; i < 3; i++ {
		v, ok := channel(parts[i])
		if !ok {
			return RGB{}, false
		}
		ch[i] = v
	}
	if len(parts) == 4 {
		a, ok := alpha(parts[3])
		if !ok || a <= 0 {
			return RGB{}, false
		}
	}
	return RGB{R: ch[0], G: ch[1], B: ch[2]}, true
}

func channel(s string) (uint8, bool) {
	pct := strings.HasSuffix(s, "%")
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil || math.IsNaN(v) {
		return 0, false
	}
	if pct {
		v = v * 255 / 100
	}
	return uint8(math.Round(math.Max(0, math.Min(255, v)))), true
}

func alpha(s string) (float64, bool) {
	pct := strings.HasSuffix(s, "%")
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil || math.IsNaN(v) {
		return 0, false
	}
	if pct {
		v /= 100
	}
	return v, true
}

// RelativeLuminance is the WCAG 2.x relative luminance of c.
func RelativeLuminance(c RGB) float64 {
	lin := func(v uint8) float64 {
		f := float64(v) / 255
		if f <= 0.03928 {
			return f / 12.92
		}
		return math.Pow((f+0.055)/1.055, 2.4)
	}
	return 0.2126*lin(c.R) + 0.7152*lin(c.G) + 0.0722*lin(c.B)
}

// ContrastRatio is the WCAG contrast ratio of two colors rounded to two decimals.
func ContrastRatio(a, b RGB) float64 {
	la, lb := RelativeLuminance(a), RelativeLuminance(b)
	if la < lb {
		la, lb = lb, la
	}
	return round((la+0.05)/(lb+0.05), 2)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
