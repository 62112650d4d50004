package frontier

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

const maxSlugLen = 80

// PageLabel infers a human page name from the URL path.
func PageLabel(raw string) string {
	segments := pathSegments(raw)
	if len(segments) == 0 {
		return "Home page"
	}
	switch strings.ToLower(segments[0]) {
	case "products", "product":
		if len(segments) > 1 {
			return "Product page: " + titleize(segments[len(segments)-1])
		}
		return "Product page"
	case "collections", "collection", "category", "categories":
		if len(segments) > 1 {
			return "Collection page: " + titleize(segments[len(segments)-1])
		}
		return "Collection page"
	case "cart":
		return "Cart page"
	case "checkout", "checkouts":
		return "Checkout page"
	case "search":
		return "Search page"
	}
	return titleize(segments[len(segments)-1]) + " page"
}

// PageID returns the stable page id for a 1-based visit index.
func PageID(index int) string {
	return fmt.Sprintf("page-%02d", index)
}

// ScreenshotFileName returns NN-<slug>.png for a 1-based visit index.
func ScreenshotFileName(index int, raw string) string {
	return fmt.Sprintf("%02d-%s.png", index, Slug(raw, index))
}

// Slug derives a filename-safe token from the first path segment, falling back
// to page-NN.
func Slug(raw string, index int) string {
	segments := pathSegments(raw)
	if len(segments) > 0 {
		s := nonSlugChars.ReplaceAllString(strings.ToLower(segments[0]), "-")
		if len(s) > maxSlugLen {
			s = s[:maxSlugLen]
		}
		s = strings.Trim(s, "-")
		if s != "" {
			return s
		}
	}
	return PageID(index)
}

func pathSegments(raw string) []string {
	u, err := url.Parse(raw)
	if err != nil {
		return nil
	}
	var out []string
	for _, seg := range strings.Split(u.Path, "/") {
		if seg = strings.TrimSpace(seg); seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

func titleize(seg string) string {
	words := strings.FieldsFunc(seg, func(r rune) bool {
		return r == '-' || r == '_' || r == '+' || r == '.'
	})
	for i, w := range words {
		if w == "" {
			continue
		}
		r, n := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + strings.ToLower(w[n:])
	}
	if len(words) == 0 {
		return "Untitled"
	}
	return strings.Join(words, " ")
}
