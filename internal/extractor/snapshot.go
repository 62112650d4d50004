package extractor

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/JakeFAU/fixlab/internal/fixlab"
)

// Output limits.
const (
	MaxCTAs      = 40
	MaxHeadings  = 24
	MaxTextChars = 180
)

// CTAPattern matches call-to-action wording, case-insensitively. The in-page
// script applies the same pattern before it caps candidates.
const CTAPattern = `(buy|shop|start|get|join|subscribe|add to cart|checkout|book|claim|order|contact|learn more|get started|view details)`

var likelyCTAText = regexp.MustCompile(`(?i)` + CTAPattern)

// TrustKeywords is the vocabulary counted for trustSignalHits.
var TrustKeywords = []string{
	"review", "reviews", "testimonial", "trusted", "secure", "guarantee",
	"warranty", "free returns", "money back", "refund", "verified",
}

// Build turns the script output into a page snapshot. Identity fields (page id,
// URL, label, screenshot) and canonical links are filled in by the caller.
func Build(raw RawSnapshot) fixlab.Page {
	vh := raw.ViewportHeight
	if vh <= 0 {
		vh = float64(DefaultScriptConfig().ViewportHeight)
	}
	page := fixlab.Page{
		Title:                  collapse(raw.Title, 0),
		MetaDescription:        collapse(raw.MetaDescription, 0),
		H1:                     collapse(raw.H1Text, MaxTextChars),
		H1Selector:             raw.H1Selector,
		H1Count:                raw.H1Count,
		Headings:               buildHeadings(raw.Headings),
		CTAs:                   buildCTAs(raw, vh),
		Forms:                  buildForms(raw.Forms),
		TrustSignalHits:        CountTrustSignals(raw.BodyText),
		BodyWordCount:          WordCount(raw.BodyText),
		FirstViewportWordCount: WordCount(raw.FirstViewportText),
		NavLinkCount:           raw.NavLinkCount,
		Links:                  []string{},
	}
	page.Metrics = ComputeMetrics(page)
	return page
}

// ComputeMetrics derives the count summary of a snapshot.
func ComputeMetrics(p fixlab.Page) fixlab.PageMetrics {
	m := fixlab.PageMetrics{
		CTACount:     len(p.CTAs),
		FormCount:    len(p.Forms),
		HeadingCount: len(p.Headings),
		LinkCount:    len(p.Links),
	}
	for _, c := range p.CTAs {
		if c.AboveFold {
			m.AboveFoldCTACount++
		}
		if c.IsLikelyCTA {
			m.LikelyCTACount++
		}
	}
	for _, f := range p.Forms {
		if f.Actionable {
			m.ActionableForms++
			if !f.HasSubmit {
				m.FormsMissingSubmit++
			}
		}
	}
	return m
}

// IsLikelyCTA reports whether an element reads as a call to action.
func IsLikelyCTA(tag, text string) bool {
	return strings.EqualFold(tag, "button") || likelyCTAText.MatchString(text)
}

// CountTrustSignals counts case-insensitive keyword occurrences in text.
func CountTrustSignals(text string) int {
	lower := strings.ToLower(text)
	hits := 0
	for _, kw := range TrustKeywords {
		hits += strings.Count(lower, kw)
	}
	return hits
}

// WordCount counts whitespace-separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// IsSearchForm applies the search heuristics: a search hint in the form's
// identity, plus either a GET method or only search/hidden inputs.
func IsSearchForm(f RawForm) bool {
	hint := false
	for _, v := range []string{f.ID, f.ClassName, f.Role, f.AriaLabel, f.Action} {
		if strings.Contains(strings.ToLower(v), "search") {
			hint = true
			break
		}
	}
	if !hint {
		return false
	}
	method := strings.ToUpper(strings.TrimSpace(f.Method))
	if method == "" || method == "GET" {
		return true
	}
	if len(f.InputTypes) == 0 {
		return false
	}
	for _, t := range f.InputTypes {
		if t != "search" && t != "hidden" {
			return false
		}
	}
	return true
}

func buildHeadings(raw []RawHeading) []fixlab.Heading {
	out := make([]fixlab.Heading, 0, min(len(raw), MaxHeadings))
	for _, h := range raw {
		if len(out) == MaxHeadings {
			break
		}
		if h.Level < 1 || h.Level > 3 {
			continue
		}
		out = append(out, fixlab.Heading{Level: h.Level, Text: collapse(h.Text, MaxTextChars), Selector: h.Selector})
	}
	return out
}

func buildCTAs(raw RawSnapshot, vh float64) []fixlab.CTA {
	docW := math.Max(raw.DocumentWidth, raw.ViewportWidth)
	docH := math.Max(raw.DocumentHeight, vh)
	out := make([]fixlab.CTA, 0, MaxCTAs)
	for _, c := range raw.CTAs {
		if len(out) == MaxCTAs {
			break
		}
		text := collapse(c.Text, MaxTextChars)
		aboveFold := c.Top >= 0 && c.Top < vh
		likely := IsLikelyCTA(c.Tag, text)
		if !likely && !aboveFold {
			continue
		}
		cta := fixlab.CTA{
			Text:        text,
			Selector:    c.Selector,
			Tag:         strings.ToLower(c.Tag),
			AboveFold:   aboveFold,
			IsLikelyCTA: likely,
			CenterXPct:  percent(c.Left+c.Width/2, docW),
			CenterYPct:  percent(c.Top+c.Height/2, docH),
		}
		fg, fgOK := ParseColor(c.Color)
		if fgOK {
			cta.ColorHex = fg.Hex()
		}
		bg, bgOK := ParseColor(c.Background)
		if bgOK {
			cta.BackgroundHex = bg.Hex()
		}
		if fgOK && bgOK {
			ratio := ContrastRatio(fg, bg)
			cta.ContrastRatio = &ratio
		}
		out = append(out, cta)
	}
	return out
}

func buildForms(raw []RawForm) []fixlab.Form {
	out := make([]fixlab.Form, 0, len(raw))
	for _, f := range raw {
		method := strings.ToUpper(strings.TrimSpace(f.Method))
		if method == "" {
			method = "GET"
		}
		search := IsSearchForm(f)
		inputs := len(f.InputTypes)
		out = append(out, fixlab.Form{
			Selector:   f.Selector,
			Method:     method,
			Action:     f.Action,
			InputCount: inputs,
			HasSubmit:  f.HasInternalSubmit || f.HasExternalSubmit,
			Search:     search,
			Actionable: inputs > 0 && !search,
			Signature:  fmt.Sprintf(`<form action="%s" method="%s">`, f.Action, method),
		})
	}
	return out
}

func percent(v, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return round(math.Max(0, math.Min(100, v/total*100)), 1)
}

func collapse(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if limit > 0 {
		if r := []rune(s); len(r) > limit {
			s = string(r[:limit])
		}
	}
	return s
}
