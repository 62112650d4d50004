// Package rules evaluates conversion and UI heuristics against a page snapshot.
package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/JakeFAU/fixlab/internal/extractor"
	"github.com/JakeFAU/fixlab/internal/fixlab"
)

// Rule ids.
const (
	CTAHierarchy       = "cta_hierarchy"
	SubmitControlGap   = "submit_control_gap"
	TrustSignalMissing = "trust_signal_missing"
	H1Structure        = "h1_structure"
	CTAContrast        = "cta_contrast"
	FirstFoldDensity   = "first_fold_density"
)

// Thresholds.
const (
	MaxFindingsPerPage   = 6
	MaxAboveFoldCTAs     = 2
	MinContrastRatio     = 3.0
	MaxFirstViewportWord = 220
	maxElementText       = 90
)

// Rule inspects one page and reports zero or more matches.
type Rule func(p fixlab.Page, m fixlab.PageMetrics) []Match

// Match is a rule hit before page identity and ordering are applied.
type Match struct {
	RuleID      string
	Severity    fixlab.Severity
	Confidence  float64
	ElementText string
	// Text is the element's real text for the reference label; empty when the
	// element is missing.
	Text     string
	Selector string
	ColorHex string
	Problem  string
	Solution string
	Evidence []string
}

// Engine runs a fixed rule set.
type Engine struct {
	rules []Rule
}

// New returns an Engine over rules, or over Default when none are given.
func New(rules ...Rule) *Engine {
	if len(rules) == 0 {
		rules = Default()
	}
	return &Engine{rules: rules}
}

// Default is the built-in rule set in evaluation order.
func Default() []Rule {
	return []Rule{ctaHierarchy, submitControlGap, trustSignalMissing, h1Structure, ctaContrast, firstFoldDensity}
}

// Evaluate runs every rule on p and returns its findings sorted by severity then
// confidence, truncated to MaxFindingsPerPage.
func (e *Engine) Evaluate(p fixlab.Page) []fixlab.Finding {
	m := extractor.ComputeMetrics(p)
	var matches []Match
	for _, rule := range e.rules {
		matches = append(matches, rule(p, m)...)
	}
	SortMatches(matches)
	if len(matches) > MaxFindingsPerPage {
		matches = matches[:MaxFindingsPerPage]
	}

	section := SectionFor(p.Label)
	findings := make([]fixlab.Finding, 0, len(matches))
	for i, mt := range matches {
		findings = append(findings, fixlab.Finding{
			ID:             fmt.Sprintf("%s-%s-%d", p.PageID, mt.RuleID, i+1),
			RuleID:         mt.RuleID,
			Severity:       mt.Severity,
			Confidence:     mt.Confidence,
			PageID:         p.PageID,
			PageLabel:      p.Label,
			PageURL:        p.URL,
			Section:        section,
			ElementText:    mt.ElementText,
			Selector:       mt.Selector,
			ColorHex:       mt.ColorHex,
			Problem:        mt.Problem,
			Solution:       mt.Solution,
			Evidence:       mt.Evidence,
			ReferenceLabel: ReferenceLabel(mt.Selector, mt.Text, mt.ColorHex),
		})
	}
	return findings
}

// SortMatches orders matches by severity rank, then confidence descending. The
// sort is stable so equal matches keep rule order.
func SortMatches(ms []Match) {
	sort.SliceStable(ms, func(i, j int) bool {
		if ri, rj := ms[i].Severity.Rank(), ms[j].Severity.Rank(); ri != rj {
			return ri < rj
		}
		return ms[i].Confidence > ms[j].Confidence
	})
}

// ReferenceLabel pins a finding to a concrete element.
func ReferenceLabel(selector, text, color string) string {
	sel := "selector n/a"
	if s := strings.TrimSpace(selector); s != "" {
		sel = "selector " + s
	}
	txt := "text n/a"
	if t := strings.TrimSpace(text); t != "" {
		txt = fmt.Sprintf("text %q", clip(t))
	}
	col := "color n/a"
	if c := strings.TrimSpace(color); c != "" {
		col = "color " + c
	}
	return sel + ", " + txt + ", " + col
}

// SectionFor maps a page label to the theme section a fix lands in.
func SectionFor(label string) string {
	switch {
	case strings.HasPrefix(label, "Home"):
		return "Hero"
	case strings.HasPrefix(label, "Product"):
		return "Product detail"
	case strings.HasPrefix(label, "Collection"):
		return "Collection grid"
	case strings.HasPrefix(label, "Cart"):
		return "Cart summary"
	case strings.HasPrefix(label, "Checkout"):
		return "Checkout form"
	default:
		return "Main content"
	}
}

func elementText(text, sentinel string) string {
	if t := strings.TrimSpace(text); t != "" {
		return clip(t)
	}
	return sentinel
}

func clip(s string) string {
	r := []rune(s)
	if len(r) <= maxElementText {
		return s
	}
	return string(r[:maxElementText-3]) + "..."
}

func ctaHierarchy(p fixlab.Page, m fixlab.PageMetrics) []Match {
	switch {
	case m.AboveFoldCTACount == 0:
		return []Match{{
			RuleID:      CTAHierarchy,
			Severity:    fixlab.SeverityHigh,
			Confidence:  0.86,
			ElementText: "[no above-fold CTA]",
			Selector:    p.H1Selector,
			Problem:     "No call to action is visible in the first viewport, so visitors have to scroll before they can act.",
			Solution:    "Place one primary CTA with a direct action verb next to the main headline.",
			Evidence:    []string{"aboveFoldCtaCount=0", fmt.Sprintf("ctaCount=%d", m.CTACount)},
		}}
	case m.AboveFoldCTACount > MaxAboveFoldCTAs:
		first := firstAboveFold(p.CTAs)
		return []Match{{
			RuleID:      CTAHierarchy,
			Severity:    fixlab.SeverityMedium,
			Confidence:  0.79,
			ElementText: elementText(first.Text, "[unlabeled CTA]"),
			Text:        first.Text,
			Selector:    first.Selector,
			ColorHex:    first.ColorHex,
			Problem:     fmt.Sprintf("%d calls to action compete above the fold, so no single next step stands out.", m.AboveFoldCTACount),
			Solution:    "Keep one primary CTA above the fold and restyle the rest as secondary links.",
			Evidence:    []string{fmt.Sprintf("aboveFoldCtaCount=%d", m.AboveFoldCTACount), fmt.Sprintf("likelyCtaCount=%d", m.LikelyCTACount)},
		}}
	}
	return nil
}

func firstAboveFold(ctas []fixlab.CTA) fixlab.CTA {
	for _, c := range ctas {
		if c.AboveFold {
			return c
		}
	}
	return fixlab.CTA{}
}

func submitControlGap(p fixlab.Page, _ fixlab.PageMetrics) []Match {
	for _, f := range p.Forms {
		if !f.Actionable || f.HasSubmit {
			continue
		}
		return []Match{{
			RuleID:      SubmitControlGap,
			Severity:    fixlab.SeverityHigh,
			Confidence:  0.93,
			ElementText: elementText(f.Signature, "[form]"),
			Text:        f.Signature,
			Selector:    f.Selector,
			Problem:     "An actionable form has no submit control, so keyboard and assistive users cannot complete it.",
			Solution:    "Add a visible submit button inside the form or link one with the form attribute.",
			Evidence: []string{
				fmt.Sprintf("inputCount=%d", f.InputCount),
				"method=" + f.Method,
				"action=" + f.Action,
				"hasSubmit=false",
			},
		}}
	}
	return nil
}

func trustSignalMissing(p fixlab.Page, _ fixlab.PageMetrics) []Match {
	if p.TrustSignalHits != 0 {
		return nil
	}
	return []Match{{
		RuleID:      TrustSignalMissing,
		Severity:    fixlab.SeverityMedium,
		Confidence:  0.78,
		ElementText: "[no trust signals]",
		Selector:    "body",
		Problem:     "The page shows no reviews, guarantees, or security cues near the buying decision.",
		Solution:    "Add review stars, a returns or warranty promise, and payment security badges close to the primary CTA.",
		Evidence:    []string{"trustSignalHits=0", fmt.Sprintf("bodyWordCount=%d", p.BodyWordCount)},
	}}
}

func h1Structure(p fixlab.Page, _ fixlab.PageMetrics) []Match {
	if p.H1Count == 1 {
		return nil
	}
	problem := "The page has no H1, so the main topic is unclear to visitors and search engines."
	sentinel := "[missing H1]"
	if p.H1Count > 1 {
		problem = fmt.Sprintf("The page has %d H1 headings competing for the main topic.", p.H1Count)
		sentinel = "[multiple H1]"
	}
	return []Match{{
		RuleID:      H1Structure,
		Severity:    fixlab.SeverityMedium,
		Confidence:  0.82,
		ElementText: elementText(p.H1, sentinel),
		Text:        p.H1,
		Selector:    p.H1Selector,
		Problem:     problem,
		Solution:    "Use exactly one H1 that names the page's offer and demote other headings to H2.",
		Evidence:    []string{fmt.Sprintf("h1Count=%d", p.H1Count)},
	}}
}

func ctaContrast(p fixlab.Page, _ fixlab.PageMetrics) []Match {
	if len(p.CTAs) == 0 {
		return nil
	}
	c := p.CTAs[0]
	if c.ContrastRatio == nil || *c.ContrastRatio <= 0 || *c.ContrastRatio >= MinContrastRatio {
		return nil
	}
	return []Match{{
		RuleID:      CTAContrast,
		Severity:    fixlab.SeverityMedium,
		Confidence:  0.75,
		ElementText: elementText(c.Text, "[unlabeled CTA]"),
		Text:        c.Text,
		Selector:    c.Selector,
		ColorHex:    c.ColorHex,
		Problem:     fmt.Sprintf("The primary CTA has a contrast ratio of %.2f, below the 3:1 minimum for large text.", *c.ContrastRatio),
		Solution:    "Darken the button background or lighten its label until contrast reaches at least 4.5:1.",
		Evidence: []string{
			fmt.Sprintf("contrastRatio=%.2f", *c.ContrastRatio),
			"color=" + orNA(c.ColorHex),
			"background=" + orNA(c.BackgroundHex),
		},
	}}
}

func firstFoldDensity(p fixlab.Page, _ fixlab.PageMetrics) []Match {
	if p.FirstViewportWordCount <= MaxFirstViewportWord {
		return nil
	}
	return []Match{{
		RuleID:      FirstFoldDensity,
		Severity:    fixlab.SeverityLow,
		Confidence:  0.68,
		ElementText: "[first viewport copy]",
		Selector:    "body",
		Problem:     fmt.Sprintf("The first viewport carries %d words, which buries the offer.", p.FirstViewportWordCount),
		Solution:    "Cut hero copy to a headline, one supporting line, and the primary CTA.",
		Evidence:    []string{fmt.Sprintf("firstViewportWordCount=%d", p.FirstViewportWordCount)},
	}}
}

func orNA(s string) string {
	if s == "" {
		return "n/a"
	}
	return s
}
