// Package synth turns crawled pages into an audit report and layers approval
// state on top of stored reports.
package synth

import (
	"fmt"
	"math"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/JakeFAU/fixlab/internal/extractor"
	"github.com/JakeFAU/fixlab/internal/fixlab"
	"github.com/JakeFAU/fixlab/internal/rules"
)

// Report limits.
const (
	DefaultChapterLimit = 3
	MaxFixes            = 12
	MaxHotspots         = 2
	MinLiftPct          = 0.8
	MaxLiftPct          = 18.0

	ApplyQAGate      = "Duplicate theme patch + conversion QA gate"
	stableSubtitle   = "No blocking conversion or UI issues were detected on this page."
	stableNarrative  = "structurally stable."
	fallbackHotspot  = "Primary content area"
	fallbackHotTop   = 42.0
	fallbackHotLeft  = 34.0
	hotspotTopBase   = 30.0
	hotspotLeftBase  = 22.0
	hotspotIncrement = 28.0
)

// Input is everything needed to synthesize one report.
type Input struct {
	SessionID   string
	Store       string
	RootURL     string
	Status      fixlab.SessionStatus
	GeneratedAt time.Time
	Pages       []fixlab.Page
}

// Config tunes a Synthesizer.
type Config struct {
	ChapterLimit int
	Engine       *rules.Engine
}

// Synthesizer builds reports. It holds no per-report state.
type Synthesizer struct {
	chapterLimit int
	engine       *rules.Engine
}

// New creates a Synthesizer.
func New(cfg Config) *Synthesizer {
	if cfg.ChapterLimit <= 0 {
		cfg.ChapterLimit = DefaultChapterLimit
	}
	if cfg.Engine == nil {
		cfg.Engine = rules.New()
	}
	return &Synthesizer{chapterLimit: cfg.ChapterLimit, engine: cfg.Engine}
}

// Build produces the base report. Every fix starts open, so the apply plan is
// empty until approvals are layered on with ApplyOverlay.
func (s *Synthesizer) Build(in Input) fixlab.Report {
	pages := make([]fixlab.PageSummary, 0, len(in.Pages))
	var all []fixlab.Finding
	for _, p := range in.Pages {
		p.Metrics = extractor.ComputeMetrics(p)
		findings := s.engine.Evaluate(p)
		if findings == nil {
			findings = []fixlab.Finding{}
		}
		pages = append(pages, fixlab.PageSummary{Page: p, Findings: findings})
		all = append(all, findings...)
	}

	fixes := BuildFixes(all)
	report := fixlab.Report{
		SessionID:   in.SessionID,
		Store:       in.Store,
		RootURL:     in.RootURL,
		Status:      in.Status,
		GeneratedAt: in.GeneratedAt,
		Narrative:   fixlab.Narrative{ExecutiveSummary: Narrative(pages)},
		Pages:       pages,
		Chapters:    s.chapters(pages),
		Fixes:       fixes,
		QAGates:     QAGates(),
		Summary: fixlab.Summary{
			PagesCrawled:        len(pages),
			FindingsCount:       len(all),
			EstimatedCVRLiftPct: EstimateLift(fixes),
		},
	}
	refresh(&report)
	return report
}

// ApplyOverlay returns a copy of report with overrides applied to its fixes and
// the apply plan and fix counts rebuilt. Overrides for unknown fixes are
// ignored. The input report is not modified.
func ApplyOverlay(report fixlab.Report, overrides []fixlab.FixStateOverride) fixlab.Report {
	byFix := make(map[string]fixlab.FixStateOverride, len(overrides))
	for _, o := range overrides {
		byFix[o.FixID] = o
	}
	fixes := make([]fixlab.Fix, len(report.Fixes))
	for i, f := range report.Fixes {
		f.State = fixlab.FixOpen
		f.Note = nil
		if o, ok := byFix[f.ID]; ok && o.State.Valid() {
			f.State = o.State
			if o.Note != nil {
				note := *o.Note
				f.Note = &note
			}
		}
		fixes[i] = f
	}
	report.Fixes = fixes
	refresh(&report)
	return report
}

func refresh(r *fixlab.Report) {
	r.ApplyPlan = ApplyPlan(r.Fixes)
	r.Summary.OpenFixes, r.Summary.ApprovedFixes = 0, 0
	for _, f := range r.Fixes {
		switch f.State {
		case fixlab.FixOpen:
			r.Summary.OpenFixes++
		case fixlab.FixApproved:
			r.Summary.ApprovedFixes++
		}
	}
}

// BuildFixes ranks findings and converts the strongest into fixes numbered in
// rank order.
func BuildFixes(findings []fixlab.Finding) []fixlab.Fix {
	ranked := make([]fixlab.Finding, len(findings))
	copy(ranked, findings)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ri, rj := ranked[i].Severity.Rank(), ranked[j].Severity.Rank(); ri != rj {
			return ri < rj
		}
		return ranked[i].Confidence > ranked[j].Confidence
	})
	if len(ranked) > MaxFixes {
		ranked = ranked[:MaxFixes]
	}
	fixes := make([]fixlab.Fix, 0, len(ranked))
	for i, f := range ranked {
		fixes = append(fixes, fixlab.Fix{
			ID:             fmt.Sprintf("fix-%03d", i+1),
			FindingID:      f.ID,
			RuleID:         f.RuleID,
			Type:           FixTypeFor(f.RuleID),
			Title:          fmt.Sprintf("%s on %s", fixTitle(f.RuleID), f.PageLabel),
			Description:    f.Solution,
			Impact:         ImpactFor(f.Severity),
			Effort:         EffortFor(f.RuleID),
			Confidence:     f.Confidence,
			State:          fixlab.FixOpen,
			PageID:         f.PageID,
			PageLabel:      f.PageLabel,
			PageURL:        f.PageURL,
			Section:        f.Section,
			TemplateHint:   TemplateHint(f.PageURL),
			ReferenceLabel: f.ReferenceLabel,
			Evidence:       f.Evidence,
		})
	}
	return fixes
}

// ApplyPlan lists approved fixes in fix order.
func ApplyPlan(fixes []fixlab.Fix) []fixlab.ApplyStep {
	plan := []fixlab.ApplyStep{}
	for _, f := range fixes {
		if f.State != fixlab.FixApproved {
			continue
		}
		plan = append(plan, fixlab.ApplyStep{
			FixID:        f.ID,
			Title:        f.Title,
			Page:         f.PageLabel,
			PageURL:      f.PageURL,
			Section:      f.Section,
			TemplateHint: f.TemplateHint,
			QAGate:       ApplyQAGate,
		})
	}
	return plan
}

// EstimateLift weights fixes by severity into a bounded CVR lift percentage.
func EstimateLift(fixes []fixlab.Fix) float64 {
	var high, medium, low int
	for _, f := range fixes {
		switch f.Impact {
		case ImpactFor(fixlab.SeverityHigh):
			high++
		case ImpactFor(fixlab.SeverityMedium):
			medium++
		case ImpactFor(fixlab.SeverityLow):
			low++
		}
	}
	raw := math.Round((1.6*float64(high)+0.8*float64(medium)+0.3*float64(low))*10) / 10
	return math.Max(MinLiftPct, math.Min(MaxLiftPct, raw))
}

// ImpactFor maps severity to the fix impact label.
func ImpactFor(s fixlab.Severity) string {
	switch s {
	case fixlab.SeverityHigh:
		return "High"
	case fixlab.SeverityMedium:
		return "Medium-High"
	default:
		return "Medium"
	}
}

// EffortFor maps a rule id to its implementation effort.
func EffortFor(ruleID string) string {
	switch ruleID {
	case rules.CTAHierarchy, rules.CTAContrast, rules.H1Structure, rules.TrustSignalMissing:
		return "Low"
	default:
		return "Medium"
	}
}

// FixTypeFor maps a rule id to the fix type.
func FixTypeFor(ruleID string) fixlab.FixType {
	switch ruleID {
	case rules.H1Structure, rules.CTAContrast:
		return fixlab.FixTypeUI
	case rules.FirstFoldDensity:
		return fixlab.FixTypeCROUI
	default:
		return fixlab.FixTypeCRO
	}
}

// TemplateHint guesses the theme template a page renders from.
func TemplateHint(pageURL string) string {
	first := ""
	if u, err := url.Parse(pageURL); err == nil {
		for _, seg := range strings.Split(u.Path, "/") {
			if seg != "" {
				first = strings.ToLower(seg)
				break
			}
		}
	}
	switch first {
	case "":
		return "templates/index.json (home)"
	case "products", "product":
		return "templates/product.json (product)"
	case "collections", "collection", "category", "categories":
		return "templates/collection.json (collection)"
	case "cart":
		return "templates/cart.json (cart)"
	default:
		return "templates/page.json (generic)"
	}
}

// QAGates are the fixed gates every apply plan passes through.
func QAGates() []fixlab.QAGate {
	return []fixlab.QAGate{
		{ID: "duplicate-theme", Title: "Duplicate theme", Description: "Apply every patch to a duplicated, unpublished theme first."},
		{ID: "visual-regression", Title: "Visual regression", Description: "Compare desktop and mobile screenshots of each touched template against the live theme."},
		{ID: "conversion-path", Title: "Conversion path", Description: "Walk home to product to cart to checkout on the preview theme without errors."},
		{ID: "metrics-watch", Title: "Metrics watch", Description: "Track conversion rate and add-to-cart rate for 14 days after publishing and roll back on regression."},
	}
}

// Narrative writes one sentence group per page.
func Narrative(pages []fixlab.PageSummary) string {
	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		if len(p.Findings) == 0 {
			parts = append(parts, p.Label+": "+stableNarrative)
			continue
		}
		f := p.Findings[0]
		parts = append(parts, p.Label+": "+findingProse(f))
	}
	return strings.Join(parts, " ")
}

// findingProse renders one finding as a reviewer-facing sentence group.
func findingProse(f fixlab.Finding) string {
	return fmt.Sprintf("%s The exact reference is %s. Recommended adjustment: %s",
		f.Problem, f.ReferenceLabel, f.Solution)
}

func (s *Synthesizer) chapters(pages []fixlab.PageSummary) []fixlab.Chapter {
	n := min(len(pages), s.chapterLimit)
	chapters := make([]fixlab.Chapter, 0, n)
	for _, p := range pages[:n] {
		ch := fixlab.Chapter{
			PageID:        p.PageID,
			Title:         p.Label,
			Subtitle:      stableSubtitle,
			SectionLabel:  rules.SectionFor(p.Label),
			Findings:      make([]string, 0, len(p.Findings)),
			FindingIDs:    make([]string, 0, len(p.Findings)),
			ScreenshotURL: p.ScreenshotURL,
		}
		if len(p.Findings) > 0 {
			ch.Subtitle = p.Findings[0].Problem
		}
		for _, f := range p.Findings {
			ch.Findings = append(ch.Findings, findingProse(f))
			ch.FindingIDs = append(ch.FindingIDs, f.ID)
		}
		for i, f := range p.Findings {
			if i == MaxHotspots {
				break
			}
			ch.Hotspots = append(ch.Hotspots, fixlab.Hotspot{
				TopPct:  hotspotTopBase + float64(i)*hotspotIncrement,
				LeftPct: hotspotLeftBase + float64(i)*hotspotIncrement,
				Label:   f.ReferenceLabel,
			})
		}
		if len(ch.Hotspots) == 0 {
			ch.Hotspots = []fixlab.Hotspot{{TopPct: fallbackHotTop, LeftPct: fallbackHotLeft, Label: fallbackHotspot}}
		}
		chapters = append(chapters, ch)
	}
	return chapters
}

func fixTitle(ruleID string) string {
	switch ruleID {
	case rules.CTAHierarchy:
		return "Establish one primary CTA"
	case rules.SubmitControlGap:
		return "Add a submit control to the form"
	case rules.TrustSignalMissing:
		return "Surface trust signals near the CTA"
	case rules.H1Structure:
		return "Fix the H1 structure"
	case rules.CTAContrast:
		return "Raise CTA contrast"
	case rules.FirstFoldDensity:
		return "Trim first-viewport copy"
	default:
		return "Resolve " + ruleID
	}
}
