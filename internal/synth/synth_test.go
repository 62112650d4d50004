package synth

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/fixlab/internal/fixlab"
	"github.com/JakeFAU/fixlab/internal/rules"
)

var generatedAt = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func ratio(v float64) *float64 { return &v }

func strptr(s string) *string { return &s }

func homeMissingH1() fixlab.Page {
	return fixlab.Page{
		PageID:                 "page-01",
		URL:                    "https://shop.example.com/",
		Label:                  "Home page",
		H1Count:                0,
		TrustSignalHits:        3,
		FirstViewportWordCount: 140,
		ScreenshotURL:          "/sessions/cufl_x/screenshots/01-page-01.png",
		CTAs: []fixlab.CTA{
			{Text: "Shop now", Selector: "a.btn", AboveFold: true, IsLikelyCTA: true, ContrastRatio: ratio(6.4)},
		},
	}
}

func productCrowded() fixlab.Page {
	return fixlab.Page{
		PageID:                 "page-02",
		URL:                    "https://shop.example.com/products/linen-shirt",
		Label:                  "Product page: Linen Shirt",
		H1Count:                1,
		FirstViewportWordCount: 90,
		CTAs: []fixlab.CTA{
			{Text: "Add to cart", Selector: "#add", AboveFold: true, IsLikelyCTA: true},
			{Text: "Buy it now", Selector: "#buy", AboveFold: true, IsLikelyCTA: true},
			{Text: "Size guide", Selector: "a.size", AboveFold: true},
		},
	}
}

func cartMissingSubmit() fixlab.Page {
	return fixlab.Page{
		PageID:                 "page-03",
		URL:                    "https://shop.example.com/cart",
		Label:                  "Cart page",
		H1Count:                1,
		TrustSignalHits:        1,
		FirstViewportWordCount: 60,
		CTAs:                   []fixlab.CTA{{Text: "Checkout", AboveFold: true, IsLikelyCTA: true}},
		Forms: []fixlab.Form{{
			Selector: "form.cart", Method: "POST", Action: "/cart", InputCount: 3, Actionable: true,
			Signature: `<form action="/cart" method="POST">`,
		}},
	}
}

func build(pages ...fixlab.Page) fixlab.Report {
	return New(Config{}).Build(Input{
		SessionID:   "cufl_x",
		Store:       "shawq",
		RootURL:     "https://shop.example.com/",
		Status:      fixlab.StatusCompleted,
		GeneratedAt: generatedAt,
		Pages:       pages,
	})
}

func TestHomeMissingH1Fix(t *testing.T) {
	t.Parallel()

	r := build(homeMissingH1())
	require.Len(t, r.Fixes, 1)
	fix := r.Fixes[0]
	assert.Equal(t, "fix-001", fix.ID)
	assert.Equal(t, fixlab.FixTypeUI, fix.Type)
	assert.Equal(t, "Medium-High", fix.Impact)
	assert.Equal(t, "Low", fix.Effort)
	assert.Equal(t, fixlab.FixOpen, fix.State)
	assert.Equal(t, "templates/index.json (home)", fix.TemplateHint)
	assert.Empty(t, r.ApplyPlan)
	assert.Equal(t, 1, r.Summary.OpenFixes)
	assert.Equal(t, 1, r.Summary.FindingsCount)
	assert.InDelta(t, 0.8, r.Summary.EstimatedCVRLiftPct, 1e-9)
}

func TestProductPlanEmptyUntilApproved(t *testing.T) {
	t.Parallel()

	r := build(productCrowded())
	require.Len(t, r.Fixes, 2)
	assert.Equal(t, rules.CTAHierarchy, r.Fixes[0].RuleID)
	assert.Equal(t, rules.TrustSignalMissing, r.Fixes[1].RuleID)
	assert.Empty(t, r.ApplyPlan)

	approved := ApplyOverlay(r, []fixlab.FixStateOverride{{FixID: "fix-002", State: fixlab.FixApproved}})
	require.Len(t, approved.ApplyPlan, 1)
	step := approved.ApplyPlan[0]
	assert.Equal(t, "fix-002", step.FixID)
	assert.Equal(t, "Product page: Linen Shirt", step.Page)
	assert.Equal(t, "templates/product.json (product)", step.TemplateHint)
	assert.Equal(t, ApplyQAGate, step.QAGate)
	assert.Equal(t, 1, approved.Summary.ApprovedFixes)
	assert.Equal(t, 1, approved.Summary.OpenFixes)

	// the stored report is untouched
	assert.Equal(t, fixlab.FixOpen, r.Fixes[1].State)
	assert.Empty(t, r.ApplyPlan)
}

func TestCartSubmitFix(t *testing.T) {
	t.Parallel()

	r := build(cartMissingSubmit())
	require.Len(t, r.Fixes, 1)
	fix := r.Fixes[0]
	assert.Equal(t, rules.SubmitControlGap, fix.RuleID)
	assert.Equal(t, "High", fix.Impact)
	assert.Equal(t, "Medium", fix.Effort)
	assert.Contains(t, fix.TemplateHint, "cart")
	assert.InDelta(t, 1.6, r.Summary.EstimatedCVRLiftPct, 1e-9)
}

func TestFixesRankedAcrossPages(t *testing.T) {
	t.Parallel()

	r := build(homeMissingH1(), productCrowded(), cartMissingSubmit())
	require.Len(t, r.Fixes, 4)
	assert.Equal(t, rules.SubmitControlGap, r.Fixes[0].RuleID)
	assert.Equal(t, rules.H1Structure, r.Fixes[1].RuleID)
	assert.Equal(t, rules.CTAHierarchy, r.Fixes[2].RuleID)
	assert.Equal(t, rules.TrustSignalMissing, r.Fixes[3].RuleID)
	for i, f := range r.Fixes {
		assert.Equal(t, fmt.Sprintf("fix-%03d", i+1), f.ID)
	}
	// 1.6 + 3*0.8
	assert.InDelta(t, 4.0, r.Summary.EstimatedCVRLiftPct, 1e-9)
	assert.Equal(t, 3, r.Summary.PagesCrawled)
}

func TestFixesCappedAndLiftBounded(t *testing.T) {
	t.Parallel()

	var pages []fixlab.Page
	for i := 1; i <= 8; i++ {
		p := cartMissingSubmit()
		p.PageID = fmt.Sprintf("page-%02d", i)
		p.H1Count = 0
		pages = append(pages, p)
	}
	r := build(pages...)
	assert.Len(t, r.Fixes, MaxFixes)
	assert.Equal(t, 16, r.Summary.FindingsCount)
	// 8 high + 4 medium = 12.8 + 3.2
	assert.InDelta(t, 16.0, r.Summary.EstimatedCVRLiftPct, 1e-9)

	many := make([]fixlab.Fix, 20)
	for i := range many {
		many[i].Impact = "High"
	}
	assert.InDelta(t, MaxLiftPct, EstimateLift(many), 1e-9)
	assert.InDelta(t, MinLiftPct, EstimateLift(nil), 1e-9)
	assert.InDelta(t, 0.9, EstimateLift([]fixlab.Fix{{Impact: "Medium"}, {Impact: "Medium"}, {Impact: "Medium"}}), 1e-9)
}

func TestChapters(t *testing.T) {
	t.Parallel()

	stable := homeMissingH1()
	stable.PageID = "page-04"
	stable.H1Count = 1
	r := build(homeMissingH1(), productCrowded(), cartMissingSubmit(), stable)

	require.Len(t, r.Chapters, DefaultChapterLimit)
	home := r.Chapters[0]
	assert.Equal(t, "Home page", home.Title)
	assert.Equal(t, "Hero", home.SectionLabel)
	assert.Equal(t, r.Pages[0].Findings[0].Problem, home.Subtitle)
	assert.Equal(t, "/sessions/cufl_x/screenshots/01-page-01.png", home.ScreenshotURL)
	require.Len(t, home.Hotspots, 1)
	assert.Equal(t, fixlab.Hotspot{TopPct: 30, LeftPct: 22, Label: r.Pages[0].Findings[0].ReferenceLabel}, home.Hotspots[0])
	require.Len(t, home.Findings, len(r.Pages[0].Findings))
	require.Len(t, home.FindingIDs, len(r.Pages[0].Findings))
	for i, f := range r.Pages[0].Findings {
		assert.Equal(t, f.ID, home.FindingIDs[i])
		assert.Equal(t, f.Problem+" The exact reference is "+f.ReferenceLabel+". Recommended adjustment: "+f.Solution, home.Findings[i])
		assert.NotEqual(t, f.ID, home.Findings[i])
	}

	product := r.Chapters[1]
	require.Len(t, product.Hotspots, 2)
	assert.InDelta(t, 58.0, product.Hotspots[1].TopPct, 1e-9)
	assert.InDelta(t, 50.0, product.Hotspots[1].LeftPct, 1e-9)

	onlyStable := New(Config{ChapterLimit: 1}).Build(Input{Pages: []fixlab.Page{stable}})
	require.Len(t, onlyStable.Chapters, 1)
	assert.Equal(t, stableSubtitle, onlyStable.Chapters[0].Subtitle)
	assert.Equal(t, []fixlab.Hotspot{{TopPct: 42, LeftPct: 34, Label: fallbackHotspot}}, onlyStable.Chapters[0].Hotspots)
	assert.Empty(t, onlyStable.Chapters[0].Findings)
	assert.NotNil(t, onlyStable.Chapters[0].FindingIDs)
}

func TestNarrative(t *testing.T) {
	t.Parallel()

	stable := homeMissingH1()
	stable.H1Count = 1
	r := build(stable, cartMissingSubmit())
	f := r.Pages[1].Findings[0]
	want := "Home page: structurally stable. Cart page: " + f.Problem +
		" The exact reference is " + f.ReferenceLabel + ". Recommended adjustment: " + f.Solution
	assert.Equal(t, want, r.Narrative.ExecutiveSummary)
}

func TestEmptyCrawl(t *testing.T) {
	t.Parallel()

	r := build()
	assert.Empty(t, r.Pages)
	assert.NotNil(t, r.Pages)
	assert.NotNil(t, r.Fixes)
	assert.NotNil(t, r.ApplyPlan)
	assert.Len(t, r.QAGates, 4)
	assert.Zero(t, r.Summary.PagesCrawled)
}

func TestBuildDeterministic(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		build(homeMissingH1(), productCrowded(), cartMissingSubmit()),
		build(homeMissingH1(), productCrowded(), cartMissingSubmit()))
}

func TestOverlayLaws(t *testing.T) {
	t.Parallel()

	base := build(homeMissingH1(), productCrowded(), cartMissingSubmit())

	t.Run("neutral", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, base, ApplyOverlay(base, nil))
	})

	overrides := []fixlab.FixStateOverride{
		{FixID: "fix-001", State: fixlab.FixApproved, Note: strptr("ship it")},
		{FixID: "fix-002", State: fixlab.FixRejected},
		{FixID: "fix-003", State: fixlab.FixApproved},
		{FixID: "fix-004", State: fixlab.FixEdited, Note: strptr("copy tweak")},
		{FixID: "fix-999", State: fixlab.FixApproved},
	}

	t.Run("idempotent", func(t *testing.T) {
		t.Parallel()
		once := ApplyOverlay(base, overrides)
		assert.Equal(t, once, ApplyOverlay(once, overrides))
	})

	t.Run("plan follows approvals", func(t *testing.T) {
		t.Parallel()
		r := ApplyOverlay(base, overrides)
		var want []string
		for _, f := range r.Fixes {
			if f.State == fixlab.FixApproved {
				want = append(want, f.ID)
			}
		}
		var got []string
		for _, s := range r.ApplyPlan {
			got = append(got, s.FixID)
		}
		assert.Equal(t, want, got)
		assert.Equal(t, []string{"fix-001", "fix-003"}, got)
		assert.Equal(t, 2, r.Summary.ApprovedFixes)
		assert.Zero(t, r.Summary.OpenFixes)
		require.NotNil(t, r.Fixes[0].Note)
		assert.Equal(t, "ship it", *r.Fixes[0].Note)
		assert.Equal(t, base.Summary.EstimatedCVRLiftPct, r.Summary.EstimatedCVRLiftPct)
	})
}

func TestMappings(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Medium", ImpactFor(fixlab.SeverityLow))
	assert.Equal(t, "Medium", EffortFor("unknown_rule"))
	assert.Equal(t, "Medium", EffortFor(rules.FirstFoldDensity))
	assert.Equal(t, fixlab.FixTypeCROUI, FixTypeFor(rules.FirstFoldDensity))
	assert.Equal(t, fixlab.FixTypeCRO, FixTypeFor(rules.TrustSignalMissing))
	assert.Equal(t, "templates/collection.json (collection)", TemplateHint("https://shop.example.com/collections/all"))
	assert.Equal(t, "templates/page.json (generic)", TemplateHint("https://shop.example.com/pages/about"))
}
