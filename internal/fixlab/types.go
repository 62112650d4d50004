// Package fixlab defines the core types shared across the audit subsystems.
package fixlab

import "time"

// SessionStatus represents the lifecycle state of an audit session.
type SessionStatus string

// Session status values persisted in the session store.
const (
	StatusRunning   SessionStatus = "running"
	StatusCompleted SessionStatus = "completed"
	StatusFailed    SessionStatus = "failed"
)

// Severity ranks a finding. Lower Rank sorts first.
type Severity string

// Severity levels produced by the rule engine.
const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Rank orders severities high < medium < low.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 0
	case SeverityMedium:
		return 1
	case SeverityLow:
		return 2
	default:
		return 3
	}
}

// FixState is the approval state of a fix.
type FixState string

// Fix states accepted by the approval workflow.
const (
	FixOpen     FixState = "open"
	FixApproved FixState = "approved"
	FixEdited   FixState = "edited"
	FixRejected FixState = "rejected"
)

// Valid reports whether s is one of the known fix states.
func (s FixState) Valid() bool {
	switch s {
	case FixOpen, FixApproved, FixEdited, FixRejected:
		return true
	default:
		return false
	}
}

// FixType classifies a fix as conversion, visual, or both.
type FixType string

// Fix types derived from rule ids.
const (
	FixTypeCRO   FixType = "CRO"
	FixTypeUI    FixType = "UI"
	FixTypeCROUI FixType = "CRO + UI"
)

// AuditRequest is the normalized request that started a session.
type AuditRequest struct {
	URL       string    `json:"url"`
	MaxPages  int       `json:"maxPages"`
	MaxDepth  int       `json:"maxDepth"`
	StartedAt time.Time `json:"startedAt"`
}

// Session is the durable record of one audit run.
type Session struct {
	ID        string        `json:"sessionId"`
	Store     string        `json:"store"`
	RootURL   string        `json:"rootUrl"`
	Status    SessionStatus `json:"status"`
	Request   AuditRequest  `json:"request"`
	Report    Report        `json:"report"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// SessionHeader is the list view of a session without its report.
type SessionHeader struct {
	ID        string        `json:"sessionId"`
	Store     string        `json:"store"`
	RootURL   string        `json:"rootUrl"`
	Status    SessionStatus `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// SessionFilter narrows ListSessions.
type SessionFilter struct {
	Store string
	Limit int
}

// Report is the synthesized audit artifact. The stored copy never changes;
// approval state is layered on top at read time.
type Report struct {
	SessionID   string        `json:"sessionId"`
	Store       string        `json:"store"`
	RootURL     string        `json:"rootUrl"`
	Status      SessionStatus `json:"status"`
	GeneratedAt time.Time     `json:"generatedAt"`
	Summary     Summary       `json:"summary"`
	Narrative   Narrative     `json:"narrative"`
	Pages       []PageSummary `json:"pages"`
	Chapters    []Chapter     `json:"chapters"`
	Fixes       []Fix         `json:"fixes"`
	ApplyPlan   []ApplyStep   `json:"applyPlan"`
	QAGates     []QAGate      `json:"qaGates"`
}

// Summary carries the headline counts of a report.
type Summary struct {
	PagesCrawled        int     `json:"pagesCrawled"`
	FindingsCount       int     `json:"findingsCount"`
	OpenFixes           int     `json:"openFixes"`
	ApprovedFixes       int     `json:"approvedFixes"`
	EstimatedCVRLiftPct float64 `json:"estimatedCvrLiftPct"`
}

// Narrative holds report prose.
type Narrative struct {
	ExecutiveSummary string `json:"executiveSummary"`
}

// Heading is a visible H1-H3 element.
type Heading struct {
	Level    int    `json:"level"`
	Text     string `json:"text"`
	Selector string `json:"selector"`
}

// CTA is a call-to-action candidate found on a page.
type CTA struct {
	Text          string   `json:"text"`
	Selector      string   `json:"selector"`
	Tag           string   `json:"tag"`
	AboveFold     bool     `json:"aboveFold"`
	IsLikelyCTA   bool     `json:"isLikelyCta"`
	ColorHex      string   `json:"colorHex"`
	BackgroundHex string   `json:"backgroundHex"`
	ContrastRatio *float64 `json:"contrastRatio"`
	CenterXPct    float64  `json:"centerXPct"`
	CenterYPct    float64  `json:"centerYPct"`
}

// Form is a <form> element with its submit and search classification.
type Form struct {
	Selector   string `json:"selector"`
	Method     string `json:"method"`
	Action     string `json:"action"`
	InputCount int    `json:"inputCount"`
	HasSubmit  bool   `json:"hasSubmit"`
	Search     bool   `json:"search"`
	Actionable bool   `json:"actionable"`
	Signature  string `json:"signature"`
}

// PageMetrics are counts computed from a page snapshot.
type PageMetrics struct {
	CTACount           int `json:"ctaCount"`
	AboveFoldCTACount  int `json:"aboveFoldCtaCount"`
	LikelyCTACount     int `json:"likelyCtaCount"`
	FormCount          int `json:"formCount"`
	ActionableForms    int `json:"actionableForms"`
	FormsMissingSubmit int `json:"formsMissingSubmit"`
	HeadingCount       int `json:"headingCount"`
	LinkCount          int `json:"linkCount"`
}

// Page is the typed snapshot of one crawled page.
type Page struct {
	PageID                 string      `json:"pageId"`
	URL                    string      `json:"url"`
	Depth                  int         `json:"depth"`
	Label                  string      `json:"label"`
	Title                  string      `json:"title"`
	MetaDescription        string      `json:"metaDescription"`
	H1                     string      `json:"h1"`
	H1Selector             string      `json:"h1Selector"`
	H1Count                int         `json:"h1Count"`
	Headings               []Heading   `json:"headings"`
	CTAs                   []CTA       `json:"ctas"`
	Forms                  []Form      `json:"forms"`
	TrustSignalHits        int         `json:"trustSignalHits"`
	BodyWordCount          int         `json:"bodyWordCount"`
	FirstViewportWordCount int         `json:"firstViewportWordCount"`
	NavLinkCount           int         `json:"navLinkCount"`
	Links                  []string    `json:"links"`
	ScreenshotFileName     string      `json:"screenshotFileName"`
	ScreenshotURL          string      `json:"screenshotUrl"`
	Metrics                PageMetrics `json:"metrics"`
}

// PageSummary is a page snapshot with its findings.
type PageSummary struct {
	Page
	Findings []Finding `json:"findings"`
}

// Finding is one rule match on one page.
type Finding struct {
	ID             string   `json:"id"`
	RuleID         string   `json:"ruleId"`
	Severity       Severity `json:"severity"`
	Confidence     float64  `json:"confidence"`
	PageID         string   `json:"pageId"`
	PageLabel      string   `json:"pageLabel"`
	PageURL        string   `json:"pageUrl"`
	Section        string   `json:"section"`
	ElementText    string   `json:"elementText"`
	Selector       string   `json:"selector"`
	ColorHex       string   `json:"colorHex"`
	Problem        string   `json:"problem"`
	Solution       string   `json:"solution"`
	Evidence       []string `json:"evidence"`
	ReferenceLabel string   `json:"referenceLabel"`
}

// Fix is an actionable record derived from a finding.
type Fix struct {
	ID             string   `json:"id"`
	FindingID      string   `json:"findingId"`
	RuleID         string   `json:"ruleId"`
	Type           FixType  `json:"type"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Impact         string   `json:"impact"`
	Effort         string   `json:"effort"`
	Confidence     float64  `json:"confidence"`
	State          FixState `json:"state"`
	Note           *string  `json:"note,omitempty"`
	PageID         string   `json:"pageId"`
	PageLabel      string   `json:"pageLabel"`
	PageURL        string   `json:"pageUrl"`
	Section        string   `json:"section"`
	TemplateHint   string   `json:"templateHint"`
	ReferenceLabel string   `json:"referenceLabel"`
	Evidence       []string `json:"evidence"`
}

// ApplyStep is the theme-patch intent for one approved fix.
type ApplyStep struct {
	FixID        string `json:"fixId"`
	Title        string `json:"title"`
	Page         string `json:"page"`
	PageURL      string `json:"pageUrl"`
	Section      string `json:"section"`
	TemplateHint string `json:"templateHint"`
	QAGate       string `json:"qaGate"`
}

// Hotspot marks a region of a screenshot in percent coordinates.
type Hotspot struct {
	TopPct  float64 `json:"topPct"`
	LeftPct float64 `json:"leftPct"`
	Label   string  `json:"label"`
}

// Chapter is the narrative walkthrough of one page. Findings holds one prose
// paragraph per finding, in the same order as FindingIDs.
type Chapter struct {
	PageID        string    `json:"pageId"`
	Title         string    `json:"title"`
	Subtitle      string    `json:"subtitle"`
	SectionLabel  string    `json:"sectionLabel"`
	Findings      []string  `json:"findings"`
	FindingIDs    []string  `json:"findingIds"`
	ScreenshotURL string    `json:"screenshotUrl"`
	Hotspots      []Hotspot `json:"hotspots"`
}

// QAGate is one of the fixed quality gates every plan must pass.
type QAGate struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// FixStateOverride is one overlay row keyed by (session, fix).
type FixStateOverride struct {
	SessionID string    `json:"sessionId"`
	FixID     string    `json:"fixId"`
	State     FixState  `json:"state"`
	Note      *string   `json:"note,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ApprovalUpdate is one entry of an approvals request.
type ApprovalUpdate struct {
	FixID string   `json:"fixId"`
	State FixState `json:"state"`
	Note  *string  `json:"note,omitempty"`
}

// OverrideWrite is a validated overlay mutation. Delete removes the row so the
// report's base state applies again.
type OverrideWrite struct {
	FixID  string
	State  FixState
	Note   *string
	Delete bool
}
