// Package audit orchestrates a full audit: crawl, synthesize, persist, and
// serve the overlay-hydrated report.
package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/fixlab/internal/crawler"
	"github.com/JakeFAU/fixlab/internal/fixlab"
	"github.com/JakeFAU/fixlab/internal/frontier"
	"github.com/JakeFAU/fixlab/internal/metrics"
	"github.com/JakeFAU/fixlab/internal/synth"
)

// DefaultCompletionEvent names the notification published after a session is saved.
const DefaultCompletionEvent = "audit.completed"

// Session listing bounds.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

var tracer = otel.Tracer("github.com/JakeFAU/fixlab/internal/audit")

// Audit outcomes reported to metrics.
const (
	outcomeCompleted = "completed"
	outcomeFailed    = "failed"
)

// Config bounds audits. A zero page default or cap falls back to the frontier
// limits; depth values are taken as given.
type Config struct {
	DefaultStore    string
	DefaultMaxPages int
	DefaultMaxDepth int
	MaxPagesCap     int
	MaxDepthCap     int
	ChapterLimit    int
	CompletionEvent string
}

func (c Config) withDefaults() Config {
	if c.DefaultStore == "" {
		c.DefaultStore = "shawq"
	}
	if c.DefaultMaxPages <= 0 {
		c.DefaultMaxPages = frontier.DefaultMaxPages
	}
	if c.DefaultMaxDepth < 0 {
		c.DefaultMaxDepth = frontier.DefaultMaxDepth
	}
	if c.MaxPagesCap <= 0 {
		c.MaxPagesCap = frontier.MaxPagesLimit
	}
	if c.MaxDepthCap < 0 {
		c.MaxDepthCap = frontier.MaxDepthLimit
	}
	return c
}

// Crawler runs one bounded crawl.
type Crawler interface {
	Crawl(ctx context.Context, req crawler.Request) (crawler.Result, error)
}

// Deps are the collaborators a Service needs. Publisher is optional.
type Deps struct {
	Crawler   Crawler
	Sessions  fixlab.SessionStore
	Artifacts fixlab.ArtifactStore
	Publisher fixlab.Publisher
	Clock     fixlab.Clock
	IDs       fixlab.IDGenerator
	Logger    *zap.Logger
}

// StartRequest is a caller's audit request before normalization.
type StartRequest struct {
	URL      string `json:"url"`
	Store    string `json:"store,omitempty"`
	MaxPages *int   `json:"maxPages,omitempty"`
	MaxDepth *int   `json:"maxDepth,omitempty"`
}

// CompletionEvent is the payload published after an audit is persisted.
type CompletionEvent struct {
	SessionID           string  `json:"sessionId"`
	Store               string  `json:"store"`
	RootURL             string  `json:"rootUrl"`
	PagesCrawled        int     `json:"pagesCrawled"`
	FindingsCount       int     `json:"findingsCount"`
	EstimatedCVRLiftPct float64 `json:"estimatedCvrLiftPct"`
}

// Service implements the audit operations behind the HTTP surface and CLI.
type Service struct {
	cfg   Config
	deps  Deps
	synth *synth.Synthesizer
	log   *zap.Logger
}

// New constructs a Service.
func New(cfg Config, deps Deps) (*Service, error) {
	switch {
	case deps.Crawler == nil:
		return nil, errors.New("crawler is required")
	case deps.Sessions == nil:
		return nil, errors.New("session store is required")
	case deps.Artifacts == nil:
		return nil, errors.New("artifact store is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	case deps.IDs == nil:
		return nil, errors.New("id generator is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Service{
		cfg:   cfg,
		deps:  deps,
		synth: synth.New(synth.Config{ChapterLimit: cfg.ChapterLimit}),
		log:   deps.Logger,
	}, nil
}

// Normalize resolves the request into the bounded, normalized form that is
// persisted, plus the store id.
func (s *Service) Normalize(req StartRequest) (fixlab.AuditRequest, string, error) {
	root, err := frontier.Normalize(req.URL)
	if err != nil {
		return fixlab.AuditRequest{}, "", err
	}
	store := strings.TrimSpace(req.Store)
	if store == "" {
		store = s.cfg.DefaultStore
	}
	maxPages := s.cfg.DefaultMaxPages
	if req.MaxPages != nil {
		maxPages = *req.MaxPages
	}
	maxDepth := s.cfg.DefaultMaxDepth
	if req.MaxDepth != nil {
		maxDepth = *req.MaxDepth
	}
	return fixlab.AuditRequest{
		URL:      root,
		MaxPages: frontier.ClampPages(maxPages, s.cfg.MaxPagesCap),
		MaxDepth: frontier.ClampDepth(maxDepth, s.cfg.MaxDepthCap),
	}, store, nil
}

// StartAudit crawls the site, synthesizes the report, and persists the session.
// Page failures are absorbed by the crawl; a launch failure or store failure is
// returned and nothing is persisted for the session.
func (s *Service) StartAudit(ctx context.Context, req StartRequest) (fixlab.Report, error) {
	request, store, err := s.Normalize(req)
	if err != nil {
		return fixlab.Report{}, err
	}
	root := request.URL
	sessionID, err := s.deps.IDs.NewID()
	if err != nil {
		return fixlab.Report{}, fmt.Errorf("generate session id: %w", err)
	}
	ctx, span := tracer.Start(ctx, "audit.start")
	defer span.End()
	span.SetAttributes(
		attribute.String("fixlab.session_id", sessionID),
		attribute.String("fixlab.store", store),
		attribute.String("fixlab.root_url", root),
		attribute.Int("fixlab.max_pages", request.MaxPages),
		attribute.Int("fixlab.max_depth", request.MaxDepth),
	)

	started := s.deps.Clock.Now()
	logger := s.log.With(zap.String("session_id", sessionID), zap.String("root_url", root))
	logger.Info("audit started",
		zap.String("store", store),
		zap.Int("max_pages", request.MaxPages),
		zap.Int("max_depth", request.MaxDepth),
	)

	request.StartedAt = started
	result, err := s.deps.Crawler.Crawl(ctx, crawler.Request{
		SessionID: sessionID,
		RootURL:   root,
		MaxPages:  request.MaxPages,
		MaxDepth:  request.MaxDepth,
	})
	if err != nil {
		metrics.ObserveAudit(outcomeFailed, time.Since(started))
		logger.Error("audit failed", zap.Int("pages", len(result.Pages)), zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "crawl failed")
		return fixlab.Report{}, err
	}

	report := s.synth.Build(synth.Input{
		SessionID:   sessionID,
		Store:       store,
		RootURL:     root,
		Status:      fixlab.StatusCompleted,
		GeneratedAt: s.deps.Clock.Now(),
		Pages:       result.Pages,
	})
	for _, page := range report.Pages {
		for _, f := range page.Findings {
			metrics.ObserveFinding(f.RuleID, string(f.Severity))
		}
	}

	session := fixlab.Session{
		ID:      sessionID,
		Store:   store,
		RootURL: root,
		Status:  fixlab.StatusCompleted,
		Request: request,
		Report:  report,
	}
	if err := s.deps.Sessions.SaveSession(ctx, session); err != nil {
		metrics.ObserveAudit(outcomeFailed, time.Since(started))
		span.RecordError(err)
		span.SetStatus(codes.Error, "save session failed")
		return fixlab.Report{}, fmt.Errorf("save session: %w", err)
	}
	metrics.ObserveAudit(outcomeCompleted, time.Since(started))
	span.SetAttributes(
		attribute.Int("fixlab.pages_crawled", report.Summary.PagesCrawled),
		attribute.Int("fixlab.findings", report.Summary.FindingsCount),
	)
	logger.Info("audit completed",
		zap.Int("pages", report.Summary.PagesCrawled),
		zap.Int("page_failures", result.Failures),
		zap.Int("findings", report.Summary.FindingsCount),
		zap.Float64("estimated_cvr_lift_pct", report.Summary.EstimatedCVRLiftPct),
	)
	s.publishCompletion(ctx, report, logger)
	return report, nil
}

func (s *Service) publishCompletion(ctx context.Context, report fixlab.Report, logger *zap.Logger) {
	if s.deps.Publisher == nil || s.cfg.CompletionEvent == "" {
		return
	}
	event := CompletionEvent{
		SessionID:           report.SessionID,
		Store:               report.Store,
		RootURL:             report.RootURL,
		PagesCrawled:        report.Summary.PagesCrawled,
		FindingsCount:       report.Summary.FindingsCount,
		EstimatedCVRLiftPct: report.Summary.EstimatedCVRLiftPct,
	}
	id, err := s.deps.Publisher.Publish(ctx, s.cfg.CompletionEvent, event)
	if err != nil {
		logger.Warn("publish audit completion", zap.Error(err))
		return
	}
	logger.Debug("audit completion published", zap.String("message_id", id))
}

// GetSession returns the stored report with the current fix-state overlay applied.
func (s *Service) GetSession(ctx context.Context, sessionID string) (fixlab.Report, error) {
	session, err := s.deps.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return fixlab.Report{}, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	overrides, err := s.deps.Sessions.ListOverrides(ctx, sessionID)
	if err != nil {
		return fixlab.Report{}, fmt.Errorf("list overrides %s: %w", sessionID, err)
	}
	return synth.ApplyOverlay(session.Report, overrides), nil
}

// ListSessions returns recent session headers, newest first.
func (s *Service) ListSessions(ctx context.Context, store string, limit int) ([]fixlab.SessionHeader, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	headers, err := s.deps.Sessions.ListSessions(ctx, fixlab.SessionFilter{Store: strings.TrimSpace(store), Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return headers, nil
}

// UpdateApprovals validates updates against the session's fixes, writes the
// surviving entries in one batch, and returns the re-hydrated report.
func (s *Service) UpdateApprovals(ctx context.Context, sessionID string, updates []fixlab.ApprovalUpdate) (fixlab.Report, error) {
	session, err := s.deps.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return fixlab.Report{}, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	writes := ValidateApprovals(session.Report, updates)
	if dropped := len(updates) - len(writes); dropped > 0 {
		s.log.Debug("approval entries dropped", zap.String("session_id", sessionID), zap.Int("dropped", dropped))
	}
	if len(writes) > 0 {
		if err := s.deps.Sessions.ApplyOverrides(ctx, sessionID, writes); err != nil {
			return fixlab.Report{}, fmt.Errorf("apply overrides %s: %w", sessionID, err)
		}
		for _, w := range writes {
			metrics.ObserveApproval(string(w.State))
		}
		s.log.Info("approvals applied", zap.String("session_id", sessionID), zap.Int("writes", len(writes)))
	}
	return s.GetSession(ctx, sessionID)
}

// ResolveScreenshot maps a screenshot reference to a file on disk.
func (s *Service) ResolveScreenshot(sessionID, fileName string) (string, error) {
	p, ok := s.deps.Artifacts.Resolve(sessionID, fileName)
	if !ok {
		return "", fmt.Errorf("screenshot %s/%s: %w", sessionID, fileName, fixlab.ErrNotFound)
	}
	return p, nil
}

// Ping reports whether the session store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.deps.Sessions.Ping(ctx); err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	return nil
}
