package fixlab

import (
	"context"
	"io"
	"time"
)

// Driver launches headless browser instances.
type Driver interface {
	Launch(ctx context.Context) (Browser, error)
}

// Browser is one launched browser. It hands out one page at a time.
type Browser interface {
	NewPage(ctx context.Context) (PageHandle, error)
	Close() error
}

// PageHandle is an open browser tab.
type PageHandle interface {
	// Load navigates to url and waits for the page to settle.
	Load(ctx context.Context, url string) error
	// Screenshot captures a full-page PNG.
	Screenshot(ctx context.Context) ([]byte, error)
	// Evaluate runs script in the page and decodes its JSON result into out.
	Evaluate(ctx context.Context, script string, out any) error
	Close() error
}

// SessionStore persists sessions and the fix-state overlay.
type SessionStore interface {
	SaveSession(ctx context.Context, session Session) error
	GetSession(ctx context.Context, sessionID string) (Session, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]SessionHeader, error)
	ListOverrides(ctx context.Context, sessionID string) ([]FixStateOverride, error)
	// ApplyOverrides writes every entry in one transaction and touches the
	// session's updated_at once.
	ApplyOverrides(ctx context.Context, sessionID string, writes []OverrideWrite) error
	Ping(ctx context.Context) error
	Close() error
}

// ArtifactStore owns per-session screenshot directories.
type ArtifactStore interface {
	WriteScreenshot(ctx context.Context, sessionID, fileName string, png []byte) (string, error)
	Resolve(sessionID, fileName string) (string, bool)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces session IDs.
type IDGenerator interface {
	NewID() (string, error)
}
