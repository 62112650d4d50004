// Package local implements the filesystem artifact store for audit screenshots.
package local

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/fixlab/internal/fixlab"
)

var (
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	fileNamePattern  = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
)

// Config captures the parameters for the local artifact store.
type Config struct {
	// BaseDir is the root directory; each session gets BaseDir/<sessionID>.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
	// Mirror optionally receives a copy of every screenshot. Mirror failures are
	// logged and never fail the write.
	Mirror       fixlab.BlobStore
	MirrorPrefix string
	Logger       *zap.Logger
}

// ArtifactStore writes screenshots under per-session directories and resolves
// them back for serving.
type ArtifactStore struct {
	baseDir      string
	mirror       fixlab.BlobStore
	mirrorPrefix string
	logger       *zap.Logger
}

// New creates a new filesystem-backed artifact store.
func New(cfg Config) (*ArtifactStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	base, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}

	info, err := os.Stat(base)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(base, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(base, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArtifactStore{
		baseDir:      filepath.Clean(base),
		mirror:       cfg.Mirror,
		mirrorPrefix: strings.Trim(cfg.MirrorPrefix, "/"),
		logger:       logger,
	}, nil
}

// BaseDir returns the absolute artifact root.
func (s *ArtifactStore) BaseDir() string {
	return s.baseDir
}

// WriteScreenshot stores png as BaseDir/<sessionID>/<fileName> and returns the
// absolute path.
func (s *ArtifactStore) WriteScreenshot(ctx context.Context, sessionID, fileName string, png []byte) (string, error) {
	target, ok := s.target(sessionID, fileName)
	if !ok {
		return "", fixlab.InvalidInput("artifact name %q/%q rejected", sessionID, fileName)
	}
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create session directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(png); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("rename screenshot: %w", err)
	}

	if s.mirror != nil {
		object := path.Join(s.mirrorPrefix, sessionID, fileName)
		uri, err := s.mirror.PutObject(ctx, object, "image/png", bytes.NewReader(png))
		if err != nil {
			s.logger.Warn("screenshot mirror failed", zap.String("object", object), zap.Error(err))
		} else {
			s.logger.Debug("screenshot mirrored", zap.String("uri", uri))
		}
	}
	return target, nil
}

// Resolve maps (sessionID, fileName) to an existing regular file inside the
// session's directory. Anything that fails the name allowlists, escapes the
// session directory, is missing, or is not a regular file resolves to false.
func (s *ArtifactStore) Resolve(sessionID, fileName string) (string, bool) {
	target, ok := s.target(sessionID, fileName)
	if !ok {
		return "", false
	}
	info, err := os.Lstat(target)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return target, true
}

func (s *ArtifactStore) target(sessionID, fileName string) (string, bool) {
	if !sessionIDPattern.MatchString(sessionID) || !fileNamePattern.MatchString(fileName) {
		return "", false
	}
	sessionDir := filepath.Join(s.baseDir, sessionID)
	target := filepath.Clean(filepath.Join(sessionDir, fileName))
	if !strings.HasPrefix(target, sessionDir+string(filepath.Separator)) {
		return "", false
	}
	return target, true
}
