package storage

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync/atomic"

	securejoin "github.com/cyphar/filepath-securejoin"
)

//go:embed assets/index.html
var defaultDocument []byte

// ErrEmptyDocument is returned when a landing page file has no content.
var ErrEmptyDocument = errors.New("landing page document is empty")

// LandingPage supplies the document served for the root path.
type LandingPage interface {
	Document() []byte
}

// StaticLandingPage serves a fixed document.
type StaticLandingPage struct {
	document []byte
}

// Embedded returns the landing page compiled into the binary.
func Embedded() *StaticLandingPage {
	return &StaticLandingPage{document: defaultDocument}
}

// NewStaticLandingPage serves a copy of document.
func NewStaticLandingPage(document []byte) *StaticLandingPage {
	return &StaticLandingPage{document: slices.Clone(document)}
}

// Document returns the document. Callers must not modify it.
func (p *StaticLandingPage) Document() []byte {
	return p.document
}

// FileLandingPage serves a document read from disk. Reload replaces it atomically.
type FileLandingPage struct {
	path     string
	document atomic.Value // []byte
	logger   *slog.Logger
}

// ResolveLandingPath returns the absolute path of name. When root is set, name is
// resolved inside root with symlinks evaluated relative to it.
func ResolveLandingPath(root, name string) (string, error) {
	if root == "" {
		return filepath.Abs(name)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve assets root: %w", err)
	}
	resolved, err := securejoin.SecureJoin(absRoot, name)
	if err != nil {
		return "", fmt.Errorf("resolve landing page %q under %q: %w", name, root, err)
	}
	return resolved, nil
}

// NewFileLandingPage loads the document at name, resolved under root when root is set.
func NewFileLandingPage(root, name string, logger *slog.Logger) (*FileLandingPage, error) {
	if logger == nil {
		logger = slog.Default()
	}

	path, err := ResolveLandingPath(root, name)
	if err != nil {
		return nil, err
	}

	p := &FileLandingPage{path: path, logger: logger}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Path returns the resolved file path.
func (p *FileLandingPage) Path() string {
	return p.path
}

// Document returns the most recently loaded document. Callers must not modify it.
func (p *FileLandingPage) Document() []byte {
	doc, _ := p.document.Load().([]byte)
	return doc
}

// Reload reads the file again. On failure the previous document stays in place.
func (p *FileLandingPage) Reload() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("read landing page: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyDocument, p.path)
	}
	p.document.Store(data)
	p.logger.Debug("landing page loaded", "path", p.path, "bytes", len(data))
	return nil
}
