// Package store maps run-dates, sources and document kinds onto the on-disk artifact tree:
//
//	<root>/<date>/<source>/raw_html/<base>.html
//	<root>/<date>/<source>/parsed_text/<base>.txt
//	<root>/<date>/<source>/{digest,essay}_<source>_<date>_<model>_<stamp>.md
//	<root>/<date>/{daily_digest,analysis_essay}_<date>_<model>_<stamp>.md
//
// Documents are never overwritten; readers resolve the latest stamp. The tree assumes a single
// writer per directory.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aktagon/news-digest/internal/logger"
)

// ErrNotFound is returned when no document of the requested scope and kind exists.
var ErrNotFound = errors.New("document not found")

// Document is a generated analysis document read back from disk.
type Document struct {
	Record
	Content string
}

// Store reads and writes artifacts under a root directory.
type Store struct {
	root   string
	now    func() time.Time
	mirror Mirror
	log    *logger.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now for document stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithMirror uploads every written document to m.
func WithMirror(m Mirror) Option {
	return func(s *Store) { s.mirror = m }
}

// WithLogger sets the logger used for mirror failures.
func WithLogger(log *logger.Logger) Option {
	return func(s *Store) { s.log = log }
}

// New creates a store rooted at root.
func New(root string, opts ...Option) *Store {
	s := &Store{root: root, now: time.Now, log: logger.Discard()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the artifact root.
func (s *Store) Root() string {
	return s.root
}

// DateDir is the directory holding one run-date.
func (s *Store) DateDir(date string) string {
	return filepath.Join(s.root, date)
}

// SourceDir is the directory holding one source's artifacts for a run-date.
func (s *Store) SourceDir(date, source string) string {
	return filepath.Join(s.root, date, source)
}

// Write stores content as a new document of scope and kind in dir and returns its path.
// dir is a source directory for ScopeSource and a date directory for ScopeCombined.
func (s *Store) Write(ctx context.Context, scope Scope, kind Kind, dir, model, content string) (string, error) {
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}

	source, date := filepath.Base(dir), filepath.Base(filepath.Dir(dir))
	if scope == ScopeCombined {
		source, date = "", filepath.Base(dir)
	}

	stamp, err := strconv.ParseInt(s.now().UTC().Format(StampLayout), 10, 64)
	if err != nil {
		return "", fmt.Errorf("formatting stamp: %w", err)
	}

	for {
		path := filepath.Join(dir, DocumentName(scope, kind, source, date, model, stamp))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if errors.Is(err, os.ErrExist) {
			// Same second as an earlier write; the next stamp still sorts after it.
			stamp++
			continue
		}
		if err != nil {
			return "", fmt.Errorf("creating %s: %w", path, err)
		}
		if _, err := f.WriteString(content); err != nil {
			f.Close()
			return "", fmt.Errorf("writing %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("closing %s: %w", path, err)
		}

		s.upload(ctx, path, content)
		return path, nil
	}
}

func (s *Store) upload(ctx context.Context, path, content string) {
	if s.mirror == nil {
		return
	}
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	if err := s.mirror.Put(ctx, filepath.ToSlash(rel), []byte(content)); err != nil {
		s.log.Warn("mirror upload failed", "path", rel, "error", err)
	}
}

// Latest reads the newest document of scope and kind in dir.
func (s *Store) Latest(scope Scope, kind Kind, dir string) (Document, error) {
	ix, err := BuildIndex(dir)
	if err != nil {
		return Document{}, err
	}
	return ReadLatest(ix, scope, kind)
}

// ReadLatest resolves the newest record in ix and reads its content.
func ReadLatest(ix *Index, scope Scope, kind Kind) (Document, error) {
	rec, ok := ix.Latest(scope, kind)
	if !ok {
		return Document{}, fmt.Errorf("%s %s: %w", scope, kind, ErrNotFound)
	}
	content, err := os.ReadFile(rec.Path)
	if err != nil {
		return Document{}, fmt.Errorf("reading %s: %w", rec.Path, err)
	}
	return Document{Record: rec, Content: string(content)}, nil
}
