package pipeline

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/aktagon/news-digest/internal/store"
)

var (
	// ErrEmptyStage means a stage produced no successful output; downstream stages for the same
	// scope are skipped.
	ErrEmptyStage = errors.New("stage produced no output")

	// ErrInsufficientExtraction marks extracted text shorter than the configured minimum.
	ErrInsufficientExtraction = errors.New("extracted text below minimum length")

	// ErrMissingDirectory is returned when a rerun target lacks a required sub-directory.
	ErrMissingDirectory = errors.New("missing directory")

	// ErrInvalidTarget is returned when a rerun target has the wrong shape.
	ErrInvalidTarget = errors.New("invalid rerun target")
)

// Stage names a pipeline phase in reports and logs.
type Stage string

const (
	StageDiscovery         Stage = "discovery"
	StageCapture           Stage = "capture"
	StageExtraction        Stage = "extraction"
	StageSourceSynthesis   Stage = "source-synthesis"
	StageCombinedSynthesis Stage = "combined-synthesis"
)

// SourceRun is one source URL processed on one run-date. It never changes after creation.
type SourceRun struct {
	URL    string
	Source string
	Date   string
	Root   string
}

// NewSourceRun derives the source identifier from the URL's hostname.
func NewSourceRun(root, date, url string) (SourceRun, error) {
	source, err := store.SourceName(url)
	if err != nil {
		return SourceRun{}, err
	}
	return SourceRun{URL: url, Source: source, Date: date, Root: root}, nil
}

// Dir is the source directory for this run.
func (r SourceRun) Dir() string {
	return filepath.Join(r.Root, r.Date, r.Source)
}

// DateDir is the run-date directory that holds combined documents.
func (r SourceRun) DateDir() string {
	return filepath.Join(r.Root, r.Date)
}

// Today returns the run-date for t.
func Today(t time.Time) string {
	return t.Format(store.DateLayout)
}

// StageResult summarises one stage invocation.
type StageResult struct {
	Stage     Stage
	Attempted int
	Succeeded int
	Failed    int
	Reused    int
	Packed    int
	Truncated bool
	Outputs   []string
}

func (r StageResult) String() string {
	switch r.Stage {
	case StageSourceSynthesis, StageCombinedSynthesis:
		s := fmt.Sprintf("%s: packed %d of %d, %d documents", r.Stage, r.Packed, r.Attempted, len(r.Outputs))
		if r.Truncated {
			s += " (truncated)"
		}
		return s
	default:
		s := fmt.Sprintf("%s: %d/%d ok", r.Stage, r.Succeeded, r.Attempted)
		if r.Reused > 0 {
			s += fmt.Sprintf(", %d reused", r.Reused)
		}
		return s
	}
}

// SourceReport records how far one source got in a full run.
type SourceReport struct {
	Run    SourceRun
	Stages []StageResult
	Err    error
}

// Completed reports whether per-source synthesis wrote at least one document.
func (r SourceReport) Completed() bool {
	for _, s := range r.Stages {
		if s.Stage == StageSourceSynthesis && len(s.Outputs) > 0 {
			return true
		}
	}
	return false
}

// RunReport is the outcome of a full run.
type RunReport struct {
	RunID    string
	Date     string
	Sources  []SourceReport
	Combined *StageResult
	Err      error
}
