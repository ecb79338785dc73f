package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aktagon/news-digest/internal/store"
)

// Phase is a single stage that can be re-run against artifacts already on disk.
type Phase string

const (
	PhaseExtractOnly    Phase = "extract-only"
	PhaseSourceDigest   Phase = "source-digest"
	PhaseSourceEssay    Phase = "source-essay"
	PhaseCombinedDigest Phase = "combined-digest"
	PhaseCombinedEssay  Phase = "combined-essay"
)

// Phases lists every rerunnable phase.
var Phases = []Phase{
	PhaseExtractOnly,
	PhaseSourceDigest,
	PhaseSourceEssay,
	PhaseCombinedDigest,
	PhaseCombinedEssay,
}

// ParsePhase validates a phase name.
func ParsePhase(name string) (Phase, error) {
	for _, phase := range Phases {
		if string(phase) == name {
			return phase, nil
		}
	}
	names := make([]string, len(Phases))
	for i, phase := range Phases {
		names[i] = string(phase)
	}
	return "", fmt.Errorf("unknown phase %q (want one of: %s)", name, strings.Join(names, ", "))
}

// Combined reports whether the phase targets a run-date directory rather than a source directory.
func (p Phase) Combined() bool {
	return p == PhaseCombinedDigest || p == PhaseCombinedEssay
}

// Kind is the document kind a synthesis phase produces.
func (p Phase) Kind() store.Kind {
	if p == PhaseSourceEssay || p == PhaseCombinedEssay {
		return store.KindEssay
	}
	return store.KindDigest
}

// required is the sub-directory a source phase reads from.
func (p Phase) required() string {
	if p == PhaseExtractOnly {
		return store.RawDir
	}
	return store.TextDir
}

// ValidateTarget checks that dir has the shape phase needs: <root>/<date>/<source> with the
// phase's input directory for source phases, <root>/<date> with at least one source directory
// for combined phases.
func ValidateTarget(phase Phase, dir string) error {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrMissingDirectory, dir)
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrInvalidTarget, dir)
	}

	clean := filepath.Clean(dir)
	if phase.Combined() {
		if !isDate(filepath.Base(clean)) {
			return fmt.Errorf("%w: %s is not a run-date directory (<root>/<date>)", ErrInvalidTarget, dir)
		}
		sources, err := sourceDirs(clean)
		if err != nil {
			return err
		}
		if len(sources) == 0 {
			return fmt.Errorf("%w: %s has no source directories", ErrInvalidTarget, dir)
		}
		return nil
	}

	if isDate(filepath.Base(clean)) || !isDate(filepath.Base(filepath.Dir(clean))) {
		return fmt.Errorf("%w: %s is not a source directory (<root>/<date>/<source>)", ErrInvalidTarget, dir)
	}
	required := filepath.Join(dir, phase.required())
	if info, err := os.Stat(required); err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrMissingDirectory, required)
	}
	return nil
}

func isDate(name string) bool {
	_, err := time.Parse(store.DateLayout, name)
	return err == nil
}
