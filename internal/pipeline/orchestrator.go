package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/aktagon/news-digest/internal/store"
	"github.com/google/uuid"
)

func newRunID() string {
	return uuid.NewString()
}

// Run processes every source URL in order for date, then synthesizes the combined documents
// from the sources that completed. A failing source is logged and never stops its siblings.
// An empty date means today.
func (p *Pipeline) Run(ctx context.Context, date string, urls []string) *RunReport {
	if date == "" {
		date = Today(p.now())
	}
	report := &RunReport{RunID: p.newRunID(), Date: date}
	log := p.log.With("run_id", report.RunID, "date", date)
	log.Info("starting run", "sources", len(urls))

	kinds := kindsFromSettings(p.cfg.Settings.Synthesis.Kinds)
	seen := make(map[string]string)
	var order, completed []string

	for i, url := range urls {
		if err := ctx.Err(); err != nil {
			report.Err = err
			return report
		}
		log.Info(fmt.Sprintf("[%d/%d] processing source", i+1, len(urls)), "url", url)

		run, err := NewSourceRun(p.store.Root(), date, url)
		if err != nil {
			log.Error("✗ invalid source", "url", url, "error", err)
			report.Sources = append(report.Sources, SourceReport{Run: SourceRun{URL: url, Date: date}, Err: err})
			continue
		}
		if first, dup := seen[run.Source]; dup {
			err := fmt.Errorf("source directory %s already used by %s", run.Source, first)
			log.Error("✗ skipping source", "url", url, "error", err)
			report.Sources = append(report.Sources, SourceReport{Run: run, Err: err})
			continue
		}
		seen[run.Source] = url
		order = append(order, run.Source)

		sr := p.runSource(ctx, run, kinds)
		report.Sources = append(report.Sources, sr)
		if sr.Completed() {
			completed = append(completed, run.Source)
			log.Info("✓ source complete", "source", run.Source)
		} else {
			log.Error("✗ source incomplete", "source", run.Source, "error", sr.Err)
		}
	}

	if len(order) > 0 {
		if err := store.WriteSourceManifest(p.store.DateDir(date), order); err != nil {
			log.Warn("recording source order", "error", err)
		}
	}

	if len(completed) == 0 {
		log.Warn("no source completed, skipping combined synthesis")
		report.Err = fmt.Errorf("no source completed: %w", ErrEmptyStage)
		return report
	}

	result, err := p.SynthesizeCombined(ctx, p.store.DateDir(date), completed, kinds)
	report.Combined = &result
	if err != nil {
		log.Error("✗ combined synthesis failed", "error", err)
		report.Err = err
		return report
	}
	log.Info("✓ run complete", "documents", len(result.Outputs))
	return report
}

// runSource drives one source through every stage, stopping at the first stage that fails or
// comes back empty.
func (p *Pipeline) runSource(ctx context.Context, run SourceRun, kinds []store.Kind) SourceReport {
	sr := SourceReport{Run: run}

	articles, result, err := p.Discover(ctx, run)
	sr.Stages = append(sr.Stages, result)
	if err != nil {
		sr.Err = err
		return sr
	}

	result, err = p.Capture(ctx, run.Dir(), articles, true)
	sr.Stages = append(sr.Stages, result)
	if err != nil {
		sr.Err = err
		return sr
	}

	result, err = p.Extract(ctx, run.Dir(), articles, true)
	sr.Stages = append(sr.Stages, result)
	if err != nil {
		sr.Err = err
		return sr
	}

	result, err = p.SynthesizeSource(ctx, run.Dir(), kinds)
	sr.Stages = append(sr.Stages, result)
	sr.Err = err
	return sr
}

// Rerun executes one phase against the artifacts already in dir. The target is validated first
// and nothing runs when its shape is wrong. Reruns always regenerate their outputs.
func (p *Pipeline) Rerun(ctx context.Context, phase Phase, dir string) (StageResult, error) {
	if err := ValidateTarget(phase, dir); err != nil {
		return StageResult{}, err
	}
	dir = filepath.Clean(dir)
	log := p.log.With("run_id", p.newRunID(), "phase", phase, "dir", dir)
	log.Info("starting rerun")

	var (
		result StageResult
		err    error
	)
	switch {
	case phase == PhaseExtractOnly:
		var articles []store.Article
		articles, err = store.ListArticles(dir)
		if err != nil {
			return StageResult{Stage: StageExtraction}, err
		}
		result, err = p.Extract(ctx, dir, articles, false)
	case phase.Combined():
		result, err = p.SynthesizeCombined(ctx, dir, nil, []store.Kind{phase.Kind()})
	default:
		result, err = p.SynthesizeSource(ctx, dir, []store.Kind{phase.Kind()})
	}

	if err != nil {
		if errors.Is(err, ErrEmptyStage) {
			log.Warn("✗ rerun produced nothing", "error", err)
		} else {
			log.Error("✗ rerun failed", "error", err)
		}
		return result, err
	}
	log.Info("✓ rerun complete", "outputs", len(result.Outputs))
	return result, nil
}
