package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aktagon/news-digest/internal/config"
	"github.com/aktagon/news-digest/internal/packer"
	"github.com/aktagon/news-digest/internal/renderer"
	"github.com/aktagon/news-digest/internal/store"
)

// Discover renders the source page, asks the generator for article URLs and records them in
// the source's URL manifest. It returns the new articles in discovery order.
func (p *Pipeline) Discover(ctx context.Context, run SourceRun) ([]store.Article, StageResult, error) {
	result := StageResult{Stage: StageDiscovery, Attempted: 1}
	log := p.log.With("stage", StageDiscovery, "source", run.Source, "url", run.URL)

	log.Info("→ rendering source page")
	markup, err := p.render.Render(ctx, run.URL, p.cfg.Settings.Renderer.Extensions)
	if err != nil {
		result.Failed = 1
		return nil, result, fmt.Errorf("rendering %s: %w", run.URL, err)
	}
	if err := renderer.Persist(filepath.Join(run.Dir(), store.SourcePage), markup); err != nil {
		result.Failed = 1
		return nil, result, err
	}

	text, err := p.simplifier.PageText(markup, run.URL)
	if err != nil {
		result.Failed = 1
		return nil, result, fmt.Errorf("simplifying %s: %w", run.URL, err)
	}
	content := packer.Truncate(text, p.contentBudget(config.TaskDiscovery))
	if len(content) < len(text) {
		log.Warn("source page truncated to budget", "bytes", len(text), "kept", len(content))
	}

	response, err := p.generate(ctx, label(StageDiscovery, run.URL), config.TaskDiscovery, content)
	if err != nil {
		result.Failed = 1
		return nil, result, fmt.Errorf("discovering articles: %w", err)
	}

	urls := ParseCandidateURLs(response, DiscoveryPolicy{
		SourceURL:    run.URL,
		StripQuery:   p.cfg.Settings.Discovery.StripQuery,
		SameHostOnly: p.cfg.Settings.Discovery.SameHostOnly,
		MaxURLs:      p.cfg.Settings.Discovery.MaxURLs,
	})
	if err := store.WriteURLManifest(run.Dir(), urls); err != nil {
		result.Failed = 1
		return nil, result, fmt.Errorf("writing URL manifest: %w", err)
	}

	articles := store.NewArticles(urls)
	result.Outputs = urls
	if len(articles) == 0 {
		result.Failed = 1
		return nil, result, fmt.Errorf("%s: no article URLs in response: %w", run.URL, ErrEmptyStage)
	}
	result.Succeeded = 1
	log.Info("✓ discovered articles", "count", len(articles))
	return articles, result, nil
}

// Capture renders every article to raw_html, one at a time with the configured delay between
// renders. A failed render marks the article and the batch carries on. With reuse set, articles
// already on disk are not rendered again.
func (p *Pipeline) Capture(ctx context.Context, sourceDir string, articles []store.Article, reuse bool) (StageResult, error) {
	result := StageResult{Stage: StageCapture}
	log := p.log.With("stage", StageCapture, "source", filepath.Base(sourceDir))

	if err := os.MkdirAll(filepath.Join(sourceDir, store.RawDir), 0755); err != nil {
		return result, fmt.Errorf("creating raw directory: %w", err)
	}

	limiter := throttle(p.cfg.CaptureDelay())
	for i := range articles {
		a := &articles[i]
		result.Attempted++
		path := store.RawPath(sourceDir, a.Base)

		if reuse && fileExists(path) {
			a.Capture = store.Captured
			result.Reused++
			continue
		}
		if a.URL == "" {
			a.Capture = store.CaptureFailed
			result.Failed++
			log.Error("✗ capture failed", "article", a.Base, "error", "no URL recorded")
			continue
		}

		if err := limiter.Wait(ctx); err != nil {
			return result, err
		}
		log.Debug("→ capturing", "url", a.URL, "article", a.Base)
		if err := p.render.RenderAndPersist(ctx, a.URL, path, p.cfg.Settings.Renderer.Extensions); err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			a.Capture = store.CaptureFailed
			result.Failed++
			log.Error("✗ capture failed", "url", a.URL, "article", a.Base, "error", err)
			continue
		}
		a.Capture = store.Captured
		result.Succeeded++
		result.Outputs = append(result.Outputs, path)
	}

	log.Info("✓ capture done", "captured", result.Succeeded, "reused", result.Reused, "failed", result.Failed)
	if result.Succeeded+result.Reused == 0 {
		return result, fmt.Errorf("no article captured: %w", ErrEmptyStage)
	}
	return result, nil
}

// Extract asks the generator for the verbatim text of every captured article. Responses shorter
// than the configured minimum are discarded without retry; rate limits are retried by the gate.
// With reuse set, existing text files are read back instead.
func (p *Pipeline) Extract(ctx context.Context, sourceDir string, articles []store.Article, reuse bool) (StageResult, error) {
	result := StageResult{Stage: StageExtraction}
	log := p.log.With("stage", StageExtraction, "source", filepath.Base(sourceDir))

	if err := os.MkdirAll(filepath.Join(sourceDir, store.TextDir), 0755); err != nil {
		return result, fmt.Errorf("creating text directory: %w", err)
	}

	budget := p.contentBudget(config.TaskExtraction)
	limiter := throttle(p.cfg.ExtractDelay())
	for i := range articles {
		a := &articles[i]
		if a.Capture != store.Captured {
			continue
		}
		result.Attempted++

		if reuse {
			if data, err := os.ReadFile(store.TextPath(sourceDir, a.Base)); err == nil {
				a.Extract = store.Extracted
				a.Text = string(data)
				result.Reused++
				continue
			}
		}

		if err := limiter.Wait(ctx); err != nil {
			return result, err
		}
		text, err := p.extractOne(ctx, sourceDir, a, budget)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			a.Extract = store.ExtractFailed
			a.Text = ""
			result.Failed++
			// An earlier extraction must not outlive this failure on disk.
			if rmErr := store.RemoveText(sourceDir, a.Base); rmErr != nil {
				return result, rmErr
			}
			if errors.Is(err, ErrInsufficientExtraction) {
				log.Warn("✗ extraction discarded", "url", a.URL, "article", a.Base, "error", err)
			} else {
				log.Error("✗ extraction failed", "url", a.URL, "article", a.Base, "error", err)
			}
			continue
		}

		path, err := store.WriteText(sourceDir, a.Base, text)
		if err != nil {
			return result, err
		}
		a.Extract = store.Extracted
		a.Text = text
		result.Succeeded++
		result.Outputs = append(result.Outputs, path)
	}

	log.Info("✓ extraction done", "extracted", result.Succeeded, "reused", result.Reused, "failed", result.Failed)
	if result.Succeeded+result.Reused == 0 {
		return result, fmt.Errorf("no article extracted: %w", ErrEmptyStage)
	}
	return result, nil
}

func (p *Pipeline) extractOne(ctx context.Context, sourceDir string, a *store.Article, budget int) (string, error) {
	markup, err := store.ReadRaw(sourceDir, a.Base)
	if err != nil {
		return "", fmt.Errorf("reading markup: %w", err)
	}
	simplified, err := p.simplifier.ArticleText(markup, a.URL)
	if err != nil {
		return "", fmt.Errorf("simplifying markup: %w", err)
	}

	subject := a.URL
	if subject == "" {
		subject = a.Base
	}
	response, err := p.generate(ctx, label(StageExtraction, subject), config.TaskExtraction, packer.Truncate(simplified, budget))
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(response)
	if len(text) < p.cfg.Settings.MinTextLength {
		return "", fmt.Errorf("%w: %d bytes, need %d", ErrInsufficientExtraction, len(text), p.cfg.Settings.MinTextLength)
	}
	return text, nil
}

// SynthesizeSource packs the extracted articles of one source directory and writes one document
// per kind.
func (p *Pipeline) SynthesizeSource(ctx context.Context, sourceDir string, kinds []store.Kind) (StageResult, error) {
	result := StageResult{Stage: StageSourceSynthesis}
	source := filepath.Base(sourceDir)
	date := filepath.Base(filepath.Dir(sourceDir))

	articles, err := store.ListArticles(sourceDir)
	if err != nil {
		return result, err
	}
	var units []packer.Unit
	for _, a := range articles {
		if a.Extract != store.Extracted || strings.TrimSpace(a.Text) == "" {
			continue
		}
		id := a.URL
		if id == "" {
			id = a.Base
		}
		units = append(units, packer.Unit{ID: id, Headline: headline(a.Text, a.Base), Body: a.Text})
	}
	result.Attempted = len(units)
	if len(units) == 0 {
		return result, fmt.Errorf("%s: no extracted articles: %w", source, ErrEmptyStage)
	}

	tasks := make([]config.Task, 0, len(kinds))
	for _, kind := range kinds {
		tasks = append(tasks, sourceTask(kind))
	}
	preamble := fmt.Sprintf("# Articles from %s on %s\n\n", source, date)
	packed := packer.New(preamble).Pack(units, p.contentBudget(tasks...))
	result.Packed = packed.Included
	result.Truncated = packed.Truncated

	log := p.log.With("stage", StageSourceSynthesis, "source", source)
	log.Info("→ synthesizing", "packed", packed.Included, "units", len(units), "truncated", packed.Truncated)

	err = p.synthesize(ctx, &result, store.ScopeSource, sourceDir, kinds, sourceTask, packed.Payload)
	return result, err
}

// SynthesizeCombined packs the latest per-source document of every listed source under dateDir
// and writes one combined document per kind. Each source contributes its digest, or its essay
// when it has no digest. With no sources given, every source directory is used in name order.
func (p *Pipeline) SynthesizeCombined(ctx context.Context, dateDir string, sources []string, kinds []store.Kind) (StageResult, error) {
	result := StageResult{Stage: StageCombinedSynthesis}
	log := p.log.With("stage", StageCombinedSynthesis, "date", filepath.Base(dateDir))

	if sources == nil {
		var err error
		if sources, err = sourceDirs(dateDir); err != nil {
			return result, err
		}
	}

	var units []packer.Unit
	for _, source := range sources {
		doc, err := latestSourceDocument(filepath.Join(dateDir, source))
		if errors.Is(err, store.ErrNotFound) {
			log.Warn("source has no document, skipping", "source", source)
			continue
		}
		if err != nil {
			return result, err
		}
		units = append(units, packer.Unit{
			ID:       filepath.Base(doc.Path),
			Headline: fmt.Sprintf("%s (%s)", source, doc.Kind),
			Body:     doc.Content,
		})
	}
	result.Attempted = len(units)
	if len(units) == 0 {
		return result, fmt.Errorf("%s: no source documents: %w", dateDir, ErrEmptyStage)
	}

	tasks := make([]config.Task, 0, len(kinds))
	for _, kind := range kinds {
		tasks = append(tasks, combinedTask(kind))
	}
	preamble := fmt.Sprintf("# Source analyses for %s\n\n", filepath.Base(dateDir))
	packed := packer.New(preamble).Pack(units, p.contentBudget(tasks...))
	result.Packed = packed.Included
	result.Truncated = packed.Truncated
	log.Info("→ synthesizing", "packed", packed.Included, "units", len(units), "truncated", packed.Truncated)

	err := p.synthesize(ctx, &result, store.ScopeCombined, dateDir, kinds, combinedTask, packed.Payload)
	return result, err
}

// synthesize issues one generator call per kind over payload. A failed kind does not stop the
// others; the stage fails only when no document was written.
func (p *Pipeline) synthesize(ctx context.Context, result *StageResult, scope store.Scope, dir string, kinds []store.Kind, taskFor func(store.Kind) config.Task, payload string) error {
	log := p.log.With("stage", result.Stage, "dir", dir)

	var errs []error
	for _, kind := range kinds {
		task := taskFor(kind)
		text, err := p.generate(ctx, label(result.Stage, fmt.Sprintf("%s %s", filepath.Base(dir), kind)), task, payload)
		if err == nil && strings.TrimSpace(text) == "" {
			err = fmt.Errorf("%s: empty %s", filepath.Base(dir), kind)
		}
		if err != nil {
			result.Failed++
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
			log.Error("✗ synthesis failed", "kind", kind, "error", err)
			continue
		}

		path, err := p.store.Write(ctx, scope, kind, dir, p.cfg.Agent(task).Model, text)
		if err != nil {
			return err
		}
		result.Succeeded++
		result.Outputs = append(result.Outputs, path)
		log.Info("✓ wrote document", "kind", kind, "path", path)
	}

	if len(result.Outputs) == 0 {
		if len(errs) == 0 {
			return fmt.Errorf("no kinds requested: %w", ErrEmptyStage)
		}
		return errors.Join(errs...)
	}
	return nil
}

// headline is the first markdown heading of text, or fallback.
func headline(text, fallback string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	return fallback
}

func latestSourceDocument(dir string) (store.Document, error) {
	ix, err := store.BuildIndex(dir)
	if err != nil {
		return store.Document{}, err
	}
	doc, err := store.ReadLatest(ix, store.ScopeSource, store.KindDigest)
	if errors.Is(err, store.ErrNotFound) {
		return store.ReadLatest(ix, store.ScopeSource, store.KindEssay)
	}
	return doc, err
}

// sourceDirs lists the source directories of a run-date. Sources recorded in the run-date's
// source manifest come first in registry order; any others follow in name order.
func sourceDirs(dateDir string) ([]string, error) {
	entries, err := os.ReadDir(dateDir)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dateDir, err)
	}
	present := make(map[string]bool)
	var rest []string
	for _, entry := range entries {
		if entry.IsDir() {
			present[entry.Name()] = true
			rest = append(rest, entry.Name())
		}
	}

	ordered, err := store.ReadSourceManifest(dateDir)
	if err != nil {
		return nil, fmt.Errorf("reading source manifest: %w", err)
	}
	var dirs []string
	listed := make(map[string]bool)
	for _, source := range ordered {
		if present[source] && !listed[source] {
			listed[source] = true
			dirs = append(dirs, source)
		}
	}
	sort.Strings(rest)
	for _, source := range rest {
		if !listed[source] {
			dirs = append(dirs, source)
		}
	}
	return dirs, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
