// Package pipeline sequences discovery, capture, extraction and synthesis over the artifact
// store. Stage runners only communicate through artifacts; the orchestrator in this package is
// the only code that knows their order.
//
// Runs are strictly sequential: one source, one article and one generator call at a time.
// Concurrent runs against the same run-date are not guarded against and must be avoided by
// the operator.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/aktagon/news-digest/internal/config"
	"github.com/aktagon/news-digest/internal/gate"
	"github.com/aktagon/news-digest/internal/generator"
	"github.com/aktagon/news-digest/internal/logger"
	"github.com/aktagon/news-digest/internal/renderer"
	"github.com/aktagon/news-digest/internal/store"
	"golang.org/x/time/rate"
)

// Pipeline holds the collaborators shared by every stage.
type Pipeline struct {
	cfg        *config.Config
	store      *store.Store
	gen        generator.Generator
	render     renderer.Renderer
	gate       *gate.Gate
	simplifier *renderer.Simplifier
	log        *logger.Logger
	now        func() time.Time
	newRunID   func() string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock sets the clock used to pick the default run-date.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithRunID replaces the run id generator.
func WithRunID(f func() string) Option {
	return func(p *Pipeline) { p.newRunID = f }
}

// New wires a pipeline. The gate must already carry the configured retry policy.
func New(cfg *config.Config, st *store.Store, gen generator.Generator, r renderer.Renderer, g *gate.Gate, log *logger.Logger, opts ...Option) *Pipeline {
	if log == nil {
		log = logger.Discard()
	}
	p := &Pipeline{
		cfg:        cfg,
		store:      st,
		gen:        gen,
		render:     r,
		gate:       g,
		simplifier: renderer.NewSimplifier(),
		log:        log,
		now:        time.Now,
		newRunID:   newRunID,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// generate sends one prompt through the gate.
func (p *Pipeline) generate(ctx context.Context, label string, task config.Task, content string) (string, error) {
	prompt := p.cfg.Prompt(task, content)
	opts := generator.OptionsFor(p.cfg, task)
	return p.gate.Call(ctx, label, func(ctx context.Context) (string, error) {
		return p.gen.Generate(ctx, prompt, opts)
	})
}

// contentBudget is how much content fits in a prompt for any of tasks without the filled
// template exceeding the configured budget.
func (p *Pipeline) contentBudget(tasks ...config.Task) int {
	overhead := 0
	for _, task := range tasks {
		overhead = max(overhead, p.cfg.PromptOverhead(task))
	}
	return p.cfg.Settings.BudgetChars - overhead
}

// throttle returns a limiter that lets one call through immediately and then one per delay.
func throttle(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

func kindsFromSettings(kinds []string) []store.Kind {
	out := make([]store.Kind, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, store.Kind(k))
	}
	return out
}

func sourceTask(kind store.Kind) config.Task {
	if kind == store.KindEssay {
		return config.TaskSourceEssay
	}
	return config.TaskSourceDigest
}

func combinedTask(kind store.Kind) config.Task {
	if kind == store.KindEssay {
		return config.TaskCombinedEssay
	}
	return config.TaskCombinedDigest
}

func label(stage Stage, subject string) string {
	return fmt.Sprintf("%s %s", stage, subject)
}
