// processor.go
package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aktagon/news-digest/internal/config"
	"github.com/aktagon/news-digest/internal/gate"
	"github.com/aktagon/news-digest/internal/generator"
	"github.com/aktagon/news-digest/internal/logger"
	"github.com/aktagon/news-digest/internal/pipeline"
	"github.com/aktagon/news-digest/internal/renderer"
	"github.com/aktagon/news-digest/internal/store"
)

// Processor wires configuration, backends and the artifact store into a pipeline
type Processor struct {
	cfg      *config.Config
	log      *logger.Logger
	pipeline *pipeline.Pipeline
	closers  []io.Closer
}

// NewProcessor loads configuration and builds every collaborator the pipeline needs.
// Configuration problems are returned before any stage can run.
func NewProcessor(ctx context.Context, apiKey string, overrides *config.ConfigOverrides, debug bool) (*Processor, error) {
	// Ensure embedded settings are written to .news-digest/ on first run
	if err := config.EnsureConfigExists(); err != nil {
		return nil, fmt.Errorf("ensuring config files exist: %w", err)
	}

	cfg, err := config.Load(overrides, apiKey)
	if err != nil {
		return nil, err
	}

	log := logger.New(cfg.Settings.Logging.Level)
	if debug {
		log.SetLevel("debug")
	}

	p := &Processor{cfg: cfg, log: log}

	gen, err := generator.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating generator: %w", err)
	}
	if c, ok := gen.(io.Closer); ok {
		p.closers = append(p.closers, c)
	}

	storeOpts := []store.Option{store.WithLogger(log)}
	if bucket := cfg.Settings.Mirror.GCSBucket; bucket != "" {
		mirror, err := store.NewGCSMirror(ctx, bucket)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("creating mirror: %w", err)
		}
		p.closers = append(p.closers, mirror)
		storeOpts = append(storeOpts, store.WithMirror(mirror))
	}
	st := store.New(cfg.Settings.OutputDirectory, storeOpts...)

	r := renderer.NewHTTPRenderer(
		time.Duration(cfg.Settings.Renderer.TimeoutSec)*time.Second,
		cfg.Settings.Renderer.UserAgent,
		log,
	)
	g := gate.New(gate.Policy{
		InitialBackoff: cfg.InitialBackoff(),
		MaxRetries:     cfg.Settings.Retry.MaxRetries,
	}, log)

	p.pipeline = pipeline.New(cfg, st, gen, r, g, log)
	return p, nil
}

// ProcessSources runs the full pipeline over the source registry at location
func (p *Processor) ProcessSources(ctx context.Context, location, date string) (*pipeline.RunReport, error) {
	registry, err := config.LoadSources(location)
	if err != nil {
		return nil, fmt.Errorf("loading sources: %w", err)
	}
	return p.pipeline.Run(ctx, date, registry.URLs()), nil
}

// Rerun executes one phase against an existing artifact directory
func (p *Processor) Rerun(ctx context.Context, phaseName, dir string) (pipeline.Phase, pipeline.StageResult, error) {
	phase, err := pipeline.ParsePhase(phaseName)
	if err != nil {
		return "", pipeline.StageResult{}, err
	}
	result, err := p.pipeline.Rerun(ctx, phase, dir)
	return phase, result, err
}

// Close releases backend clients.
func (p *Processor) Close() {
	for _, c := range p.closers {
		if err := c.Close(); err != nil {
			p.log.Warn("closing client", "error", err)
		}
	}
}
