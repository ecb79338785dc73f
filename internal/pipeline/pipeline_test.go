package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aktagon/news-digest/internal/config"
	"github.com/aktagon/news-digest/internal/gate"
	"github.com/aktagon/news-digest/internal/generator"
	"github.com/aktagon/news-digest/internal/logger"
	"github.com/aktagon/news-digest/internal/renderer"
	"github.com/aktagon/news-digest/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	discoveryModel  = "test-discovery"
	extractionModel = "test-extraction"
	synthesisModel  = "test-synthesis"
	runDate         = "2025-01-02"
)

var sourceMarker = regexp.MustCompile(`SOURCE (\S+)`)

// fakeRenderer serves a source page naming its host, and article pages whose body carries a
// marker when the URL asks for a short article. URLs containing "broken" fail.
type fakeRenderer struct {
	mu       sync.Mutex
	rendered []string
}

func (r *fakeRenderer) Render(ctx context.Context, url string, extensions []string) (string, error) {
	r.mu.Lock()
	r.rendered = append(r.rendered, url)
	r.mu.Unlock()

	if strings.Contains(url, "broken") {
		return "", &renderer.HTTPError{StatusCode: 500, URL: url}
	}
	host := strings.TrimSuffix(strings.TrimPrefix(url, "https://"), "/")
	if !strings.Contains(host, "/") {
		return fmt.Sprintf("<html><body><h1>Front page</h1><p>SOURCE %s</p></body></html>", host), nil
	}
	body := "A full article body."
	if strings.Contains(url, "short") {
		body = "SHORTMARK"
	}
	return fmt.Sprintf("<html><body><h1>Story</h1><p>%s</p></body></html>", body), nil
}

func (r *fakeRenderer) RenderAndPersist(ctx context.Context, url, path string, extensions []string) error {
	markup, err := r.Render(ctx, url, extensions)
	if err != nil {
		return err
	}
	return renderer.Persist(path, markup)
}

// fakeGenerator answers by model: discovery lists five URLs on the source host, extraction
// returns long text unless the page was marked short, synthesis echoes a heading.
type fakeGenerator struct {
	mu        sync.Mutex
	prompts   map[string][]string
	rateLimit int
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string, opts generator.Options) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.prompts == nil {
		g.prompts = map[string][]string{}
	}
	g.prompts[opts.Model] = append(g.prompts[opts.Model], prompt)

	if g.rateLimit > 0 {
		g.rateLimit--
		return "", &generator.RateLimitError{Err: errors.New("HTTP 429 Too Many Requests")}
	}

	switch opts.Model {
	case discoveryModel:
		m := sourceMarker.FindStringSubmatch(prompt)
		if m == nil {
			return "no links here", nil
		}
		host := m[1]
		return fmt.Sprintf(`Here are the articles:
1. https://%[1]s/news/one
2. https://%[1]s/news/two
3. https://%[1]s/news/three
- https://%[1]s/news/broken-four
- [Five](https://%[1]s/news/short-five)
https://%[1]s/news/one#comments
`, host), nil
	case extractionModel:
		if strings.Contains(prompt, "SHORTMARK") {
			return "tiny", nil
		}
		return "# Story\n\n" + strings.Repeat("Verbatim article text. ", 20), nil
	default:
		return "# Synthesis\n\nSomething happened.", nil
	}
}

func (g *fakeGenerator) calls(model string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.prompts[model]
}

type harness struct {
	root     string
	gen      *fakeGenerator
	render   *fakeRenderer
	waits    []time.Duration
	pipeline *Pipeline
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	settings := config.Defaults()
	settings.OutputDirectory = t.TempDir()
	settings.Throttle.CaptureDelayMs = 0
	settings.Throttle.ExtractDelayMs = 0
	settings.Agents.Discovery.Model = discoveryModel
	settings.Agents.Extraction.Model = extractionModel
	settings.Agents.Synthesis.Model = synthesisModel
	cfg, err := config.New(settings)
	require.NoError(t, err)

	h := &harness{root: settings.OutputDirectory, gen: &fakeGenerator{}, render: &fakeRenderer{}}
	g := gate.New(gate.Policy{InitialBackoff: time.Second, MaxRetries: 5}, logger.Discard(),
		gate.WithSleeper(func(ctx context.Context, d time.Duration) error {
			h.waits = append(h.waits, d)
			return nil
		}))
	clock := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	st := store.New(h.root, store.WithClock(func() time.Time { return clock }))
	h.pipeline = New(cfg, st, h.gen, h.render, g, logger.Discard(), WithRunID(func() string { return "run-1" }))
	return h
}

func stage(t *testing.T, sr SourceReport, s Stage) StageResult {
	t.Helper()
	for _, r := range sr.Stages {
		if r.Stage == s {
			return r
		}
	}
	t.Fatalf("stage %s not in report for %s", s, sr.Run.URL)
	return StageResult{}
}

func TestRunPacksOnlyExtractedArticles(t *testing.T) {
	h := newHarness(t)

	report := h.pipeline.Run(context.Background(), runDate, []string{"https://one.example.com/"})
	require.NoError(t, report.Err)
	require.Len(t, report.Sources, 1)
	sr := report.Sources[0]
	require.NoError(t, sr.Err)

	discovery := stage(t, sr, StageDiscovery)
	assert.Len(t, discovery.Outputs, 5)

	capture := stage(t, sr, StageCapture)
	assert.Equal(t, 5, capture.Attempted)
	assert.Equal(t, 4, capture.Succeeded)
	assert.Equal(t, 1, capture.Failed)

	extraction := stage(t, sr, StageExtraction)
	assert.Equal(t, 4, extraction.Attempted)
	assert.Equal(t, 3, extraction.Succeeded)
	assert.Equal(t, 1, extraction.Failed)

	synthesis := stage(t, sr, StageSourceSynthesis)
	assert.Equal(t, 3, synthesis.Packed)
	assert.False(t, synthesis.Truncated)
	assert.Len(t, synthesis.Outputs, 2)

	sourceDir := filepath.Join(h.root, runDate, "one-example-com")
	articles, err := store.ListArticles(sourceDir)
	require.NoError(t, err)
	require.Len(t, articles, 5)
	assert.Equal(t, store.CaptureFailed, articles[3].Capture)
	assert.Equal(t, store.ExtractFailed, articles[4].Extract)
	assert.FileExists(t, filepath.Join(sourceDir, store.SourcePage))

	for _, kind := range []store.Kind{store.KindDigest, store.KindEssay} {
		doc, err := store.New(h.root).Latest(store.ScopeSource, kind, sourceDir)
		require.NoError(t, err)
		assert.Equal(t, "test-synthesis", doc.Model)
	}
}

func TestRunCombinesCompletedSources(t *testing.T) {
	h := newHarness(t)

	report := h.pipeline.Run(context.Background(), runDate, []string{
		"https://one.example.com/",
		"https://two.example.com/",
	})
	require.NoError(t, report.Err)
	assert.Equal(t, "run-1", report.RunID)
	require.NotNil(t, report.Combined)
	assert.Equal(t, 2, report.Combined.Attempted)
	assert.Equal(t, 2, report.Combined.Packed)
	assert.Len(t, report.Combined.Outputs, 2)

	combined := 0
	for _, prompt := range h.gen.calls(synthesisModel) {
		if strings.Contains(prompt, "# Source analyses for "+runDate) {
			combined++
			assert.Contains(t, prompt, "one-example-com (digest)")
			assert.Contains(t, prompt, "two-example-com (digest)")
		}
	}
	assert.Equal(t, 2, combined)

	_, err := store.New(h.root).Latest(store.ScopeCombined, store.KindDigest, filepath.Join(h.root, runDate))
	assert.NoError(t, err)
}

func TestRunDefaultsToToday(t *testing.T) {
	h := newHarness(t)
	WithClock(func() time.Time { return time.Date(2025, 3, 4, 23, 0, 0, 0, time.UTC) })(h.pipeline)

	report := h.pipeline.Run(context.Background(), "", []string{"https://one.example.com/"})
	require.NoError(t, report.Err)
	assert.Equal(t, "2025-03-04", report.Date)
	assert.DirExists(t, filepath.Join(h.root, "2025-03-04", "one-example-com", store.TextDir))
}

func TestRunSkipsDuplicateSourceDirectory(t *testing.T) {
	h := newHarness(t)

	report := h.pipeline.Run(context.Background(), runDate, []string{
		"https://one.example.com/",
		"https://www.one.example.com/",
	})
	require.NoError(t, report.Err)
	require.Len(t, report.Sources, 2)
	assert.True(t, report.Sources[0].Completed())
	assert.Error(t, report.Sources[1].Err)
	assert.Empty(t, report.Sources[1].Stages)
	assert.Equal(t, 1, report.Combined.Packed)
}

func TestRunContinuesPastFailingSource(t *testing.T) {
	h := newHarness(t)

	report := h.pipeline.Run(context.Background(), runDate, []string{
		"https://broken.example.com/",
		"https://two.example.com/",
	})
	require.NoError(t, report.Err)
	require.Len(t, report.Sources, 2)
	assert.Error(t, report.Sources[0].Err)
	assert.False(t, report.Sources[0].Completed())
	assert.True(t, report.Sources[1].Completed())
	assert.Equal(t, 1, report.Combined.Packed)
}

func TestRunSkipsDownstreamWhenDiscoveryEmpty(t *testing.T) {
	h := newHarness(t)

	// A source page without the marker makes discovery answer with no URLs.
	h.pipeline.render = &staticRenderer{markup: "<html><body>nothing</body></html>"}
	report := h.pipeline.Run(context.Background(), runDate, []string{"https://one.example.com/"})

	require.Len(t, report.Sources, 1)
	assert.ErrorIs(t, report.Sources[0].Err, ErrEmptyStage)
	assert.Len(t, report.Sources[0].Stages, 1)
	assert.Nil(t, report.Combined)
	assert.ErrorIs(t, report.Err, ErrEmptyStage)
	assert.Empty(t, h.gen.calls(extractionModel))
}

type staticRenderer struct{ markup string }

func (r *staticRenderer) Render(ctx context.Context, url string, extensions []string) (string, error) {
	return r.markup, nil
}

func (r *staticRenderer) RenderAndPersist(ctx context.Context, url, path string, extensions []string) error {
	return renderer.Persist(path, r.markup)
}

func TestRunRetriesRateLimitedCalls(t *testing.T) {
	h := newHarness(t)
	h.gen.rateLimit = 2

	report := h.pipeline.Run(context.Background(), runDate, []string{"https://one.example.com/"})
	require.NoError(t, report.Err)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, h.waits)
	assert.Len(t, h.gen.calls(discoveryModel), 3)
}

func TestRunReusesExistingArtifacts(t *testing.T) {
	h := newHarness(t)
	urls := []string{"https://one.example.com/"}

	require.NoError(t, h.pipeline.Run(context.Background(), runDate, urls).Err)
	extractions := len(h.gen.calls(extractionModel))
	rendered := len(h.render.rendered)

	report := h.pipeline.Run(context.Background(), runDate, urls)
	require.NoError(t, report.Err)
	assert.Equal(t, 4, stage(t, report.Sources[0], StageCapture).Reused)
	// Only the short article is extracted again; the broken one is rendered again.
	assert.Equal(t, extractions+1, len(h.gen.calls(extractionModel)))
	assert.Equal(t, rendered+2, len(h.render.rendered))
}

func TestRerunSourceDigestRequiresParsedText(t *testing.T) {
	h := newHarness(t)
	dir := filepath.Join(h.root, runDate, "one-example-com")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, store.RawDir), 0755))

	_, err := h.pipeline.Rerun(context.Background(), PhaseSourceDigest, dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingDirectory)
	assert.Contains(t, err.Error(), store.TextDir)
	assert.Empty(t, h.gen.calls(synthesisModel))
}

func TestRerunWritesNewDocuments(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.pipeline.Run(context.Background(), runDate, []string{"https://one.example.com/"}).Err)

	sourceDir := filepath.Join(h.root, runDate, "one-example-com")
	result, err := h.pipeline.Rerun(context.Background(), PhaseSourceEssay, sourceDir)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Packed)
	require.Len(t, result.Outputs, 1)

	ix, err := store.BuildIndex(sourceDir)
	require.NoError(t, err)
	assert.Len(t, ix.Records(store.ScopeSource, store.KindEssay), 2)
	latest, ok := ix.Latest(store.ScopeSource, store.KindEssay)
	require.True(t, ok)
	assert.Equal(t, result.Outputs[0], latest.Path)

	result, err = h.pipeline.Rerun(context.Background(), PhaseCombinedDigest, filepath.Join(h.root, runDate))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Packed)
}

func TestRerunExtractOnlyRegenerates(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.pipeline.Run(context.Background(), runDate, []string{"https://one.example.com/"}).Err)
	before := len(h.gen.calls(extractionModel))

	sourceDir := filepath.Join(h.root, runDate, "one-example-com")
	result, err := h.pipeline.Rerun(context.Background(), PhaseExtractOnly, sourceDir)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Attempted)
	assert.Equal(t, 3, result.Succeeded)
	assert.Equal(t, 0, result.Reused)
	assert.Equal(t, before+4, len(h.gen.calls(extractionModel)))
}

func TestRerunExtractOnlyDropsStaleText(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.pipeline.Run(context.Background(), runDate, []string{"https://one.example.com/"}).Err)

	sourceDir := filepath.Join(h.root, runDate, "one-example-com")
	articles, err := store.ListArticles(sourceDir)
	require.NoError(t, err)
	require.Len(t, articles, 5)
	short := articles[4]
	stale, err := store.WriteText(sourceDir, short.Base, strings.Repeat("STALE text from an earlier extraction. ", 20))
	require.NoError(t, err)

	result, err := h.pipeline.Rerun(context.Background(), PhaseExtractOnly, sourceDir)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.NoFileExists(t, stale)

	articles, err = store.ListArticles(sourceDir)
	require.NoError(t, err)
	assert.Equal(t, store.ExtractFailed, articles[4].Extract)

	result, err = h.pipeline.Rerun(context.Background(), PhaseSourceDigest, sourceDir)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Packed)
	prompts := h.gen.calls(synthesisModel)
	assert.NotContains(t, prompts[len(prompts)-1], "STALE")
}

func TestRerunCombinedKeepsRegistryOrder(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.pipeline.Run(context.Background(), runDate, []string{
		"https://two.example.com/",
		"https://one.example.com/",
	}).Err)

	result, err := h.pipeline.Rerun(context.Background(), PhaseCombinedDigest, filepath.Join(h.root, runDate))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Packed)

	prompts := h.gen.calls(synthesisModel)
	prompt := prompts[len(prompts)-1]
	two := strings.Index(prompt, "two-example-com (digest)")
	one := strings.Index(prompt, "one-example-com (digest)")
	require.NotEqual(t, -1, two)
	require.NotEqual(t, -1, one)
	assert.Less(t, two, one)
}

func TestValidateTarget(t *testing.T) {
	root := t.TempDir()
	dateDir := filepath.Join(root, runDate)
	sourceDir := filepath.Join(dateDir, "one-example-com")
	require.NoError(t, os.MkdirAll(filepath.Join(sourceDir, store.RawDir), 0755))
	emptyDate := filepath.Join(root, "2025-01-03")
	require.NoError(t, os.MkdirAll(emptyDate, 0755))

	tests := []struct {
		name  string
		phase Phase
		dir   string
		want  error
	}{
		{"extract-only on source", PhaseExtractOnly, sourceDir, nil},
		{"digest without parsed_text", PhaseSourceDigest, sourceDir, ErrMissingDirectory},
		{"source phase on date dir", PhaseSourceEssay, dateDir, ErrInvalidTarget},
		{"combined on date dir", PhaseCombinedDigest, dateDir, nil},
		{"combined on source dir", PhaseCombinedEssay, sourceDir, ErrInvalidTarget},
		{"combined without sources", PhaseCombinedDigest, emptyDate, ErrInvalidTarget},
		{"missing dir", PhaseExtractOnly, filepath.Join(dateDir, "nope"), ErrMissingDirectory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTarget(tt.phase, tt.dir)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParsePhase(t *testing.T) {
	for _, phase := range Phases {
		got, err := ParsePhase(string(phase))
		require.NoError(t, err)
		assert.Equal(t, phase, got)
	}
	_, err := ParsePhase("digest")
	assert.Error(t, err)

	assert.True(t, PhaseCombinedEssay.Combined())
	assert.Equal(t, store.KindEssay, PhaseSourceEssay.Kind())
	assert.Equal(t, store.KindDigest, PhaseCombinedDigest.Kind())
}

func TestParseCandidateURLs(t *testing.T) {
	tests := []struct {
		name     string
		response string
		policy   DiscoveryPolicy
		want     []string
	}{
		{
			name:     "list markers and dedup",
			response: "1. https://a.com/x\n- https://a.com/y\n* https://a.com/x\n",
			want:     []string{"https://a.com/x", "https://a.com/y"},
		},
		{
			name:     "markdown links and trailing punctuation",
			response: "[One](https://a.com/one) and more\n<https://a.com/two>.",
			want:     []string{"https://a.com/one", "https://a.com/two"},
		},
		{
			name:     "fragments always dropped",
			response: "https://a.com/x#top\nhttps://a.com/x",
			want:     []string{"https://a.com/x"},
		},
		{
			name:     "query stripped by policy",
			response: "https://a.com/x?utm=1\nhttps://a.com/x?utm=2",
			policy:   DiscoveryPolicy{StripQuery: true},
			want:     []string{"https://a.com/x"},
		},
		{
			name:     "query kept without policy",
			response: "https://a.com/x?id=1\nhttps://a.com/x?id=2",
			want:     []string{"https://a.com/x?id=1", "https://a.com/x?id=2"},
		},
		{
			name:     "relative and non-http rejected",
			response: "/news/x\nftp://a.com/x\nmailto:me@a.com\nnot a url",
			want:     nil,
		},
		{
			name:     "source URL excluded",
			response: "https://a.com/\nhttps://a.com/x",
			policy:   DiscoveryPolicy{SourceURL: "https://a.com/"},
			want:     []string{"https://a.com/x"},
		},
		{
			name:     "same host only",
			response: "https://www.a.com/x\nhttps://b.com/y",
			policy:   DiscoveryPolicy{SourceURL: "https://a.com/", SameHostOnly: true},
			want:     []string{"https://www.a.com/x"},
		},
		{
			name:     "capped",
			response: "https://a.com/1\nhttps://a.com/2\nhttps://a.com/3",
			policy:   DiscoveryPolicy{MaxURLs: 2},
			want:     []string{"https://a.com/1", "https://a.com/2"},
		},
		{
			name:     "host lowercased",
			response: "https://A.com/Path",
			want:     []string{"https://a.com/Path"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseCandidateURLs(tt.response, tt.policy))
		})
	}
}

func TestHeadline(t *testing.T) {
	assert.Equal(t, "Title", headline("intro\n# Title\nbody", "fallback"))
	assert.Equal(t, "fallback", headline("## Sub only", "fallback"))
}

func TestStageResultString(t *testing.T) {
	assert.Equal(t, "capture: 4/5 ok, 1 reused", StageResult{Stage: StageCapture, Attempted: 5, Succeeded: 4, Reused: 1}.String())
	assert.Equal(t, "source-synthesis: packed 3 of 4, 2 documents (truncated)",
		StageResult{Stage: StageSourceSynthesis, Attempted: 4, Packed: 3, Truncated: true, Outputs: []string{"a", "b"}}.String())
}
