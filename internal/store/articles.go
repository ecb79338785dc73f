package store

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// CaptureStatus tracks whether an article's markup has been rendered to disk.
type CaptureStatus string

const (
	CapturePending CaptureStatus = "pending"
	Captured       CaptureStatus = "captured"
	CaptureFailed  CaptureStatus = "capture_failed"
)

// ExtractStatus tracks whether an article's text has been extracted.
type ExtractStatus string

const (
	ExtractPending ExtractStatus = "pending"
	Extracted      ExtractStatus = "extracted"
	ExtractFailed  ExtractStatus = "extract_failed"
)

// Article is one discovered URL of a source run. Seq is its 1-based discovery position.
type Article struct {
	Seq     int
	URL     string
	Base    string
	Capture CaptureStatus
	Extract ExtractStatus
	Text    string
}

// RawPath is where the article's rendered markup lives.
func RawPath(sourceDir, base string) string {
	return filepath.Join(sourceDir, RawDir, base+rawExt)
}

// TextPath is where the article's extracted text lives.
func TextPath(sourceDir, base string) string {
	return filepath.Join(sourceDir, TextDir, base+textExt)
}

// NewArticles numbers urls in discovery order.
func NewArticles(urls []string) []Article {
	articles := make([]Article, len(urls))
	for i, u := range urls {
		articles[i] = Article{
			Seq:     i + 1,
			URL:     u,
			Base:    ArticleBase(i+1, u),
			Capture: CapturePending,
			Extract: ExtractPending,
		}
	}
	return articles
}

// WriteURLManifest records discovered URLs, one per line, in discovery order.
func WriteURLManifest(sourceDir string, urls []string) error {
	if err := os.MkdirAll(sourceDir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", sourceDir, err)
	}
	content := strings.Join(urls, "\n")
	if len(urls) > 0 {
		content += "\n"
	}
	return os.WriteFile(filepath.Join(sourceDir, URLManifest), []byte(content), 0644)
}

// ReadURLManifest returns the URLs recorded by discovery, or nil if discovery never ran.
func ReadURLManifest(sourceDir string) ([]string, error) {
	return readLines(filepath.Join(sourceDir, URLManifest))
}

// WriteSourceManifest records the source names of a run-date in registry order.
func WriteSourceManifest(dateDir string, sources []string) error {
	if err := os.MkdirAll(dateDir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dateDir, err)
	}
	content := strings.Join(sources, "\n")
	if len(sources) > 0 {
		content += "\n"
	}
	return os.WriteFile(filepath.Join(dateDir, SourceList), []byte(content), 0644)
}

// ReadSourceManifest returns the registry order recorded for a run-date, or nil if none was.
func ReadSourceManifest(dateDir string) ([]string, error) {
	return readLines(filepath.Join(dateDir, SourceList))
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

// WriteText stores extracted text for base, replacing an earlier extraction.
func WriteText(sourceDir, base, text string) (string, error) {
	path := TextPath(sourceDir, base)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

// RemoveText deletes the extracted text for base, if any, so the article reads as failed.
func RemoveText(sourceDir, base string) error {
	path := TextPath(sourceDir, base)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return nil
}

// ReadRaw returns the captured markup for base.
func ReadRaw(sourceDir, base string) (string, error) {
	data, err := os.ReadFile(RawPath(sourceDir, base))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ListArticles rebuilds article records for a source directory by correlating the URL manifest
// with raw_html/<base>.html and parsed_text/<base>.txt. A missing file counts as a failure once
// the stage's directory exists, and as pending before that.
func ListArticles(sourceDir string) ([]Article, error) {
	urls, err := ReadURLManifest(sourceDir)
	if err != nil {
		return nil, fmt.Errorf("reading URL manifest: %w", err)
	}
	raw, rawDirExists, err := listBases(filepath.Join(sourceDir, RawDir), rawExt)
	if err != nil {
		return nil, err
	}
	text, textDirExists, err := listBases(filepath.Join(sourceDir, TextDir), textExt)
	if err != nil {
		return nil, err
	}

	articles := NewArticles(urls)
	known := make(map[string]bool, len(articles))
	for _, a := range articles {
		known[a.Base] = true
	}
	// Files without a manifest entry still belong to the run.
	for _, bases := range []map[string]bool{raw, text} {
		for base := range bases {
			if !known[base] {
				known[base] = true
				articles = append(articles, Article{Seq: baseSeq(base), Base: base})
			}
		}
	}
	sort.SliceStable(articles, func(i, j int) bool {
		if articles[i].Seq != articles[j].Seq {
			return articles[i].Seq < articles[j].Seq
		}
		return articles[i].Base < articles[j].Base
	})

	for i := range articles {
		a := &articles[i]
		switch {
		case raw[a.Base]:
			a.Capture = Captured
		case rawDirExists:
			a.Capture = CaptureFailed
		default:
			a.Capture = CapturePending
		}

		switch {
		case text[a.Base]:
			data, err := os.ReadFile(TextPath(sourceDir, a.Base))
			if err != nil {
				return nil, fmt.Errorf("reading text for %s: %w", a.Base, err)
			}
			a.Extract = Extracted
			a.Text = string(data)
		case textDirExists && a.Capture == Captured:
			a.Extract = ExtractFailed
		default:
			a.Extract = ExtractPending
		}
	}
	return articles, nil
}

func listBases(dir, ext string) (map[string]bool, bool, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]bool{}, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("scanning %s: %w", dir, err)
	}
	bases := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ext) {
			bases[strings.TrimSuffix(entry.Name(), ext)] = true
		}
	}
	return bases, true, nil
}
