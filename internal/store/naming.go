package store

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Scope says whether a document covers one source or the whole run-date.
type Scope string

const (
	ScopeSource   Scope = "source"
	ScopeCombined Scope = "combined"
)

// Kind is the flavour of an analysis document.
type Kind string

const (
	KindDigest Kind = "digest"
	KindEssay  Kind = "essay"
)

// Layout names shared by the pipeline and the rerun validation.
const (
	RawDir       = "raw_html"
	TextDir      = "parsed_text"
	URLManifest  = "urls.txt"
	SourceList   = "sources.txt"
	SourcePage   = "source.html"
	DateLayout   = "2006-01-02"
	StampLayout  = "20060102150405"
	rawExt       = ".html"
	textExt      = ".txt"
	documentExt  = ".md"
	maxSlugChars = 50
)

// Prefix returns the file name prefix for documents of scope and kind.
func Prefix(scope Scope, kind Kind) string {
	if scope == ScopeCombined {
		if kind == KindEssay {
			return "analysis_essay"
		}
		return "daily_digest"
	}
	return string(kind)
}

// DocumentName builds the file name of a new document. Source documents embed the source name;
// combined documents live in the date directory and omit it.
func DocumentName(scope Scope, kind Kind, source, date, model string, stamp int64) string {
	model = SanitizeModel(model)
	if scope == ScopeCombined {
		return fmt.Sprintf("%s_%s_%s_%d%s", Prefix(scope, kind), date, model, stamp, documentExt)
	}
	return fmt.Sprintf("%s_%s_%s_%s_%d%s", Prefix(scope, kind), source, date, model, stamp, documentExt)
}

var modelUnsafe = regexp.MustCompile(`[^A-Za-z0-9.\-]+`)

// SanitizeModel makes a model id safe to embed between underscores in a file name.
func SanitizeModel(model string) string {
	model = modelUnsafe.ReplaceAllString(strings.TrimSpace(model), "-")
	model = strings.Trim(model, "-")
	if model == "" {
		return "unknown"
	}
	return model
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// SourceName derives a source identifier from the hostname of a source URL.
func SourceName(rawURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parsing source URL %q: %w", rawURL, err)
	}
	host := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
	name := strings.Trim(nonSlug.ReplaceAllString(host, "-"), "-")
	if name == "" {
		return "", fmt.Errorf("source URL %q has no hostname", rawURL)
	}
	return name, nil
}

// ArticleBase is the shared base name of an article's raw and text files. The zero-padded
// sequence keeps discovery order visible in directory listings.
func ArticleBase(seq int, rawURL string) string {
	slug := "article"
	if parsed, err := url.Parse(rawURL); err == nil {
		if s := slugify(parsed.Path); s != "" {
			slug = s
		}
	}
	return fmt.Sprintf("%03d-%s", seq, slug)
}

func slugify(s string) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(s), "-"), "-")
	if len(slug) > maxSlugChars {
		// Keep the tail; article paths put the distinctive part last.
		slug = strings.Trim(slug[len(slug)-maxSlugChars:], "-")
	}
	return slug
}

// baseSeq parses the leading sequence number of an article base name, or returns 0.
func baseSeq(base string) int {
	digits, _, _ := strings.Cut(base, "-")
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return n
}

// parseDocumentName matches name against the naming convention for documents stored in dir.
func parseDocumentName(dir, name string) (Record, bool) {
	if !strings.HasSuffix(name, documentExt) {
		return Record{}, false
	}
	stem := strings.TrimSuffix(name, documentExt)

	// A source directory is <date>/<source>; a combined directory is the <date> itself.
	base := filepath.Base(dir)
	parent := filepath.Base(filepath.Dir(dir))
	candidates := []struct {
		scope Scope
		kind  Kind
		lead  string
	}{
		{ScopeCombined, KindDigest, Prefix(ScopeCombined, KindDigest) + "_" + base + "_"},
		{ScopeCombined, KindEssay, Prefix(ScopeCombined, KindEssay) + "_" + base + "_"},
		{ScopeSource, KindDigest, Prefix(ScopeSource, KindDigest) + "_" + base + "_" + parent + "_"},
		{ScopeSource, KindEssay, Prefix(ScopeSource, KindEssay) + "_" + base + "_" + parent + "_"},
	}

	for _, c := range candidates {
		rest, ok := strings.CutPrefix(stem, c.lead)
		if !ok || rest == "" {
			continue
		}
		rec := Record{
			Key:  Key{Scope: c.scope, Kind: c.kind},
			Path: filepath.Join(dir, name),
		}
		if c.scope == ScopeCombined {
			rec.Date = base
		} else {
			rec.Source, rec.Date = base, parent
		}

		i := strings.LastIndex(rest, "_")
		if i < 0 {
			// Legacy names carry no timestamp.
			rec.Model = rest
			return rec, true
		}
		stamp, err := strconv.ParseInt(rest[i+1:], 10, 64)
		if err != nil {
			rec.Model = rest
			return rec, true
		}
		rec.Model, rec.Stamp = rest[:i], stamp
		return rec, true
	}
	return Record{}, false
}
