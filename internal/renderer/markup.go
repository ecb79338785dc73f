package renderer

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

// noise is removed before conversion; none of it carries article text.
const noise = "script, style, noscript, iframe, svg, form, template, link, meta"

// chrome is page furniture dropped for article extraction but kept for discovery.
const chrome = "nav, footer, aside, [role=navigation], [role=contentinfo]"

var blankRuns = regexp.MustCompile(`\n{3,}`)

// Simplifier turns rendered markup into compact markdown for prompts.
type Simplifier struct {
	converter *md.Converter
}

// NewSimplifier creates a simplifier backed by html-to-markdown.
func NewSimplifier() *Simplifier {
	return &Simplifier{converter: md.NewConverter("", true, nil)}
}

// PageText converts a source front page to markdown, keeping navigation so that every link stays
// visible. Relative links are resolved against pageURL.
func (s *Simplifier) PageText(markup, pageURL string) (string, error) {
	return s.convert(markup, pageURL, false)
}

// ArticleText converts an article page to markdown without page chrome.
func (s *Simplifier) ArticleText(markup, pageURL string) (string, error) {
	return s.convert(markup, pageURL, true)
}

func (s *Simplifier) convert(markup, pageURL string, dropChrome bool) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return "", fmt.Errorf("parsing markup: %w", err)
	}

	doc.Find(noise).Remove()
	if dropChrome {
		doc.Find(chrome).Remove()
	}
	if base, err := url.Parse(pageURL); err == nil && base.IsAbs() {
		resolveLinks(doc, base)
	}

	selection := doc.Find("body")
	if selection.Length() == 0 {
		selection = doc.Selection
	}
	text := s.converter.Convert(selection)
	return strings.TrimSpace(blankRuns.ReplaceAllString(text, "\n\n")), nil
}

func resolveLinks(doc *goquery.Document, base *url.URL) {
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		a.SetAttr("href", base.ResolveReference(ref).String())
	})
}
