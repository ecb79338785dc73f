package pipeline

import (
	"net/url"
	"regexp"
	"strings"
)

// DiscoveryPolicy controls which generated URLs become articles.
type DiscoveryPolicy struct {
	SourceURL    string
	StripQuery   bool
	SameHostOnly bool
	MaxURLs      int
}

var (
	listMarker = regexp.MustCompile(`^\s*(?:[-*+•]|\d+[.)])\s+`)
	// markdownLink captures the target of [text](target).
	markdownLink = regexp.MustCompile(`\[[^\]]*\]\(([^)\s]+)\)`)
)

// ParseCandidateURLs pulls well-formed absolute http(s) URLs out of a generator response, one
// candidate per line, deduplicated in first-seen order.
func ParseCandidateURLs(response string, policy DiscoveryPolicy) []string {
	var sourceHost string
	if u, err := url.Parse(policy.SourceURL); err == nil {
		sourceHost = hostKey(u.Hostname())
	}
	source := normalize(policy.SourceURL, policy.StripQuery)

	seen := make(map[string]bool)
	var urls []string
	for _, line := range strings.Split(response, "\n") {
		candidate := cleanLine(line)
		if candidate == "" {
			continue
		}
		u, err := url.Parse(candidate)
		if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			continue
		}
		if policy.SameHostOnly && hostKey(u.Hostname()) != sourceHost {
			continue
		}

		canonical := normalize(candidate, policy.StripQuery)
		if canonical == "" || canonical == source || seen[canonical] {
			continue
		}
		seen[canonical] = true
		urls = append(urls, canonical)

		if policy.MaxURLs > 0 && len(urls) >= policy.MaxURLs {
			break
		}
	}
	return urls
}

// cleanLine strips list markers, markdown link syntax, and surrounding punctuation.
func cleanLine(line string) string {
	line = strings.TrimSpace(line)
	line = listMarker.ReplaceAllString(line, "")
	if m := markdownLink.FindStringSubmatch(line); m != nil {
		line = m[1]
	}
	// Only the first token can be the URL; trailing commentary is dropped.
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	line = strings.TrimLeft(fields[0], "<\"'`*(")
	return strings.TrimRight(line, ">\"'`*.,;:")
}

// normalize drops the fragment, optionally the query, and lowercases the host.
func normalize(raw string, stripQuery bool) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	u.Fragment = ""
	u.RawFragment = ""
	if stripQuery {
		u.RawQuery = ""
		u.ForceQuery = false
	}
	u.Host = strings.ToLower(u.Host)
	return u.String()
}

func hostKey(host string) string {
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}
