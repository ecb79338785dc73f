package config

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SourceItem is one entry of the source registry.
type SourceItem struct {
	URL string `yaml:"url"`
}

// SourceRegistry lists the source pages processed by a full run, in processing order.
type SourceRegistry struct {
	Sources []SourceItem `yaml:"sources"`
}

// URLs returns the registry URLs in order.
func (r *SourceRegistry) URLs() []string {
	urls := make([]string, 0, len(r.Sources))
	for _, item := range r.Sources {
		urls = append(urls, strings.TrimSpace(item.URL))
	}
	return urls
}

// LoadSources reads the registry from a YAML file or from an http(s) URL serving CSV.
func LoadSources(location string) (*SourceRegistry, error) {
	var (
		registry *SourceRegistry
		err      error
	)
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		registry, err = loadSourcesFromURL(location)
	} else {
		registry, err = loadSourcesFromFile(location)
	}
	if err != nil {
		return nil, err
	}
	if err := ValidateSources(registry, location); err != nil {
		return nil, err
	}
	return registry, nil
}

// ValidateSources rejects empty registries and entries that are not http(s) URLs.
func ValidateSources(registry *SourceRegistry, location string) error {
	if len(registry.Sources) == 0 {
		return fmt.Errorf("source registry %s lists no sources", location)
	}
	for i, item := range registry.Sources {
		url := strings.TrimSpace(item.URL)
		if url == "" {
			return fmt.Errorf("source registry %s: item %d has empty URL", location, i+1)
		}
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			return fmt.Errorf("source registry %s: item %d has invalid URL %q (must start with http:// or https://)", location, i+1, url)
		}
	}
	return nil
}

func loadSourcesFromFile(path string) (*SourceRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading source registry: %w", err)
	}

	var registry SourceRegistry
	if err := yaml.Unmarshal(data, &registry); err != nil {
		return nil, fmt.Errorf("parsing source registry: %w", err)
	}
	return &registry, nil
}

// loadSourcesFromURL loads the registry from a CSV with one URL per row and an optional "url" header.
func loadSourcesFromURL(url string) (*SourceRegistry, error) {
	client := &http.Client{
		Timeout: 30 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetching CSV from URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error %d when fetching CSV", resp.StatusCode)
	}

	records, err := csv.NewReader(resp.Body).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing CSV: %w", err)
	}

	startIdx := 0
	if len(records) > 0 && len(records[0]) > 0 && strings.EqualFold(strings.TrimSpace(records[0][0]), "url") {
		startIdx = 1
	}

	registry := &SourceRegistry{}
	for _, row := range records[startIdx:] {
		if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		registry.Sources = append(registry.Sources, SourceItem{URL: strings.TrimSpace(row[0])})
	}
	return registry, nil
}
