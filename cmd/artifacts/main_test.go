package main

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aktagon/news-digest/internal/store"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func sourceDir(t *testing.T) string {
	dir := filepath.Join(t.TempDir(), "2025-01-02", "example-com")
	writeFile(t, filepath.Join(dir, "digest_example-com_2025-01-02_model_100.md"), "old digest")
	writeFile(t, filepath.Join(dir, "digest_example-com_2025-01-02_model_300.md"), "new digest")
	writeFile(t, filepath.Join(dir, "digest_example-com_2025-01-02_model_200.md"), "middle digest")
	writeFile(t, filepath.Join(dir, "essay_example-com_2025-01-02_model_100.md"), "essay")
	return dir
}

func TestListDocuments(t *testing.T) {
	var out bytes.Buffer
	if err := listDocuments(&out, sourceDir(t)); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4:\n%s", len(lines), out.String())
	}
	if !strings.Contains(lines[2], "_300.md") {
		t.Errorf("newest digest should be listed last: %q", lines[2])
	}
}

func TestPrintLatest(t *testing.T) {
	dir := sourceDir(t)

	tests := []struct {
		kind    string
		want    string
		wantErr bool
	}{
		{"digest", "new digest", false},
		{"essay", "essay", false},
		{"summary", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			var out bytes.Buffer
			err := printLatest(&out, store.Kind(tt.kind), dir)
			if (err != nil) != tt.wantErr {
				t.Fatalf("printLatest() error = %v, wantErr %v", err, tt.wantErr)
			}
			if out.String() != tt.want {
				t.Errorf("printLatest() = %q, want %q", out.String(), tt.want)
			}
		})
	}
}

func TestListArticles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "2025-01-02", "example-com")
	writeFile(t, filepath.Join(dir, "urls.txt"), "https://example.com/a\nhttps://example.com/b\n")
	writeFile(t, filepath.Join(dir, "raw_html", "001-a.html"), "<p>a</p>")

	var out bytes.Buffer
	if err := listArticles(&out, dir); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	if !strings.Contains(got, "001  captured") {
		t.Errorf("first article should be captured:\n%s", got)
	}
	if !strings.Contains(got, "002  capture_failed") {
		t.Errorf("second article should have failed capture:\n%s", got)
	}
}

func TestPruneDocuments(t *testing.T) {
	dir := sourceDir(t)
	var out bytes.Buffer

	// Delete the oldest digest, keep the middle one.
	reader := bufio.NewReader(strings.NewReader("y\nn\n"))
	if err := pruneDocuments(&out, reader, dir); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, "digest_example-com_2025-01-02_model_100.md")); !os.IsNotExist(err) {
		t.Error("oldest digest should be removed")
	}
	for _, name := range []string{
		"digest_example-com_2025-01-02_model_200.md",
		"digest_example-com_2025-01-02_model_300.md",
		"essay_example-com_2025-01-02_model_100.md",
	} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s should be kept: %v", name, err)
		}
	}
	if !strings.Contains(out.String(), "Removed 1 superseded documents") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}
