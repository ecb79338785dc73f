package main

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/aktagon/news-digest/internal/store"
)

func main() {
	if len(os.Args) < 3 {
		log.Fatal("Usage: artifacts <list|latest|articles|prune> [digest|essay] <directory>")
	}

	command := os.Args[1]
	switch command {
	case "list":
		if err := listDocuments(os.Stdout, os.Args[2]); err != nil {
			log.Fatal(err)
		}
	case "latest":
		if len(os.Args) < 4 {
			log.Fatal("Usage: artifacts latest <digest|essay> <directory>")
		}
		if err := printLatest(os.Stdout, store.Kind(os.Args[2]), os.Args[3]); err != nil {
			log.Fatal(err)
		}
	case "articles":
		if err := listArticles(os.Stdout, os.Args[2]); err != nil {
			log.Fatal(err)
		}
	case "prune":
		if err := pruneDocuments(os.Stdout, bufio.NewReader(os.Stdin), os.Args[2]); err != nil {
			log.Fatal(err)
		}
	default:
		log.Fatalf("Unknown command %q", command)
	}
}

// listDocuments prints every document in dir, oldest first within each scope and kind.
func listDocuments(w io.Writer, dir string) error {
	ix, err := store.BuildIndex(dir)
	if err != nil {
		return err
	}
	if ix.Len() == 0 {
		fmt.Fprintf(w, "No documents in %s\n", dir)
		return nil
	}
	for _, rec := range ix.All() {
		fmt.Fprintf(w, "%-8s %-6s #%d  %-28s %d  %s\n",
			rec.Scope, rec.Kind, rec.Seq, rec.Model, rec.Stamp, filepath.Base(rec.Path))
	}
	return nil
}

// printLatest writes the newest document of kind in dir. A date directory holds combined
// documents, a source directory holds source documents.
func printLatest(w io.Writer, kind store.Kind, dir string) error {
	if kind != store.KindDigest && kind != store.KindEssay {
		return fmt.Errorf("unknown kind %q (want digest or essay)", kind)
	}
	ix, err := store.BuildIndex(dir)
	if err != nil {
		return err
	}
	doc, err := store.ReadLatest(ix, store.ScopeCombined, kind)
	if err != nil {
		doc, err = store.ReadLatest(ix, store.ScopeSource, kind)
	}
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, doc.Content)
	return err
}

// listArticles prints the article records of a source directory.
func listArticles(w io.Writer, sourceDir string) error {
	articles, err := store.ListArticles(sourceDir)
	if err != nil {
		return err
	}
	if len(articles) == 0 {
		fmt.Fprintf(w, "No articles in %s\n", sourceDir)
		return nil
	}
	for _, a := range articles {
		fmt.Fprintf(w, "%03d  %-14s %-14s %s\n", a.Seq, a.Capture, a.Extract, a.URL)
	}
	return nil
}

// pruneDocuments offers to delete every document superseded by a newer one of the same scope
// and kind. The latest of each is always kept.
func pruneDocuments(w io.Writer, reader *bufio.Reader, dir string) error {
	ix, err := store.BuildIndex(dir)
	if err != nil {
		return err
	}

	totalRemoved := 0
	seen := map[store.Key]bool{}
	for _, rec := range ix.All() {
		if seen[rec.Key] {
			continue
		}
		seen[rec.Key] = true

		records := ix.Records(rec.Scope, rec.Kind)
		if len(records) <= 1 {
			continue
		}

		fmt.Fprintf(w, "\nFound %d %s %s documents:\n", len(records), rec.Scope, rec.Kind)
		latest := records[len(records)-1]
		fmt.Fprintf(w, "  KEEP: %s\n", filepath.Base(latest.Path))
		for _, old := range records[:len(records)-1] {
			fileName := filepath.Base(old.Path)
			if !confirmDelete(w, reader, old.Path) {
				fmt.Fprintf(w, "  SKIP: %s\n", fileName)
				continue
			}
			if err := os.Remove(old.Path); err != nil {
				log.Printf("Error removing %s: %v", old.Path, err)
				continue
			}
			totalRemoved++
			fmt.Fprintf(w, "  REMOVED: %s\n", fileName)
		}
	}

	fmt.Fprintf(w, "\nRemoved %d superseded documents\n", totalRemoved)
	return nil
}

func confirmDelete(w io.Writer, reader *bufio.Reader, path string) bool {
	for {
		fmt.Fprintf(w, "  DELETE %s? [y/N]: ", filepath.Base(path))
		input, err := reader.ReadString('\n')
		if err != nil && input == "" {
			return false
		}
		response := strings.ToLower(strings.TrimSpace(input))
		switch response {
		case "y", "yes":
			return true
		case "", "n", "no":
			return false
		default:
			fmt.Fprintln(w, "  Please enter y or n.")
		}
	}
}
