package store

import (
	"fmt"
	"os"
	"sort"
)

// Key identifies a family of documents in one directory.
type Key struct {
	Scope Scope
	Kind  Kind
}

// Record is one document known to an Index. Seq is its creation order within its Key,
// starting at 1 for the oldest.
type Record struct {
	Key
	Source string
	Date   string
	Model  string
	Stamp  int64
	Path   string
	Seq    int
}

// Index maps (scope, kind) to documents ordered oldest first.
type Index struct {
	records map[Key][]Record
}

// NewIndex orders records by stamp, breaking ties by path, and numbers them.
func NewIndex(records ...Record) *Index {
	ix := &Index{records: make(map[Key][]Record)}
	for _, rec := range records {
		ix.records[rec.Key] = append(ix.records[rec.Key], rec)
	}
	for key, recs := range ix.records {
		sort.SliceStable(recs, func(i, j int) bool {
			if recs[i].Stamp != recs[j].Stamp {
				return recs[i].Stamp < recs[j].Stamp
			}
			return recs[i].Path < recs[j].Path
		})
		for i := range recs {
			recs[i].Seq = i + 1
		}
		ix.records[key] = recs
	}
	return ix
}

// BuildIndex scans dir once for files following the document naming convention.
// A missing directory yields an empty index.
func BuildIndex(dir string) (*Index, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return NewIndex(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}

	var records []Record
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if rec, ok := parseDocumentName(dir, entry.Name()); ok {
			records = append(records, rec)
		}
	}
	return NewIndex(records...), nil
}

// Latest returns the document of scope and kind with the greatest stamp.
func (ix *Index) Latest(scope Scope, kind Kind) (Record, bool) {
	recs := ix.records[Key{Scope: scope, Kind: kind}]
	if len(recs) == 0 {
		return Record{}, false
	}
	return recs[len(recs)-1], true
}

// Records returns the documents of scope and kind, oldest first.
func (ix *Index) Records(scope Scope, kind Kind) []Record {
	recs := ix.records[Key{Scope: scope, Kind: kind}]
	return append([]Record(nil), recs...)
}

// All returns every record grouped by key in a stable order.
func (ix *Index) All() []Record {
	keys := make([]Key, 0, len(ix.records))
	for key := range ix.records {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Scope != keys[j].Scope {
			return keys[i].Scope < keys[j].Scope
		}
		return keys[i].Kind < keys[j].Kind
	})

	var all []Record
	for _, key := range keys {
		all = append(all, ix.records[key]...)
	}
	return all
}

// Len is the number of indexed documents.
func (ix *Index) Len() int {
	n := 0
	for _, recs := range ix.records {
		n += len(recs)
	}
	return n
}
