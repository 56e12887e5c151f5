// Package document persists scraped items as a keyed JSON document and
// supports the merge and range-replacement updates used for re-scrapes.
package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/aluiziolira/monoscrape/models"
)

// ErrMalformedDocument is returned when a persisted document cannot be
// decoded. It is never replaced by an empty document.
var ErrMalformedDocument = errors.New("malformed item document")

// Document maps product ids to items. Keys under "items" that are not
// integers are carried through untouched.
type Document struct {
	items map[int]models.Item
	extra map[string]json.RawMessage
	meta  models.DocumentMeta
	clock func() time.Time
}

type persisted struct {
	Items map[string]json.RawMessage `json:"items"`
	Meta  *models.DocumentMeta       `json:"meta,omitempty"`
}

// New returns an empty document.
func New() *Document {
	return &Document{
		items: make(map[int]models.Item),
		extra: make(map[string]json.RawMessage),
		clock: time.Now,
	}
}

// NewFromItems returns a document holding a copy of items.
func NewFromItems(items map[int]models.Item) *Document {
	d := New()
	d.MergeItems(items)
	return d
}

// Load reads the document at path. A missing file yields an error matching
// fs.ErrNotExist; undecodable content yields ErrMalformedDocument.
func Load(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer f.Close()

	d, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return d, nil
}

// Decode parses a document from r.
func Decode(r io.Reader) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}

	var raw persisted
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	if raw.Items == nil {
		return nil, fmt.Errorf("%w: missing items object", ErrMalformedDocument)
	}

	d := New()
	for key, value := range raw.Items {
		id, err := strconv.Atoi(key)
		if err != nil {
			d.extra[key] = value
			continue
		}
		var item models.Item
		if err := decodeItem(value, &item); err != nil {
			return nil, fmt.Errorf("%w: entry %q: %v", ErrMalformedDocument, key, err)
		}
		d.items[id] = item
	}
	if raw.Meta != nil {
		d.meta = *raw.Meta
	}
	return d, nil
}

func decodeItem(value json.RawMessage, item *models.Item) error {
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return errors.New("not an object")
	}
	return json.Unmarshal(trimmed, item)
}

// Len is the number of items.
func (d *Document) Len() int {
	return len(d.items)
}

// Get returns the item stored under id.
func (d *Document) Get(id int) (models.Item, bool) {
	item, ok := d.items[id]
	return item, ok
}

// Items returns every item ordered by product id.
func (d *Document) Items() []models.Item {
	ids := make([]int, 0, len(d.items))
	for id := range d.items {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	items := make([]models.Item, 0, len(ids))
	for _, id := range ids {
		items = append(items, d.items[id])
	}
	return items
}

// Meta is the metadata read from disk or written by the last Dump.
func (d *Document) Meta() models.DocumentMeta {
	return d.meta
}

// Merge copies every entry of other into d. Entries of other win.
func (d *Document) Merge(other *Document) {
	if other == nil {
		return
	}
	d.MergeItems(other.items)
	for key, value := range other.extra {
		d.extra[key] = value
	}
}

// MergeItems copies items into d, replacing existing ids.
func (d *Document) MergeItems(items map[int]models.Item) {
	for id, item := range items {
		d.items[id] = item
	}
}

// MergeFile loads the document at path and merges it into d.
func (d *Document) MergeFile(path string) error {
	other, err := Load(path)
	if err != nil {
		return err
	}
	d.Merge(other)
	return nil
}

// RemoveRange deletes every item with start <= id < end and reports how many
// were removed.
func (d *Document) RemoveRange(start, end int) int {
	removed := 0
	for id := range d.items {
		if id >= start && id < end {
			delete(d.items, id)
			removed++
		}
	}
	return removed
}

// Encode writes the document with fresh metadata to w.
func (d *Document) Encode(w io.Writer) error {
	meta := models.NewDocumentMeta(d.clock())

	entries := make(map[string]any, len(d.items)+len(d.extra))
	for key, value := range d.extra {
		entries[key] = value
	}
	for id, item := range d.items {
		entries[strconv.Itoa(id)] = item
	}

	out := struct {
		Items map[string]any      `json:"items"`
		Meta  models.DocumentMeta `json:"meta"`
	}{Items: entries, Meta: meta}

	data, err := json.MarshalIndent(out, "", "    ")
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	d.meta = meta
	return nil
}

// Dump replaces the file at path with the encoded document. The content is
// written to a temporary file in the same directory and renamed into place,
// so readers see either the old or the new document.
func (d *Document) Dump(path string) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp document: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if err := d.Encode(tmp); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp document: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp document: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
