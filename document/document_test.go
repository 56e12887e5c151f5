package document

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/aluiziolira/monoscrape/models"
)

func testItem(id int) models.Item {
	return models.Item{
		Name:       fmt.Sprintf("Item %d", id),
		Price:      float64(id) + 0.99,
		URL:        "https://www.monoprice.com/product?p_id=" + strconv.Itoa(id),
		ProductID:  id,
		Available:  id%2 == 0,
		Rating:     4.5,
		NumReviews: id * 3,
	}
}

func itemsOf(ids ...int) map[int]models.Item {
	items := make(map[int]models.Item, len(ids))
	for _, id := range ids {
		items[id] = testItem(id)
	}
	return items
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestDumpLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "items.json")

	doc := NewFromItems(itemsOf(1, 2, 10, 12271))
	doc.clock = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600)) }
	if err := doc.Dump(path); err != nil {
		t.Fatalf("dump: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(loaded.items, doc.items) {
		t.Fatalf("round trip mismatch:\n got %v\nwant %v", loaded.items, doc.items)
	}
	if _, ok := loaded.Get(12271); !ok {
		t.Fatalf("integer key 12271 missing after load")
	}

	meta := loaded.Meta()
	if meta.Version != models.DocumentVersion {
		t.Fatalf("version = %q, want %q", meta.Version, models.DocumentVersion)
	}
	if meta.Timestamp != "2025-03-01T11:00:00Z" {
		t.Fatalf("timestamp = %q, want UTC RFC3339", meta.Timestamp)
	}
	if doc.Meta() != meta {
		t.Fatalf("dump did not record its metadata: %+v", doc.Meta())
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the target file, found %d entries", len(entries))
	}
}

func TestDumpFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.json")
	if err := NewFromItems(itemsOf(7)).Dump(path); err != nil {
		t.Fatalf("dump: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var raw map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("decode dumped file: %v", err)
	}
	if _, ok := raw["items"]["7"]; !ok {
		t.Fatalf("expected item under string key \"7\": %s", data)
	}
	if _, ok := raw["meta"]["timestamp"]; !ok {
		t.Fatalf("expected meta.timestamp: %s", data)
	}
	if !strings.Contains(string(data), "\n    \"items\"") {
		t.Fatalf("expected four-space indentation: %s", data)
	}

	var item map[string]any
	if err := json.Unmarshal(raw["items"]["7"], &item); err != nil {
		t.Fatalf("decode item: %v", err)
	}
	for _, field := range []string{"name", "price", "url", "product_id", "available", "rating", "num_reviews"} {
		if _, ok := item[field]; !ok {
			t.Fatalf("item is missing field %q: %v", field, item)
		}
	}
}

func TestDumpOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.json")
	if err := NewFromItems(itemsOf(1, 2, 3)).Dump(path); err != nil {
		t.Fatalf("first dump: %v", err)
	}
	if err := NewFromItems(itemsOf(9)).Dump(path); err != nil {
		t.Fatalf("second dump: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Len() != 1 {
		t.Fatalf("len = %d, want 1 after full overwrite", loaded.Len())
	}
}

func TestMergeSizes(t *testing.T) {
	tests := []struct {
		name     string
		left     []int
		right    []int
		expected int
	}{
		{name: "disjoint", left: []int{1, 2}, right: []int{3, 4, 5}, expected: 5},
		{name: "overlap", left: []int{1, 2, 3}, right: []int{3, 4}, expected: 4},
		{name: "identical", left: []int{1, 2}, right: []int{1, 2}, expected: 2},
		{name: "empty right", left: []int{1}, right: nil, expected: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := NewFromItems(itemsOf(tt.left...))
			doc.Merge(NewFromItems(itemsOf(tt.right...)))
			if doc.Len() != tt.expected {
				t.Fatalf("len = %d, want %d", doc.Len(), tt.expected)
			}
		})
	}
}

func TestMergeRightSideWins(t *testing.T) {
	doc := NewFromItems(itemsOf(1, 2))
	updated := testItem(2)
	updated.Price = 1.23
	updated.Available = false

	doc.MergeItems(map[int]models.Item{2: updated})

	got, _ := doc.Get(2)
	if got != updated {
		t.Fatalf("item 2 = %+v, want %+v", got, updated)
	}
}

func TestRemoveRangeThenMergeIsIdempotent(t *testing.T) {
	base := NewFromItems(itemsOf(1, 5, 6, 7, 20))
	fresh := itemsOf(6, 8)
	fresh[6] = models.Item{Name: "replacement", ProductID: 6, Price: 2}

	apply := func(doc *Document) {
		doc.RemoveRange(5, 10)
		doc.MergeItems(fresh)
	}

	once := NewFromItems(base.items)
	apply(once)
	twice := NewFromItems(base.items)
	apply(twice)
	apply(twice)

	if !reflect.DeepEqual(once.items, twice.items) {
		t.Fatalf("repeated update differs:\n once %v\ntwice %v", once.items, twice.items)
	}

	want := []int{1, 6, 8, 20}
	var got []int
	for _, item := range once.Items() {
		got = append(got, item.ProductID)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ids = %v, want %v", got, want)
	}
	if item, _ := once.Get(6); item.Name != "replacement" {
		t.Fatalf("item 6 = %+v, want the fresh value", item)
	}
}

func TestRemoveRangeCount(t *testing.T) {
	doc := NewFromItems(itemsOf(1, 2, 3, 4))
	if removed := doc.RemoveRange(2, 4); removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	if removed := doc.RemoveRange(100, 200); removed != 0 {
		t.Fatalf("removed = %d, want 0", removed)
	}
	if doc.Len() != 2 {
		t.Fatalf("len = %d, want 2", doc.Len())
	}
}

func TestLoadMalformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "not json", content: "{not json"},
		{name: "missing items", content: `{"meta": {"version": "0.1.0"}}`},
		{name: "null items", content: `{"items": null}`},
		{name: "items not object", content: `{"items": [1, 2]}`},
		{name: "bad entry", content: `{"items": {"5": "oops"}}`},
		{name: "bad field type", content: `{"items": {"5": {"price": "cheap"}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "items.json")
			writeFile(t, path, tt.content)

			if _, err := Load(path); !errors.Is(err, ErrMalformedDocument) {
				t.Fatalf("expected ErrMalformedDocument, got %v", err)
			}
			if err := New().MergeFile(path); !errors.Is(err, ErrMalformedDocument) {
				t.Fatalf("merge file: expected ErrMalformedDocument, got %v", err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected fs.ErrNotExist, got %v", err)
	}
	if errors.Is(err, ErrMalformedDocument) {
		t.Fatalf("missing file must not be reported as malformed")
	}
}

func TestNonIntegerKeysPreserved(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.json")
	out := filepath.Join(dir, "out.json")
	writeFile(t, in, `{"items": {"12": {"name": "Cable", "price": 3.5, "url": "u", "product_id": 12, "available": true, "rating": 0, "num_reviews": 0}, "note": {"any": ["thing"]}}}`)

	doc, err := Load(in)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if doc.Len() != 1 {
		t.Fatalf("len = %d, want 1", doc.Len())
	}
	if err := doc.Dump(out); err != nil {
		t.Fatalf("dump: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var raw struct {
		Items map[string]json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	var note map[string][]string
	if err := json.Unmarshal(raw.Items["note"], &note); err != nil {
		t.Fatalf("decode note: %v", err)
	}
	if !reflect.DeepEqual(note, map[string][]string{"any": {"thing"}}) {
		t.Fatalf("note = %v, want preserved value", note)
	}
}

func TestWriteCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.csv")
	doc := NewFromItems(itemsOf(30, 2, 11))
	if err := doc.WriteCSV(path); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("records=%d, want 4", len(records))
	}
	if !reflect.DeepEqual(records[0], csvHeader) {
		t.Fatalf("unexpected header: %v", records[0])
	}
	if records[1][0] != "2" || records[2][0] != "11" || records[3][0] != "30" {
		t.Fatalf("rows not ordered by id: %v", records[1:])
	}
	if records[1][2] != "2.99" {
		t.Fatalf("price = %q, want 2.99", records[1][2])
	}
}

func TestRemoveRangeThenMergeReplacesRange(t *testing.T) {
	doc := NewFromItems(itemsOf(1, 4, 5, 6, 9))
	replacement := NewFromItems(itemsOf(4, 7))

	doc.RemoveRange(3, 8)
	doc.Merge(replacement)

	for id := 3; id < 8; id++ {
		got, inDoc := doc.Get(id)
		want, inReplacement := replacement.Get(id)
		if inDoc != inReplacement || got != want {
			t.Fatalf("id %d: got (%+v, %v), want (%+v, %v)", id, got, inDoc, want, inReplacement)
		}
	}
	if doc.Len() != 4 {
		t.Fatalf("len = %d, want ids 1, 4, 7, 9", doc.Len())
	}
}
