// Package finder searches a published item document by keyword.
package finder

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/aluiziolira/monoscrape/document"
	"github.com/aluiziolira/monoscrape/models"
)

// DefaultSource is the published document produced by the scheduled scrape.
const DefaultSource = "https://raw.githubusercontent.com/csm10495/monoscrape/master/items.json"

// Loader fetches documents from local paths or http(s) URLs.
type Loader struct {
	Client *http.Client
}

// NewLoader returns a loader whose downloads time out after timeout.
func NewLoader(timeout time.Duration) *Loader {
	return &Loader{Client: &http.Client{Timeout: timeout}}
}

// Load reads the document at source, which is either a file path or an
// http(s) URL.
func (l *Loader) Load(ctx context.Context, source string) (*document.Document, error) {
	if !isURL(source) {
		return document.Load(source)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: unexpected status %d", source, resp.StatusCode)
	}
	doc, err := document.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", source, err)
	}
	return doc, nil
}

// Load reads source with a default loader.
func Load(ctx context.Context, source string) (*document.Document, error) {
	return NewLoader(30*time.Second).Load(ctx, source)
}

func isURL(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// Query selects items whose name contains every keyword, ignoring case.
type Query struct {
	Keywords           []string
	IncludeUnavailable bool
}

// Matches reports whether item satisfies q.
func (q Query) Matches(item models.Item) bool {
	if !item.Available && !q.IncludeUnavailable {
		return false
	}
	name := strings.ToLower(item.Name)
	for _, keyword := range q.Keywords {
		if !strings.Contains(name, strings.ToLower(keyword)) {
			return false
		}
	}
	return true
}

// Search returns the matching items of doc, cheapest first.
func Search(doc *document.Document, q Query) []models.Item {
	var matches []models.Item
	for _, item := range doc.Items() {
		if q.Matches(item) {
			matches = append(matches, item)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Price < matches[j].Price
	})
	return matches
}

// Format renders a single listing line.
func Format(item models.Item, showRatings bool) string {
	if showRatings {
		return fmt.Sprintf("$%.02f | %.1f stars | %s | %s", item.Price, item.Rating, item.Name, item.URL)
	}
	return fmt.Sprintf("$%.02f | %s | %s", item.Price, item.Name, item.URL)
}
