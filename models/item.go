// Package models defines data structures for the scraper.
package models

import "time"

// DocumentVersion is written into the meta block of every dumped document.
const DocumentVersion = "0.1.0"

// Item represents one product discovered on the target site.
type Item struct {
	Name       string  `csv:"name" json:"name"`
	Price      float64 `csv:"price" json:"price"`
	URL        string  `csv:"url" json:"url"`
	ProductID  int     `csv:"product_id" json:"product_id"`
	Available  bool    `csv:"available" json:"available"`
	Rating     float64 `csv:"rating" json:"rating"`
	NumReviews int     `csv:"num_reviews" json:"num_reviews"`
}

// Status tags the outcome of looking up a single product id.
type Status int

const (
	StatusNotFound Status = iota
	StatusFound
)

func (s Status) String() string {
	if s == StatusFound {
		return "found"
	}
	return "not_found"
}

// Lookup is the result of fetching one product id. Item is only meaningful
// when Status is StatusFound.
type Lookup struct {
	ProductID int
	Status    Status
	Item      Item
	Reason    string
}

// Found reports whether the lookup produced an item.
func (l Lookup) Found() bool {
	return l.Status == StatusFound
}

// FoundItem wraps a successfully extracted item.
func FoundItem(item Item) Lookup {
	return Lookup{ProductID: item.ProductID, Status: StatusFound, Item: item}
}

// NotFound records that productID has no live product, with a short reason.
func NotFound(productID int, reason string) Lookup {
	return Lookup{ProductID: productID, Status: StatusNotFound, Reason: reason}
}

// DocumentMeta is the metadata block of a persisted item document.
type DocumentMeta struct {
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

// NewDocumentMeta stamps the current version and UTC time.
func NewDocumentMeta(now time.Time) DocumentMeta {
	return DocumentMeta{
		Version:   DocumentVersion,
		Timestamp: now.UTC().Format(time.RFC3339),
	}
}

// RunState is the terminal state of a scrape run.
type RunState int

const (
	StateRunning RunState = iota
	StateCompleted
	StateStoppedEarly
	StateInterrupted
	StateAborted
)

func (s RunState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateStoppedEarly:
		return "stopped_early"
	case StateInterrupted:
		return "interrupted"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// ScrapeResult holds the overall result of a scraping run.
type ScrapeResult struct {
	Items     map[int]Item
	State     RunState
	Cursor    int
	Batches   int
	StartTime time.Time
	EndTime   time.Time
}

// Duration is the wall time of the run.
func (r *ScrapeResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}
