package scraper

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/monoscrape/models"
)

// RangeFetcher resolves every product id in the half-open range
// [minID, maxID) and returns the ids that turned out to be items. On error
// the items collected before the failure are returned alongside it.
type RangeFetcher interface {
	FetchRange(ctx context.Context, minID, maxID int) (map[int]models.Item, error)
}

// Span is a half-open product id range.
type Span struct {
	Min int
	Max int
}

// Len is the number of ids in the span.
func (s Span) Len() int {
	if s.Max <= s.Min {
		return 0
	}
	return s.Max - s.Min
}

func (s Span) String() string {
	return fmt.Sprintf("[%d, %d)", s.Min, s.Max)
}

// Partition splits [minID, maxID) into contiguous spans of at most size ids.
func Partition(minID, maxID, size int) []Span {
	if size <= 0 || maxID <= minID {
		return nil
	}
	spans := make([]Span, 0, (maxID-minID+size-1)/size)
	for start := minID; start < maxID; start += size {
		spans = append(spans, Span{Min: start, Max: min(start+size, maxID)})
	}
	return spans
}

// Pool runs one fetch task per id on a bounded number of workers.
type Pool struct {
	fetcher ItemFetcher
	workers int
}

// NewPool returns a single-tier range fetcher with the given concurrency.
func NewPool(fetcher ItemFetcher, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{fetcher: fetcher, workers: workers}
}

// FetchRange dispatches every id in [minID, maxID) and waits for all of them.
// The first fatal error stops dispatching and cancels the remaining tasks.
func (p *Pool) FetchRange(ctx context.Context, minID, maxID int) (map[int]models.Item, error) {
	items := make(map[int]models.Item)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for id := minID; id < maxID; id++ {
		if gctx.Err() != nil {
			break
		}
		productID := id
		g.Go(func() error {
			lookup, err := p.fetcher.FetchOne(gctx, productID)
			if err != nil {
				return err
			}
			if lookup.Found() {
				mu.Lock()
				items[productID] = lookup.Item
				mu.Unlock()
			}
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	return items, err
}

// GroupedPool is the coarse tier: it partitions a range into sub-ranges and
// hands each to an independent worker group running the inner fetcher.
type GroupedPool struct {
	inner  RangeFetcher
	groups int
	span   int
}

// NewGroupedPool runs up to groups sub-ranges of span ids concurrently on
// inner.
func NewGroupedPool(inner RangeFetcher, groups, span int) *GroupedPool {
	if groups <= 0 {
		groups = 1
	}
	if span <= 0 {
		span = 1
	}
	return &GroupedPool{inner: inner, groups: groups, span: span}
}

// FetchRange merges the disjoint results of every sub-range.
func (gp *GroupedPool) FetchRange(ctx context.Context, minID, maxID int) (map[int]models.Item, error) {
	items := make(map[int]models.Item)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(gp.groups)

	for _, span := range Partition(minID, maxID, gp.span) {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			found, err := gp.inner.FetchRange(gctx, span.Min, span.Max)
			mu.Lock()
			for id, item := range found {
				items[id] = item
			}
			mu.Unlock()
			if err != nil {
				return fmt.Errorf("worker group %s: %w", span, err)
			}
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	return items, err
}

// NewRangeFetcher picks the single-tier pool when one worker group is
// requested and the two-tier grouped pool otherwise.
func NewRangeFetcher(fetcher ItemFetcher, workers, groups, span int) RangeFetcher {
	pool := NewPool(fetcher, workers)
	if groups <= 1 {
		return pool
	}
	return NewGroupedPool(pool, groups, span)
}
