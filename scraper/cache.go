package scraper

import (
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/aluiziolira/monoscrape/models"
)

const defaultCacheSize = 1 << 20

// ResultCache memoizes lookups per product id for the lifetime of a run.
// Concurrent requests for the same id share one call to the loader.
type ResultCache struct {
	entries *lru.Cache[int, models.Lookup]
	group   singleflight.Group
}

// NewResultCache builds a cache holding up to size lookups. A non-positive
// size selects a default large enough for the full product id space.
func NewResultCache(size int) (*ResultCache, error) {
	if size <= 0 {
		size = defaultCacheSize
	}
	entries, err := lru.New[int, models.Lookup](size)
	if err != nil {
		return nil, err
	}
	return &ResultCache{entries: entries}, nil
}

// Get returns the cached lookup for id.
func (c *ResultCache) Get(id int) (models.Lookup, bool) {
	return c.entries.Get(id)
}

// Len is the number of cached lookups.
func (c *ResultCache) Len() int {
	return c.entries.Len()
}

// Do returns the cached lookup for id, or runs load once and caches its
// result. Errors are never cached, so a failed id can be fetched again. hit
// is false only for the caller whose load actually ran.
func (c *ResultCache) Do(id int, load func() (models.Lookup, error)) (lookup models.Lookup, hit bool, err error) {
	if cached, ok := c.entries.Get(id); ok {
		return cached, true, nil
	}

	loaded := false
	v, err, _ := c.group.Do(strconv.Itoa(id), func() (interface{}, error) {
		if cached, ok := c.entries.Get(id); ok {
			return cached, nil
		}
		loaded = true
		result, err := load()
		if err != nil {
			return nil, err
		}
		c.entries.Add(id, result)
		return result, nil
	})
	if err != nil {
		return models.Lookup{}, false, err
	}
	return v.(models.Lookup), !loaded, nil
}
