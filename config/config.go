package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds scraper configuration.
type Config struct {
	BaseURL          string
	IDParam          string
	MinProductID     int
	MaxProductID     int
	FetchSize        int
	MaxWorkers       int
	WorkerGroups     int
	ProductsPerGroup int
	Delay            time.Duration
	RandomDelay      time.Duration
	Timeout          time.Duration
	MaxAttempts      int
	RetryInterval    time.Duration
	FollowRedirects  bool
	CacheSize        int
	OutputFile       string
	CSVFile          string
	Merge            bool
	UpdateRangeStart *int
	UpdateRangeEnd   *int
	UserAgent        string
	Verbose          bool
	MetricsAddr      string
}

// DefaultConfig returns defaults for a full monoprice.com scan.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:          "https://www.monoprice.com/product",
		IDParam:          "p_id",
		MinProductID:     0,
		MaxProductID:     1000000,
		FetchSize:        10000,
		MaxWorkers:       8,
		WorkerGroups:     1,
		ProductsPerGroup: 0,
		Timeout:          30 * time.Second,
		MaxAttempts:      10,
		RetryInterval:    3 * time.Second,
		FollowRedirects:  true,
		OutputFile:       "items.json",
		UserAgent:        "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
	}
}

// ProductURL renders the product page URL for id.
func (c *Config) ProductURL(id int) string {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return c.BaseURL
	}
	q := u.Query()
	q.Set(c.IDParam, fmt.Sprint(id))
	u.RawQuery = q.Encode()
	return u.String()
}

// Concurrency is the total number of requests that may be in flight.
func (c *Config) Concurrency() int {
	groups := c.WorkerGroups
	if groups < 1 {
		groups = 1
	}
	return groups * c.MaxWorkers
}

// GroupSpan is the number of ids handed to one worker group.
func (c *Config) GroupSpan() int {
	if c.ProductsPerGroup > 0 {
		return c.ProductsPerGroup
	}
	groups := c.WorkerGroups
	if groups < 1 {
		groups = 1
	}
	span := (c.FetchSize + groups - 1) / groups
	if span < 1 {
		span = 1
	}
	return span
}

// HasUpdateRange reports whether a range should be cleared before merging.
func (c *Config) HasUpdateRange() bool {
	return c.UpdateRangeStart != nil && c.UpdateRangeEnd != nil
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}
	if c.IDParam == "" {
		return fmt.Errorf("id query parameter cannot be empty")
	}

	if c.MinProductID < 0 {
		return fmt.Errorf("min product id cannot be negative")
	}
	if c.MaxProductID <= c.MinProductID {
		return fmt.Errorf("max product id (%d) must be greater than min product id (%d)", c.MaxProductID, c.MinProductID)
	}
	if c.FetchSize <= 0 {
		return fmt.Errorf("fetch size must be positive")
	}
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("max workers must be positive")
	}
	if c.WorkerGroups <= 0 {
		return fmt.Errorf("worker groups must be positive")
	}
	if c.ProductsPerGroup < 0 {
		return fmt.Errorf("products per group cannot be negative")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.RandomDelay < 0 {
		return fmt.Errorf("random delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	if c.RetryInterval < 0 {
		return fmt.Errorf("retry interval cannot be negative")
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("cache size cannot be negative")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if (c.UpdateRangeStart == nil) != (c.UpdateRangeEnd == nil) {
		return fmt.Errorf("update range start and end must be given together")
	}
	if c.HasUpdateRange() {
		if *c.UpdateRangeStart < 0 {
			return fmt.Errorf("update range start cannot be negative")
		}
		if *c.UpdateRangeEnd < *c.UpdateRangeStart {
			return fmt.Errorf("update range end (%d) cannot precede start (%d)", *c.UpdateRangeEnd, *c.UpdateRangeStart)
		}
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	return nil
}
