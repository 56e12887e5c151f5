// Package parser extracts product fields from monoprice.com product pages.
package parser

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/monoscrape/models"
)

// RemovedMarker appears in the page text when a product has been withdrawn.
const RemovedMarker = "looking for is no longer available"

// Selectors used against the product page markup.
const (
	nameSelector       = "div.product-name"
	priceSelector      = "span.sale-price"
	ratingSelector     = "span#TTreviewSummaryAverageRating"
	reviewSelector     = "div.TTreviewCount"
	addToCartSelector  = "a"
	addToCartLinkLabel = "Add to Cart"
)

// Not-found reasons reported by Extract.
const (
	ReasonUnparseable  = "unparseable"
	ReasonRemoved      = "removed"
	ReasonMissingName  = "missing_name"
	ReasonMissingPrice = "missing_price"
	ReasonBadPrice     = "bad_price"
)

// Extract turns a fetched product page into a lookup result. A page that
// lacks the name or a parseable price is reported as not found, exactly like
// a removed product.
func Extract(body []byte, resolvedURL string, productID int) models.Lookup {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return models.NotFound(productID, ReasonUnparseable)
	}
	return ExtractDocument(doc, resolvedURL, productID)
}

// ExtractDocument is Extract over an already parsed document.
func ExtractDocument(doc *goquery.Document, resolvedURL string, productID int) models.Lookup {
	if IsRemoved(doc.Text()) {
		return models.NotFound(productID, ReasonRemoved)
	}

	name, ok := text(doc.Selection, nameSelector)
	if !ok || name == "" {
		return models.NotFound(productID, ReasonMissingName)
	}

	priceText, ok := text(doc.Selection, priceSelector)
	if !ok {
		return models.NotFound(productID, ReasonMissingPrice)
	}
	price, err := ParsePrice(priceText)
	if err != nil {
		return models.NotFound(productID, ReasonBadPrice)
	}

	rating := 0.0
	if raw, ok := text(doc.Selection, ratingSelector); ok {
		if v, err := ParseRating(raw); err == nil {
			rating = v
		}
	}

	numReviews := 0
	if raw, ok := text(doc.Selection, reviewSelector); ok {
		if v, err := ParseReviewCount(raw); err == nil {
			numReviews = v
		}
	}

	return models.FoundItem(models.Item{
		Name:       name,
		Price:      price,
		URL:        resolvedURL,
		ProductID:  productID,
		Available:  HasAddToCart(doc.Selection),
		Rating:     rating,
		NumReviews: numReviews,
	})
}

// IsRemoved reports whether the rendered page text carries the removal marker.
func IsRemoved(pageText string) bool {
	return strings.Contains(pageText, RemovedMarker)
}

// HasAddToCart reports whether an add-to-cart link is present.
func HasAddToCart(s *goquery.Selection) bool {
	found := false
	s.Find(addToCartSelector).EachWithBreak(func(_ int, link *goquery.Selection) bool {
		if strings.TrimSpace(link.Text()) == addToCartLinkLabel {
			found = true
			return false
		}
		return true
	})
	return found
}

// ParsePrice removes the currency symbol and group separators and parses the
// remainder as a decimal amount.
func ParsePrice(raw string) (float64, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.ReplaceAll(cleaned, "$", "")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.TrimSpace(cleaned)
	price, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", raw, err)
	}
	if !isFinite(price) {
		return 0, fmt.Errorf("parse price %q: not a finite number", raw)
	}
	return price, nil
}

// ParseRating parses ratings rendered as "4.5/5".
func ParseRating(raw string) (float64, error) {
	head, _, _ := strings.Cut(strings.TrimSpace(raw), "/")
	rating, err := strconv.ParseFloat(strings.TrimSpace(head), 64)
	if err != nil {
		return 0, fmt.Errorf("parse rating %q: %w", raw, err)
	}
	if !isFinite(rating) {
		return 0, fmt.Errorf("parse rating %q: not a finite number", raw)
	}
	return rating, nil
}

// ParseReviewCount parses counts rendered as "1,234 Reviews".
func ParseReviewCount(raw string) (int, error) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return 0, fmt.Errorf("parse review count %q: empty", raw)
	}
	n, err := strconv.Atoi(strings.ReplaceAll(fields[0], ",", ""))
	if err != nil {
		return 0, fmt.Errorf("parse review count %q: %w", raw, err)
	}
	return n, nil
}

// isFinite rejects NaN and infinities, which JSON cannot encode.
func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func text(s *goquery.Selection, selector string) (string, bool) {
	match := s.Find(selector).First()
	if match.Length() == 0 {
		return "", false
	}
	return strings.TrimSpace(match.Text()), true
}
