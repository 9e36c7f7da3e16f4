package extract

import (
	"regexp"
	"sort"

	jsoniter "github.com/json-iterator/go"
	"github.com/propstream/listing-scrape-worker/internal/model"
)

// The portal serializes its page state in one of a few shapes, and the shape
// changes between releases. Each pattern captures a JSON object literal.
var embeddedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?s)<script[^>]*id="__NEXT_DATA__"[^>]*>(.*?)</script>`),
	regexp.MustCompile(`(?s)window\.PAGE_MODEL\s*=\s*(\{.*?\})\s*</script>`),
	regexp.MustCompile(`(?s)window\.__PRELOADED_STATE__\s*=\s*(\{.*?\});?\s*</script>`),
	regexp.MustCompile(`(?s)window\.jsonModel\s*=\s*(\{.*?\})\s*</script>`),
}

// Keys that mark a map as a listing-like record.
var listingMarkers = []string{
	"id", "listingId", "propertyId", "listing_id",
	"address", "displayAddress",
	"detailUrl", "propertyUrl",
}

// Keys holding an explicit next-page link inside the page state.
var nextLinkKeys = []string{"nextPageUrl", "nextUrl", "nextHref", "nextLink"}

// Keys holding a numeric next page.
var nextPageKeys = []string{"nextPage", "next"}

const maxSearchDepth = 12

// fromEmbedded locates the page-state blob, parses it and searches the object
// graph for the listing collection and a pagination hint. A malformed blob is
// never an error; the caller just falls through to the next tier.
func fromEmbedded(body string) ([]model.RawRecord, nextCandidate) {
	for _, pattern := range embeddedPatterns {
		match := pattern.FindStringSubmatch(body)
		if len(match) < 2 {
			continue
		}
		var root any
		if err := jsoniter.Unmarshal([]byte(match[1]), &root); err != nil {
			continue
		}
		records := findListingArray(root, 0)
		if len(records) == 0 {
			continue
		}
		return records, findNext(root, 0)
	}
	return nil, nextCandidate{}
}

// findListingArray is a bounded depth-first search for the first array whose
// elements look like listing records. That array is treated as authoritative.
func findListingArray(node any, depth int) []model.RawRecord {
	if depth > maxSearchDepth {
		return nil
	}
	switch v := node.(type) {
	case []any:
		if records := asListingRecords(v); records != nil {
			return records
		}
		for _, item := range v {
			if records := findListingArray(item, depth+1); records != nil {
				return records
			}
		}
	case map[string]any:
		// Map iteration order is randomized; walk keys in sorted order so the
		// same blob always yields the same array.
		for _, key := range sortedKeys(v) {
			if records := findListingArray(v[key], depth+1); records != nil {
				return records
			}
		}
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func asListingRecords(arr []any) []model.RawRecord {
	if len(arr) == 0 {
		return nil
	}
	first, ok := arr[0].(map[string]any)
	if !ok || !hasListingMarker(first) {
		return nil
	}
	records := make([]model.RawRecord, 0, len(arr))
	for _, item := range arr {
		if m, ok := item.(map[string]any); ok && hasListingMarker(m) {
			records = append(records, model.RawRecord(m))
		}
	}
	if len(records) == 0 {
		return nil
	}
	return records
}

func hasListingMarker(m map[string]any) bool {
	for _, marker := range listingMarkers {
		if _, ok := m[marker]; ok {
			return true
		}
	}
	return false
}

// findNext searches the graph for a pagination hint: an explicit link first,
// then a numeric next page.
func findNext(node any, depth int) nextCandidate {
	if depth > maxSearchDepth {
		return nextCandidate{}
	}
	m, ok := node.(map[string]any)
	if ok {
		for _, key := range nextLinkKeys {
			if s, ok := m[key].(string); ok && s != "" {
				return nextCandidate{link: s}
			}
		}
		for _, key := range nextPageKeys {
			if n, ok := m[key].(float64); ok && n > 0 {
				return nextCandidate{page: int(n)}
			}
		}
		for _, key := range sortedKeys(m) {
			if c := findNext(m[key], depth+1); c.link != "" || c.page > 0 {
				return c
			}
		}
		return nextCandidate{}
	}
	if arr, ok := node.([]any); ok {
		for _, item := range arr {
			if c := findNext(item, depth+1); c.link != "" || c.page > 0 {
				return c
			}
		}
	}
	return nextCandidate{}
}
