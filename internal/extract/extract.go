package extract

import (
	"net/url"
	"strconv"

	"github.com/propstream/listing-scrape-worker/internal/model"
)

type Tier string

const (
	TierEmbedded   Tier = "embedded"
	TierLinkedData Tier = "linked-data"
	TierMarkup     Tier = "markup"
)

// Result is what one search-result page yields: the raw listing collection,
// the tier that produced it and a best-effort pointer to the next page.
type Result struct {
	Records     []model.RawRecord
	NextPageURL string
	Tier        Tier
}

// Extractor runs the ordered extraction tiers over a fetched page body.
// PageParam is the portal's page-number query parameter, used when the
// embedded data only exposes a numeric "next page".
type Extractor struct {
	PageParam string
}

func NewExtractor(pageParam string) *Extractor {
	if pageParam == "" {
		pageParam = "page"
	}
	return &Extractor{PageParam: pageParam}
}

// Extract tries embedded-state data first, then structured linked data, then
// markup heuristics. The first tier that yields a non-empty collection wins;
// the markup tier may legitimately come back empty.
func (e *Extractor) Extract(body, pageURL string) *Result {
	if records, next := fromEmbedded(body); len(records) > 0 {
		return &Result{
			Records:     records,
			NextPageURL: e.resolveNext(body, pageURL, next),
			Tier:        TierEmbedded,
		}
	}
	if records := fromLinkedData(body); len(records) > 0 {
		return &Result{
			Records:     records,
			NextPageURL: e.resolveNext(body, pageURL, nextCandidate{}),
			Tier:        TierLinkedData,
		}
	}
	return &Result{
		Records:     fromMarkup(body),
		NextPageURL: e.resolveNext(body, pageURL, nextCandidate{}),
		Tier:        TierMarkup,
	}
}

// ExtractDetail runs the machine-readable tiers only; detail pages never fall
// back to markup heuristics. Returns nil when neither tier yields a record.
func (e *Extractor) ExtractDetail(body string) model.RawRecord {
	if records, _ := fromEmbedded(body); len(records) > 0 {
		return records[0]
	}
	if records := fromLinkedData(body); len(records) > 0 {
		return records[0]
	}
	return nil
}

// nextCandidate is what the embedded tier learned about pagination: an
// explicit link, or a numeric next-page value to be combined with the page
// parameter of the current url.
type nextCandidate struct {
	link string
	page int
}

// resolveNext picks the next-page pointer: explicit link from the embedded
// data, then its numeric page applied to the current url, then rel=next in the
// markup, then an anchor labelled "next". First non-empty candidate wins.
func (e *Extractor) resolveNext(body, pageURL string, fromData nextCandidate) string {
	if fromData.link != "" {
		return absolutize(pageURL, fromData.link)
	}
	if fromData.page > 0 {
		if u := rewritePageParam(pageURL, e.PageParam, fromData.page); u != "" {
			return u
		}
	}
	if link := nextFromMarkup(body); link != "" {
		return absolutize(pageURL, link)
	}
	return ""
}

func absolutize(pageURL, href string) string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

func rewritePageParam(pageURL, param string, page int) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set(param, strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}
