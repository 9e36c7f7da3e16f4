package model

import "strings"

type Category string

const (
	ForSale  Category = "for-sale"
	ToRent   Category = "to-rent"
	NewHomes Category = "new-homes"
)

type ContentKind int

const (
	Document ContentKind = iota
	Data
)

func (ck ContentKind) String() string {
	return [...]string{"document", "data"}[ck]
}

type FetchStatus int

const (
	Success FetchStatus = iota
	Blocked
	ServerError
	ChallengePending
	TransportFailure
)

func (fs FetchStatus) String() string {
	return [...]string{"success", "blocked", "server error", "challenge pending", "transport failure"}[fs]
}

// FetchOutcome is consumed immediately by the extractor or the retry logic.
// Body is only set on success.
type FetchOutcome struct {
	Status     FetchStatus
	StatusCode int
	Body       string
}

// RawRecord is a shape-variable record as one of the extraction tiers produced
// it. The key set depends on the tier and on whatever schema the site is
// serving that day; the normalizer absorbs the drift.
type RawRecord map[string]any

// Listing is the canonical output schema. Every emitted listing has a non-empty
// ID or URL, and every present field is non-empty after Strip.
type Listing struct {
	ID             string   `json:"id,omitempty"`
	Title          string   `json:"title,omitempty"`
	Address        string   `json:"address,omitempty"`
	Price          string   `json:"price,omitempty"`
	PriceValue     float64  `json:"price_value,omitempty"`
	PropertyType   string   `json:"property_type,omitempty"`
	Bedrooms       int      `json:"bedrooms,omitempty"`
	Bathrooms      int      `json:"bathrooms,omitempty"`
	Receptions     int      `json:"receptions,omitempty"`
	Description    string   `json:"description,omitempty"`
	AgentName      string   `json:"agent_name,omitempty"`
	AgentPhone     string   `json:"agent_phone,omitempty"`
	Tenure         string   `json:"tenure,omitempty"`
	CouncilTaxBand string   `json:"council_tax_band,omitempty"`
	EPCRating      string   `json:"epc_rating,omitempty"`
	Images         []string `json:"images,omitempty"`
	Features       []string `json:"features,omitempty"`
	FloorplanURL   string   `json:"floorplan_url,omitempty"`
	Latitude       float64  `json:"latitude,omitempty"`
	Longitude      float64  `json:"longitude,omitempty"`
	URL            string   `json:"url,omitempty"`
	Category       Category `json:"category,omitempty"`
	SearchLocation string   `json:"search_location,omitempty"`
	ScrapedTier    string   `json:"-"`
	TimeToScrape   int64    `json:"time_to_scrape,omitempty"` // in milliseconds
}

// DedupKey prefers the listing id and falls back to the url.
func (l *Listing) DedupKey() string {
	if l.ID != "" {
		return l.ID
	}
	return l.URL
}

// Valid reports whether the listing may be emitted at all.
func (l *Listing) Valid() bool {
	return l.ID != "" || l.URL != ""
}

// Strip trims every string field and removes blank entries from the list
// fields. Applying it twice changes nothing.
func (l *Listing) Strip() {
	fields := []*string{
		&l.ID, &l.Title, &l.Address, &l.Price, &l.PropertyType, &l.Description,
		&l.AgentName, &l.AgentPhone, &l.Tenure, &l.CouncilTaxBand, &l.EPCRating,
		&l.FloorplanURL, &l.URL, &l.SearchLocation,
	}
	for _, f := range fields {
		*f = strings.TrimSpace(*f)
	}
	l.Images = stripList(l.Images)
	l.Features = stripList(l.Features)
}

func stripList(in []string) []string {
	out := in[:0]
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// SearchTask is an externally submitted search, read from the task topic.
type SearchTask struct {
	Location string `json:"location"`
	Category string `json:"category,omitempty"`
	StartURL string `json:"start_url,omitempty"`
}
