package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/propstream/listing-scrape-worker/config"
	"github.com/propstream/listing-scrape-worker/internal/extract"
	"github.com/propstream/listing-scrape-worker/internal/fetch"
	"github.com/propstream/listing-scrape-worker/internal/model"
	"github.com/propstream/listing-scrape-worker/internal/normalize"
)

// Fetcher is the slice of the page fetcher the enricher needs.
type Fetcher interface {
	Fetch(ctx context.Context, url string, opts fetch.Options) (*model.FetchOutcome, error)
}

// Enricher fetches a listing's own page (or its data endpoint when the portal
// exposes one) and folds the richer record back into the canonical listing.
type Enricher struct {
	fetcher   Fetcher
	extractor *extract.Extractor
	portal    *config.PortalConfig
	attempts  int
	log       *slog.Logger
}

func NewEnricher(fetcher Fetcher, extractor *extract.Extractor, portal *config.PortalConfig,
	attempts int, log *slog.Logger) *Enricher {
	if attempts <= 0 {
		attempts = 2
	}
	return &Enricher{
		fetcher:   fetcher,
		extractor: extractor,
		portal:    portal,
		attempts:  attempts,
		log:       log,
	}
}

// Enrich returns the detail record for a listing, or nil on any failure.
// Detail extraction uses the machine-readable tiers only.
func (e *Enricher) Enrich(ctx context.Context, l *model.Listing) model.RawRecord {
	if e.portal != nil && e.portal.DetailDataPath != "" && l.ID != "" {
		if rec := e.fromDataEndpoint(ctx, l); rec != nil {
			return rec
		}
	}
	if l.URL == "" {
		return nil
	}

	outcome, err := e.fetcher.Fetch(ctx, l.URL, fetch.Options{
		Kind:     model.Document,
		Referer:  l.SearchLocation,
		Attempts: e.attempts,
	})
	if err != nil {
		e.log.Warn("detail page unobtainable.", slog.String("url", l.URL), slog.String("err", err.Error()))
		return nil
	}

	return e.extractor.ExtractDetail(outcome.Body)
}

func (e *Enricher) fromDataEndpoint(ctx context.Context, l *model.Listing) model.RawRecord {
	endpoint := strings.TrimSuffix(e.portal.BaseURL, "/") + fmt.Sprintf(e.portal.DetailDataPath, l.ID)
	outcome, err := e.fetcher.Fetch(ctx, endpoint, fetch.Options{
		Kind:     model.Data,
		Referer:  l.URL,
		Attempts: e.attempts,
	})
	if err != nil {
		e.log.Debug("detail data endpoint unobtainable.", slog.String("url", endpoint),
			slog.String("err", err.Error()))
		return nil
	}

	var rec map[string]any
	if err := jsoniter.Unmarshal([]byte(outcome.Body), &rec); err != nil || len(rec) == 0 {
		return nil
	}
	return model.RawRecord(rec)
}

// Merge copies detail values into the base listing only where the base has no
// value yet. It never discards or overwrites populated base data.
func Merge(base *model.Listing, detail model.RawRecord) {
	if detail == nil {
		return
	}
	d, ok := normalize.Normalize(detail, base.Category, base.SearchLocation, base.URL)
	if !ok {
		return
	}

	fillString(&base.Description, d.Description)
	fillString(&base.Tenure, d.Tenure)
	fillString(&base.CouncilTaxBand, d.CouncilTaxBand)
	fillString(&base.EPCRating, d.EPCRating)
	fillString(&base.FloorplanURL, d.FloorplanURL)
	fillInt(&base.Bedrooms, d.Bedrooms)
	fillInt(&base.Bathrooms, d.Bathrooms)
	fillInt(&base.Receptions, d.Receptions)
	if len(base.Images) == 0 {
		base.Images = d.Images
	}
	if len(base.Features) == 0 {
		base.Features = d.Features
	}
	if base.Latitude == 0 && base.Longitude == 0 {
		base.Latitude = d.Latitude
		base.Longitude = d.Longitude
	}
}

func fillString(dst *string, v string) {
	if strings.TrimSpace(*dst) == "" && v != "" {
		*dst = v
	}
}

func fillInt(dst *int, v int) {
	if *dst == 0 && v != 0 {
		*dst = v
	}
}
