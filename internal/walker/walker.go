package walker

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/propstream/listing-scrape-worker/config"
	"github.com/propstream/listing-scrape-worker/internal/enrich"
	"github.com/propstream/listing-scrape-worker/internal/extract"
	"github.com/propstream/listing-scrape-worker/internal/fetch"
	"github.com/propstream/listing-scrape-worker/internal/model"
	"github.com/propstream/listing-scrape-worker/internal/normalize"
)

// Seed is one starting point for pagination.
type Seed struct {
	URL      string
	Location string
	Category model.Category
}

type PageFetcher interface {
	Fetch(ctx context.Context, url string, opts fetch.Options) (*model.FetchOutcome, error)
}

type DetailEnricher interface {
	Enrich(ctx context.Context, l *model.Listing) model.RawRecord
}

// SeenFilter is the optional cross-run filter: listings already emitted by a
// previous run are skipped. The run-local dedup index stays authoritative.
type SeenFilter interface {
	Seen(key string) bool
	MarkSeen(key string)
}

// Walker drives the pipeline: fetch a page, extract, normalize, dedup,
// optionally enrich, emit, advance. Seeds, pages and listings are all
// processed sequentially; the session and render context are single-owner
// resources and must not be shared with concurrent fetches.
type Walker struct {
	Fetcher   PageFetcher
	Extractor *extract.Extractor
	Enricher  DetailEnricher
	Seen      SeenFilter
	Out       chan<- *model.Listing
	Cfg       *config.Config
	Log       *slog.Logger

	dedup   *cache.Cache
	emitted int
}

// Run processes every seed until the stream closes, the context is cancelled
// or the requested result count is reached. The dedup index spans the whole
// run and is never reset.
func (w *Walker) Run(ctx context.Context, seeds <-chan Seed) {
	w.dedup = cache.New(cache.NoExpiration, cache.NoExpiration)
	for {
		select {
		case <-ctx.Done():
			return
		case seed, ok := <-seeds:
			if !ok {
				return
			}
			w.walkSeed(ctx, seed)
			if w.capReached() {
				w.Log.Info("requested result count reached.", slog.Int("emitted", w.emitted))
				return
			}
		}
	}
}

// Emitted reports how many listings have been sent to the sink.
func (w *Walker) Emitted() int {
	return w.emitted
}

func (w *Walker) walkSeed(ctx context.Context, seed Seed) {
	search := w.Cfg.SearchSettings
	pageURL := seed.URL
	referer := ""
	log := w.Log.With(slog.String("seed", seed.URL), slog.String("category", string(seed.Category)))

	for page := 1; ; page++ {
		if search.MaxPages > 0 && page > search.MaxPages {
			log.Info("page cap reached.", slog.Int("pages", page-1))
			return
		}
		if ctx.Err() != nil {
			return
		}

		start := time.Now()
		outcome, err := w.Fetcher.Fetch(ctx, pageURL, fetch.Options{Kind: model.Document, Referer: referer})
		if err != nil {
			log.Warn("page unobtainable. stopping pagination for this seed.",
				slog.String("url", pageURL), slog.String("err", err.Error()))
			return
		}
		fetchMillis := time.Since(start).Milliseconds()

		result := w.Extractor.Extract(outcome.Body, pageURL)
		if len(result.Records) == 0 {
			log.Info("no listings extracted. stopping pagination for this seed.",
				slog.Int("page", page))
			return
		}
		log.Debug("page extracted.", slog.Int("page", page), slog.Int("listings", len(result.Records)),
			slog.String("tier", string(result.Tier)))

		for _, raw := range result.Records {
			if ctx.Err() != nil {
				return
			}
			l, ok := normalize.Normalize(raw, seed.Category, seed.Location, pageURL)
			if !ok {
				log.Debug("record dropped: no identifier and no url.")
				continue
			}
			l.ScrapedTier = string(result.Tier)
			l.TimeToScrape = fetchMillis

			key := l.DedupKey()
			if _, dup := w.dedup.Get(key); dup {
				continue
			}
			w.dedup.Set(key, struct{}{}, cache.NoExpiration)

			if w.Seen != nil && w.Seen.Seen(key) {
				log.Debug("listing emitted by a previous run. skipping.", slog.String("key", key))
				continue
			}

			if w.Enricher != nil {
				w.detailDelay(ctx)
				enrich.Merge(l, w.Enricher.Enrich(ctx, l))
			}

			l.Strip()
			if !l.Valid() {
				continue
			}
			w.Out <- l
			w.emitted++
			if w.Seen != nil {
				w.Seen.MarkSeen(key)
			}
			if w.capReached() {
				return
			}
		}

		if result.NextPageURL == "" {
			log.Info("no next page resolved.", slog.Int("pages", page))
			return
		}
		referer = pageURL
		pageURL = result.NextPageURL
		w.politeness(ctx)
	}
}

func (w *Walker) capReached() bool {
	return w.Cfg.SearchSettings.ResultsWanted > 0 && w.emitted >= w.Cfg.SearchSettings.ResultsWanted
}

// politeness sleeps a randomized interval between page fetches to reduce the
// block likelihood. Disabled when no maximum is configured.
func (w *Walker) politeness(ctx context.Context) {
	fc := w.Cfg.FetchSettings
	if fc == nil || fc.PolitenessMax <= 0 {
		return
	}
	delay := fc.PolitenessMin
	if fc.PolitenessMax > fc.PolitenessMin {
		delay += time.Duration(rand.Int63n(int64(fc.PolitenessMax - fc.PolitenessMin)))
	}
	sleep(ctx, delay)
}

func (w *Walker) detailDelay(ctx context.Context) {
	fc := w.Cfg.FetchSettings
	if fc == nil || fc.DetailDelay <= 0 {
		return
	}
	sleep(ctx, fc.DetailDelay)
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// BuildSeeds derives the run's seeds: explicit start urls when configured,
// otherwise a search url assembled from the portal template and the run's
// criteria.
func BuildSeeds(cfg *config.Config) []Seed {
	search := cfg.SearchSettings
	category := model.Category(search.Category)
	if category == "" {
		category = model.ForSale
	}

	if len(search.StartURLs) > 0 {
		seeds := make([]Seed, 0, len(search.StartURLs))
		for _, u := range search.StartURLs {
			seeds = append(seeds, Seed{URL: u, Location: search.Location, Category: category})
		}
		return seeds
	}

	return []Seed{{
		URL:      SearchURL(cfg.PortalSettings, search, category),
		Location: search.Location,
		Category: category,
	}}
}

// SeedFromTask converts an externally submitted search task into a seed.
func SeedFromTask(cfg *config.Config, task *model.SearchTask) Seed {
	category := model.Category(task.Category)
	if category == "" {
		category = model.ForSale
	}
	if task.StartURL != "" {
		return Seed{URL: task.StartURL, Location: task.Location, Category: category}
	}
	search := *cfg.SearchSettings
	search.Location = task.Location
	return Seed{
		URL:      SearchURL(cfg.PortalSettings, &search, category),
		Location: task.Location,
		Category: category,
	}
}

// SearchURL assembles the portal search url for the given criteria.
func SearchURL(portal *config.PortalConfig, search *config.SearchConfig, category model.Category) string {
	base := ""
	path := ""
	if portal != nil {
		base = strings.TrimSuffix(portal.BaseURL, "/")
		path = portal.SearchPaths[string(category)]
	}
	if path == "" {
		path = "/search"
	}

	q := url.Values{}
	q.Set("location", search.Location)
	if search.PropertyType != "" {
		q.Set("propertyType", search.PropertyType)
	}
	if search.MinBedrooms > 0 {
		q.Set("minBedrooms", fmt.Sprintf("%d", search.MinBedrooms))
	}
	if search.MaxBedrooms > 0 {
		q.Set("maxBedrooms", fmt.Sprintf("%d", search.MaxBedrooms))
	}
	if search.MinPrice > 0 {
		q.Set("minPrice", fmt.Sprintf("%d", search.MinPrice))
	}
	if search.MaxPrice > 0 {
		q.Set("maxPrice", fmt.Sprintf("%d", search.MaxPrice))
	}
	if search.Radius > 0 {
		q.Set("radius", fmt.Sprintf("%g", search.Radius))
	}

	return base + path + "?" + q.Encode()
}
