package persistence

import (
	"database/sql"
	"log/slog"

	"github.com/propstream/listing-scrape-worker/internal/model"
)

type MetadataStorage interface {
	Save(*model.Listing, string)
}

type MetadataRepository struct {
	db      *sql.DB
	log     *slog.Logger
	version string
}

func NewMetadataRepository(db *sql.DB, version string, log *slog.Logger) *MetadataRepository {
	return &MetadataRepository{db: db, log: log, version: version}
}

// Save records which listing was emitted, from where and how. The full record
// lives in s3; this row is the queryable index of a run's output.
func (mr *MetadataRepository) Save(listing *model.Listing, s3Link string) {
	_, err := mr.db.Exec("INSERT INTO listing_metadata (listing_id, url, category, search_location, tier, price_value, time_to_scrape, s3_link, worker_version) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		listing.ID,
		listing.URL,
		string(listing.Category),
		listing.SearchLocation,
		listing.ScrapedTier,
		listing.PriceValue,
		listing.TimeToScrape,
		s3Link,
		mr.version)
	if err != nil {
		mr.log.Error("failed to save listing metadata to database.", slog.String("err", err.Error()))
		return
	}
	mr.log.Debug("listing metadata saved to db.")
}
