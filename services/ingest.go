package services

import (
	"context"
	"fmt"

	"salefeed-relay/config"
	"salefeed-relay/models"
	"salefeed-relay/storage"
	"salefeed-relay/utils"
)

// IngestResult summarises one accepted batch.
type IngestResult struct {
	Received int `json:"received"`
	Inserted int `json:"inserted"`
}

// Ingester turns sale feed batches into listings and commits them according
// to the configured deduplication strategy.
type Ingester struct {
	store    storage.Store
	strategy string
	logger   *utils.Logger
}

// NewIngester creates an Ingester. strategy is one of the config.Strategy*
// constants; anything else falls back to insertAndCatchConflict.
func NewIngester(st storage.Store, strategy string, logger *utils.Logger) *Ingester {
	if strategy != config.StrategyCheckThenInsert {
		strategy = config.StrategyInsertAndCatchConflict
	}
	return &Ingester{store: st, strategy: strategy, logger: logger}
}

// Strategy returns the active deduplication strategy.
func (i *Ingester) Strategy() string {
	return i.strategy
}

// Ingest validates every element of feed and then commits the batch.
//
// Under insertAndCatchConflict a key collision aborts the whole batch and the
// returned error matches storage.ErrDuplicateKey. Under checkThenInsert
// duplicates are skipped and never cause an error.
func (i *Ingester) Ingest(ctx context.Context, feed *models.SaleFeed) (IngestResult, error) {
	result := IngestResult{Received: len(feed.Sales)}

	listings := make([]*models.Listing, 0, len(feed.Sales))
	for idx, raw := range feed.Sales {
		l, err := models.ParseSale(idx, raw)
		if err != nil {
			return result, err
		}
		listings = append(listings, l)
	}
	if len(listings) == 0 {
		return result, nil
	}

	switch i.strategy {
	case config.StrategyCheckThenInsert:
		candidates := i.collapse(listings)
		n, err := i.store.InsertNew(ctx, candidates)
		if err != nil {
			return result, fmt.Errorf("ingest: insert new: %w", err)
		}
		result.Inserted = n
		if skipped := len(listings) - n; skipped > 0 {
			i.logger.Debug("[ingest] Skipped %d duplicate sales of %d", skipped, len(listings))
		}
	default:
		if err := i.store.BulkInsert(ctx, listings); err != nil {
			return result, fmt.Errorf("ingest: bulk insert: %w", err)
		}
		result.Inserted = len(listings)
	}

	i.logger.Info("[ingest] Batch committed: received %d, inserted %d", result.Received, result.Inserted)
	return result, nil
}

// collapse drops repeated keys within one batch, keeping the first occurrence.
func (i *Ingester) collapse(listings []*models.Listing) []*models.Listing {
	seen := utils.NewKeySet[models.ListingKey]()
	out := make([]*models.Listing, 0, len(listings))
	for _, l := range listings {
		if !seen.Add(l.Key()) {
			i.logger.Debug("[ingest] Duplicate in batch skipped: %s / %s", l.SteamID, l.MarketName)
			continue
		}
		out = append(out, l)
	}
	return out
}
