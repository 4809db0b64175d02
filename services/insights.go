package services

import (
	"math"
	"sort"

	"salefeed-relay/models"
	"salefeed-relay/utils"
)

const topMarketsLimit = 5

type InsightService struct {
	logger *utils.Logger
}

func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger}
}

// Generate computes a SaleReport over listings. Price statistics only
// consider listings that carry a sale price.
func (s *InsightService) Generate(listings []*models.Listing) *models.SaleReport {
	report := &models.SaleReport{
		TopMarkets: []models.MarketCount{},
	}

	if len(listings) == 0 {
		return report
	}

	report.TotalListings = len(listings)

	sellers := make(map[string]struct{})
	byName := make(map[string]int)
	var priced []*models.Listing

	for _, l := range listings {
		sellers[l.SteamID] = struct{}{}
		byName[l.MarketName]++
		if l.SalePrice != nil {
			priced = append(priced, l)
		}
	}
	report.DistinctSellers = len(sellers)
	report.PricedListings = len(priced)

	if len(priced) > 0 {
		report.MinPrice = *priced[0].SalePrice
		report.MaxPrice = *priced[0].SalePrice
		report.MostExpensive = priced[0]
		var total float64
		for _, l := range priced {
			price := *l.SalePrice
			total += price
			if price < report.MinPrice {
				report.MinPrice = price
			}
			if price > report.MaxPrice {
				report.MaxPrice = price
				report.MostExpensive = l
			}
		}
		report.AveragePrice = round2(total / float64(len(priced)))
		report.MinPrice = round2(report.MinPrice)
		report.MaxPrice = round2(report.MaxPrice)
	}

	for name, count := range byName {
		report.TopMarkets = append(report.TopMarkets, models.MarketCount{MarketName: name, Count: count})
	}
	sort.Slice(report.TopMarkets, func(i, j int) bool {
		a, b := report.TopMarkets[i], report.TopMarkets[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.MarketName < b.MarketName
	})
	if len(report.TopMarkets) > topMarketsLimit {
		report.TopMarkets = report.TopMarkets[:topMarketsLimit]
	}

	s.logger.Debug("[insights] Report over %d listings: avg %.2f, min %.2f, max %.2f",
		report.TotalListings, report.AveragePrice, report.MinPrice, report.MaxPrice)
	return report
}

// round2 rounds to cents. Values at or above 2^52 carry no fractional
// part and are returned as is, so f*100 cannot overflow.
func round2(f float64) float64 {
	if math.Abs(f) >= 1<<52 || math.IsNaN(f) {
		return f
	}
	return math.Round(f*100) / 100
}
