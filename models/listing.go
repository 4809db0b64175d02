package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Listing is one persisted sale event, unique per (SteamID, MarketName).
type Listing struct {
	ID         int64           `json:"id"`
	SteamID    string          `json:"steamid"`
	MarketName string          `json:"market_name"`
	Wear       *float64        `json:"wear"`
	SalePrice  *float64        `json:"sale_price"`
	RawPayload json.RawMessage `json:"additional_data"`
	CreatedAt  time.Time       `json:"-"`
}

// Key returns the composite natural key of the listing.
func (l *Listing) Key() ListingKey {
	return ListingKey{SteamID: l.SteamID, MarketName: l.MarketName}
}

// ListingKey is the natural identity of a listing. Both parts are compared
// exactly as received.
type ListingKey struct {
	SteamID    string
	MarketName string
}

// Encode returns a flat string form of k for stores that only index strings.
// The steamid is length-prefixed so no choice of bytes in either part can
// make two distinct keys encode alike.
func (k ListingKey) Encode() string {
	return strconv.Itoa(len(k.SteamID)) + ":" + k.SteamID + k.MarketName
}

// SaleFeed is the batch document delivered by the upstream feed and accepted
// by the ingestion endpoint. Sales are kept raw so unmodelled fields survive.
type SaleFeed struct {
	Sales []json.RawMessage `json:"sales"`
}

// Sale holds the modelled fields of one element of a SaleFeed.
type Sale struct {
	SteamID    string   `json:"steamid"`
	MarketName string   `json:"marketName"`
	Wear       *float64 `json:"wear"`
	SalePrice  *float64 `json:"salePrice"`
}

// ValidationError reports a malformed request body or sale element.
type ValidationError struct {
	Index  int
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return e.Reason
	}
	return fmt.Sprintf("sale %d: %s", e.Index, e.Reason)
}

// ParseSale decodes one raw sale element into a Listing candidate. The raw
// element is retained verbatim as the listing payload.
func ParseSale(index int, raw json.RawMessage) (*Listing, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, &ValidationError{Index: index, Reason: "element must be a JSON object"}
	}

	var s Sale
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return nil, &ValidationError{Index: index, Reason: err.Error()}
	}

	if strings.TrimSpace(s.SteamID) == "" {
		return nil, &ValidationError{Index: index, Reason: "steamid is required"}
	}
	if strings.TrimSpace(s.MarketName) == "" {
		return nil, &ValidationError{Index: index, Reason: "marketName is required"}
	}

	payload := make(json.RawMessage, len(trimmed))
	copy(payload, trimmed)

	return &Listing{
		SteamID:    s.SteamID,
		MarketName: s.MarketName,
		Wear:       s.Wear,
		SalePrice:  s.SalePrice,
		RawPayload: payload,
	}, nil
}

// SaleReport holds analytics computed over the current listing set.
type SaleReport struct {
	TotalListings   int           `json:"total_listings"`
	DistinctSellers int           `json:"distinct_accounts"`
	PricedListings  int           `json:"priced_listings"`
	AveragePrice    float64       `json:"average_price"`
	MinPrice        float64       `json:"min_price"`
	MaxPrice        float64       `json:"max_price"`
	MostExpensive   *Listing      `json:"most_expensive,omitempty"`
	TopMarkets      []MarketCount `json:"top_markets"`
}

// MarketCount is the number of listings sharing a market name.
type MarketCount struct {
	MarketName string `json:"market_name"`
	Count      int    `json:"count"`
}
