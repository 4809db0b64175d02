package storage

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"sync"

	"salefeed-relay/models"
)

var csvHeader = []string{"id", "steamid", "market_name", "wear", "sale_price", "additional_data"}

// CSVWriter writes listings as CSV rows to an underlying writer.
// It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	writer *csv.Writer
}

// NewCSVWriter wraps w and writes the header row.
func NewCSVWriter(w io.Writer) (*CSVWriter, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("csv: write header: %w", err)
	}
	cw.Flush()
	return &CSVWriter{writer: cw}, cw.Error()
}

// WriteListings appends one row per listing and flushes.
func (c *CSVWriter) WriteListings(listings []*models.Listing) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, l := range listings {
		row := []string{
			strconv.FormatInt(l.ID, 10),
			l.SteamID,
			l.MarketName,
			formatOptional(l.Wear),
			formatOptional(l.SalePrice),
			string(l.RawPayload),
		}
		if err := c.writer.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
