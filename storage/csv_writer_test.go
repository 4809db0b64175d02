package storage

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"testing"

	"salefeed-relay/models"
)

func TestCSVWriterWritesHeaderAndRows(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewCSVWriter(&buf)
	if err != nil {
		t.Fatalf("NewCSVWriter: %v", err)
	}

	wear := 0.07
	price := 1200.5
	err = w.WriteListings([]*models.Listing{
		{ID: 1, SteamID: "S1", MarketName: "Karambit | Doppler", Wear: &wear, SalePrice: &price, RawPayload: json.RawMessage(`{"a":1}`)},
		{ID: 2, SteamID: "S2", MarketName: "Sticker, Holo"},
	})
	if err != nil {
		t.Fatalf("WriteListings: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("output is not valid CSV: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records: got %d, want 3", len(records))
	}
	if records[0][0] != "id" || records[0][5] != "additional_data" {
		t.Errorf("header: got %v", records[0])
	}
	if records[1][3] != "0.07" || records[1][4] != "1200.5" || records[1][5] != `{"a":1}` {
		t.Errorf("row 1: got %v", records[1])
	}
	if records[2][2] != "Sticker, Holo" || records[2][3] != "" || records[2][4] != "" {
		t.Errorf("row 2: got %v", records[2])
	}
}
