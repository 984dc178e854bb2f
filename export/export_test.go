package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/brendanlim/porsche-sub005/listing"
)

func TestWriteCSV(t *testing.T) {
	vin := "WP0AC29988S792000"
	when := time.Date(2024, 2, 12, 0, 0, 0, 0, time.UTC)
	ls := []listing.Listing{
		{
			ID: "a", Source: "bat", URL: "https://bat.example/gt3",
			VIN: &vin, Model: "911", Trim: "GT3", Generation: "997",
			Year: 2008, Price: 95000,
			Status: listing.StatusSold, SoldDate: &when,
			FirstSeen: when, LastSeen: when,
		},
		{
			ID: "b", Source: "carscom", URL: "https://cars.example/cayman",
			Model: "Cayman", Trim: "S", Generation: "987",
			Year: 2008, Price: 32000,
			Status:    listing.StatusActive,
			FirstSeen: when, LastSeen: when,
		},
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, ls); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[0], "vin") || !strings.Contains(lines[0], "price") {
		t.Errorf("header = %s", lines[0])
	}
	if !strings.Contains(lines[1], "95000") || !strings.Contains(lines[1], vin) {
		t.Errorf("row 1 = %s", lines[1])
	}
	if !strings.Contains(lines[2], "32000") {
		t.Errorf("row 2 = %s", lines[2])
	}
}
