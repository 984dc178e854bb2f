package identity

import (
	"errors"
	"testing"
	"time"

	"github.com/brendanlim/porsche-sub005/listing"
)

func intPtr(n int) *int              { return &n }
func strPtr(s string) *string        { return &s }
func timePtr(t time.Time) *time.Time { return &t }

func draft(ex listing.Extracted) listing.Draft {
	return listing.Draft{
		Source:    "bat",
		URL:       "https://bringatrailer.com/listing/test",
		Extracted: ex,
		FetchedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func hasWarning(ws []Warning, code string) bool {
	for _, w := range ws {
		if w.Code == code {
			return true
		}
	}
	return false
}

func TestResolveVINWins(t *testing.T) {
	// Title claims a GT3; the VIN decodes a plain Carrera coupe.
	d := draft(listing.Extracted{
		Title: "2015 Porsche 911 GT3",
		Year:  intPtr(2015),
		VIN:   strPtr("WP0AB2A95FS123456"),
		Price: intPtr(83000),
	})
	l, ws, err := Resolve(d)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if l.Model != "911" {
		t.Errorf("model = %q", l.Model)
	}
	if l.Trim != "GT3" {
		// VIN trim is blank for the base descriptor, so the title trim
		// refines it rather than conflicting.
		t.Errorf("trim = %q, want GT3 (title refinement)", l.Trim)
	}
	if l.Generation != "991" {
		t.Errorf("generation = %q, want 991", l.Generation)
	}
	if l.VIN == nil || *l.VIN != "WP0AB2A95FS123456" {
		t.Errorf("vin = %v", l.VIN)
	}
	if hasWarning(ws, "model_conflict") {
		t.Errorf("unexpected model_conflict warning: %v", ws)
	}
}

func TestResolveTrimConflictWarns(t *testing.T) {
	// VIN carries the GT3 descriptor; the title mislabels it Turbo.
	d := draft(listing.Extracted{
		Title: "2015 Porsche 911 Turbo",
		Year:  intPtr(2015),
		VIN:   strPtr("WP0AC2A94FS183000"),
		Price: intPtr(140000),
	})
	l, ws, err := Resolve(d)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if l.Trim != "GT3" {
		t.Errorf("trim = %q, want GT3 (VIN wins)", l.Trim)
	}
	if !hasWarning(ws, "trim_conflict") {
		t.Errorf("missing trim_conflict warning, got %v", ws)
	}
}

func TestResolveInvalidVINFallsBackToTitle(t *testing.T) {
	// The end-to-end scenario from the design review: an 18-character
	// VIN is rejected, identity comes from the title, generation from
	// the year.
	d := draft(listing.Extracted{
		Title: "2008 Porsche 911 GT3",
		Year:  intPtr(2008),
		VIN:   strPtr("WP0AC2A99XS0000000"),
		Price: intPtr(95000),
	})
	l, ws, err := Resolve(d)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if l.VIN != nil {
		t.Errorf("invalid VIN persisted: %v", *l.VIN)
	}
	if l.Model != "911" || l.Trim != "GT3" {
		t.Errorf("model/trim = %q/%q, want 911/GT3", l.Model, l.Trim)
	}
	if l.Generation != "997" {
		t.Errorf("generation = %q, want 997", l.Generation)
	}
	if !hasWarning(ws, "vin_rejected") {
		t.Errorf("missing vin_rejected warning, got %v", ws)
	}
}

func TestResolveNoModelIsHardFailure(t *testing.T) {
	d := draft(listing.Extracted{
		Title: "Great sports car, must see",
		Price: intPtr(50000),
	})
	_, _, err := Resolve(d)
	if !errors.Is(err, ErrNoModel) {
		t.Fatalf("err = %v, want ErrNoModel", err)
	}
}

func TestResolveSoldNeedsSaleDate(t *testing.T) {
	d := draft(listing.Extracted{
		Title: "2019 Porsche 911 Carrera",
		Year:  intPtr(2019),
		Price: intPtr(105000),
		Sold:  true,
	})
	_, _, err := Resolve(d)
	if !errors.Is(err, ErrNoSaleDate) {
		t.Fatalf("err = %v, want ErrNoSaleDate", err)
	}

	d.Extracted.SoldDate = timePtr(time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))
	l, _, err := Resolve(d)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if l.Status != listing.StatusSold || l.SoldDate == nil {
		t.Errorf("status = %q, sold date = %v", l.Status, l.SoldDate)
	}
}

func TestResolveYearConflictVINWins(t *testing.T) {
	// Title says 2014 but position 10 says 2015.
	d := draft(listing.Extracted{
		Title: "2014 Porsche 911 GT3",
		Year:  intPtr(2014),
		VIN:   strPtr("WP0AC2A94FS183000"),
		Price: intPtr(120000),
	})
	l, ws, err := Resolve(d)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if l.Year != 2015 {
		t.Errorf("year = %d, want 2015 (VIN wins)", l.Year)
	}
	if !hasWarning(ws, "year_conflict") {
		t.Errorf("missing year_conflict warning, got %v", ws)
	}
}

func TestResolveTrimKeywordLongestMatch(t *testing.T) {
	d := draft(listing.Extracted{
		Title: "2016 Porsche 911 GT3 RS",
		Year:  intPtr(2016),
		Price: intPtr(210000),
	})
	l, _, err := Resolve(d)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if l.Trim != "GT3 RS" {
		t.Errorf("trim = %q, want GT3 RS", l.Trim)
	}
}
