// Package identity reconciles the signals on a draft listing (VIN decode,
// structured fields, title text) into one canonical Listing.
//
// Priority order, highest first:
//  1. VIN-derived model/trim/generation, when the VIN is valid and its
//     descriptor is recognized
//  2. explicit structured source fields
//  3. year/keyword inference from the free-text title
//
// When VIN-derived and field-derived values disagree, the VIN wins and the
// discrepancy is recorded as a warning so audits can find likely source
// mislabeling. A listing with neither a VIN nor a resolvable model is a
// hard validation failure.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/brendanlim/porsche-sub005/generation"
	"github.com/brendanlim/porsche-sub005/listing"
	"github.com/brendanlim/porsche-sub005/vin"
)

var (
	ErrNoModel     = errors.New("no VIN and no resolvable model")
	ErrNoPrice     = errors.New("no usable price")
	ErrNoSaleDate  = errors.New("sold listing without sale date")
	ErrNoModelYear = errors.New("no resolvable model year")
)

// Warning is a non-fatal finding recorded alongside a resolved listing.
type Warning struct {
	Code   string
	Detail string
}

func warn(code, format string, args ...any) Warning {
	return Warning{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// Title keywords, longest first so "GT3 RS" never resolves as "GT3".
var trimKeywords = []string{
	"GT3 RS", "GT3 Touring", "GT2 RS", "Turbo S", "Speedster", "Sport Classic",
	"Carrera 4S", "Carrera S", "Carrera T", "Carrera 4", "Targa 4S", "Targa 4",
	"GT4 RS", "Spyder RS", "GT3", "GT2", "GT4", "Turbo", "Carrera", "Targa",
	"Spyder", "GTS", "S",
}

var modelKeywords = []string{
	"718 Boxster", "718 Cayman", "911", "Boxster", "Cayman",
	"Cayenne", "Macan", "Panamera", "Taycan",
}

// Resolve produces a canonical Listing from a draft, or an error naming
// the required field that could not be resolved. Warnings accompany a
// successful resolution and never block it.
func Resolve(d listing.Draft) (listing.Listing, []Warning, error) {
	var warnings []Warning
	ex := d.Extracted

	titleYear := 0
	if ex.Year != nil {
		titleYear = *ex.Year
	}

	var decoded vin.Decoded
	var canonicalVIN *string
	if ex.VIN != nil {
		decoded = vin.Decode(*ex.VIN, titleYear)
		if decoded.Valid {
			canonicalVIN = ex.VIN
			if decoded.ModelUnknown {
				warnings = append(warnings, warn("vin_model_unknown",
					"VIN %s valid but descriptor unmapped: %v", *ex.VIN, decoded.Errors))
			}
		} else {
			warnings = append(warnings, warn("vin_rejected",
				"VIN %s failed decode: %v", *ex.VIN, decoded.Errors))
		}
	} else {
		warnings = append(warnings, warn("vin_missing", "no VIN found for %s", d.URL))
	}

	titleModel, titleTrim := inferFromTitle(ex.Title)

	// Model: VIN first, then title inference.
	model := ""
	trim := ""
	switch {
	case canonicalVIN != nil && !decoded.ModelUnknown:
		model = decoded.Model
		trim = decoded.Trim
		if titleModel != "" && !strings.EqualFold(titleModel, model) {
			warnings = append(warnings, warn("model_conflict",
				"title says %q, VIN decodes %q; VIN wins", titleModel, model))
		}
		// The VIN descriptor only distinguishes major variant lines; a
		// title trim refines a blank or broader VIN trim.
		if trim == "" {
			trim = titleTrim
		} else if titleTrim != "" && !strings.EqualFold(titleTrim, trim) {
			warnings = append(warnings, warn("trim_conflict",
				"title trim %q vs VIN trim %q; VIN wins", titleTrim, trim))
		}
	case titleModel != "":
		model = titleModel
		trim = titleTrim
	default:
		return listing.Listing{}, warnings, fmt.Errorf("%s: %w", d.URL, ErrNoModel)
	}

	// Model year: VIN position 10 first, then title.
	year := 0
	switch {
	case canonicalVIN != nil && decoded.Year != 0:
		year = decoded.Year
		if titleYear != 0 && titleYear != year {
			warnings = append(warnings, warn("year_conflict",
				"title year %d vs VIN year %d; VIN wins", titleYear, year))
		}
	case titleYear != 0:
		year = titleYear
	default:
		return listing.Listing{}, warnings, fmt.Errorf("%s: %w", d.URL, ErrNoModelYear)
	}

	gen := generation.ResolveWithTrim(model, year, trim)
	if gen == "" {
		warnings = append(warnings, warn("generation_unmapped",
			"no generation for %s %d", model, year))
	}

	if ex.Price == nil {
		return listing.Listing{}, warnings, fmt.Errorf("%s: %w", d.URL, ErrNoPrice)
	}

	status := listing.StatusActive
	if ex.Sold {
		if ex.SoldDate == nil {
			return listing.Listing{}, warnings, fmt.Errorf("%s: %w", d.URL, ErrNoSaleDate)
		}
		status = listing.StatusSold
	}

	now := d.FetchedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	return listing.Listing{
		ID:            uuid.NewString(),
		Source:        d.Source,
		URL:           d.URL,
		VIN:           canonicalVIN,
		Model:         model,
		Trim:          trim,
		Generation:    gen,
		Year:          year,
		Price:         *ex.Price,
		Mileage:       ex.Mileage,
		ExteriorColor: ex.ExteriorColor,
		InteriorColor: ex.InteriorColor,
		Transmission:  ex.Transmission,
		Status:        status,
		SoldDate:      ex.SoldDate,
		FirstSeen:     now,
		LastSeen:      now,
	}, warnings, nil
}

func inferFromTitle(title string) (model, trim string) {
	t := strings.ToLower(title)
	for _, m := range modelKeywords {
		if strings.Contains(t, strings.ToLower(m)) {
			model = m
			break
		}
	}
	for _, k := range trimKeywords {
		if containsWord(t, strings.ToLower(k)) {
			trim = k
			break
		}
	}
	return model, trim
}

// containsWord matches a keyword on word boundaries so the "S" trim does
// not fire inside "Porsche".
func containsWord(text, word string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isAlnum(text[start-1])
		afterOK := end == len(text) || !isAlnum(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isAlnum(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}
