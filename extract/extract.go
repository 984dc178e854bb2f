// Package extract turns fetched listing pages into partial attribute sets.
// One Extractor per marketplace source, all behind the same contract:
// structured extraction first, text-pattern fallback second, and a rejected
// or absent value is "not found", never a failure of the whole extraction.
package extract

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/brendanlim/porsche-sub005/listing"
	"github.com/brendanlim/porsche-sub005/vin"
)

// Extractor is the per-source capability. Adding a source means adding an
// implementation, not branching on source names in shared code.
type Extractor interface {
	Source() string
	Extract(doc []byte) (listing.Extracted, error)
}

// ErrSoldWithoutDate marks a listing that carries a sold marker but no
// parseable sale date. That listing fails validation; the run does not.
var ErrSoldWithoutDate = errors.New("sold listing without parseable sale date")

var (
	priceRE   = regexp.MustCompile(`\$([0-9][0-9,]*)`)
	mileageRE = regexp.MustCompile(`(?i)\b([0-9][0-9,]*)\s*(?:miles|mi)\b`)
	kMilesRE  = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)k\s*(?:miles|mi)\b`)
	vinRE     = regexp.MustCompile(`\b([A-HJ-NPR-Z0-9]{17})\b`)
	yearRE    = regexp.MustCompile(`\b(19[5-9][0-9]|20[0-4][0-9])\b`)
)

// parsePrice accepts "$95,000" or "95000"; non-positive values are rejected.
func parsePrice(s string) *int {
	m := priceRE.FindStringSubmatch(s)
	digits := ""
	if m != nil {
		digits = m[1]
	} else {
		digits = strings.TrimSpace(s)
	}
	n, err := strconv.Atoi(strings.ReplaceAll(digits, ",", ""))
	if err != nil || n <= 0 {
		return nil
	}
	return &n
}

// parseMileage accepts "24,500 miles", "24500", or the shorthand "24k miles".
func parseMileage(s string) *int {
	if m := kMilesRE.FindStringSubmatch(s); m != nil {
		f, err := strconv.ParseFloat(m[1], 64)
		if err == nil && f >= 0 {
			n := int(f * 1000)
			return &n
		}
	}
	cleaned := s
	if m := mileageRE.FindStringSubmatch(s); m != nil {
		cleaned = m[1]
	}
	n, err := strconv.Atoi(strings.ReplaceAll(strings.TrimSpace(cleaned), ",", ""))
	if err != nil || n < 0 {
		return nil
	}
	return &n
}

// parseVIN returns the candidate only when it passes the 17-character
// alphabet check; anything else is "not found".
func parseVIN(s string) *string {
	c := strings.ToUpper(strings.TrimSpace(s))
	if !vin.Valid(c) {
		return nil
	}
	return &c
}

// findVIN scans free text for something VIN-shaped.
func findVIN(text string) *string {
	for _, m := range vinRE.FindAllStringSubmatch(strings.ToUpper(text), -1) {
		if v := parseVIN(m[1]); v != nil {
			return v
		}
	}
	return nil
}

func parseTitleYear(title string) *int {
	m := yearRE.FindStringSubmatch(title)
	if m == nil {
		return nil
	}
	n, _ := strconv.Atoi(m[1])
	return &n
}

// normalizeTransmission folds marketing names into a small vocabulary.
func normalizeTransmission(s string) *string {
	t := strings.ToLower(s)
	var out string
	switch {
	case strings.Contains(t, "pdk"):
		out = "pdk"
	case strings.Contains(t, "tiptronic"):
		out = "tiptronic"
	case strings.Contains(t, "manual"), strings.Contains(t, "-speed"):
		out = "manual"
	case strings.Contains(t, "automatic"), strings.Contains(t, "auto"):
		out = "automatic"
	default:
		return nil
	}
	return &out
}

var saleDateLayouts = []string{
	"1/2/06", "1/2/2006", "January 2, 2006", "Jan 2, 2006", "2006-01-02",
	time.RFC3339,
}

func parseSaleDate(s string) *time.Time {
	c := strings.TrimSpace(s)
	for _, layout := range saleDateLayouts {
		if t, err := time.Parse(layout, c); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}

func strPtr(s string) *string {
	c := strings.TrimSpace(s)
	if c == "" {
		return nil
	}
	return &c
}
