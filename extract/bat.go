package extract

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/brendanlim/porsche-sub005/listing"
)

// BaT extracts Bring a Trailer auction pages. BaT publishes a "Listing
// Details" bullet list ("Chassis: WP0...", "24k Miles Shown") and a result
// banner ("Sold for $95,000 on 2/12/24") once the auction closes.
type BaT struct{}

func (BaT) Source() string { return "bat" }

var (
	batSoldRE     = regexp.MustCompile(`(?i)sold for\s+\$([0-9,]+)`)
	batSoldDateRE = regexp.MustCompile(`(?i)sold for\s+\$[0-9,]+\s+on\s+(\d{1,2}/\d{1,2}/\d{2,4})`)
	batBidRE      = regexp.MustCompile(`(?i)(?:current bid|bid to):?\s+\$([0-9,]+)`)
	batMilesRE    = regexp.MustCompile(`(?i)^([\d,.]+k?)[ -]*miles?\b`)
)

func (BaT) Extract(doc []byte) (listing.Extracted, error) {
	var ex listing.Extracted

	page, err := goquery.NewDocumentFromReader(bytes.NewReader(doc))
	if err != nil {
		return ex, err
	}

	ex.Title = strings.TrimSpace(page.Find("h1.post-title, h1.listing-title, h1").First().Text())
	ex.Year = parseTitleYear(ex.Title)

	// Structured pass: the essentials list.
	page.Find(".essentials ul li, .listing-essentials-items li").Each(func(_ int, li *goquery.Selection) {
		item := strings.TrimSpace(li.Text())
		lower := strings.ToLower(item)
		switch {
		case strings.HasPrefix(lower, "chassis:"):
			if ex.VIN == nil {
				ex.VIN = parseVIN(strings.TrimSpace(item[len("chassis:"):]))
			}
		case batMilesRE.MatchString(item):
			if ex.Mileage == nil {
				ex.Mileage = parseMileage(item)
			}
		case strings.Contains(lower, "transmission"), strings.Contains(lower, "-speed"), strings.Contains(lower, "pdk"):
			if ex.Transmission == nil {
				ex.Transmission = normalizeTransmission(item)
			}
		case strings.Contains(lower, "paint"), strings.HasSuffix(lower, "exterior"):
			if ex.ExteriorColor == nil {
				ex.ExteriorColor = strPtr(strings.TrimSuffix(item, "Paint"))
			}
		case strings.Contains(lower, "upholstery"), strings.Contains(lower, "interior"):
			if ex.InteriorColor == nil {
				ex.InteriorColor = strPtr(strings.TrimSuffix(item, "Upholstery"))
			}
		}
	})

	body := page.Text()

	// Sale state: the result banner wins over any bid amount. The date is
	// matched separately so a banner with a missing or mangled date still
	// flags the listing as sold and trips the validation below.
	if m := batSoldRE.FindStringSubmatch(body); m != nil {
		ex.Sold = true
		ex.Price = parsePrice(m[1])
		if d := batSoldDateRE.FindStringSubmatch(body); d != nil {
			ex.SoldDate = parseSaleDate(d[1])
		}
	} else if m := batBidRE.FindStringSubmatch(body); m != nil {
		ex.Price = parsePrice(m[1])
	}

	// Fallbacks only where the structured pass came up empty.
	if ex.VIN == nil {
		ex.VIN = findVIN(body)
	}
	if ex.Mileage == nil {
		ex.Mileage = fallbackMileage(body)
	}

	if ex.Sold && ex.SoldDate == nil {
		return ex, ErrSoldWithoutDate
	}
	return ex, nil
}

// fallbackMileage pattern-matches the whole text body; used by all sources
// once their structured pass finds nothing.
func fallbackMileage(body string) *int {
	if m := kMilesRE.FindStringSubmatch(body); m != nil {
		return parseMileage(m[0])
	}
	if m := mileageRE.FindStringSubmatch(body); m != nil {
		return parseMileage(m[0])
	}
	return nil
}
