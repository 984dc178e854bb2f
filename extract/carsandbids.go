package extract

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/brendanlim/porsche-sub005/listing"
)

// CarsAndBids extracts Cars & Bids auction pages. Quick facts ship as a
// dt/dd definition list; the closed-auction banner reads
// "Sold for $62,500" next to an end date.
type CarsAndBids struct{}

func (CarsAndBids) Source() string { return "carsandbids" }

var (
	cabSoldRE  = regexp.MustCompile(`(?i)sold for\s+\$([0-9,]+)`)
	cabEndedRE = regexp.MustCompile(`(?i)ended\s+((?:January|February|March|April|May|June|July|August|September|October|November|December|Jan|Feb|Mar|Apr|Jun|Jul|Aug|Sep|Oct|Nov|Dec)\.?\s+\d{1,2},\s+\d{4})`)
)

func (CarsAndBids) Extract(doc []byte) (listing.Extracted, error) {
	var ex listing.Extracted

	page, err := goquery.NewDocumentFromReader(bytes.NewReader(doc))
	if err != nil {
		return ex, err
	}

	ex.Title = strings.TrimSpace(page.Find("div.auction-title h1, h1").First().Text())
	ex.Year = parseTitleYear(ex.Title)

	// Structured pass: quick facts dt/dd pairs.
	page.Find("dl.quick-facts dt, div.quick-facts dt, dl dt").Each(func(_ int, dt *goquery.Selection) {
		label := strings.ToLower(strings.TrimSpace(dt.Text()))
		value := strings.TrimSpace(dt.Next().Text())
		if value == "" {
			return
		}
		switch {
		case label == "vin":
			if ex.VIN == nil {
				ex.VIN = parseVIN(value)
			}
		case label == "mileage":
			if ex.Mileage == nil {
				ex.Mileage = parseMileage(value)
			}
		case label == "transmission":
			if ex.Transmission == nil {
				ex.Transmission = normalizeTransmission(value)
			}
		case strings.Contains(label, "exterior"):
			if ex.ExteriorColor == nil {
				ex.ExteriorColor = strPtr(value)
			}
		case strings.Contains(label, "interior"):
			if ex.InteriorColor == nil {
				ex.InteriorColor = strPtr(value)
			}
		}
	})

	body := page.Text()

	if m := cabSoldRE.FindStringSubmatch(body); m != nil {
		ex.Sold = true
		ex.Price = parsePrice(m[1])
		// The end date lives outside the sold banner; take the datetime
		// attribute when present, the "Ended <date>" text otherwise.
		if dt, ok := page.Find("span.end-date, time").First().Attr("datetime"); ok {
			ex.SoldDate = parseSaleDate(dt)
		}
		if ex.SoldDate == nil {
			if em := cabEndedRE.FindStringSubmatch(body); em != nil {
				ex.SoldDate = parseSaleDate(strings.ReplaceAll(em[1], ".", ""))
			}
		}
	} else if p := page.Find("span.bid-value, .current-bid .value").First(); p.Length() > 0 {
		ex.Price = parsePrice(p.Text())
	}

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
