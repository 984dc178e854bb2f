package extract

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/brendanlim/porsche-sub005/listing"
)

// CarsCom extracts Cars.com classified pages: labeled basics list plus a
// primary price element. Delisted cars show a "Sold on <date>" notice.
type CarsCom struct{}

func (CarsCom) Source() string { return "carscom" }

var carscomSoldRE = regexp.MustCompile(`(?i)sold on\s+(\d{1,2}/\d{1,2}/\d{4})`)

func (CarsCom) Extract(doc []byte) (listing.Extracted, error) {
	var ex listing.Extracted

	page, err := goquery.NewDocumentFromReader(bytes.NewReader(doc))
	if err != nil {
		return ex, err
	}

	ex.Title = strings.TrimSpace(page.Find("h1.listing-title, h1").First().Text())
	ex.Year = parseTitleYear(ex.Title)

	// Structured pass: the basics section is a dt/dd list.
	page.Find("dl.fancy-description-list dt, section.basics-section dt, dl dt").Each(func(_ int, dt *goquery.Selection) {
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
		case strings.Contains(label, "exterior color"):
			if ex.ExteriorColor == nil {
				ex.ExteriorColor = strPtr(value)
			}
		case strings.Contains(label, "interior color"):
			if ex.InteriorColor == nil {
				ex.InteriorColor = strPtr(value)
			}
		}
	})

	if p := page.Find("span.primary-price, .price-section .primary-price").First(); p.Length() > 0 {
		ex.Price = parsePrice(p.Text())
	}

	body := page.Text()

	if m := carscomSoldRE.FindStringSubmatch(body); m != nil {
		ex.Sold = true
		ex.SoldDate = parseSaleDate(m[1])
	} else if strings.Contains(strings.ToLower(body), "this car is no longer available") {
		// Delisted without a published sale date: a sold marker the page
		// cannot substantiate.
		ex.Sold = true
	}

	if ex.Price == nil {
		if m := priceRE.FindStringSubmatch(body); m != nil {
			ex.Price = parsePrice(m[0])
		}
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
