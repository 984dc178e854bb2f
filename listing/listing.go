// Package listing holds the shared data model for the ingestion pipeline:
// the canonical Listing record, queue items, and the intermediate draft and
// extraction types that flow between the source adapters and the resolver.
package listing

import "time"

// Status of a canonical listing.
const (
	StatusActive = "active"
	StatusSold   = "sold"
)

// Queue item statuses. Transitions are strictly
// pending -> processing -> {done|error}; only the claim step writes the
// pending -> processing edge.
const (
	QueuePending    = "pending"
	QueueProcessing = "processing"
	QueueDone       = "done"
	QueueError      = "error"
)

// Listing is one canonical, deduplicated record of a vehicle offered or sold
// by one source. (Source, URL) is unique. Once Status is "sold" and SoldDate
// is set the record is immutable except for backfill of previously-null
// optional fields.
type Listing struct {
	ID            string     `json:"id" csv:"id"`
	Source        string     `json:"source" csv:"source"`
	URL           string     `json:"url" csv:"url"`
	VIN           *string    `json:"vin,omitempty" csv:"vin"`
	Model         string     `json:"model" csv:"model"`
	Trim          string     `json:"trim,omitempty" csv:"trim"`
	Generation    string     `json:"generation,omitempty" csv:"generation"`
	Year          int        `json:"year" csv:"year"`
	Price         int        `json:"price" csv:"price"`
	Mileage       *int       `json:"mileage,omitempty" csv:"mileage"`
	ExteriorColor *string    `json:"exterior_color,omitempty" csv:"exterior_color"`
	InteriorColor *string    `json:"interior_color,omitempty" csv:"interior_color"`
	Transmission  *string    `json:"transmission,omitempty" csv:"transmission"`
	Status        string     `json:"status" csv:"status"`
	SoldDate      *time.Time `json:"sold_date,omitempty" csv:"sold_date"`
	FirstSeen     time.Time  `json:"first_seen" csv:"first_seen"`
	LastSeen      time.Time  `json:"last_seen" csv:"last_seen"`
}

// Sold reports whether the record is terminal.
func (l *Listing) Sold() bool { return l.Status == StatusSold && l.SoldDate != nil }

// QueueItem is one unit of ingestion work for one source URL. VIN is
// set when discovery already knows it, which lets the dedup check run
// before any fetch. Reason holds the last failure reason for errored
// items and the skip reason for items finished without a fetch.
type QueueItem struct {
	ID           string
	Source       string
	URL          string
	VIN          *string
	Status       string
	Reason       *string
	Attempts     int
	DiscoveredAt time.Time
	ClaimedAt    *time.Time
	UpdatedAt    time.Time
}

// Extracted is the partial attribute set produced by a field extractor.
// Absence is a valid outcome for every field: pointers are nil and the
// Sold flag is only meaningful together with SoldDate.
type Extracted struct {
	Title         string
	Price         *int
	Mileage       *int
	VIN           *string
	Year          *int
	ExteriorColor *string
	InteriorColor *string
	Transmission  *string
	Sold          bool
	SoldDate      *time.Time
}

// Draft is a source adapter's output: the extraction result bound to its
// origin. The identity resolver turns a Draft into a canonical Listing.
type Draft struct {
	Source    string
	URL       string
	Extracted Extracted
	FetchedAt time.Time
}
