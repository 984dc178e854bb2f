// Package export writes canonical listings to CSV for offline analysis.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/jszwec/csvutil"

	"github.com/brendanlim/porsche-sub005/listing"
)

// WriteCSV writes listings with a header row derived from the listing
// struct tags.
func WriteCSV(w io.Writer, ls []listing.Listing) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)
	for i := range ls {
		if err := enc.Encode(ls[i]); err != nil {
			return fmt.Errorf("encode row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSVFile writes the export to a file, truncating any previous one.
func WriteCSVFile(path string, ls []listing.Listing) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	// Write UTF-8 BOM for Excel friendliness
	if _, err := f.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		f.Close()
		return err
	}
	if err := WriteCSV(f, ls); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
