// Package generation maps (model, model year) to Porsche's internal
// generation codes using documented production-year boundary tables.
// Resolution is pure and deterministic.
package generation

import "strings"

// span is one inclusive model-year range for a generation code. Spans for
// one family must be disjoint; an exact boundary year belongs to the newer
// generation, which the tables encode directly rather than inferring.
type span struct {
	from, to int // to == 0 means open-ended
	code     string
}

var families = map[string][]span{
	"911": {
		{1964, 1973, "F"},
		{1974, 1977, "G"},
		{1978, 1983, "SC"},
		{1984, 1989, "3.2"},
		{1989, 1994, "964"}, // 1989 C4 launched the 964 line; boundary year is the newer code
		{1995, 1998, "993"},
		{1999, 2004, "996"},
		{2005, 2012, "997"},
		{2012, 2019, "991"},
		{2020, 0, "992"},
	},
	"boxster": {
		{1997, 2004, "986"},
		{2005, 2012, "987"},
		{2013, 2016, "981"},
	},
	"cayman": {
		{2006, 2012, "987"},
		{2013, 2016, "981"},
	},
	"718 boxster": {{2017, 0, "982"}},
	"718 cayman":  {{2017, 0, "982"}},
	"cayenne": {
		{2003, 2006, "955"},
		{2007, 2010, "957"},
		{2011, 2018, "958"},
		{2019, 0, "9Y0"},
	},
	"panamera": {
		{2010, 2016, "970"},
		{2017, 2023, "971"},
		{2024, 0, "972"},
	},
	"macan":  {{2015, 0, "95B"}},
	"taycan": {{2020, 0, "Y1A"}},
}

// The 911 tables overlap at 2012 on purpose: the 991 Carrera shipped as a
// MY2012 car while the GT and Turbo variants stayed on the 997 platform
// for that year. The overlap is settled by an explicit trim rule below,
// never by table order.
var exceptions911my2012 = map[string]bool{
	"gt3":     true,
	"gt3 rs":  true,
	"gt2 rs":  true,
	"turbo":   true,
	"turbo s": true,
}

// Resolve returns the generation code for a model and model year, or ""
// when no mapping exists. For co-produced years it returns the newer
// platform; use ResolveWithTrim when trim is known.
func Resolve(model string, year int) string {
	return ResolveWithTrim(model, year, "")
}

// ResolveWithTrim applies trim-keyed disambiguation rules for years in
// which two platforms were produced side by side.
func ResolveWithTrim(model string, year int, trim string) string {
	family := strings.ToLower(strings.TrimSpace(model))
	// 718-era Boxster/Cayman listings often omit the 718 prefix.
	if (family == "boxster" || family == "cayman") && year >= 2017 {
		family = "718 " + family
	}

	spans, ok := families[family]
	if !ok || year == 0 {
		return ""
	}

	if family == "911" && year == 2012 && exceptions911my2012[strings.ToLower(strings.TrimSpace(trim))] {
		return "997"
	}

	code := ""
	for _, s := range spans {
		if year >= s.from && (s.to == 0 || year <= s.to) {
			// Later spans win the shared boundary year.
			code = s.code
		}
	}
	return code
}
