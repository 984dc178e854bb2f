// Package vin decodes Porsche 17-character VINs into model identity.
// Decoding is a pure function over lookup tables: no I/O, no shared state.
package vin

import "strings"

// Decoded is the transient result of a decode. It is never persisted
// standalone; its fields feed the identity resolver.
type Decoded struct {
	Valid        bool
	ModelUnknown bool
	Model        string
	Trim         string
	BodyStyle    string
	Engine       string
	Year         int
	Errors       []string
}

// VIN alphabet excludes I, O and Q.
const alphabet = "ABCDEFGHJKLMNPRSTUVWXYZ0123456789"

// descriptor patterns cover positions 4-8 (1-indexed). '?' matches any
// permitted character. First match wins; patterns are ordered most
// specific first so variant codes are not shadowed by base-model codes.
type descriptor struct {
	pattern   string
	model     string
	trim      string
	bodyStyle string
	engine    string
}

var descriptors = []descriptor{
	// 911 variants carry a distinct position 4-6 restraint/body group.
	{"AC2A9", "911", "GT3", "coupe", "4.0 NA flat-6"},
	{"AF2A9", "911", "GT3 RS", "coupe", "4.0 NA flat-6"},
	{"AD2A9", "911", "Turbo", "coupe", "3.8 twin-turbo flat-6"},
	{"CD2A9", "911", "Turbo", "cabriolet", "3.8 twin-turbo flat-6"},
	{"AC299", "911", "GT3", "coupe", "3.6 NA flat-6"},
	{"AD299", "911", "Turbo", "coupe", "3.6 twin-turbo flat-6"},
	{"AB2A9", "911", "", "coupe", "flat-6"},
	{"CB2A9", "911", "", "cabriolet", "flat-6"},
	{"BB2A9", "911", "", "targa", "flat-6"},
	{"AA2A9", "911", "", "coupe", "flat-6"},
	{"AA299", "911", "", "coupe", "flat-6"},
	{"AB299", "911", "", "coupe", "flat-6"},
	{"CA299", "911", "", "cabriolet", "flat-6"},
	{"CB299", "911", "", "cabriolet", "flat-6"},
	{"BA299", "911", "", "targa", "flat-6"},
	// 986/987 Boxster and 987 Cayman share the 98 line code.
	{"CA298", "Boxster", "", "roadster", "flat-6"},
	{"CB298", "Boxster", "S", "roadster", "flat-6"},
	{"AA298", "Cayman", "", "coupe", "flat-6"},
	{"AB298", "Cayman", "S", "coupe", "flat-6"},
	// 981/718 line.
	{"CA2A8", "718 Boxster", "", "roadster", "flat-4/flat-6"},
	{"AA2A8", "718 Cayman", "", "coupe", "flat-4/flat-6"},
	// Four-door and SUV lines decode on the 7-8 pair alone.
	{"??2A7", "Panamera", "", "sedan", ""},
	{"??2B7", "Panamera", "", "sedan", ""},
	{"??2Y1", "Taycan", "", "sedan", "electric"},
	{"??2A2", "Cayenne", "", "suv", ""},
	{"??29P", "Cayenne", "", "suv", ""},
	{"??2A5", "Macan", "", "suv", ""},
	{"??295", "Macan", "", "suv", ""},
}

// Porsche world manufacturer identifiers: WP0 cars, WP1 SUVs.
var wmis = map[string]bool{"WP0": true, "WP1": true}

// Position 10 year codes cycle every 30 years. The same character means
// e.g. both 1998 and 2028, so the caller supplies a plausibility hint.
var yearCodes = map[byte]int{
	'A': 1980, 'B': 1981, 'C': 1982, 'D': 1983, 'E': 1984, 'F': 1985,
	'G': 1986, 'H': 1987, 'J': 1988, 'K': 1989, 'L': 1990, 'M': 1991,
	'N': 1992, 'P': 1993, 'R': 1994, 'S': 1995, 'T': 1996, 'V': 1997,
	'W': 1998, 'X': 1999, 'Y': 2000,
	'1': 2001, '2': 2002, '3': 2003, '4': 2004, '5': 2005,
	'6': 2006, '7': 2007, '8': 2008, '9': 2009,
}

const yearCycle = 30

// latestModelYear caps cycle selection when no hint is available. Model
// years run one ahead of the calendar, so this needs a bump roughly once
// a year.
const latestModelYear = 2027

// Decode parses a candidate VIN of arbitrary length and casing. yearHint,
// when non-zero, disambiguates the 30-year cycle of the year character;
// it is typically the year found in the listing title. Invalid VINs come
// back with Valid=false and populated Errors, never a partial model guess.
func Decode(raw string, yearHint int) Decoded {
	v := strings.ToUpper(strings.TrimSpace(raw))

	var d Decoded
	if len(v) != 17 {
		d.Errors = append(d.Errors, "length_not_17")
		return d
	}
	for i := 0; i < len(v); i++ {
		if !strings.ContainsRune(alphabet, rune(v[i])) {
			d.Errors = append(d.Errors, "forbidden_character")
			return d
		}
	}
	if !wmis[v[:3]] {
		d.Errors = append(d.Errors, "not_porsche_wmi")
		return d
	}

	d.Valid = true
	d.Year = decodeYear(v[9], yearHint)
	if d.Year == 0 {
		d.Errors = append(d.Errors, "year_code_unknown")
	}

	vds := v[3:8]
	for _, desc := range descriptors {
		if matchPattern(desc.pattern, vds) {
			d.Model = desc.model
			d.Trim = desc.trim
			d.BodyStyle = desc.bodyStyle
			d.Engine = desc.engine
			return d
		}
	}

	// Structurally valid VIN with an unmapped descriptor: a usable VIN
	// for dedup, just not for identity.
	d.ModelUnknown = true
	d.Errors = append(d.Errors, "model_pattern_unmatched")
	return d
}

// Valid reports whether raw passes the alphabet and length checks alone.
func Valid(raw string) bool {
	v := strings.ToUpper(strings.TrimSpace(raw))
	if len(v) != 17 {
		return false
	}
	for i := 0; i < len(v); i++ {
		if !strings.ContainsRune(alphabet, rune(v[i])) {
			return false
		}
	}
	return true
}

func matchPattern(pattern, s string) bool {
	if len(pattern) != len(s) {
		return false
	}
	for i := 0; i < len(pattern); i++ {
		if pattern[i] != '?' && pattern[i] != s[i] {
			return false
		}
	}
	return true
}

func decodeYear(code byte, hint int) int {
	base, ok := yearCodes[code]
	if !ok {
		return 0
	}
	if hint == 0 {
		// No hint: newest candidate that is still a plausible model year.
		y := base
		for y+yearCycle <= latestModelYear {
			y += yearCycle
		}
		return y
	}
	// With a hint: candidate closest to it.
	best := base
	for y := base; y <= hint+yearCycle; y += yearCycle {
		if abs(y-hint) < abs(best-hint) {
			best = y
		}
	}
	return best
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
