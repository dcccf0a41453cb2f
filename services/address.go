package services

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// Address component labels, named as usaddress names them.
const (
	LabelAddressNumber   = "AddressNumber"
	LabelPreDirectional  = "StreetNamePreDirectional"
	LabelStreetName      = "StreetName"
	LabelPostType        = "StreetNamePostType"
	LabelPostDirectional = "StreetNamePostDirectional"
	LabelOccupancyType   = "OccupancyType"
	LabelOccupancyID     = "OccupancyIdentifier"
	LabelPlaceName       = "PlaceName"
	LabelStateName       = "StateName"
	LabelZipCode         = "ZipCode"
)

var zipRegexp = regexp.MustCompile(`^\d{5}(-\d{4})?$`)

var directionals = map[string]struct{}{
	"N": {}, "S": {}, "E": {}, "W": {}, "NE": {}, "NW": {}, "SE": {}, "SW": {},
	"NORTH": {}, "SOUTH": {}, "EAST": {}, "WEST": {},
	"NORTHEAST": {}, "NORTHWEST": {}, "SOUTHEAST": {}, "SOUTHWEST": {},
}

var streetTypes = map[string]struct{}{
	"ST": {}, "STREET": {}, "RD": {}, "ROAD": {}, "AVE": {}, "AV": {}, "AVENUE": {},
	"BLVD": {}, "BOULEVARD": {}, "DR": {}, "DRIVE": {}, "CT": {}, "COURT": {},
	"LN": {}, "LANE": {}, "PL": {}, "PLACE": {}, "WAY": {}, "CIR": {}, "CIRCLE": {},
	"TER": {}, "TERRACE": {}, "PKWY": {}, "PARKWAY": {}, "HWY": {}, "HIGHWAY": {},
	"SQ": {}, "SQUARE": {}, "TRL": {}, "TRAIL": {}, "PIKE": {}, "ALY": {}, "ROW": {},
	"XING": {}, "LOOP": {}, "RUN": {}, "PATH": {}, "WALK": {}, "MEWS": {},
}

var occupancyTypes = map[string]struct{}{
	"APT": {}, "APARTMENT": {}, "UNIT": {}, "STE": {}, "SUITE": {}, "FL": {},
	"FLOOR": {}, "RM": {}, "ROOM": {}, "BLDG": {}, "LOT": {}, "SPC": {},
}

var stateNames = map[string]struct{}{
	"AL": {}, "AK": {}, "AZ": {}, "AR": {}, "CA": {}, "CO": {}, "CT": {}, "DE": {},
	"DC": {}, "FL": {}, "GA": {}, "HI": {}, "ID": {}, "IL": {}, "IN": {}, "IA": {},
	"KS": {}, "KY": {}, "LA": {}, "ME": {}, "MD": {}, "MA": {}, "MI": {}, "MN": {},
	"MS": {}, "MO": {}, "MT": {}, "NE": {}, "NV": {}, "NH": {}, "NJ": {}, "NM": {},
	"NY": {}, "NC": {}, "ND": {}, "OH": {}, "OK": {}, "OR": {}, "PA": {}, "RI": {},
	"SC": {}, "SD": {}, "TN": {}, "TX": {}, "UT": {}, "VT": {}, "VA": {}, "WA": {},
	"WV": {}, "WI": {}, "WY": {},
	"VIRGINIA": {}, "MARYLAND": {},
}

type addrToken struct {
	text  string
	comma bool // a comma followed this token
}

// ParseAddress splits a one-line US mailing address into labelled
// components. Multi-word components are joined with one space and commas are
// stripped. Only the labels that were found are present in the result.
func ParseAddress(addr string) (map[string]string, error) {
	var toks []addrToken
	for _, f := range strings.Fields(addr) {
		comma := strings.HasSuffix(f, ",")
		f = strings.ReplaceAll(f, ",", "")
		if f == "" {
			if len(toks) > 0 {
				toks[len(toks)-1].comma = true
			}
			continue
		}
		toks = append(toks, addrToken{text: f, comma: comma})
	}
	if len(toks) == 0 {
		return nil, fmt.Errorf("address %q: %w", addr, ErrBadFormat)
	}

	parts := make(map[string][]string)
	add := func(label string, t addrToken) {
		parts[label] = append(parts[label], t.text)
	}

	// Trailing zip and state.
	end := len(toks)
	if end > 0 && zipRegexp.MatchString(toks[end-1].text) {
		add(LabelZipCode, toks[end-1])
		end--
	}
	if end > 1 && isKind(stateNames, toks[end-1].text) {
		add(LabelStateName, toks[end-1])
		end--
	}

	i := 0
	if i < end && startsWithDigit(toks[i].text) {
		add(LabelAddressNumber, toks[i])
		i++
	}
	if i+1 < end && isKind(directionals, toks[i].text) && !toks[i].comma {
		add(LabelPreDirectional, toks[i])
		i++
	}

	// Street name runs until the first street type after at least one name
	// word, or until a comma closes the street segment.
	streetStart := i
	for i < end {
		t := toks[i]
		if i > streetStart && isKind(streetTypes, t.text) {
			add(LabelPostType, t)
			i++
			break
		}
		add(LabelStreetName, t)
		i++
		if t.comma {
			break
		}
	}

	if i < end && !toks[i-1].comma && isKind(directionals, toks[i].text) {
		add(LabelPostDirectional, toks[i])
		i++
	}

	// Unit: "#202", "# 202", "APT 4B".
	if i < end && !toks[i-1].comma {
		t := toks[i]
		switch {
		case strings.HasPrefix(t.text, "#") && len(t.text) > 1:
			add(LabelOccupancyID, t)
			i++
		case t.text == "#" && i+1 < end:
			add(LabelOccupancyType, t)
			add(LabelOccupancyID, toks[i+1])
			i += 2
		case isKind(occupancyTypes, t.text) && i+1 < end:
			add(LabelOccupancyType, t)
			add(LabelOccupancyID, toks[i+1])
			i += 2
		}
	}

	for ; i < end; i++ {
		add(LabelPlaceName, toks[i])
	}

	out := make(map[string]string, len(parts))
	for k, v := range parts {
		out[k] = strings.Join(v, " ")
	}
	return out, nil
}

func isKind(set map[string]struct{}, s string) bool {
	_, ok := set[strings.ToUpper(strings.TrimSuffix(s, "."))]
	return ok
}

func startsWithDigit(s string) bool {
	for _, r := range s {
		return unicode.IsDigit(r)
	}
	return false
}
