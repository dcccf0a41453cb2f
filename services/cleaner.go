package services

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"listing-sync/models"
	"listing-sync/utils"
)

// Stage failures. They are logged and never abort the remaining stages.
var (
	ErrMissingField = errors.New("missing field")
	ErrTypeMismatch = errors.New("type mismatch")
	ErrBadFormat    = errors.New("bad format")
)

// soldDateLayout is how listing pages print the sale date.
const soldDateLayout = "01/02/2006"

var (
	listFields = []models.FieldPath{
		{"association_location_schools", "hoa_condo_coop_amenities"},
		{"association_location_schools", "hoa_condo_coop_fee_includes"},
		{"building_information", "appliances"},
		{"building_information", "interior_features"},
		{"building_information", "room_list"},
		{"building_information", "exterior_features"},
		{"building_information", "garage_feature"},
		{"building_information", "lot_features"},
		{"building_information", "basement_type"},
		{"building_information", "wall_ceiling_types"},
		{"building_information", "accessibility_features"},
		{"building_information", "utilities"},
		{"building_information", "property_condition"},
		{"building_information", "security_features"},
		{"utilities", "utilities"},
	}

	// Fees may carry a billing period: "295.16/Monthly".
	feeFields = []models.FieldPath{
		{"association_location_schools", "hoa_fee"},
		{"association_location_schools", "condo_coop_fee"},
		{"association_location_schools", "condocoop_fee"},
	}

	currencyFields = []models.FieldPath{
		{"listing", "list_price"},
		{"listing", "sale_price"},
		{"listing", "price_per_sqft"},
		{"listing", "expenses_taxes", "tax_annual_amount"},
		{"listing", "expenses_taxes", "county_tax"},
		{"listing", "expenses_taxes", "tax_assessed_value"},
		{"listing", "expenses_taxes", "citytown_tax"},
	}

	intFields = []models.FieldPath{
		{"main", "beds"},
		{"main", "sqft"},
		{"exterior_information", "lot_size_sqft"},
		{"listing", "expenses_taxes", "tax_year"},
	}

	floatFields = []models.FieldPath{
		{"main", "baths"},
		{"exterior_information", "lot_size_acres"},
	}

	dateFields = []models.FieldPath{
		{"listing", "sold"},
	}

	// Fields repeated in another category; the other copy is canonical.
	dupeFields = []models.FieldPath{
		{"building_information", "price_per_sqft"},
		{"basic_info", "lot_size_acres"},
		{"listing", "tax_annual_amount"},
		{"basic_info", "structure_type"},
		{"basic_info", "architectural_style"},
		{"basic_info", "year_built"},
		{"basic_info", "hoa_fee"},
		{"basic_info", "county"},
	}
)

// Stage is one independent cleaning step.
type Stage struct {
	Name  string
	Apply func(l *models.Listing) error
}

// Cleaner type-coerces and restructures the fields of a scraped listing.
type Cleaner struct {
	logger *utils.Logger
	stages []Stage
}

// NewCleaner creates a Cleaner with the standard stage sequence.
func NewCleaner(logger *utils.Logger) *Cleaner {
	return &Cleaner{
		logger: logger,
		stages: []Stage{
			{Name: "split-lists", Apply: splitListFields},
			{Name: "split-fees", Apply: splitFeeFrequency},
			{Name: "numbers", Apply: convertNumbers},
			{Name: "dates", Apply: convertDates},
			{Name: "dedupe", Apply: removeDupeFields},
			{Name: "address", Apply: parseAddressField},
		},
	}
}

// Clean runs every stage in order and returns l. A stage that reports an
// error is logged and the next stage still runs. Running Clean on an already
// clean listing changes nothing.
func (c *Cleaner) Clean(l *models.Listing) *models.Listing {
	if l.Categories == nil {
		l.Categories = make(map[string]models.Category)
	}
	for _, st := range c.stages {
		if err := st.Apply(l); err != nil {
			c.logger.Warn("[cleaner] %s: stage %q incomplete: %v", l.ID, st.Name, err)
		}
	}
	c.logger.Debug("[cleaner] Cleaned %s", l.ID)
	return l
}

func splitListFields(l *models.Listing) error {
	for _, p := range listFields {
		v, ok := l.Lookup(p)
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		parts := strings.Split(s, ", ")
		last := len(parts) - 1
		parts[last] = strings.TrimPrefix(parts[last], "and ")
		if err := l.Set(p, parts); err != nil {
			return fmt.Errorf("%s: %w", p, ErrTypeMismatch)
		}
	}
	return nil
}

func splitFeeFrequency(l *models.Listing) error {
	var errs []error
	for _, p := range feeFields {
		s, ok := l.StringAt(p)
		if !ok {
			continue
		}
		amount, period, hasPeriod := strings.Cut(s, "/")
		d, err := parseNumberToken(amount)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		if hasPeriod {
			freq := append(append(models.FieldPath{}, p[:len(p)-1]...), p[len(p)-1]+"_frequency")
			if err := l.Set(freq, strings.TrimSpace(period)); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", freq, ErrTypeMismatch))
			}
		}
		if err := l.Set(p, d); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, ErrTypeMismatch))
		}
	}
	return errors.Join(errs...)
}

func convertNumbers(l *models.Listing) error {
	var errs []error
	convert := func(paths []models.FieldPath, to func(decimal.Decimal) any) {
		for _, p := range paths {
			s, ok := l.StringAt(p)
			if !ok {
				continue
			}
			d, err := parseNumberToken(s)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", p, err))
				continue
			}
			if err := l.Set(p, to(d)); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", p, ErrTypeMismatch))
			}
		}
	}

	convert(currencyFields, func(d decimal.Decimal) any { return d })
	convert(intFields, func(d decimal.Decimal) any { return int(d.IntPart()) })
	convert(floatFields, func(d decimal.Decimal) any { return d.InexactFloat64() })

	if bi, ok := l.Categories["building_information"]; ok {
		for k, v := range bi {
			s, ok := v.(string)
			if !ok {
				continue
			}
			if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
				bi[k] = n
			}
		}
	}
	return errors.Join(errs...)
}

func convertDates(l *models.Listing) error {
	var errs []error
	for _, p := range dateFields {
		s, ok := l.StringAt(p)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if _, err := time.Parse(time.RFC3339, s); err == nil {
			continue
		}
		t, err := time.Parse(soldDateLayout, s)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %q: %w", p, s, ErrBadFormat))
			continue
		}
		if err := l.Set(p, t); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, ErrTypeMismatch))
		}
	}
	return errors.Join(errs...)
}

func removeDupeFields(l *models.Listing) error {
	for _, p := range dupeFields {
		l.Delete(p)
	}
	return nil
}

func parseAddressField(l *models.Listing) error {
	if strings.TrimSpace(l.FullAddress) == "" {
		return fmt.Errorf("full_address: %w", ErrMissingField)
	}
	parsed, err := ParseAddress(l.FullAddress)
	if err != nil {
		return err
	}
	l.ParsedAddress = parsed
	return nil
}

// parseNumberToken reads the first whitespace-separated token of s as a
// number, ignoring "$", "," and "+".
func parseNumberToken(s string) (decimal.Decimal, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return decimal.Zero, fmt.Errorf("empty number: %w", ErrBadFormat)
	}
	tok := strings.NewReplacer(",", "", "$", "", "+", "").Replace(fields[0])
	d, err := decimal.NewFromString(tok)
	if err != nil {
		return decimal.Zero, fmt.Errorf("number %q: %w", s, ErrBadFormat)
	}
	return d, nil
}
