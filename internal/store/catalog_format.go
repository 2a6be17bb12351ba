// Line format of the flat catalog file:
//
//	name,price,horsepower,fuel_economy,year[,engine_type[,country]],series
//
// The last field is always the space-separated price series.

package store

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/BTreeMap/CarPulse/internal/models"
)

// Field counts accepted by ParseLine.
const (
	minCatalogFields  = 5 // name..year, series absent
	fullCatalogFields = 8
)

// Names of fields that may be filled with defaults.
const (
	FieldEngineType = "engine_type"
	FieldCountry    = "country"
	FieldSeries     = "series"
)

// Record is a successfully parsed catalog line.
type Record struct {
	Vehicle models.Vehicle
	Prices  []int
	// Defaulted lists the optional fields that were absent and filled with defaults.
	Defaulted []string
}

// ParseError describes a catalog line that could not be parsed.
type ParseError struct {
	Line   int
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("catalog line %d: %s: %v", e.Line, e.Reason, e.Err)
	}
	return fmt.Sprintf("catalog line %d: %s", e.Line, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseLine parses one catalog line. lineNo is only used for error reporting.
func ParseLine(lineNo int, line string) (Record, error) {
	parts := strings.Split(strings.TrimSpace(line), ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) < minCatalogFields {
		return Record{}, &ParseError{Line: lineNo, Reason: fmt.Sprintf("expected at least %d fields, got %d", minCatalogFields, len(parts))}
	}
	if len(parts) > fullCatalogFields {
		return Record{}, &ParseError{Line: lineNo, Reason: fmt.Sprintf("expected at most %d fields, got %d", fullCatalogFields, len(parts))}
	}

	var rec Record
	v := models.Vehicle{Name: parts[0], FuelEconomy: parts[3]}

	ints := []struct {
		name string
		dst  *int
		raw  string
	}{
		{"price", &v.Price, parts[1]},
		{"horsepower", &v.Horsepower, parts[2]},
		{"year", &v.Year, parts[4]},
	}
	for _, f := range ints {
		n, err := strconv.Atoi(f.raw)
		if err != nil {
			return Record{}, &ParseError{Line: lineNo, Reason: "invalid " + f.name, Err: err}
		}
		*f.dst = n
	}

	// Everything between year and the trailing series is optional.
	var seriesField string
	switch len(parts) {
	case minCatalogFields:
		rec.Defaulted = append(rec.Defaulted, FieldEngineType, FieldCountry, FieldSeries)
	case 6:
		seriesField = parts[5]
		rec.Defaulted = append(rec.Defaulted, FieldEngineType, FieldCountry)
	case 7:
		v.EngineType = parts[5]
		seriesField = parts[6]
		rec.Defaulted = append(rec.Defaulted, FieldCountry)
	default:
		v.EngineType = parts[5]
		v.Country = parts[6]
		seriesField = parts[7]
	}
	if len(parts) == fullCatalogFields {
		if v.EngineType == "" {
			rec.Defaulted = append(rec.Defaulted, FieldEngineType)
		}
		if v.Country == "" {
			rec.Defaulted = append(rec.Defaulted, FieldCountry)
		}
	}
	v = v.WithDefaults()

	if err := v.Validate(); err != nil {
		return Record{}, &ParseError{Line: lineNo, Reason: "invalid vehicle", Err: err}
	}

	prices, err := ParseSeries(seriesField)
	if err != nil {
		return Record{}, &ParseError{Line: lineNo, Reason: "invalid price series", Err: err}
	}

	rec.Vehicle = v
	rec.Prices = prices
	return rec, nil
}

// ParseSeries parses a space-separated list of integer prices.
func ParseSeries(field string) ([]int, error) {
	tokens := strings.Fields(field)
	prices := make([]int, 0, len(tokens))
	for _, tok := range tokens {
		n, err := strconv.Atoi(tok)
		if err != nil {
			return nil, fmt.Errorf("price %q: %w", tok, err)
		}
		prices = append(prices, n)
	}
	return prices, nil
}

// FormatLine renders a vehicle and its series in the full eight-field form.
func FormatLine(v models.Vehicle, prices []int) string {
	series := make([]string, len(prices))
	for i, p := range prices {
		series[i] = strconv.Itoa(p)
	}
	return strings.Join([]string{
		v.Name,
		strconv.Itoa(v.Price),
		strconv.Itoa(v.Horsepower),
		v.FuelEconomy,
		strconv.Itoa(v.Year),
		v.EngineType,
		v.Country,
		strings.Join(series, " "),
	}, ",")
}
