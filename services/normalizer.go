package services

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"redfin-tracker/models"
	"redfin-tracker/utils"
)

var (
	// numericNoise strips currency symbols and thousands separators
	numericNoise = strings.NewReplacer("$", "", "€", "", "£", "", ",", "", " ", "", "\u00a0", "")
	// countRegexp captures the first integer in free text like "3 Beds"
	countRegexp = regexp.MustCompile(`\d+`)
	// bathsRegexp also keeps half baths like "2.5 Baths"
	bathsRegexp = regexp.MustCompile(`\d+(?:\.\d+)?`)
	// plain decimal only; strconv also takes hex floats, exponents and "Inf"
	decimalRegexp = regexp.MustCompile(`^[+-]?(?:\d+(?:\.\d*)?|\.\d+)$`)
)

// ValidationRejection explains why an observation was dropped. It is a
// per-row outcome, never a job failure.
type ValidationRejection struct {
	Field  string
	Value  string
	Reason string
}

func (r *ValidationRejection) Error() string {
	return fmt.Sprintf("rejected: %s=%q %s", r.Field, r.Value, r.Reason)
}

// CleanStats counts what happened to one batch of observations.
type CleanStats struct {
	Raw      int
	Accepted int
	Rejected int
	ByField  map[string]int
}

// Normalizer transforms raw observations into validated records.
type Normalizer struct {
	logger *utils.Logger
}

// NewNormalizer creates a Normalizer with the given logger.
func NewNormalizer(logger *utils.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// Clean normalizes every observation, keeping the input order of the
// accepted records. Rejections are counted, not retried.
func (n *Normalizer) Clean(raw []models.Observation) ([]models.Record, CleanStats) {
	stats := CleanStats{Raw: len(raw), ByField: make(map[string]int)}
	result := make([]models.Record, 0, len(raw))

	for _, obs := range raw {
		rec, err := Normalize(obs)
		if err != nil {
			stats.Rejected++
			if rej, ok := err.(*ValidationRejection); ok {
				stats.ByField[rej.Field]++
			}
			n.logger.Debug("[normalizer] %s: %v", obs.Address, err)
			continue
		}
		result = append(result, rec)
	}
	stats.Accepted = len(result)

	n.logger.Info("[normalizer] Cleaned %d → %d listings (rejected %d%s)",
		stats.Raw, stats.Accepted, stats.Rejected, formatByField(stats.ByField))
	return result, stats
}

// Normalize converts one observation into a record. Any missing or
// unparseable required field rejects the whole observation.
func Normalize(obs models.Observation) (models.Record, error) {
	var rec models.Record

	address := normaliseText(obs.Address)
	if isMissing(address) {
		return rec, &ValidationRejection{Field: "Address", Value: obs.Address, Reason: "is missing"}
	}

	price, err := parseAmount("Price", obs.Price)
	if err != nil {
		return rec, err
	}
	beds, err := parseCount("Beds", obs.Beds, countRegexp)
	if err != nil {
		return rec, err
	}
	baths, err := parseCount("Baths", obs.Baths, bathsRegexp)
	if err != nil {
		return rec, err
	}
	area, err := parseAmount("SqFt", obs.SqFt)
	if err != nil {
		return rec, err
	}
	lat, err := parseCoordinate("Latitude", obs.Latitude, 90)
	if err != nil {
		return rec, err
	}
	lon, err := parseCoordinate("Longitude", obs.Longitude, 180)
	if err != nil {
		return rec, err
	}

	date, err := models.ParseDate(strings.TrimSpace(obs.Date))
	if err != nil {
		return rec, &ValidationRejection{Field: "Date", Value: obs.Date, Reason: "is not YYYY-MM-DD"}
	}

	return models.Record{
		Address:    address,
		Price:      price,
		Beds:       beds,
		Baths:      baths,
		LivingArea: area,
		Latitude:   lat,
		Longitude:  lon,
		Link:       strings.TrimSpace(obs.Link),
		Date:       date,
	}, nil
}

// isMissing treats "—", "N/A" and the empty string as absent values.
func isMissing(s string) bool {
	switch strings.TrimSpace(s) {
	case "", "—", "N/A":
		return true
	}
	return false
}

// parseAmount strips currency formatting and requires a positive number.
// "$1,234,500" → 1234500
func parseAmount(field, raw string) (float64, error) {
	if isMissing(raw) {
		return 0, &ValidationRejection{Field: field, Value: raw, Reason: "is missing"}
	}
	v, err := parseFloat(numericNoise.Replace(strings.TrimSpace(raw)))
	if err != nil {
		return 0, &ValidationRejection{Field: field, Value: raw, Reason: "is not numeric"}
	}
	if v <= 0 {
		return 0, &ValidationRejection{Field: field, Value: raw, Reason: "must be positive"}
	}
	return v, nil
}

// parseCount extracts the first number embedded in free text.
// "3 Beds" → 3, "2.5 Baths" → 2.5
func parseCount(field, raw string, re *regexp.Regexp) (float64, error) {
	if isMissing(raw) {
		return 0, &ValidationRejection{Field: field, Value: raw, Reason: "is missing"}
	}
	match := re.FindString(raw)
	if match == "" {
		return 0, &ValidationRejection{Field: field, Value: raw, Reason: "has no digits"}
	}
	v, err := parseFloat(match)
	if err != nil {
		return 0, &ValidationRejection{Field: field, Value: raw, Reason: "is not numeric"}
	}
	return v, nil
}

func parseCoordinate(field, raw string, limit float64) (float64, error) {
	if isMissing(raw) {
		return 0, &ValidationRejection{Field: field, Value: raw, Reason: "is missing"}
	}
	v, err := parseFloat(strings.TrimSpace(raw))
	if err != nil {
		return 0, &ValidationRejection{Field: field, Value: raw, Reason: "is not numeric"}
	}
	if v < -limit || v > limit {
		return 0, &ValidationRejection{Field: field, Value: raw, Reason: "is out of range"}
	}
	return v, nil
}

// parseFloat accepts plain decimal notation only.
func parseFloat(s string) (float64, error) {
	if !decimalRegexp.MatchString(s) {
		return 0, fmt.Errorf("not a decimal number %q", s)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite value %q", s)
	}
	return v, nil
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	fields := strings.FieldsFunc(s, unicode.IsSpace)
	return strings.Join(fields, " ")
}

func formatByField(byField map[string]int) string {
	if len(byField) == 0 {
		return ""
	}
	fields := make([]string, 0, len(byField))
	for f := range byField {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s=%d", f, byField[f]))
	}
	return ": " + strings.Join(parts, ", ")
}
