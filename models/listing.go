package models

import (
	"fmt"
	"strconv"
	"time"
)

// DateLayout is the calendar-date format used in file names and the Date column.
const DateLayout = "2006-01-02"

// Date is a calendar date serialised as YYYY-MM-DD.
type Date struct {
	time.Time
}

// NewDate truncates t to its calendar date in t's location.
func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date{t}, nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	s, err := strconv.Unquote(string(b))
	if err != nil {
		return fmt.Errorf("invalid date %s: %w", b, err)
	}
	return d.UnmarshalText([]byte(s))
}

func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		d.Time = time.Time{}
		return nil
	}
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Key is the natural key of a stored row.
type Key struct {
	Address string
	Date    string
}

// Observation holds unprocessed listing fields exactly as captured from the page.
// It is written to the raw snapshot and raw master before any cleaning.
type Observation struct {
	Address   string `csv:"Address"`
	Price     string `csv:"Price"`
	Beds      string `csv:"Beds"`
	Baths     string `csv:"Baths"`
	SqFt      string `csv:"SqFt"`
	Latitude  string `csv:"Latitude"`
	Longitude string `csv:"Longitude"`
	Link      string `csv:"Link"`
	Date      string `csv:"Date"`
}

func (o Observation) Key() Key {
	return Key{Address: o.Address, Date: o.Date}
}

// Record is the cleaned, validated listing.
type Record struct {
	Address    string  `csv:"Address" json:"address"`
	Price      float64 `csv:"Price" json:"price"`
	Beds       float64 `csv:"Beds" json:"beds"`
	Baths      float64 `csv:"Baths" json:"baths"`
	LivingArea float64 `csv:"SqFt" json:"sqft"`
	Latitude   float64 `csv:"Latitude" json:"latitude"`
	Longitude  float64 `csv:"Longitude" json:"longitude"`
	Link       string  `csv:"Link" json:"link"`
	Date       Date    `csv:"Date" json:"date"`
}

func (r Record) Key() Key {
	return Key{Address: r.Address, Date: r.Date.String()}
}

// Snapshot is the output of one scrape run; every observation carries Date.
type Snapshot struct {
	Date         Date
	SourceURL    string
	Observations []Observation
}

// Empty reports whether the page had no listings. This is a valid result.
func (s *Snapshot) Empty() bool {
	return len(s.Observations) == 0
}
