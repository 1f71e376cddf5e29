package models

// FieldStats mirrors a describe() column over one numeric field.
type FieldStats struct {
	Field  string  `json:"field"`
	Min    float64 `json:"min"`
	Q1     float64 `json:"q1"`
	Median float64 `json:"median"`
	Q3     float64 `json:"q3"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
}

// Summary holds descriptive statistics over a set of records.
type Summary struct {
	Count  int          `json:"count"`
	Fields []FieldStats `json:"fields"`
}

// TrendPoint is one distinct date of a trend series.
type TrendPoint struct {
	Date         string  `json:"date"`
	MeanPrice    float64 `json:"mean_price"`
	ListingCount int     `json:"listing_count"`
}

// AnalysisReport holds the computed analytics for one analyzer run.
type AnalysisReport struct {
	Date     string       `json:"date,omitempty"`
	Scope    string       `json:"scope"`
	Raw      int          `json:"raw"`
	Rejected int          `json:"rejected"`
	Summary  Summary      `json:"summary"`
	Trend    []TrendPoint `json:"trend,omitempty"`
	Top      []Record     `json:"top"`
	Bottom   []Record     `json:"bottom"`
}
