package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// IdentityConfig is one browser identity the session manager may pick.
type IdentityConfig struct {
	UserAgent string `yaml:"user_agent"`
	Profile   string `yaml:"profile"`
}

// SelectorsConfig holds the CSS selectors used to read listing cards.
type SelectorsConfig struct {
	Card      string `yaml:"card"`
	Address   string `yaml:"address"`
	Price     string `yaml:"price"`
	Beds      string `yaml:"beds"`
	Baths     string `yaml:"baths"`
	SqFt      string `yaml:"sqft"`
	Link      string `yaml:"link"`
	Latitude  string `yaml:"latitude_attr"`
	Longitude string `yaml:"longitude_attr"`
}

// ScraperFile is the optional YAML document referenced by SCRAPER_CONFIG.
type ScraperFile struct {
	Identities []IdentityConfig `yaml:"identities"`
	Selectors  SelectorsConfig  `yaml:"selectors"`
}

// DefaultScraperFile returns the built-in identity pool and selectors.
func DefaultScraperFile() *ScraperFile {
	return &ScraperFile{
		Identities: []IdentityConfig{
			{UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36"},
			{UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/110.0.0.0 Safari/537.36"},
			{UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/115.0.0.0 Safari/537.36"},
			{UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0"},
		},
		Selectors: SelectorsConfig{
			Card:      "div.HomeCardContainer",
			Address:   ".bp-Homecard__Address",
			Price:     ".bp-Homecard__Price--value",
			Beds:      ".bp-Homecard__Stats--beds",
			Baths:     ".bp-Homecard__Stats--baths",
			SqFt:      ".bp-Homecard__Stats--sqft .bp-Homecard__LockedStat--value",
			Link:      "a[href]",
			Latitude:  "data-latitude",
			Longitude: "data-longitude",
		},
	}
}

// LoadScraperFile reads the YAML file at path and fills any blank field from
// the defaults. An empty path returns the defaults.
func LoadScraperFile(path string) (*ScraperFile, error) {
	def := DefaultScraperFile()
	if path == "" {
		return def, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scraper config: read %q: %w", path, err)
	}

	var f ScraperFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("scraper config: parse %q: %w", path, err)
	}

	if len(f.Identities) == 0 {
		f.Identities = def.Identities
	}
	for i, id := range f.Identities {
		if id.UserAgent == "" {
			return nil, fmt.Errorf("scraper config: identity %d has no user_agent", i)
		}
	}
	f.Selectors = mergeSelectors(f.Selectors, def.Selectors)
	return &f, nil
}

func mergeSelectors(s, def SelectorsConfig) SelectorsConfig {
	pick := func(v, fallback string) string {
		if v == "" {
			return fallback
		}
		return v
	}
	return SelectorsConfig{
		Card:      pick(s.Card, def.Card),
		Address:   pick(s.Address, def.Address),
		Price:     pick(s.Price, def.Price),
		Beds:      pick(s.Beds, def.Beds),
		Baths:     pick(s.Baths, def.Baths),
		SqFt:      pick(s.SqFt, def.SqFt),
		Link:      pick(s.Link, def.Link),
		Latitude:  pick(s.Latitude, def.Latitude),
		Longitude: pick(s.Longitude, def.Longitude),
	}
}
