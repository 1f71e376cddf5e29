package redfin

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"redfin-tracker/config"
	"redfin-tracker/models"
	"redfin-tracker/utils"
)

// CardParser reads listing cards from a rendered search page. Selectors come
// from the scraper config so page changes do not need a rebuild.
type CardParser struct {
	sel    config.SelectorsConfig
	logger *utils.Logger
}

func NewCardParser(sel config.SelectorsConfig, logger *utils.Logger) *CardParser {
	return &CardParser{sel: sel, logger: logger}
}

// ParseRows returns one observation per distinct card, in page order.
func (p *CardParser) ParseRows(html, pageURL string) ([]models.Observation, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	base, _ := url.Parse(pageURL)

	seen := cardSet{}
	var rows []models.Observation
	doc.Find(p.sel.Card).Each(func(i int, card *goquery.Selection) {
		obs := models.Observation{
			Address: childText(card, p.sel.Address),
			Price:   childText(card, p.sel.Price),
			Beds:    childText(card, p.sel.Beds),
			Baths:   childText(card, p.sel.Baths),
			SqFt:    childText(card, p.sel.SqFt),
			Link:    resolveLink(base, card.Find(p.sel.Link).First().AttrOr("href", "")),
		}
		obs.Latitude, obs.Longitude = p.coordinates(card)

		// promo tiles share the card container but carry neither
		if obs.Address == "" && obs.Link == "" {
			return
		}
		key := keyOf(obs)
		if !seen.add(key) {
			p.logger.Debug("[parser] Skipping duplicate card: %s", key)
			return
		}
		rows = append(rows, obs)
	})

	p.logger.Debug("[parser] Found %d listing cards", len(rows))
	return rows, nil
}

// coordinates prefers data attributes on the card and falls back to the
// schema.org geo block of an embedded JSON-LD script.
func (p *CardParser) coordinates(card *goquery.Selection) (string, string) {
	lat := attrInside(card, p.sel.Latitude)
	lon := attrInside(card, p.sel.Longitude)
	if lat != "" && lon != "" {
		return lat, lon
	}

	var glat, glon string
	card.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		glat, glon = geoFromJSONLD(s.Text())
		return glat == "" || glon == ""
	})
	if lat == "" {
		lat = glat
	}
	if lon == "" {
		lon = glon
	}
	return lat, lon
}

func childText(s *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.Join(strings.Fields(s.Find(selector).First().Text()), " ")
}

func attrInside(s *goquery.Selection, attr string) string {
	if attr == "" {
		return ""
	}
	if v, ok := s.Attr(attr); ok {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(s.Find("[" + attr + "]").First().AttrOr(attr, ""))
}

func resolveLink(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

// geoFromJSONLD finds the first {"geo": {"latitude", "longitude"}} in a JSON-LD
// document, which may be an object, an array, or nested in "@graph".
func geoFromJSONLD(doc string) (string, string) {
	var v interface{}
	if err := json.Unmarshal([]byte(doc), &v); err != nil {
		return "", ""
	}
	return findGeo(v)
}

func findGeo(v interface{}) (string, string) {
	switch node := v.(type) {
	case []interface{}:
		for _, item := range node {
			if lat, lon := findGeo(item); lat != "" && lon != "" {
				return lat, lon
			}
		}
	case map[string]interface{}:
		if geo, ok := node["geo"].(map[string]interface{}); ok {
			lat, lon := scalarString(geo["latitude"]), scalarString(geo["longitude"])
			if lat != "" && lon != "" {
				return lat, lon
			}
		}
		for _, child := range node {
			if lat, lon := findGeo(child); lat != "" && lon != "" {
				return lat, lon
			}
		}
	}
	return "", ""
}

func scalarString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return ""
}
