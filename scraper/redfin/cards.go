package redfin

import "redfin-tracker/models"

// cardKey identifies a card on one results page: its detail link, or the
// address when the card has no link.
type cardKey string

func keyOf(obs models.Observation) cardKey {
	if obs.Link != "" {
		return cardKey(obs.Link)
	}
	return cardKey(obs.Address)
}

// cardSet remembers the cards already taken from a page. Cards are walked in
// document order on one goroutine.
type cardSet map[cardKey]struct{}

// add reports whether k was not yet in the set.
func (s cardSet) add(k cardKey) bool {
	if _, ok := s[k]; ok {
		return false
	}
	s[k] = struct{}{}
	return true
}
