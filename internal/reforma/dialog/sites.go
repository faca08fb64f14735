package dialog

import (
	"strconv"
	"strings"

	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/interaction"
)

// Words that mark an adjacent number as a site choice ("planta 2", "la 2").
var ordinalQualifiers = map[string]bool{
	"planta": true, "plant": true, "la": true, "the": true,
	"numero": true, "nro": true, "opcion": true, "option": true,
}

// Site-name prepositions: a name following one of these is a site mention
// even inside a longer creation message ("compre maiz en planta norte").
var sitePrepositions = map[string]bool{
	"en": true, "de": true, "planta": true, "plant": true,
}

// MatchSite resolves a message against an offered site list. It tries, in
// order: the bare ordinal ("2"), an ordinal next to a qualifier word
// ("planta 2"), the whole site name contained in the message, and a
// distinctive word of exactly one site name. Returns nil when nothing
// matches or the match is ambiguous.
func MatchSite(text string, sites []interaction.SiteOption) *interaction.SiteOption {
	if len(sites) == 0 {
		return nil
	}
	folded := foldText(text)
	tokens := strings.Fields(folded)

	if site := matchOrdinal(tokens, sites); site != nil {
		return site
	}
	if site := matchName(folded, tokens, sites); site != nil {
		return site
	}
	return nil
}

func matchOrdinal(tokens []string, sites []interaction.SiteOption) *interaction.SiteOption {
	for i, tok := range tokens {
		n, err := strconv.Atoi(tok)
		if err != nil {
			continue
		}
		if n < 1 || n > len(sites) {
			continue
		}
		// A bare number message is always a choice; an embedded number
		// needs a qualifier word next to it.
		if len(tokens) == 1 || adjacentQualifier(tokens, i) {
			return &sites[n-1]
		}
	}
	return nil
}

func adjacentQualifier(tokens []string, i int) bool {
	if i > 0 && ordinalQualifiers[tokens[i-1]] {
		return true
	}
	if i+1 < len(tokens) && ordinalQualifiers[tokens[i+1]] {
		return true
	}
	return false
}

func matchName(folded string, tokens []string, sites []interaction.SiteOption) *interaction.SiteOption {
	// Whole-name containment first.
	var whole *interaction.SiteOption
	wholeCount := 0
	for i := range sites {
		if strings.Contains(folded, foldText(sites[i].Name)) {
			whole = &sites[i]
			wholeCount++
		}
	}
	if wholeCount == 1 {
		return whole
	}
	if wholeCount > 1 {
		return nil
	}

	// Otherwise a single distinctive word of one site name ("norte" for
	// "Planta Norte"), optionally introduced by a preposition.
	present := map[string]bool{}
	for _, tok := range tokens {
		if !sitePrepositions[tok] {
			present[tok] = true
		}
	}
	var match *interaction.SiteOption
	matchCount := 0
	for i := range sites {
		for _, word := range strings.Fields(foldText(sites[i].Name)) {
			if len(word) > 2 && present[word] && !sharedSiteWord(word, sites) {
				match = &sites[i]
				matchCount++
				break
			}
		}
	}
	if matchCount == 1 {
		return match
	}
	return nil
}

// sharedSiteWord reports whether a word appears in more than one site name,
// which makes it useless as a discriminator ("planta" in every name).
func sharedSiteWord(word string, sites []interaction.SiteOption) bool {
	count := 0
	for i := range sites {
		for _, w := range strings.Fields(foldText(sites[i].Name)) {
			if w == word {
				count++
				break
			}
		}
	}
	return count > 1
}
