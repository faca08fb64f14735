// Package dialog drives the multi-turn conversation: one inbound message per
// invocation, the persisted Interaction as the only memory in between.
package dialog

import "strings"

// Reply is the classification of an operator's answer to a confirmation
// prompt.
type Reply int

const (
	// ReplyUnrecognized means the answer matched no known synonym; the
	// three-option reminder is re-sent and the state does not change.
	ReplyUnrecognized Reply = iota
	ReplyAffirmative
	ReplyNegative
	ReplyModify
)

// The synonym grammar. Matching is case-insensitive and accent-insensitive,
// on the whole message or as the leading word of it.
var (
	affirmativeWords = []string{
		"si", "confirmar", "confirmo", "ok", "dale", "correcto",
		"yes", "confirm", "listo", "perfecto",
	}
	negativeWords = []string{
		"no", "cancelar", "cancelo", "cancel", "nada",
	}
	modifyWords = []string{
		"modificar", "cambiar", "corregir", "modify", "change", "editar",
	}
)

// ClassifyReply matches a message against the confirmation grammar.
func ClassifyReply(text string) Reply {
	folded := foldText(text)
	switch {
	case matchesAny(folded, modifyWords):
		return ReplyModify
	case matchesAny(folded, negativeWords):
		return ReplyNegative
	case matchesAny(folded, affirmativeWords):
		return ReplyAffirmative
	default:
		return ReplyUnrecognized
	}
}

// matchesAny reports whether the folded message equals a synonym or starts
// with one as a whole word ("si, dale" matches "si").
func matchesAny(folded string, words []string) bool {
	for _, w := range words {
		if folded == w ||
			strings.HasPrefix(folded, w+" ") ||
			strings.HasPrefix(folded, w+",") ||
			strings.HasPrefix(folded, w+".") {
			return true
		}
	}
	return false
}

// accentFolder maps the accented characters that appear in the grammar and
// in site names to their base letters, so "sí" and "si" classify alike.
var accentFolder = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u",
	"Á", "a", "É", "e", "Í", "i", "Ó", "o", "Ú", "u", "Ü", "u",
)

// foldText lowercases, trims, and strips accents for matching.
func foldText(text string) string {
	return accentFolder.Replace(strings.ToLower(strings.TrimSpace(text)))
}
