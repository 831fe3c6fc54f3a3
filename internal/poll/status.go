package poll

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// doneSynonyms is the small set of status words meaning "completed". Matching
// is case- and diacritic-insensitive, so "Concluído" and "TERMINÉ" both hit.
var doneSynonyms = []string{
	"completed",
	"complete",
	"done",
	"finished",
	"concluido",
	"concluida",
	"finalizado",
	"terminado",
	"termine",
	"fertig",
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fold lowercases the status text and strips diacritics.
func Fold(s string) string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(strings.TrimSpace(folded))
}

// IsDone reports whether the status text signals explicit completion.
func IsDone(status string) bool {
	folded := Fold(status)
	if folded == "" {
		return false
	}
	for _, syn := range doneSynonyms {
		if strings.Contains(folded, syn) {
			return true
		}
	}
	return false
}
