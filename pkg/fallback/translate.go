package fallback

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"neighbor-assist/pkg/profile"
)

// greetings maps common phrases to their translation per target language.
var greetings = map[string]map[string]string{
	"es": {"hello": "hola", "good morning": "buenos días", "good evening": "buenas noches", "thank you": "gracias", "thanks": "gracias", "goodbye": "adiós", "please": "por favor", "how are you": "cómo estás"},
	"fr": {"hello": "bonjour", "good morning": "bonjour", "good evening": "bonsoir", "thank you": "merci", "thanks": "merci", "goodbye": "au revoir", "please": "s'il vous plaît", "how are you": "comment ça va"},
	"de": {"hello": "hallo", "good morning": "guten Morgen", "good evening": "guten Abend", "thank you": "danke", "thanks": "danke", "goodbye": "auf Wiedersehen", "please": "bitte", "how are you": "wie geht's"},
	"pt": {"hello": "olá", "good morning": "bom dia", "good evening": "boa noite", "thank you": "obrigado", "thanks": "obrigado", "goodbye": "adeus", "please": "por favor", "how are you": "como vai"},
	"it": {"hello": "ciao", "good morning": "buongiorno", "good evening": "buonasera", "thank you": "grazie", "thanks": "grazie", "goodbye": "arrivederci", "please": "per favore", "how are you": "come stai"},
}

type phrase struct {
	pattern     *regexp.Regexp
	translation string
}

// phrases holds compiled replacements per language, longest phrase first.
var phrases = compilePhrases()

func compilePhrases() map[string][]phrase {
	out := make(map[string][]phrase, len(greetings))
	for lang, table := range greetings {
		keys := make([]string, 0, len(table))
		for k := range table {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			if len(keys[i]) != len(keys[j]) {
				return len(keys[i]) > len(keys[j])
			}
			return keys[i] < keys[j]
		})

		list := make([]phrase, 0, len(keys))
		for _, k := range keys {
			list = append(list, phrase{
				pattern:     regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(k) + `\b`),
				translation: table[k],
			})
		}
		out[lang] = list
	}
	return out
}

// Translate is the offline translation: known greeting phrases are
// replaced in place, anything else is returned tagged with the target
// language, e.g. "[ES] see you at the park".
func Translate(text, target string) string {
	lang := profile.NormalizeLanguage(target)

	replaced := text
	for _, p := range phrases[lang] {
		replaced = p.pattern.ReplaceAllLiteralString(replaced, p.translation)
	}
	if replaced != text {
		return replaced
	}

	return fmt.Sprintf("[%s] %s", strings.ToUpper(lang), text)
}
