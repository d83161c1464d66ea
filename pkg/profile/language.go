package profile

import "strings"

var languages = map[string]string{
	"en": "English",
	"es": "Spanish",
	"fr": "French",
	"de": "German",
	"it": "Italian",
	"pt": "Portuguese",
	"nl": "Dutch",
	"ru": "Russian",
	"zh": "Chinese",
	"ja": "Japanese",
	"ko": "Korean",
	"ar": "Arabic",
	"hi": "Hindi",
	"vi": "Vietnamese",
	"tl": "Tagalog",
	"pl": "Polish",
	"tr": "Turkish",
	"uk": "Ukrainian",
}

// NormalizeLanguage lowercases and trims a language code.
func NormalizeLanguage(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// LanguageName returns the display name for a two-letter code.
func LanguageName(code string) (string, bool) {
	name, ok := languages[NormalizeLanguage(code)]
	return name, ok
}

// KnownLanguage reports whether code is in the language table.
func KnownLanguage(code string) bool {
	_, ok := LanguageName(code)
	return ok
}

// Languages returns a copy of the code to name table.
func Languages() map[string]string {
	out := make(map[string]string, len(languages))
	for k, v := range languages {
		out[k] = v
	}
	return out
}
