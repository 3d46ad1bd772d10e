package openai

import "strings"

// verbose_json reports the language by name; alignment models are keyed by
// ISO code.
var languageCodes = map[string]string{
	"arabic":     "ar",
	"basque":     "eu",
	"catalan":    "ca",
	"chinese":    "zh",
	"croatian":   "hr",
	"czech":      "cs",
	"danish":     "da",
	"dutch":      "nl",
	"english":    "en",
	"finnish":    "fi",
	"french":     "fr",
	"galician":   "gl",
	"georgian":   "ka",
	"german":     "de",
	"greek":      "el",
	"hebrew":     "he",
	"hindi":      "hi",
	"hungarian":  "hu",
	"italian":    "it",
	"japanese":   "ja",
	"korean":     "ko",
	"latvian":    "lv",
	"malayalam":  "ml",
	"norwegian":  "no",
	"nynorsk":    "nn",
	"persian":    "fa",
	"polish":     "pl",
	"portuguese": "pt",
	"romanian":   "ro",
	"russian":    "ru",
	"slovak":     "sk",
	"slovenian":  "sl",
	"spanish":    "es",
	"tagalog":    "tl",
	"telugu":     "te",
	"turkish":    "tr",
	"ukrainian":  "uk",
	"urdu":       "ur",
	"vietnamese": "vi",
}

// LanguageCode maps a language name to its code. Codes and unknown names pass
// through lowercased.
func LanguageCode(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if code, ok := languageCodes[name]; ok {
		return code
	}
	return name
}
