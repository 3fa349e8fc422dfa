package transcriber

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// whisperAliases maps canonical ISO 639-1 codes to the codes whisper.cpp was trained with.
var whisperAliases = map[string]string{
	"jv": "jw",
}

// whisperLanguages are the languages whisper models can transcribe, as canonical codes.
var whisperLanguages = []string{
	"en", "zh", "de", "es", "ru", "ko", "fr", "ja", "pt", "tr", "pl", "ca", "nl", "ar",
	"sv", "it", "id", "hi", "fi", "vi", "he", "uk", "el", "ms", "cs", "ro", "da", "hu",
	"ta", "no", "th", "ur", "hr", "bg", "lt", "la", "mi", "ml", "cy", "sk", "te", "fa",
	"lv", "bn", "sr", "az", "sl", "kn", "et", "mk", "br", "eu", "is", "hy", "ne", "mn",
	"bs", "kk", "sq", "sw", "gl", "mr", "pa", "si", "km", "sn", "yo", "so", "af", "oc",
	"ka", "be", "tg", "sd", "gu", "am", "yi", "lo", "uz", "fo", "ht", "ps", "tk", "nn",
	"mt", "sa", "lb", "my", "bo", "tl", "mg", "as", "tt", "haw", "ln", "ha", "ba", "jv",
	"su", "yue",
}

// languageNames resolves the English language names OpenAI returns in verbose_json.
var languageNames = func() map[string]string {
	names := map[string]string{
		"burmese":       "my",
		"castilian":     "es",
		"flemish":       "nl",
		"haitian":       "ht",
		"letzeburgesch": "lb",
		"mandarin":      "zh",
		"moldavian":     "ro",
		"moldovan":      "ro",
		"myanmar":       "my",
		"panjabi":       "pa",
		"pushto":        "ps",
		"sinhalese":     "si",
		"valencian":     "ca",
	}
	namer := display.English.Languages()
	for _, code := range whisperLanguages {
		if name := strings.ToLower(namer.Name(language.Make(code))); name != "" {
			names[name] = code
		}
	}
	return names
}()

func whisperLanguage(lang string) string {
	if alias, ok := whisperAliases[lang]; ok {
		return alias
	}
	return lang
}

// detectedLanguage turns an engine-reported language, code or English name, into a
// canonical code. Unrecognised values come back empty.
func detectedLanguage(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return ""
	}
	if code, ok := languageNames[raw]; ok {
		return code
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return ""
	}
	base, confidence := tag.Base()
	if confidence == language.No {
		return ""
	}
	return base.String()
}
