package openai

import "strings"

// systemPrompts keyed by ISO language code. Unknown languages fall back to English.
var systemPrompts = map[string]string{
	"en": "You are a mischievous but friendly bot that generates one-line, PG-13, ToS-safe 'troll' questions or comments. Keep it playful, not mean. Maximum 100 characters.",
	"es": "Eres un bot travieso pero amigable que genera preguntas o comentarios de una línea, PG-13, seguros para ToS. Manténlo juguetón, no malo. Máximo 100 caracteres.",
	"fr": "Tu es un bot espiègle mais amical qui génère des questions ou commentaires d'une ligne, PG-13, sûrs pour ToS. Garde ça ludique, pas méchant. Maximum 100 caractères.",
	"de": "Du bist ein schelmischer aber freundlicher Bot, der einzeilige, PG-13, ToS-sichere 'Troll'-Fragen oder Kommentare generiert. Halte es verspielt, nicht böse. Maximum 100 Zeichen.",
}

func systemPromptFor(language string) string {
	if p, ok := systemPrompts[language]; ok {
		return p
	}
	return systemPrompts["en"]
}

// The verbose_json transcription format reports full language names, not codes.
var languageCodes = map[string]string{
	"english":    "en",
	"spanish":    "es",
	"french":     "fr",
	"german":     "de",
	"portuguese": "pt",
	"italian":    "it",
	"japanese":   "ja",
	"korean":     "ko",
}

// normalizeLanguage maps a detected language to an ISO code, defaulting to "en".
func normalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" {
		return "en"
	}
	if code, ok := languageCodes[lang]; ok {
		return code
	}
	if len(lang) == 2 {
		return lang
	}
	return "en"
}
