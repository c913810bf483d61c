package transcription

// Language is a recognition language offered to the user.
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// DefaultLanguage is selected when no language is configured.
const DefaultLanguage = "en-US"

// DefaultLanguages is the language list offered when none is configured.
func DefaultLanguages() []Language {
	return []Language{
		{Code: "en-US", Name: "English (US)"},
		{Code: "en-GB", Name: "English (UK)"},
		{Code: "es-ES", Name: "Spanish"},
		{Code: "fr-FR", Name: "French"},
		{Code: "de-DE", Name: "German"},
		{Code: "it-IT", Name: "Italian"},
		{Code: "ja-JP", Name: "Japanese"},
		{Code: "ko-KR", Name: "Korean"},
		{Code: "zh-CN", Name: "Chinese (Mandarin)"},
		{Code: "pt-BR", Name: "Portuguese (Brazil)"},
	}
}

func findLanguage(langs []Language, code string) (Language, bool) {
	for _, l := range langs {
		if l.Code == code {
			return l, true
		}
	}
	return Language{}, false
}
