package langdetect

import (
	"strings"
	"sync"
	"unicode"

	lingua "github.com/pemistahl/lingua-go"
)

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector
)

// DetectISO6391 classifies flyer item text as "en" or "fr". Canadian
// flyers are published in exactly these two languages, so the detector
// is restricted to that pair. Falls back to "en" when the text is too
// short or ambiguous.
func DetectISO6391(text string) string {
	sample := strings.TrimSpace(text)
	if sample == "" {
		return "en"
	}

	letterCount := 0
	for _, r := range sample {
		if unicode.IsLetter(r) {
			letterCount++
		}
	}
	if letterCount < 6 {
		return "en"
	}

	language, exists := getDetector().DetectLanguageOf(sample)
	if !exists {
		return "en"
	}

	code := strings.ToLower(language.IsoCode639_1().String())
	if code != "fr" {
		return "en"
	}
	return code
}

func getDetector() lingua.LanguageDetector {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromLanguages(lingua.English, lingua.French).
			WithPreloadedLanguageModels().
			Build()
	})
	return detector
}
