package analysis

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	excerptRunes    = 500
	fallbackDocType = "Analiz edilemedi"
	excerptLabel    = "[Ön izleme] "
)

// Synthesize builds the degraded stand-in shown when the analysis service
// failed. It reports false when there is no text to work from.
func Synthesize(text string) (Result, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, false
	}

	runes := utf8.RuneCountInString(text)
	words := len(strings.Fields(text))

	return Result{
		DocumentType:      fallbackDocType,
		Summary:           fmt.Sprintf("Analiz servisine şu anda ulaşılamıyor. Metniniz %d karakter ve %d kelimeden oluşuyor. %s", runes, words, lengthNote(runes)),
		SimplifiedText:    excerptLabel + excerpt(text, excerptRunes),
		ExtractedEntities: []Entity{},
		ActionableSteps:   []ActionableStep{},
		Degraded:          true,
	}, true
}

func lengthNote(runes int) string {
	switch {
	case runes <= excerptRunes:
		return "Metnin tamamı ön izlemede gösteriliyor."
	case runes <= 3000:
		return "Ön izleme metnin ilk bölümünü gösteriyor."
	default:
		return "Uzun bir metin; tam analiz için servis erişilebilir olduğunda yeniden deneyin."
	}
}

// excerpt cuts text to at most limit runes, preferring the last word
// boundary, and marks the cut with an ellipsis.
func excerpt(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	cut := string([]rune(text)[:limit])
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut) + "..."
}
