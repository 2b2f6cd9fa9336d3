package engine

import (
	"strings"

	"golang.org/x/text/language"
)

// TesseractLanguages maps BCP 47 or ISO 639 hints to tesseract traineddata
// codes (ISO 639-2/T), dropping hints that cannot be parsed. Tesseract codes
// with script suffixes such as chi_sim are passed through unchanged.
func TesseractLanguages(hints []string) []string {
	out := make([]string, 0, len(hints))
	seen := make(map[string]bool, len(hints))
	for _, h := range hints {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		code := h
		if !strings.Contains(h, "_") {
			tag, err := language.Parse(h)
			if err != nil {
				continue
			}
			base, _ := tag.Base()
			code = base.ISO3()
		}
		if !seen[code] {
			seen[code] = true
			out = append(out, code)
		}
	}
	return out
}

// BCP47Languages normalizes hints to short BCP 47 base codes (e.g. "de").
func BCP47Languages(hints []string) []string {
	out := make([]string, 0, len(hints))
	seen := make(map[string]bool, len(hints))
	for _, h := range hints {
		tag, err := language.Parse(strings.TrimSpace(strings.SplitN(h, "_", 2)[0]))
		if err != nil {
			continue
		}
		base, _ := tag.Base()
		code := base.String()
		if !seen[code] {
			seen[code] = true
			out = append(out, code)
		}
	}
	return out
}
