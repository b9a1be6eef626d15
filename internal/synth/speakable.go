package synth

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	speakURLPattern        = regexp.MustCompile(`https?://\S+`)
	speakFencedCodePattern = regexp.MustCompile("(?s)```.*?```")
	speakInlineCodePattern = regexp.MustCompile("`[^`]*`")
	speakLinkPattern       = regexp.MustCompile(`\[(.*?)\]\((.*?)\)`)
)

// Speakable removes markup and symbol noise from document text so the
// engine never voices asterisks, URLs, or emoji. The caller keeps the
// original text for display; this output goes to synthesis only.
func Speakable(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	raw = speakFencedCodePattern.ReplaceAllString(raw, " ")
	raw = speakInlineCodePattern.ReplaceAllString(raw, " ")
	raw = speakLinkPattern.ReplaceAllString(raw, "$1")
	raw = speakURLPattern.ReplaceAllString(raw, " ")

	raw = strings.NewReplacer(
		"*", " ",
		"_", " ",
		"\\", " ",
		"|", " ",
		"#", " ",
		"~", " ",
		"<", " ",
		">", " ",
	).Replace(raw)

	var b strings.Builder
	b.Grow(len(raw))
	prevSpace := true

	for _, r := range raw {
		switch {
		case r == '‍' || r == '️' || r == '⃣':
			continue
		case r == '\n' || r == '\r' || r == '\t' || unicode.IsSpace(r):
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		case unicode.IsControl(r):
			continue
		case unicode.In(r, unicode.So, unicode.Sm, unicode.Sk):
			// Drops emoji and symbol-heavy glyphs that sound unnatural when spoken.
			continue
		case isSpeakSafePunctuation(r):
			b.WriteRune(r)
			prevSpace = false
		case unicode.IsPunct(r):
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		default:
			b.WriteRune(r)
			prevSpace = false
		}
	}

	return strings.TrimSpace(b.String())
}

func isSpeakSafePunctuation(r rune) bool {
	switch r {
	case '.', ',', '!', '?', ':', ';', '\'', '"', '-', '(', ')':
		return true
	default:
		return false
	}
}
