package textseg

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// DefaultTargetSize balances synthesis latency against prosody quality.
	// Chunks much beyond ~360 chars degrade synthesis output audibly.
	DefaultTargetSize = 200
	hardCeilingSlack  = 120
	hardCeilingMax    = 360
)

const (
	sentenceCutset = ".?!\n"
	clauseCutset   = ",;:"
)

// HardCeiling returns the absolute chunk length bound for a target size.
func HardCeiling(targetSize int) int {
	ceiling := targetSize + hardCeilingSlack
	if ceiling > hardCeilingMax {
		ceiling = hardCeilingMax
	}
	if ceiling < targetSize {
		ceiling = targetSize
	}
	return ceiling
}

// Split divides text into synthesis-sized chunks. Cuts are sought near
// targetSize at, in priority order, sentence punctuation, clause
// punctuation, then whitespace; a cut never lands inside a word. The
// concatenation of all returned chunks is exactly the input, and every
// chunk is non-empty. A run-on token with no boundary at all comes back
// as a single oversized chunk rather than being torn apart.
func Split(text string, targetSize int) []string {
	if text == "" {
		return nil
	}
	if targetSize <= 0 {
		targetSize = DefaultTargetSize
	}
	ceiling := HardCeiling(targetSize)

	var chunks []string
	rest := text
	for len(rest) > targetSize {
		cut := boundaryCut(rest, targetSize, ceiling)
		if cut <= 0 || cut >= len(rest) {
			break
		}
		chunks = append(chunks, rest[:cut])
		rest = rest[cut:]
	}
	if len(rest) > 0 {
		chunks = append(chunks, rest)
	}
	return chunks
}

// boundaryCut picks a cut position in rest. It prefers the latest sentence
// boundary within the target window, then the latest clause boundary, then
// the latest whitespace run; failing all of those it widens forward up to
// the hard ceiling and takes the earliest boundary it can find.
func boundaryCut(rest string, targetSize, ceiling int) int {
	window := targetSize
	if window > len(rest) {
		window = len(rest)
	}

	if idx := lastPunctuationBoundary(rest, window, sentenceCutset); idx >= 0 {
		return extendThroughWhitespace(rest, idx+1)
	}
	if idx := lastPunctuationBoundary(rest, window, clauseCutset); idx >= 0 {
		return extendThroughWhitespace(rest, idx+1)
	}
	if idx := lastWhitespace(rest[:window]); idx >= 0 {
		return extendThroughWhitespace(rest, whitespaceRunStart(rest, idx))
	}

	// No boundary near the target; scan forward so we never cut a word.
	limit := ceiling
	if limit > len(rest) {
		limit = len(rest)
	}
	for i := window; i < limit; i++ {
		if isWhitespaceByte(rest[i]) {
			return extendThroughWhitespace(rest, whitespaceRunStart(rest, i))
		}
	}
	// One giant token past the ceiling: cut at the next boundary wherever
	// it is, or give up and keep the run intact.
	if idx := strings.IndexFunc(rest[limit:], func(r rune) bool { return unicode.IsSpace(r) }); idx >= 0 {
		return extendThroughWhitespace(rest, limit+idx)
	}
	return 0
}

// lastPunctuationBoundary finds the latest cutset byte in rest[:window]
// that is followed by whitespace or ends the text, so a cut after an
// abbreviation dot inside a token is never taken.
func lastPunctuationBoundary(rest string, window int, cutset string) int {
	for i := window - 1; i >= 0; i-- {
		if strings.IndexByte(cutset, rest[i]) < 0 {
			continue
		}
		if i+1 == len(rest) || isWhitespaceByte(rest[i+1]) {
			return i
		}
	}
	return -1
}

// extendThroughWhitespace moves a cut forward over any whitespace run so
// the next chunk starts at a word.
func extendThroughWhitespace(s string, cut int) int {
	for cut < len(s) && isWhitespaceByte(s[cut]) {
		cut++
	}
	return cut
}

// whitespaceRunStart walks back from a whitespace index to the first byte
// of its run, so the cut keeps the whole run on one side.
func whitespaceRunStart(s string, idx int) int {
	for idx > 0 && isWhitespaceByte(s[idx-1]) {
		idx--
	}
	return idx
}

func lastWhitespace(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if isWhitespaceByte(s[i]) {
			return i
		}
	}
	return -1
}

func isWhitespaceByte(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// SnapToWordStart moves offset forward to the start of the next word so a
// resumed stream never begins mid-word. An offset already at a word start
// (or at index 0) is returned unchanged.
func SnapToWordStart(text string, offset int) int {
	if offset <= 0 {
		return 0
	}
	if offset >= len(text) {
		return len(text)
	}
	// Inside or at the tail of a word: skip the remainder of it.
	if !isWhitespaceByte(text[offset-1]) {
		for offset < len(text) && !isWhitespaceByte(text[offset]) {
			offset++
		}
	}
	for offset < len(text) && isWhitespaceByte(text[offset]) {
		offset++
	}
	return offset
}

// OffsetForPercent maps a progress percentage to a byte offset into text,
// clamped to [0, len(text)] and aligned to a rune boundary.
func OffsetForPercent(text string, percent float64) int {
	if percent <= 0 {
		return 0
	}
	if percent >= 100 {
		return len(text)
	}
	offset := int(float64(len(text)) * percent / 100.0)
	for offset > 0 && offset < len(text) && !utf8.RuneStart(text[offset]) {
		offset--
	}
	return offset
}
