package document

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	headingRe = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*#*\s*$`)
	linkRe    = regexp.MustCompile(`!?\[([^\]]*)\]\([^)]*\)`)
	codeRe    = regexp.MustCompile("`+")
	emphRe    = regexp.MustCompile(`(\*{1,3}|_{1,3})(\S(?:[^*_]*?\S)?)(\*{1,3}|_{1,3})`)
)

// sectionize splits markdown content at headings. Plaintext without
// headings yields a single section; blank content yields none.
func sectionize(name, content string) []section {
	lines := strings.Split(content, "\n")

	var sections []section
	var cur *section
	var buf []string

	flush := func() {
		if cur == nil {
			return
		}
		cur.text = stripMarkdown(strings.Join(buf, "\n"))
		if strings.TrimSpace(cur.text) != "" {
			cur.ref = fmt.Sprintf("sec-%d", len(sections))
			sections = append(sections, *cur)
		}
		cur = nil
		buf = nil
	}

	for _, line := range lines {
		if m := headingRe.FindStringSubmatch(line); m != nil {
			flush()
			cur = &section{label: stripMarkdown(m[2]), depth: len(m[1])}
			// The heading itself is read aloud as the section opener.
			buf = append(buf, m[2])
			continue
		}
		if cur == nil {
			if strings.TrimSpace(line) == "" {
				continue
			}
			cur = &section{label: name, depth: 1}
		}
		buf = append(buf, line)
	}
	flush()
	return sections
}

// stripMarkdown reduces inline markup to its readable text. It is a light
// pass, not a full parser: enough that synthesis never speaks asterisks
// or URLs.
func stripMarkdown(s string) string {
	s = linkRe.ReplaceAllString(s, "$1")
	s = emphRe.ReplaceAllString(s, "$2")
	s = codeRe.ReplaceAllString(s, "")
	return s
}
