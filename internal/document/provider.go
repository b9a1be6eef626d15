package document

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var ErrEmptyDocument = errors.New("document has no readable text")

// TOCEntry is one navigation target.
type TOCEntry struct {
	Label string `json:"label"`
	Ref   string `json:"ref"`
	Depth int    `json:"depth"`
}

// Provider exposes the readable content of an open document: the text of
// the currently visible section, navigation by table-of-contents ref, and
// a change event fired whenever the visible section moves.
type Provider interface {
	VisibleText() string
	DisplayAt(ref string) error
	TableOfContents() []TOCEntry
	OnNavigate(fn func())
}

type section struct {
	label string
	ref   string
	depth int
	text  string
}

// FileProvider serves a markdown or plaintext file, one heading-delimited
// section visible at a time.
type FileProvider struct {
	mu       sync.Mutex
	sections []section
	current  int
	onNav    []func()
}

// OpenFile loads and sections a document from disk. When structured
// parsing yields nothing readable it falls back to the raw file contents;
// only a document empty both ways is rejected.
func OpenFile(path string) (*FileProvider, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return NewFromText(name, string(raw))
}

// NewFromText sections the given content. The name labels the fallback
// single section when the content has no headings.
func NewFromText(name, content string) (*FileProvider, error) {
	sections := sectionize(name, content)
	if len(sections) == 0 {
		// Fallback extraction path: serve the raw text unsectioned.
		if strings.TrimSpace(content) == "" {
			return nil, ErrEmptyDocument
		}
		sections = []section{{label: name, ref: "sec-0", depth: 1, text: content}}
	}
	return &FileProvider{sections: sections}, nil
}

func (p *FileProvider) VisibleText() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sections[p.current].text
}

func (p *FileProvider) TableOfContents() []TOCEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	toc := make([]TOCEntry, len(p.sections))
	for i, s := range p.sections {
		toc[i] = TOCEntry{Label: s.label, Ref: s.ref, Depth: s.depth}
	}
	return toc
}

func (p *FileProvider) DisplayAt(ref string) error {
	p.mu.Lock()
	idx := -1
	for i, s := range p.sections {
		if s.ref == ref {
			idx = i
			break
		}
	}
	if idx < 0 {
		p.mu.Unlock()
		return fmt.Errorf("unknown section ref %q", ref)
	}
	changed := idx != p.current
	p.current = idx
	handlers := append([]func(){}, p.onNav...)
	p.mu.Unlock()

	if changed {
		for _, fn := range handlers {
			fn()
		}
	}
	return nil
}

// OnNavigate registers a handler fired after the visible section changes.
func (p *FileProvider) OnNavigate(fn func()) {
	p.mu.Lock()
	p.onNav = append(p.onNav, fn)
	p.mu.Unlock()
}
