// Package highlight turns source code into a standalone HTML document using chroma.
//
// The result is a complete page with inline styles, so the /highlight
// endpoint can serve it verbatim without any accompanying stylesheet.
package highlight

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

var (
	ErrUnknownLanguage = errors.New("unknown language")
	ErrUnknownStyle    = errors.New("unknown style")
)

// Highlighter renders code with chroma. The zero value is ready to use;
// it holds no state, so one instance is shared by every request.
type Highlighter struct{}

func New() *Highlighter {
	return &Highlighter{}
}

// Render produces the highlighted HTML document for code.
//
// language and style are chroma names (case-insensitive, aliases allowed).
// The output depends only on the four inputs.
func (h *Highlighter) Render(code, language, style string, linenos bool) (string, error) {
	lexer := lexers.Get(language)
	if lexer == nil {
		return "", fmt.Errorf("highlight: %w: %q", ErrUnknownLanguage, language)
	}
	st := lookupStyle(style)
	if st == nil {
		return "", fmt.Errorf("highlight: %w: %q", ErrUnknownStyle, style)
	}

	// Coalesce merges adjacent tokens of the same type, which keeps the
	// generated markup noticeably smaller.
	lexer = chroma.Coalesce(lexer)

	formatter := html.New(
		html.Standalone(true),
		html.WithClasses(false),
		html.WithLineNumbers(linenos),
		html.TabWidth(4),
	)

	it, err := lexer.Tokenise(nil, code)
	if err != nil {
		return "", fmt.Errorf("highlight: tokenising %s: %w", language, err)
	}

	var b strings.Builder
	if err := formatter.Format(&b, st, it); err != nil {
		return "", fmt.Errorf("highlight: formatting: %w", err)
	}
	return b.String(), nil
}

// Supports reports whether both tags are known. The service calls this
// during validation so a bad tag is rejected before anything is rendered.
func (h *Highlighter) Supports(language, style string) (languageOK, styleOK bool) {
	return lexers.Get(language) != nil, lookupStyle(style) != nil
}

// Languages returns every language name chroma can lex, sorted.
func (h *Highlighter) Languages() []string {
	names := lexers.Names(false)
	sort.Strings(names)
	return names
}

// Styles returns every registered style name, sorted.
func (h *Highlighter) Styles() []string {
	names := styles.Names()
	sort.Strings(names)
	return names
}

// lookupStyle only consults the registry. styles.Get falls back to a
// default style for unknown names, which would hide typos.
func lookupStyle(name string) *chroma.Style {
	if st, ok := styles.Registry[strings.ToLower(name)]; ok {
		return st
	}
	return nil
}
