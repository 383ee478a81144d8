// Package text converts and sanitizes user-submitted content before it is
// persisted or rendered.
package text

import (
	"bytes"
	"log"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Parser censors titles and converts post bodies between the plain
// (markdown) and rich (client HTML) submission formats.
type Parser struct {
	markdown     goldmark.Markdown
	censoredWord map[string]struct{}
}

// allowed maps tag names that survive sanitization to the attributes kept
// on them. Everything else is stripped, keeping the text content.
var allowed = map[string][]string{
	"p": nil, "br": nil, "b": nil, "i": nil, "em": nil, "strong": nil,
	"u": nil, "s": nil, "blockquote": nil, "pre": nil, "code": nil,
	"ul": nil, "ol": nil, "li": nil,
	"a": {"href"},
}

func NewParser(censoredWords []string) *Parser {
	censored := make(map[string]struct{}, len(censoredWords))
	for _, word := range censoredWords {
		word = strings.ToLower(strings.TrimSpace(word))
		if word != "" {
			censored[word] = struct{}{}
		}
	}
	return &Parser{
		markdown:     goldmark.New(goldmark.WithExtensions(extension.GFM)),
		censoredWord: censored,
	}
}

// Censor replaces each censored word with asterisks of the same length.
// Matching is case-insensitive on whitespace-separated words.
func (p *Parser) Censor(text string) string {
	if len(p.censoredWord) == 0 {
		return text
	}
	fields := strings.Fields(text)
	changed := false
	for i, field := range fields {
		core := strings.Trim(field, ".,!?;:\"'")
		if _, ok := p.censoredWord[strings.ToLower(core)]; ok && core != "" {
			fields[i] = strings.Replace(field, core, strings.Repeat("*", len([]rune(core))), 1)
			changed = true
		}
	}
	if !changed {
		return text
	}
	return strings.Join(fields, " ")
}

// PlainToRendered renders plain (markdown) input to HTML.
func (p *Parser) PlainToRendered(text string) string {
	var buf bytes.Buffer
	if err := p.markdown.Convert([]byte(text), &buf); err != nil {
		log.Printf("text: markdown convert: %v", err)
		return html.EscapeString(text)
	}
	return strings.TrimSpace(buf.String())
}

// RichToSanitized strips rich client HTML down to the allowed tag set,
// preserving text content of removed elements.
func (p *Parser) RichToSanitized(input string) string {
	nodes, err := html.ParseFragment(strings.NewReader(input), &html.Node{
		Type:     html.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	})
	if err != nil {
		log.Printf("text: html parse: %v", err)
		return html.EscapeString(input)
	}
	var buf bytes.Buffer
	for _, node := range nodes {
		renderSanitized(&buf, node)
	}
	return strings.TrimSpace(buf.String())
}

func renderSanitized(buf *bytes.Buffer, node *html.Node) {
	switch node.Type {
	case html.TextNode:
		buf.WriteString(html.EscapeString(node.Data))
		return
	case html.ElementNode:
		keptAttrs, keep := allowed[node.Data]
		if keep {
			buf.WriteString("<" + node.Data)
			for _, attr := range node.Attr {
				if !attrAllowed(keptAttrs, attr.Key) {
					continue
				}
				if attr.Key == "href" && !safeHref(attr.Val) {
					continue
				}
				buf.WriteString(` ` + attr.Key + `="` + html.EscapeString(attr.Val) + `"`)
			}
			buf.WriteString(">")
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			renderSanitized(buf, child)
		}
		if keep && node.Data != "br" {
			buf.WriteString("</" + node.Data + ">")
		}
	default:
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			renderSanitized(buf, child)
		}
	}
}

func attrAllowed(kept []string, key string) bool {
	for _, k := range kept {
		if k == key {
			return true
		}
	}
	return false
}

func safeHref(val string) bool {
	lower := strings.ToLower(strings.TrimSpace(val))
	return strings.HasPrefix(lower, "http://") ||
		strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "mailto:") ||
		strings.HasPrefix(lower, "/")
}
