// Package format renders a finished answer buffer into structured HTML.
//
// Rendering happens only at finalize time; in-flight text is displayed
// literally because partial markers (an unterminated code fence, say)
// would render incorrectly mid-stream. Render is a pure function of its
// input, so finalizing the same buffer twice yields identical output.
//
// Transformation order matters: document blocks first, then fenced code
// blocks, then inline spans and line-oriented rules. Extracting the block
// forms up front keeps their contents out of the markdown-lite pass and
// avoids double-escaping.
package format

import (
	"html"
	"regexp"
	"strings"
)

// Render transforms plain answer text into structured HTML. All raw text
// is HTML-escaped before insertion; only the synthesized structural tags
// remain unescaped.
func Render(text string) string {
	var out strings.Builder
	for _, seg := range splitBlocks(text) {
		switch seg.kind {
		case segDoc:
			out.WriteString(renderCodeContainer("document", "text", seg.content))
		case segCode:
			lang := seg.lang
			if lang == "" {
				lang = "text"
			}
			out.WriteString(renderCodeContainer(lang, lang, seg.content))
		case segRaw:
			out.WriteString(renderLines(seg.content))
		}
	}
	return out.String()
}

type segKind int

const (
	segRaw segKind = iota
	segDoc
	segCode
)

type segment struct {
	kind    segKind
	lang    string
	content string
}

// splitBlocks extracts document blocks, then fenced code blocks from the
// remaining raw spans. Unterminated markers are left as raw text.
func splitBlocks(text string) []segment {
	var out []segment
	for _, seg := range splitMarked(text, "<doc>", "</doc>", segDoc) {
		if seg.kind != segRaw {
			out = append(out, seg)
			continue
		}
		out = append(out, splitFences(seg.content)...)
	}
	return out
}

func splitMarked(text, open, closing string, kind segKind) []segment {
	var out []segment
	for {
		start := strings.Index(text, open)
		if start < 0 {
			break
		}
		end := strings.Index(text[start+len(open):], closing)
		if end < 0 {
			break
		}
		inner := text[start+len(open) : start+len(open)+end]
		if start > 0 {
			out = append(out, segment{kind: segRaw, content: text[:start]})
		}
		out = append(out, segment{kind: kind, content: strings.TrimSpace(inner)})
		text = text[start+len(open)+end+len(closing):]
	}
	if text != "" {
		out = append(out, segment{kind: segRaw, content: text})
	}
	return out
}

var fenceLangRe = regexp.MustCompile(`^(\w+)?\s*`)

func splitFences(text string) []segment {
	const fence = "```"
	var out []segment
	for {
		start := strings.Index(text, fence)
		if start < 0 {
			break
		}
		rest := text[start+len(fence):]
		end := strings.Index(rest, fence)
		if end < 0 {
			break
		}
		body := rest[:end]
		lang := ""
		if m := fenceLangRe.FindStringSubmatch(body); m != nil {
			lang = m[1]
			body = body[len(m[0]):]
		}
		if start > 0 {
			out = append(out, segment{kind: segRaw, content: text[:start]})
		}
		out = append(out, segment{kind: segCode, lang: lang, content: strings.TrimSpace(body)})
		text = rest[end+len(fence):]
	}
	if text != "" {
		out = append(out, segment{kind: segRaw, content: text})
	}
	return out
}

func renderCodeContainer(label, lang, content string) string {
	var b strings.Builder
	b.WriteString(`<div class="code-block-container"><div class="code-header"><span class="language-label">`)
	b.WriteString(html.EscapeString(label))
	b.WriteString(`</span></div><pre><code class="language-`)
	b.WriteString(html.EscapeString(lang))
	b.WriteString(`">`)
	b.WriteString(html.EscapeString(content))
	b.WriteString(`</code></pre></div>`)
	return b.String()
}

// renderLines applies the line-oriented markdown-lite rules to a raw
// span: headings 1-3, unordered lists (consecutive items grouped), block
// quotes, horizontal rules, and paragraphs broken on blank lines with
// <br> joining single newlines. A span with none of those produces a
// single paragraph.
func renderLines(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	var out strings.Builder
	var para []string
	var list []string

	flushPara := func() {
		if len(para) == 0 {
			return
		}
		out.WriteString("<p>")
		out.WriteString(strings.Join(para, "<br>"))
		out.WriteString("</p>")
		para = nil
	}
	flushList := func() {
		if len(list) == 0 {
			return
		}
		out.WriteString("<ul>")
		for _, item := range list {
			out.WriteString("<li>")
			out.WriteString(item)
			out.WriteString("</li>")
		}
		out.WriteString("</ul>")
		list = nil
	}

	for _, line := range lines {
		trimmed := strings.TrimRight(line, " \t")
		switch {
		case strings.TrimSpace(trimmed) == "":
			flushList()
			flushPara()
		case strings.HasPrefix(trimmed, "- "):
			flushPara()
			list = append(list, renderInline(trimmed[2:]))
		case strings.HasPrefix(trimmed, "### "):
			flushList()
			flushPara()
			out.WriteString("<h3>" + renderInline(trimmed[4:]) + "</h3>")
		case strings.HasPrefix(trimmed, "## "):
			flushList()
			flushPara()
			out.WriteString("<h2>" + renderInline(trimmed[3:]) + "</h2>")
		case strings.HasPrefix(trimmed, "# "):
			flushList()
			flushPara()
			out.WriteString("<h1>" + renderInline(trimmed[2:]) + "</h1>")
		case strings.HasPrefix(trimmed, "> "):
			flushList()
			flushPara()
			out.WriteString("<blockquote>" + renderInline(trimmed[2:]) + "</blockquote>")
		case trimmed == "---":
			flushList()
			flushPara()
			out.WriteString("<hr>")
		default:
			flushList()
			para = append(para, renderInline(trimmed))
		}
	}
	flushList()
	flushPara()
	return out.String()
}

var (
	boldRe   = regexp.MustCompile(`\*\*(.+?)\*\*`)
	italicRe = regexp.MustCompile(`\*(.+?)\*`)
)

// renderInline escapes a line and applies inline code spans, bold and
// italic. Code span contents are escaped but exempt from emphasis.
func renderInline(line string) string {
	var b strings.Builder
	for {
		open := strings.IndexByte(line, '`')
		if open < 0 {
			break
		}
		closeIdx := strings.IndexByte(line[open+1:], '`')
		if closeIdx < 0 {
			break
		}
		b.WriteString(renderEmphasis(line[:open]))
		b.WriteString(`<code class="inline-code">`)
		b.WriteString(html.EscapeString(line[open+1 : open+1+closeIdx]))
		b.WriteString(`</code>`)
		line = line[open+1+closeIdx+1:]
	}
	b.WriteString(renderEmphasis(line))
	return b.String()
}

// renderEmphasis works on escaped text; escaping touches none of the
// emphasis markers, so the substitution cannot corrupt entities.
func renderEmphasis(s string) string {
	escaped := html.EscapeString(s)
	escaped = boldRe.ReplaceAllString(escaped, "<strong>$1</strong>")
	return italicRe.ReplaceAllString(escaped, "<em>$1</em>")
}
