package format

import (
	"strings"
	"testing"
)

func TestRenderPlainParagraph(t *testing.T) {
	got := Render("Hello")
	want := "<p>Hello</p>"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestRenderParagraphBreaks(t *testing.T) {
	got := Render("first line\nsecond line\n\nnext paragraph")
	want := "<p>first line<br>second line</p><p>next paragraph</p>"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestRenderHeadingsAndList(t *testing.T) {
	got := Render("# Title\n## Sub\n### Deep\n- one\n- two\n\ntail")
	want := "<h1>Title</h1><h2>Sub</h2><h3>Deep</h3>" +
		"<ul><li>one</li><li>two</li></ul><p>tail</p>"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestRenderListGroupsConsecutiveItems(t *testing.T) {
	got := Render("- a\n- b\n\n- c")
	want := "<ul><li>a</li><li>b</li></ul><ul><li>c</li></ul>"
	if got != want {
		t.Fatalf("expected two separate lists, got %q", got)
	}
}

func TestRenderBlockquoteAndRule(t *testing.T) {
	got := Render("> quoted\n---")
	want := "<blockquote>quoted</blockquote><hr>"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestRenderEscapesRawText(t *testing.T) {
	got := Render("a < b & <script>")
	if strings.Contains(got, "<script>") {
		t.Fatalf("raw markup leaked into output: %q", got)
	}
	want := "<p>a &lt; b &amp; &lt;script&gt;</p>"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestRenderEmphasis(t *testing.T) {
	got := Render("**bold** and *italic*")
	want := "<p><strong>bold</strong> and <em>italic</em></p>"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestRenderInlineCodeEscapedAndExemptFromEmphasis(t *testing.T) {
	got := Render("use `x<y` and `**raw**` here")
	want := `<p>use <code class="inline-code">x&lt;y</code> and ` +
		`<code class="inline-code">**raw**</code> here</p>`
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestRenderFencedCodeBlock(t *testing.T) {
	got := Render("before\n```go\nx := 1\n```\nafter")
	want := "<p>before</p>" +
		`<div class="code-block-container"><div class="code-header">` +
		`<span class="language-label">go</span></div>` +
		`<pre><code class="language-go">x := 1</code></pre></div>` +
		"<p>after</p>"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestRenderFenceWithoutLanguageDefaultsToText(t *testing.T) {
	got := Render("```\nplain\n```")
	if !strings.Contains(got, `<span class="language-label">text</span>`) {
		t.Fatalf("expected text label, got %q", got)
	}
	if !strings.Contains(got, `<code class="language-text">plain</code>`) {
		t.Fatalf("expected language-text code class, got %q", got)
	}
}

func TestRenderCodeBlockEscapesContents(t *testing.T) {
	got := Render("```html\n<div>&</div>\n```")
	if !strings.Contains(got, "&lt;div&gt;&amp;&lt;/div&gt;") {
		t.Fatalf("expected escaped code contents, got %q", got)
	}
}

func TestRenderDocumentBlock(t *testing.T) {
	got := Render("intro\n<doc>\nsource passage\n</doc>")
	want := "<p>intro</p>" +
		`<div class="code-block-container"><div class="code-header">` +
		`<span class="language-label">document</span></div>` +
		`<pre><code class="language-text">source passage</code></pre></div>`
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestRenderDocBlockContentsSkipMarkdownPass(t *testing.T) {
	got := Render("<doc># not a heading</doc>")
	if strings.Contains(got, "<h1>") {
		t.Fatalf("document contents must not be markdown-processed: %q", got)
	}
}

func TestRenderUnterminatedFenceStaysRaw(t *testing.T) {
	got := Render("look at this\n``` go\nimport \"os\"")
	if strings.Contains(got, "code-block-container") {
		t.Fatalf("unterminated fence must not form a block: %q", got)
	}
	if !strings.Contains(got, "import") {
		t.Fatalf("fence text dropped from output: %q", got)
	}
}

func TestRenderIsDeterministic(t *testing.T) {
	in := "# a\n```go\nb\n```\n**c** `d`"
	if Render(in) != Render(in) {
		t.Fatalf("expected identical output for identical input")
	}
}
