package markdown

import (
	"bytes"
	"regexp"
	"strings"

	chromahtml "github.com/alecthomas/chroma/formatters/html"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Goldmark is the Engine for backends that answer in CommonMark. Tables come from the GFM extension,
// fenced code blocks are highlighted with chroma classes, and the result goes through a bluemonday UGC
// policy before it leaves the engine.
type Goldmark struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

// GoldmarkOption configures a Goldmark engine.
type GoldmarkOption func(*goldmarkOptions)

type goldmarkOptions struct {
	style       string
	lineNumbers bool
}

// WithStyle sets the chroma style used for code blocks.
func WithStyle(style string) GoldmarkOption {
	return func(o *goldmarkOptions) {
		o.style = style
	}
}

// WithLineNumbers enables line numbers in highlighted code blocks.
func WithLineNumbers(enabled bool) GoldmarkOption {
	return func(o *goldmarkOptions) {
		o.lineNumbers = enabled
	}
}

var chromaClassPattern = regexp.MustCompile(`^[a-zA-Z0-9 _-]+$`)

// NewGoldmark creates a Goldmark engine.
func NewGoldmark(opts ...GoldmarkOption) Goldmark {
	o := goldmarkOptions{style: "github"}
	for _, opt := range opts {
		opt(&o)
	}

	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			highlighting.NewHighlighting(
				highlighting.WithStyle(o.style),
				highlighting.WithFormatOptions(
					chromahtml.WithClasses(true),
					chromahtml.WithLineNumbers(o.lineNumbers),
				),
			),
		),
		goldmark.WithRendererOptions(html.WithHardWraps()),
	)

	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("class").Matching(chromaClassPattern).OnElements("span", "pre", "code")
	policy.AddTargetBlankToFullyQualifiedLinks(true)

	return Goldmark{md: md, policy: policy}
}

// Render implements Engine.
func (g Goldmark) Render(text string) string {
	if text == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := g.md.Convert([]byte(text), &buf); err != nil {
		// Conversion only fails on writer errors, which a bytes.Buffer never returns.
		return string(g.policy.SanitizeBytes([]byte(text)))
	}
	return string(g.policy.SanitizeBytes(buf.Bytes()))
}

// NewStream implements Engine. CommonMark blocks can change meaning with later lines, so the stream
// re-renders every terminated line on each write.
func (g Goldmark) NewStream() Stream {
	return &goldmarkStream{engine: g}
}

type goldmarkStream struct {
	engine Goldmark
	buf    strings.Builder
}

func (s *goldmarkStream) Write(chunk string) string {
	s.buf.WriteString(chunk)
	text := s.buf.String()
	i := strings.LastIndexByte(text, '\n')
	if i < 0 {
		return ""
	}
	return s.engine.Render(text[:i+1])
}

func (s *goldmarkStream) Close() string {
	return s.engine.Render(s.buf.String())
}
