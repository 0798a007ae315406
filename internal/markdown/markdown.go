// Package markdown renders bot answers to HTML fragments. The Subset engine understands the small
// line-oriented dialect the chatbot backend answers in (headers, emphasis, links, images, bullet lists and
// pipe tables); the Goldmark engine is a full CommonMark renderer for deployments whose backend answers
// in regular markdown. Both produce output that is safe to inject into the page.
package markdown

import (
	"fmt"
	"strings"
)

// Engine renders a complete text, or a text that arrives in chunks through a Stream.
type Engine interface {
	Render(text string) string
	NewStream() Stream
}

// Stream renders a text that arrives in chunks. Write returns the HTML of everything rendered so far,
// with any block still open closed in the returned snapshot only; text after the last newline is held
// back until it is terminated or Close is called. Close returns the final HTML. A Stream belongs to one
// response and is not safe for concurrent use.
type Stream interface {
	Write(chunk string) string
	Close() string
}

// Engine names accepted by NewEngine.
const (
	EngineSubset   = "subset"
	EngineGoldmark = "goldmark"
)

// Subset is the Engine for the line-oriented dialect.
type Subset struct{}

// Render converts text to HTML.
func Render(text string) string {
	return Subset{}.Render(text)
}

// Render implements Engine.
func (Subset) Render(text string) string {
	s := Subset{}.NewStream()
	s.Write(text)
	return s.Close()
}

// NewStream implements Engine.
func (Subset) NewStream() Stream {
	return &lineStream{}
}

// NewEngine returns the engine registered under name. An empty name selects the Subset engine.
func NewEngine(name string, opts ...GoldmarkOption) (Engine, error) {
	switch name {
	case "", EngineSubset:
		return Subset{}, nil
	case EngineGoldmark:
		return NewGoldmark(opts...), nil
	default:
		return nil, fmt.Errorf("unknown markdown engine: %s", name)
	}
}

type lineStream struct {
	pending string
	blocks  blockWriter
}

func (s *lineStream) Write(chunk string) string {
	s.pending += chunk
	for {
		i := strings.IndexByte(s.pending, '\n')
		if i < 0 {
			break
		}
		s.blocks.line(s.pending[:i])
		s.pending = s.pending[i+1:]
	}
	return s.blocks.snapshot()
}

func (s *lineStream) Close() string {
	if s.pending != "" {
		s.blocks.line(s.pending)
		s.pending = ""
	}
	s.blocks.closeAll()
	return s.blocks.out.String()
}
