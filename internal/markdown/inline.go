package markdown

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/yuin/goldmark/util"
)

var (
	boldItalicPattern = regexp.MustCompile(`\*\*\*(.+?)\*\*\*`)
	boldPattern       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	italicPattern     = regexp.MustCompile(`\*([^*]+?)\*`)
	imagePattern      = regexp.MustCompile(`!\[([^\]]*)\]\(([^)\s]+)\)`)
	linkPattern       = regexp.MustCompile(`\[([^\]]+)\]\(([^)\s]+)\)`)
	urlPattern        = regexp.MustCompile(`https?://[^\s<>"\x00]+`)
	placeholder       = regexp.MustCompile("\x00([0-9]+)\x00")
	emphasisTag       = regexp.MustCompile(`</?(?:strong|em)>`)
)

// inline escapes text and applies the span substitutions. Images, links and bare URLs are cut out
// into placeholders first, so emphasis only ever applies to the text around them.
func inline(text string) string {
	s := string(util.EscapeHTML([]byte(strings.ReplaceAll(text, "\x00", ""))))

	var spans []string
	hold := func(html string) string {
		spans = append(spans, html)
		return "\x00" + strconv.Itoa(len(spans)-1) + "\x00"
	}

	s = imagePattern.ReplaceAllStringFunc(s, func(m string) string {
		sub := imagePattern.FindStringSubmatch(m)
		return hold(fmt.Sprintf(`<img src="%s" alt="%s">`, safeURL(sub[2]), sub[1]))
	})
	s = linkPattern.ReplaceAllStringFunc(s, func(m string) string {
		sub := linkPattern.FindStringSubmatch(m)
		return hold(fmt.Sprintf(`<a href="%s" target="_blank" rel="noopener noreferrer">%s</a>`,
			safeURL(sub[2]), emphasis(sub[1])))
	})
	s = urlPattern.ReplaceAllStringFunc(s, func(m string) string {
		u, tail := splitTrailingPunct(m)
		return hold(fmt.Sprintf(`<a href="%s" target="_blank" rel="noopener noreferrer">%s</a>`, u, u)) + tail
	})

	s = emphasis(s)

	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		i, _ := strconv.Atoi(strings.Trim(m, "\x00"))
		return spans[i]
	})
}

// emphasis applies the bold and italic rules. A pair whose content would leave a tag opened by an
// earlier rule unbalanced is kept as literal asterisks.
func emphasis(s string) string {
	s = wrapBalanced(s, boldItalicPattern, "<strong><em>", "</em></strong>")
	s = wrapBalanced(s, boldPattern, "<strong>", "</strong>")
	return wrapBalanced(s, italicPattern, "<em>", "</em>")
}

func wrapBalanced(s string, re *regexp.Regexp, open, closing string) string {
	return re.ReplaceAllStringFunc(s, func(m string) string {
		inner := re.FindStringSubmatch(m)[1]
		if !balanced(inner) {
			return m
		}
		return open + inner + closing
	})
}

// balanced reports whether every emphasis tag in s is closed inside s, in order.
func balanced(s string) bool {
	var stack []string
	for _, tag := range emphasisTag.FindAllString(s, -1) {
		if !strings.HasPrefix(tag, "</") {
			stack = append(stack, tag[1:])
			continue
		}
		if len(stack) == 0 || stack[len(stack)-1] != tag[2:] {
			return false
		}
		stack = stack[:len(stack)-1]
	}
	return len(stack) == 0
}

// splitTrailingPunct keeps sentence punctuation after a bare URL out of the link.
func splitTrailingPunct(u string) (string, string) {
	trimmed := strings.TrimRight(u, ".,;:!?)*")
	if trimmed == "" || strings.HasSuffix(trimmed, "://") {
		return u, ""
	}
	return trimmed, u[len(trimmed):]
}

// safeURL drops URLs whose scheme could run script in the page.
func safeURL(u string) string {
	lower := strings.ToLower(strings.TrimSpace(u))
	if i := strings.IndexByte(lower, ':'); i >= 0 {
		scheme := lower[:i]
		if strings.ContainsAny(scheme, "/?#") {
			return u
		}
		switch scheme {
		case "http", "https", "mailto":
			return u
		default:
			return "#"
		}
	}
	return u
}
