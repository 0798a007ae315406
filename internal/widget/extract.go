package widget

import (
	"regexp"
	"strings"
)

// ResponseIDExtractor recovers the response identifier from a completed streamed answer. It returns the
// identifier and the answer without whatever carried it.
type ResponseIDExtractor func(text string) (responseID, body string)

var trailerPattern = regexp.MustCompile(`^\s*responseID:\s*(\S+)\s*$`)

// TrailerExtractor reads the identifier from a last line of the form "responseID: <id>". Text without
// such a line is returned unchanged with an empty identifier.
func TrailerExtractor(text string) (string, string) {
	trimmed := strings.TrimRight(text, " \t\r\n")
	i := strings.LastIndexByte(trimmed, '\n')

	m := trailerPattern.FindStringSubmatch(trimmed[i+1:])
	if m == nil {
		return "", text
	}
	if i < 0 {
		return m[1], ""
	}
	return m[1], strings.TrimRight(trimmed[:i], "\r\n")
}
