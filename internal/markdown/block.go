package markdown

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	headerPattern    = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)
	separatorPattern = regexp.MustCompile(`^[-:]+$`)
)

type tableState int

const (
	tableClosed tableState = iota
	tableHead
	tableBody
)

// blockWriter keeps the open list and table across lines, so the same state machine serves whole
// texts and streamed ones.
type blockWriter struct {
	out    strings.Builder
	inList bool
	table  tableState
}

func (b *blockWriter) line(raw string) {
	raw = strings.TrimSuffix(raw, "\r")
	trimmed := strings.TrimSpace(raw)

	cells, isRow := tableCells(trimmed)
	if b.table != tableClosed && !isRow {
		b.closeTable()
	}
	item, isBullet := bulletItem(raw)
	if b.inList && !isBullet {
		b.closeList()
	}

	if m := headerPattern.FindStringSubmatch(trimmed); m != nil {
		level := len(m[1])
		fmt.Fprintf(&b.out, "<h%d>%s</h%d>", level, inline(strings.TrimSpace(m[2])), level)
		return
	}

	if isRow {
		b.row(cells)
		return
	}

	if isBullet {
		if !b.inList {
			b.out.WriteString("<ul>")
			b.inList = true
		}
		fmt.Fprintf(&b.out, "<li>%s</li>", inline(item))
		return
	}

	if trimmed == "" {
		return
	}
	fmt.Fprintf(&b.out, "<p>%s</p>", inline(trimmed))
}

func (b *blockWriter) row(cells []string) {
	if isSeparatorRow(cells) {
		switch b.table {
		case tableClosed:
			b.out.WriteString("<table><tbody>")
			b.table = tableBody
		case tableHead:
			b.out.WriteString("</thead><tbody>")
			b.table = tableBody
		}
		return
	}

	tag := "td"
	switch b.table {
	case tableClosed:
		b.out.WriteString("<table><thead>")
		b.table = tableHead
		tag = "th"
	case tableHead:
		tag = "th"
	}

	b.out.WriteString("<tr>")
	for _, c := range cells {
		fmt.Fprintf(&b.out, "<%s>%s</%s>", tag, inline(c), tag)
	}
	b.out.WriteString("</tr>")
}

func (b *blockWriter) closeList() {
	b.out.WriteString(b.listCloser())
	b.inList = false
}

func (b *blockWriter) closeTable() {
	b.out.WriteString(b.tableCloser())
	b.table = tableClosed
}

func (b *blockWriter) closeAll() {
	if b.table != tableClosed {
		b.closeTable()
	}
	if b.inList {
		b.closeList()
	}
}

func (b *blockWriter) listCloser() string {
	if !b.inList {
		return ""
	}
	return "</ul>"
}

func (b *blockWriter) tableCloser() string {
	switch b.table {
	case tableHead:
		return "</thead></table>"
	case tableBody:
		return "</tbody></table>"
	default:
		return ""
	}
}

// snapshot returns the output so far with open blocks closed, leaving the state untouched.
func (b *blockWriter) snapshot() string {
	return b.out.String() + b.tableCloser() + b.listCloser()
}

// tableCells reports whether line is a piped row and returns its trimmed cells.
func tableCells(line string) ([]string, bool) {
	if len(line) < 2 || line[0] != '|' || line[len(line)-1] != '|' {
		return nil, false
	}
	parts := strings.Split(line[1:len(line)-1], "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts, true
}

func isSeparatorRow(cells []string) bool {
	for _, c := range cells {
		if !separatorPattern.MatchString(c) {
			return false
		}
	}
	return len(cells) > 0
}

func bulletItem(line string) (string, bool) {
	rest, ok := strings.CutPrefix(strings.TrimLeft(line, " \t"), "- ")
	if !ok {
		return "", false
	}
	return strings.TrimSpace(rest), true
}
