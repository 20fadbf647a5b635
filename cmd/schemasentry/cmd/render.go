package cmd

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/dbsmedya/schemasentry/internal/sqlcheck"
)

// renderStatementTable formats classified statements as an aligned
// two-column table. Statement text can contain wide runes, so padding
// uses display width rather than byte length.
func renderStatementTable(stmts []sqlcheck.Statement) string {
	const maxStatementWidth = 60

	type row struct {
		text string
		kind string
	}
	rows := make([]row, 0, len(stmts))
	textWidth, kindWidth := runewidth.StringWidth("statement"), runewidth.StringWidth("kind")
	for _, s := range stmts {
		r := row{text: truncateStatement(s.Text, maxStatementWidth), kind: s.Kind}
		if w := runewidth.StringWidth(r.text); w > textWidth {
			textWidth = w
		}
		if w := runewidth.StringWidth(r.kind); w > kindWidth {
			kindWidth = w
		}
		rows = append(rows, r)
	}

	var b strings.Builder
	writeRow := func(num, text, kind string) {
		fmt.Fprintf(&b, "%3s  %s  %s\n",
			num,
			runewidth.FillRight(text, textWidth),
			runewidth.FillRight(kind, kindWidth))
	}

	writeRow("#", "statement", "kind")
	writeRow("", strings.Repeat("-", textWidth), strings.Repeat("-", kindWidth))
	for i, r := range rows {
		writeRow(fmt.Sprintf("%d", i+1), r.text, r.kind)
	}
	return b.String()
}
