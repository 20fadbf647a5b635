// Package sqlcheck classifies raw SQL as safe or dangerous before it
// reaches the database, and normalizes the artifacts upstream SQL
// generation tends to leave behind.
package sqlcheck

import (
	"regexp"
	"strings"
)

// ValidationError is a rejection produced by the cleanup or
// classification pass. It is reported verbatim to the caller and is
// never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid SQL: " + e.Reason
}

// cleanupRule is one independent, ordered rewrite applied during
// cleanup. Rules are named so tests can exercise each in isolation.
type cleanupRule struct {
	name    string
	pattern *regexp.Regexp
	replace string
	// repeat re-applies the rule until the input stops changing
	// (consecutive AND AND collapses pairwise).
	repeat bool
}

var cleanupRules = []cleanupRule{
	{
		name:    "where-and",
		pattern: regexp.MustCompile(`(?i)\bWHERE\s+AND\b`),
		replace: "WHERE",
	},
	{
		name:    "and-and",
		pattern: regexp.MustCompile(`(?i)\bAND\s+AND\b`),
		replace: "AND",
		repeat:  true,
	},
	{
		name:    "trailing-and",
		pattern: regexp.MustCompile(`(?i)\s+AND\s*($|;|\bORDER\s+BY\b|\bGROUP\s+BY\b|\bLIMIT\b|\bHAVING\b)`),
		replace: " $1",
	},
	{
		name:    "empty-where",
		pattern: regexp.MustCompile(`(?i)\bWHERE\s*($|;|\bORDER\s+BY\b|\bGROUP\s+BY\b|\bLIMIT\b|\bHAVING\b)`),
		replace: "$1",
	},
}

// Clean strips comments, collapses whitespace, and repairs the
// dangling WHERE/AND fragments generated SQL leaves behind, then
// verifies the result is still structurally sound (balanced
// parentheses, SELECT before FROM). The returned string has no
// trailing semicolon.
func Clean(input string) (string, error) {
	sql := stripComments(input)
	sql = collapseWhitespace(sql)

	for _, rule := range cleanupRules {
		for {
			next := rule.pattern.ReplaceAllString(sql, rule.replace)
			if next == sql || !rule.repeat {
				sql = next
				break
			}
			sql = next
		}
	}

	sql = collapseWhitespace(sql)
	sql = strings.TrimSuffix(sql, ";")
	sql = strings.TrimSpace(sql)

	if sql == "" {
		return "", &ValidationError{Reason: "query is empty"}
	}
	if err := checkStructure(sql); err != nil {
		return "", err
	}
	return sql, nil
}

// stripComments removes -- and # line comments and /* */ block
// comments, leaving string literals and backtick identifiers intact.
func stripComments(sql string) string {
	var out strings.Builder
	out.Grow(len(sql))

	runes := []rune(sql)
	n := len(runes)
	var quote rune // active string/identifier delimiter, 0 if none

	for i := 0; i < n; i++ {
		c := runes[i]

		if quote != 0 {
			out.WriteRune(c)
			if c == quote {
				quote = 0
			} else if c == '\\' && quote != '`' && i+1 < n {
				// Escaped character inside a string literal
				i++
				out.WriteRune(runes[i])
			}
			continue
		}

		switch {
		case c == '\'' || c == '"' || c == '`':
			quote = c
			out.WriteRune(c)
		case c == '-' && i+1 < n && runes[i+1] == '-':
			for i < n && runes[i] != '\n' {
				i++
			}
			out.WriteRune(' ')
		case c == '#':
			for i < n && runes[i] != '\n' {
				i++
			}
			out.WriteRune(' ')
		case c == '/' && i+1 < n && runes[i+1] == '*':
			i += 2
			for i+1 < n && !(runes[i] == '*' && runes[i+1] == '/') {
				i++
			}
			i++ // skip closing '/'
			out.WriteRune(' ')
		default:
			out.WriteRune(c)
		}
	}
	return out.String()
}

var whitespacePattern = regexp.MustCompile(`\s+`)

func collapseWhitespace(sql string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(sql, " "))
}

// checkStructure verifies parenthesis balance and that any statement
// containing FROM still has a SELECT before it. Cleanup must never
// hand a mangled statement to classification.
func checkStructure(sql string) error {
	depth := 0
	var quote rune
	for _, c := range sql {
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return &ValidationError{Reason: "unbalanced parentheses"}
			}
		}
	}
	if depth != 0 {
		return &ValidationError{Reason: "unbalanced parentheses"}
	}

	upper := strings.ToUpper(sql)
	fromIdx := indexOfKeyword(upper, "FROM")
	if fromIdx >= 0 {
		selectIdx := indexOfKeyword(upper, "SELECT")
		if selectIdx < 0 || selectIdx > fromIdx {
			return &ValidationError{Reason: "FROM clause without a preceding SELECT"}
		}
	}
	return nil
}

// indexOfKeyword finds a whole-word keyword in an upper-cased string.
func indexOfKeyword(upper, keyword string) int {
	for start := 0; ; {
		idx := strings.Index(upper[start:], keyword)
		if idx < 0 {
			return -1
		}
		idx += start
		before := idx == 0 || !isWordChar(upper[idx-1])
		afterIdx := idx + len(keyword)
		after := afterIdx >= len(upper) || !isWordChar(upper[afterIdx])
		if before && after {
			return idx
		}
		start = idx + len(keyword)
	}
}

func isWordChar(b byte) bool {
	return b == '_' || (b >= '0' && b <= '9') || (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

// RuleNames returns the cleanup rule names in application order.
// Used by the CLI to explain what the cleanup pass does.
func RuleNames() []string {
	names := make([]string, len(cleanupRules))
	for i, r := range cleanupRules {
		names[i] = r.name
	}
	return names
}
