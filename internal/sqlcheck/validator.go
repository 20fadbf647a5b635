package sqlcheck

import (
	"fmt"
	"strings"
)

// Kind classifies a statement by its leading keyword.
type Kind int

const (
	KindUnknown Kind = iota
	KindUse
	KindSelect
	KindShow
	KindDescribe
	KindMutating
)

func (k Kind) String() string {
	switch k {
	case KindUse:
		return "USE"
	case KindSelect:
		return "SELECT"
	case KindShow:
		return "SHOW"
	case KindDescribe:
		return "DESCRIBE"
	case KindMutating:
		return "mutating"
	default:
		return "unknown"
	}
}

// IsRead reports whether the statement produces a result set.
func (k Kind) IsRead() bool {
	return k == KindSelect || k == KindShow || k == KindDescribe
}

// mutatingKeywords are the leading keywords that make a statement
// dangerous to run through this service under any circumstances.
var mutatingKeywords = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true,
	"DROP": true, "CREATE": true, "ALTER": true,
	"TRUNCATE": true, "REPLACE": true, "RENAME": true,
	"GRANT": true, "REVOKE": true, "SET": true,
	"LOCK": true, "UNLOCK": true, "CALL": true,
	"LOAD": true, "START": true, "BEGIN": true,
	"COMMIT": true, "ROLLBACK": true, "FLUSH": true,
	"KILL": true, "OPTIMIZE": true, "ANALYZE": true,
	"REPAIR": true,
}

// Classify maps a single statement to its Kind by leading keyword.
func Classify(stmt string) Kind {
	fields := strings.Fields(stmt)
	if len(fields) == 0 {
		return KindUnknown
	}
	keyword := strings.ToUpper(fields[0])

	switch keyword {
	case "USE":
		return KindUse
	case "SELECT", "WITH":
		// WITH introduces a CTE whose body must itself be a SELECT;
		// a mutating CTE body would surface as a database error, not
		// a mutation, because CTE DML requires the statement keyword.
		return KindSelect
	case "SHOW":
		return KindShow
	case "DESC", "DESCRIBE", "EXPLAIN":
		return KindDescribe
	}
	if mutatingKeywords[keyword] {
		return KindMutating
	}
	return KindUnknown
}

// Statement is one classified fragment of the input.
type Statement struct {
	Text string `json:"text"`
	Kind string `json:"kind"`
}

// Verdict is the outcome of validating one raw SQL input.
type Verdict struct {
	Input      string      `json:"input"`
	Valid      bool        `json:"valid"`
	Reason     string      `json:"reason,omitempty"`
	Normalized string      `json:"normalized,omitempty"`
	Statements []Statement `json:"statements,omitempty"`

	// UseDatabase is the database named by a leading USE, if any.
	UseDatabase string `json:"use_database,omitempty"`
	// ReadStmt is the single read-producing statement, if any.
	ReadStmt string `json:"-"`
}

// Validate runs the full pipeline over a raw SQL input: cleanup, then
// split into statements, then classification.
//
// The only accepted shapes are a single read statement
// (SELECT/SHOW/DESCRIBE/EXPLAIN), a standalone USE, or a leading USE
// followed by exactly one read statement. Any mutating or
// unrecognized statement anywhere, a second read statement, a second
// USE, or a USE in any position but the first rejects the entire
// input.
func Validate(input string) Verdict {
	verdict := Verdict{Input: input}

	cleaned, err := Clean(input)
	if err != nil {
		verdict.Reason = err.(*ValidationError).Reason
		return verdict
	}

	stmts := splitStatements(cleaned)
	if len(stmts) == 0 {
		verdict.Reason = "query is empty"
		return verdict
	}

	var useCount, readCount int
	for i, stmt := range stmts {
		kind := Classify(stmt)
		verdict.Statements = append(verdict.Statements, Statement{Text: stmt, Kind: kind.String()})

		switch {
		case kind == KindMutating:
			verdict.Reason = fmt.Sprintf("statement %d is a mutating %s", i+1, leadingKeyword(stmt))
			return verdict
		case kind == KindUnknown:
			verdict.Reason = fmt.Sprintf("statement %d has unrecognized leading keyword %q", i+1, leadingKeyword(stmt))
			return verdict
		case kind == KindUse:
			if i != 0 {
				verdict.Reason = fmt.Sprintf("statement %d: USE is only allowed as the first statement", i+1)
				return verdict
			}
			useCount++
			verdict.UseDatabase = useTarget(stmt)
			if verdict.UseDatabase == "" {
				verdict.Reason = "USE statement names no database"
				return verdict
			}
		default: // read statement
			readCount++
			if readCount > 1 {
				verdict.Reason = fmt.Sprintf("statement %d is a second read statement (%s); only one is allowed", i+1, kind)
				return verdict
			}
			verdict.ReadStmt = stmt
		}
	}

	// Standalone USE is a valid context switch; USE + one read is the
	// only valid multi-statement sequence.
	verdict.Valid = true
	verdict.Normalized = strings.Join(stmts, "; ") + ";"
	return verdict
}

// splitStatements splits on semicolons outside string literals and
// backtick identifiers, trimming empty fragments.
func splitStatements(sql string) []string {
	var stmts []string
	var quote rune
	start := 0

	runes := []rune(sql)
	for i, c := range runes {
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case ';':
			if frag := strings.TrimSpace(string(runes[start:i])); frag != "" {
				stmts = append(stmts, frag)
			}
			start = i + 1
		}
	}
	if frag := strings.TrimSpace(string(runes[start:])); frag != "" {
		stmts = append(stmts, frag)
	}
	return stmts
}

// leadingKeyword returns the upper-cased first word of a statement.
func leadingKeyword(stmt string) string {
	fields := strings.Fields(stmt)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

// useTarget extracts the database named by a USE statement, stripping
// backticks.
func useTarget(stmt string) string {
	fields := strings.Fields(stmt)
	if len(fields) < 2 {
		return ""
	}
	return strings.Trim(fields[1], "`")
}
