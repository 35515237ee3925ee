package grammar

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// Validator reports the first syntax problem of sql under dialect, or nil.
type Validator interface {
	Validate(ctx context.Context, sql string, dialect string) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(ctx context.Context, sql string, dialect string) error

func (f ValidatorFunc) Validate(ctx context.Context, sql string, dialect string) error {
	return f(ctx, sql, dialect)
}

// SyntaxError locates a problem in the validated text.
type SyntaxError struct {
	Line    int
	Message string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

// backtickDialects accept `quoted` identifiers.
var backtickDialects = map[string]bool{
	"mysql":      true,
	"hive":       true,
	"spark":      true,
	"databricks": true,
	"doris":      true,
	"starrocks":  true,
	"clickhouse": true,
	"bigquery":   true,
	"sqlite":     true,
}

// leadingKeywords are the statement kinds accepted in a DDL script.
var leadingKeywords = map[string]bool{
	"CREATE":   true,
	"ALTER":    true,
	"DROP":     true,
	"COMMENT":  true,
	"SET":      true,
	"USE":      true,
	"GRANT":    true,
	"TRUNCATE": true,
}

// StructuralValidator checks DDL structure: balanced quotes, comments and
// parentheses, known statement heads, and well-formed CREATE TABLE column
// lists. It does not resolve types or names.
type StructuralValidator struct{}

func NewStructuralValidator() *StructuralValidator {
	return &StructuralValidator{}
}

type statement struct {
	text string
	line int
}

func (v *StructuralValidator) Validate(ctx context.Context, sql string, dialect string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stmts, err := scan(sql, backtickDialects[strings.ToLower(dialect)])
	if err != nil {
		return err
	}
	if len(stmts) == 0 {
		return &SyntaxError{Line: 1, Message: "no statements"}
	}
	for _, stmt := range stmts {
		if err := checkStatement(stmt); err != nil {
			return err
		}
	}
	return nil
}

// scan splits sql into statements on top-level semicolons, blanking out
// comments and quoted content and checking that quotes, comments and
// parentheses close.
func scan(sql string, backticks bool) ([]statement, error) {
	var (
		stmts     []statement
		cur       strings.Builder
		line      = 1
		stmtLine  = 0
		depth     = 0
		openParen []int
	)
	runes := []rune(sql)

	flush := func() {
		text := strings.TrimSpace(cur.String())
		if text != "" {
			stmts = append(stmts, statement{text: text, line: stmtLine})
		}
		cur.Reset()
		stmtLine = 0
	}
	mark := func() {
		if stmtLine == 0 {
			stmtLine = line
		}
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\n':
			line++
			cur.WriteRune(r)
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			i--
		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			start := line
			i += 2
			for ; i < len(runes); i++ {
				if runes[i] == '\n' {
					line++
				}
				if runes[i] == '*' && i+1 < len(runes) && runes[i+1] == '/' {
					i++
					break
				}
			}
			if i >= len(runes) {
				return nil, &SyntaxError{Line: start, Message: "unterminated block comment"}
			}
			cur.WriteRune(' ')
		case r == '\'' || r == '"' || (r == '`' && backticks):
			mark()
			start := line
			closed := false
			for i++; i < len(runes); i++ {
				c := runes[i]
				if c == '\n' {
					line++
				}
				if c == '\\' && r == '\'' && i+1 < len(runes) {
					i++
					if runes[i] == '\n' {
						line++
					}
					continue
				}
				if c == r {
					if i+1 < len(runes) && runes[i+1] == r {
						i++
						continue
					}
					closed = true
					break
				}
			}
			// quoted content is dropped so later checks only see structure
			cur.WriteRune(r)
			cur.WriteRune(r)
			if !closed {
				return nil, &SyntaxError{Line: start, Message: fmt.Sprintf("unterminated quoted text starting with %c", r)}
			}
		case r == '`':
			return nil, &SyntaxError{Line: line, Message: "backtick identifiers are not supported by this dialect"}
		case r == '(':
			mark()
			depth++
			openParen = append(openParen, line)
			cur.WriteRune(r)
		case r == ')':
			if depth == 0 {
				return nil, &SyntaxError{Line: line, Message: "unexpected ')'"}
			}
			depth--
			openParen = openParen[:len(openParen)-1]
			cur.WriteRune(r)
		case r == ';' && depth == 0:
			flush()
		case r == ';':
			return nil, &SyntaxError{Line: line, Message: "statement terminator inside parentheses"}
		default:
			if !unicode.IsSpace(r) {
				mark()
			}
			cur.WriteRune(r)
		}
	}
	if depth > 0 {
		return nil, &SyntaxError{Line: openParen[len(openParen)-1], Message: "unclosed '('"}
	}
	flush()
	return stmts, nil
}

func checkStatement(stmt statement) error {
	fields := strings.Fields(stmt.text)
	head := strings.ToUpper(fields[0])
	if !leadingKeywords[head] {
		return &SyntaxError{Line: stmt.line, Message: fmt.Sprintf("unexpected statement start %q", fields[0])}
	}
	if head != "CREATE" || !isCreateTable(fields) {
		return nil
	}

	open := strings.IndexByte(stmt.text, '(')
	if open < 0 {
		if hasWord(stmt.text, "AS") || hasWord(stmt.text, "LIKE") {
			return nil
		}
		return &SyntaxError{Line: stmt.line, Message: "CREATE TABLE without column list"}
	}
	if hasWord(stmt.text[:open], "AS") {
		return nil
	}

	name := strings.TrimSpace(stmt.text[:open])
	nameFields := strings.Fields(name)
	last := nameFields[len(nameFields)-1]
	if strings.EqualFold(last, "TABLE") || strings.EqualFold(last, "EXISTS") {
		return &SyntaxError{Line: stmt.line, Message: "CREATE TABLE without table name"}
	}

	body, ok := columnList(stmt.text[open:])
	if !ok {
		return &SyntaxError{Line: stmt.line, Message: "unclosed column list"}
	}
	if strings.TrimSpace(body) == "" {
		return &SyntaxError{Line: stmt.line, Message: "empty column list"}
	}
	for _, col := range splitTopLevel(body) {
		if strings.TrimSpace(col) == "" {
			return &SyntaxError{Line: stmt.line, Message: "empty column definition (stray comma)"}
		}
	}
	return nil
}

func hasWord(s, word string) bool {
	for _, f := range strings.Fields(s) {
		if strings.EqualFold(f, word) {
			return true
		}
	}
	return false
}

func isCreateTable(fields []string) bool {
	for _, f := range fields[1:] {
		switch strings.ToUpper(f) {
		case "TABLE":
			return true
		case "OR", "REPLACE", "TEMP", "TEMPORARY", "EXTERNAL", "GLOBAL", "LOCAL", "UNLOGGED", "TRANSIENT":
			continue
		default:
			return false
		}
	}
	return false
}

// columnList returns the text between s's leading '(' and its matching ')'.
func columnList(s string) (string, bool) {
	depth := 0
	var quote rune
	for i, r := range s {
		if quote != 0 {
			if r == quote {
				quote = 0
			}
			continue
		}
		switch r {
		case '\'', '"', '`':
			quote = r
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return s[1:i], true
			}
		}
	}
	return "", false
}

// splitTopLevel splits on commas outside nested parentheses and quotes.
func splitTopLevel(s string) []string {
	var (
		parts []string
		depth int
		quote rune
		start int
	)
	for i, r := range s {
		if quote != 0 {
			if r == quote {
				quote = 0
			}
			continue
		}
		switch r {
		case '\'', '"', '`':
			quote = r
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}
