package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// statement is one statement of a script.
type statement struct {
	// text is sent to the engine unchanged.
	text string
	// code is text with literals, quoted identifiers and comments blanked
	// out, used to inspect keywords and placeholders.
	code string
}

// splitScript cuts a script into statements at top-level semicolons.
// Semicolons inside literals, quoted identifiers, comments and trigger
// bodies do not split. Statements holding only whitespace or comments are
// dropped.
func splitScript(script string) ([]statement, error) {
	var (
		out   []statement
		text  strings.Builder
		code  strings.Builder
		src   = []rune(script)
		empty = true
	)
	flush := func() {
		if !empty {
			out = append(out, statement{
				text: strings.TrimSpace(text.String()),
				code: strings.TrimSpace(code.String()),
			})
		}
		text.Reset()
		code.Reset()
		empty = true
	}

	for i := 0; i < len(src); i++ {
		r := src[i]
		switch {
		case r == '\'' || r == '"' || r == '`' || r == '[':
			closer := r
			if r == '[' {
				closer = ']'
			}
			j := i + 1
			for ; j < len(src); j++ {
				if src[j] == closer {
					// Doubled quotes escape themselves.
					if closer != ']' && j+1 < len(src) && src[j+1] == closer {
						j++
						continue
					}
					break
				}
			}
			if j >= len(src) {
				return nil, fmt.Errorf("unterminated %c at offset %d", r, i)
			}
			text.WriteString(string(src[i : j+1]))
			code.WriteRune(r)
			code.WriteString(strings.Repeat(" ", j-i-1))
			code.WriteRune(closer)
			empty = false
			i = j

		case r == '-' && i+1 < len(src) && src[i+1] == '-':
			j := i
			for j < len(src) && src[j] != '\n' {
				j++
			}
			text.WriteString(string(src[i:j]))
			code.WriteByte(' ')
			i = j - 1

		case r == '/' && i+1 < len(src) && src[i+1] == '*':
			j := i + 2
			for j+1 < len(src) && !(src[j] == '*' && src[j+1] == '/') {
				j++
			}
			if j+1 >= len(src) {
				return nil, fmt.Errorf("unterminated comment at offset %d", i)
			}
			text.WriteString(string(src[i : j+2]))
			code.WriteByte(' ')
			i = j + 1

		case r == ';':
			if inTriggerBody(code.String()) {
				text.WriteRune(r)
				code.WriteRune(r)
				continue
			}
			flush()

		default:
			text.WriteRune(r)
			code.WriteRune(r)
			if !unicode.IsSpace(r) {
				empty = false
			}
		}
	}
	flush()
	return out, nil
}

// inTriggerBody reports whether code is an unfinished CREATE TRIGGER whose
// BEGIN ... END body is still open.
func inTriggerBody(code string) bool {
	words := strings.Fields(strings.ToUpper(code))
	if len(words) < 2 || words[0] != "CREATE" {
		return false
	}
	w := words[1]
	if (w == "TEMP" || w == "TEMPORARY") && len(words) > 2 {
		w = words[2]
	}
	if w != "TRIGGER" {
		return false
	}
	last := strings.TrimRight(words[len(words)-1], ";")
	return last != "END"
}

// keyword returns the first word of the statement, upper-cased.
func (s statement) keyword() string {
	f := strings.FieldsFunc(s.code, func(r rune) bool {
		return !(unicode.IsLetter(r) || r == '_')
	})
	if len(f) == 0 {
		return ""
	}
	return strings.ToUpper(f[0])
}

// returnsRows reports whether the statement produces a result set.
func (s statement) returnsRows() bool {
	switch s.keyword() {
	case "SELECT", "WITH", "VALUES", "PRAGMA", "EXPLAIN":
		return true
	}
	return s.hasWord("RETURNING")
}

func (s statement) hasWord(word string) bool {
	for _, f := range s.words() {
		if f == strings.ToUpper(word) {
			return true
		}
	}
	return false
}

// words returns the upper-cased identifiers and keywords of the statement.
func (s statement) words() []string {
	f := strings.FieldsFunc(s.code, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
	})
	for i := range f {
		f[i] = strings.ToUpper(f[i])
	}
	return f
}

// endsTransaction reports whether the statement would begin, end or leave
// the transaction a script runs in, or change which databases it spans.
// Savepoints and ROLLBACK TO stay inside it and are allowed.
func (s statement) endsTransaction() bool {
	w := s.words()
	if len(w) == 0 {
		return false
	}
	switch w[0] {
	case "BEGIN", "COMMIT", "END", "RELEASE", "ATTACH", "DETACH", "VACUUM":
		return true
	case "ROLLBACK":
		rest := w[1:]
		if len(rest) > 0 && rest[0] == "TRANSACTION" {
			rest = rest[1:]
		}
		return len(rest) == 0 || rest[0] != "TO"
	}
	return false
}

// lockedPragmas may not be set from a script: they control the read-only
// guard and schema integrity of the connection the script runs on.
var lockedPragmas = map[string]bool{
	"QUERY_ONLY":      true,
	"WRITABLE_SCHEMA": true,
}

// setsLockedPragma reports whether the statement is PRAGMA query_only or
// PRAGMA writable_schema, with or without a schema prefix.
func (s statement) setsLockedPragma() bool {
	w := s.words()
	if len(w) < 2 || w[0] != "PRAGMA" {
		return false
	}
	if lockedPragmas[w[1]] {
		return true
	}
	return len(w) > 2 && lockedPragmas[w[2]]
}

// checkStatements rejects statements that would escape the single
// transaction or the read-only guard of an Execute call.
func checkStatements(stmts []statement) error {
	for _, st := range stmts {
		switch {
		case st.endsTransaction():
			return scriptErr(st.text, fmt.Errorf("%s is not allowed: a script runs as one transaction", st.keyword()))
		case st.setsLockedPragma():
			return scriptErr(st.text, errors.New("pragma is not allowed in a script"))
		}
	}
	return nil
}

// placeholders reports how many positional arguments the statement takes and
// which named parameters it references.
func (s statement) placeholders() (positional int, named map[string]bool) {
	src := s.code
	bare, highest := 0, 0
	for i := 0; i < len(src); i++ {
		switch c := src[i]; c {
		case '?':
			j := i + 1
			for j < len(src) && src[j] >= '0' && src[j] <= '9' {
				j++
			}
			if j == i+1 {
				bare++
			} else if n, err := strconv.Atoi(src[i+1 : j]); err == nil && n > highest {
				highest = n
			}
			i = j - 1
		case ':', '@', '$':
			j := i + 1
			for j < len(src) && isIdentByte(src[j]) {
				j++
			}
			if j > i+1 {
				if named == nil {
					named = make(map[string]bool)
				}
				named[src[i+1:j]] = true
			}
			i = j - 1
		}
	}
	return max(bare, highest), named
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// Params are the values bound to a script's placeholders. Positional values
// fill "?" placeholders left to right across all statements of the script.
// sql.Named values bind to every statement that references the name as
// :name, @name or $name.
type Params []any

// bind distributes params over the statements. Every parameter must be
// consumed and every positional placeholder filled.
func bind(stmts []statement, params Params) ([][]any, error) {
	var (
		positional []any
		named      = make(map[string]sql.NamedArg)
	)
	for _, p := range params {
		if n, ok := p.(sql.NamedArg); ok {
			if n.Name == "" {
				return nil, errors.New("named parameter with empty name")
			}
			named[n.Name] = n
			continue
		}
		positional = append(positional, p)
	}

	used := make(map[string]bool, len(named))
	args := make([][]any, len(stmts))
	next := 0
	for i, st := range stmts {
		count, refs := st.placeholders()
		if next+count > len(positional) {
			return nil, fmt.Errorf("script takes more than %d positional parameters", len(positional))
		}
		args[i] = append(args[i], positional[next:next+count]...)
		next += count
		for name := range refs {
			n, ok := named[name]
			if !ok {
				return nil, fmt.Errorf("missing named parameter %q", name)
			}
			used[name] = true
			args[i] = append(args[i], n)
		}
	}
	if next != len(positional) {
		return nil, fmt.Errorf("script takes %d positional parameters, got %d", next, len(positional))
	}
	for name := range named {
		if !used[name] {
			return nil, fmt.Errorf("named parameter %q is not referenced by the script", name)
		}
	}
	return args, nil
}
