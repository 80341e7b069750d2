package extract

import "strings"

// lexer tracks whether the bytes fed to it sit inside a JSON string literal.
type lexer struct {
	inString bool
	escaped  bool
}

// feed advances past c and reports whether c belongs to a string literal,
// quotes included.
func (l *lexer) feed(c byte) bool {
	if l.inString {
		switch {
		case l.escaped:
			l.escaped = false
		case c == '\\':
			l.escaped = true
		case c == '"':
			l.inString = false
		}
		return true
	}
	if c == '"' {
		l.inString = true
		return true
	}
	return false
}

// Clean removes // and /* */ comments and commas that directly precede a
// closing bracket or brace. String literals are left untouched.
func Clean(raw string) string {
	return strings.TrimSpace(stripTrailingCommas(stripComments(raw)))
}

func stripComments(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var lex lexer
	for i := 0; i < len(s); i++ {
		c := s[i]
		if lex.feed(c) {
			b.WriteByte(c)
			continue
		}
		if c == '/' && i+1 < len(s) {
			switch s[i+1] {
			case '/':
				j := strings.IndexByte(s[i:], '\n')
				if j < 0 {
					return b.String()
				}
				i += j - 1
				continue
			case '*':
				j := strings.Index(s[i+2:], "*/")
				if j < 0 {
					return b.String()
				}
				i += j + 3
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

func stripTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var lex lexer
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !lex.feed(c) && c == ',' {
			j := i + 1
			for j < len(s) && isSpace(s[j]) {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
