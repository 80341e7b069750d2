package extract

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	trailingSeparators = regexp.MustCompile(`[,:\s]*$`)
	danglingKey        = regexp.MustCompile(`,\s*"[^"]*"\s*$`)
	openObjectTail     = regexp.MustCompile(`,\s*\{[^}]*$`)
	openArrayTail      = regexp.MustCompile(`,\s*\[[^\]]*$`)
)

// RepairTruncated closes a JSON prefix that was cut off mid-token. It drops
// an unterminated string, a dangling key and an unfinished trailing
// container, then appends the closers still open, innermost first.
//
// The dangling-key rule cannot tell a key from a complete trailing string
// element of an array, so `["a", "b"` repairs to `["a"]`.
func RepairTruncated(text string) string {
	text = strings.TrimRightFunc(text, unicode.IsSpace)
	if quotes := unescapedQuotes(text); len(quotes)%2 == 1 {
		text = text[:quotes[len(quotes)-1]]
	}
	text = trailingSeparators.ReplaceAllString(text, "")
	text = danglingKey.ReplaceAllString(text, "")
	text = openObjectTail.ReplaceAllString(text, "")
	text = openArrayTail.ReplaceAllString(text, "")
	text = strings.TrimRight(text, ", \n\t\r")
	return text + closers(text)
}

func unescapedQuotes(s string) []int {
	var idx []int
	escaped := false
	for i := 0; i < len(s); i++ {
		switch {
		case escaped:
			escaped = false
		case s[i] == '\\':
			escaped = true
		case s[i] == '"':
			idx = append(idx, i)
		}
	}
	return idx
}

func closers(s string) string {
	var stack []byte
	var lex lexer
	for i := 0; i < len(s); i++ {
		c := s[i]
		if lex.feed(c) {
			continue
		}
		switch c {
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if n := len(stack); n > 0 && stack[n-1] == c {
				stack = stack[:n-1]
			}
		}
	}
	out := make([]byte, len(stack))
	for i, c := range stack {
		out[len(stack)-1-i] = c
	}
	return string(out)
}
