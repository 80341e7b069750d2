// Package extract recovers a JSON object or array from free-form model output.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Strategy names, in cascade order.
const (
	StrategyDirect        = "direct"
	StrategyFenced        = "fenced"
	StrategyUnclosedFence = "unclosed_fence"
	StrategyBracket       = "bracket"
)

const (
	previewLen = 150
	maxTrim    = 500
)

var (
	fencedBlock = regexp.MustCompile("(?s)```[\\w.+-]*[ \\t]*\\r?\\n(.*?)```")
	fenceTag    = regexp.MustCompile(`^[\w.+-]*[ \t]*\r?\n?`)
)

// ErrExtractionFailed is matched by every *ExtractionFailedError.
var ErrExtractionFailed = errors.New("extraction failed")

// ExtractionFailedError is returned when no strategy produced a value.
type ExtractionFailedError struct {
	Preview string
}

func (e *ExtractionFailedError) Error() string {
	return fmt.Sprintf("json extraction failed: %s", e.Preview)
}

// Is reports whether target is ErrExtractionFailed.
func (e *ExtractionFailedError) Is(target error) bool {
	return target == ErrExtractionFailed
}

// Strategy is one step of the cascade. Apply returns false when it could not
// produce a value from text.
type Strategy struct {
	Name  string
	Apply func(text string) (any, bool)
}

// Strategies returns the cascade in the order it is applied.
func Strategies() []Strategy {
	return []Strategy{
		{Name: StrategyDirect, Apply: parse},
		{Name: StrategyFenced, Apply: parseFenced},
		{Name: StrategyUnclosedFence, Apply: parseUnclosedFence},
		{Name: StrategyBracket, Apply: parseBrackets},
	}
}

// Trace records which strategies ran and which one won.
type Trace struct {
	Tried    []string `json:"tried"`
	Strategy string   `json:"strategy,omitempty"`
}

// Extract returns the first value produced by the cascade.
func Extract(text string) (any, error) {
	v, _, err := ExtractWithTrace(text)
	return v, err
}

// ExtractWithTrace is Extract plus the strategy trace.
func ExtractWithTrace(text string) (any, Trace, error) {
	text = strings.TrimSpace(text)
	var tr Trace
	for _, s := range Strategies() {
		tr.Tried = append(tr.Tried, s.Name)
		if v, ok := s.Apply(text); ok {
			tr.Strategy = s.Name
			return v, tr, nil
		}
	}
	return nil, tr, &ExtractionFailedError{Preview: preview(text)}
}

// Decode extracts a value from text and unmarshals it into v.
func Decode(text string, v any) (Trace, error) {
	raw, tr, err := ExtractWithTrace(text)
	if err != nil {
		return tr, err
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return tr, fmt.Errorf("re-encode extracted value: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return tr, fmt.Errorf("decode extracted value: %w", err)
	}
	return tr, nil
}

// parse accepts only a complete JSON object or array.
func parse(s string) (any, bool) {
	s = strings.TrimSpace(s)
	if s == "" || (s[0] != '{' && s[0] != '[') {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}

func parseFenced(text string) (any, bool) {
	for _, m := range fencedBlock.FindAllStringSubmatch(text, -1) {
		if v, ok := parse(Clean(m[1])); ok {
			return v, true
		}
	}
	return nil, false
}

// parseUnclosedFence handles a response cut off inside a code fence. With
// an odd number of markers the last one opens the truncated tail. Closed
// blocks whose content was itself cut short are repaired after that.
func parseUnclosedFence(text string) (any, bool) {
	var bodies []string
	if strings.Count(text, "```")%2 == 1 {
		tail := text[strings.LastIndex(text, "```")+3:]
		bodies = append(bodies, fenceTag.ReplaceAllString(tail, ""))
	}
	for _, m := range fencedBlock.FindAllStringSubmatch(text, -1) {
		bodies = append(bodies, m[1])
	}
	for _, body := range bodies {
		if v, ok := repairPrefix(Clean(body)); ok {
			return v, true
		}
	}
	return nil, false
}

// repairPrefix parses raw as is, then repaired, then repaired after trimming
// up to maxTrim trailing bytes.
func repairPrefix(raw string) (any, bool) {
	if v, ok := parse(raw); ok {
		return v, true
	}
	if v, ok := parse(RepairTruncated(raw)); ok {
		return v, true
	}
	for trim := 1; trim < len(raw) && trim <= maxTrim; trim++ {
		cut := len(raw) - trim
		if !utf8.RuneStart(raw[cut]) {
			continue
		}
		if v, ok := parse(RepairTruncated(raw[:cut])); ok {
			return v, true
		}
	}
	return nil, false
}

// parseBrackets slices from the first opener to the last matching closer.
// The container kind whose opener appears first is tried first, rather than
// always trying arrays before objects, so `{"parts": [1, 2]}` in prose yields
// the object and not its inner list.
func parseBrackets(text string) (any, bool) {
	kinds := [2][2]byte{{'{', '}'}, {'[', ']'}}
	obj, arr := strings.IndexByte(text, '{'), strings.IndexByte(text, '[')
	if arr >= 0 && (obj < 0 || arr < obj) {
		kinds[0], kinds[1] = kinds[1], kinds[0]
	}
	for _, k := range kinds {
		start := strings.IndexByte(text, k[0])
		if start < 0 {
			continue
		}
		if end := strings.LastIndexByte(text, k[1]); end > start {
			if v, ok := parse(Clean(text[start : end+1])); ok {
				return v, true
			}
		}
		if v, ok := parse(RepairTruncated(Clean(text[start:]))); ok {
			return v, true
		}
	}
	return nil, false
}

func preview(text string) string {
	if utf8.RuneCountInString(text) <= previewLen {
		return text
	}
	n := 0
	for i := range text {
		if n == previewLen {
			return text[:i] + "..."
		}
		n++
	}
	return text
}
