package reconcile

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Selection is what a parser could read from a provider response. ID or Name
// may be empty; validation happens later against the prompt candidates.
type Selection struct {
	ID         string
	Name       string
	Confidence *float64
}

func (s Selection) empty() bool {
	return s.ID == "" && s.Name == ""
}

// Parser is one step of the response parsing chain.
type Parser interface {
	Name() string
	Parse(raw string) (Selection, bool)
}

// DefaultParsers is the chain used by NewReconciler: strict JSON, then the
// first JSON object embedded in prose, then loose key/value pairs.
func DefaultParsers() []Parser {
	return []Parser{StrictJSON{}, EmbeddedJSON{}, KeyValue{}}
}

// StrictJSON accepts a response that is a single JSON object, optionally
// wrapped in a markdown code fence.
type StrictJSON struct{}

func (StrictJSON) Name() string { return "strict_json" }

func (StrictJSON) Parse(raw string) (Selection, bool) {
	return decodeSelection(stripCodeFence(raw))
}

// EmbeddedJSON scans the response for balanced {...} blocks and accepts the
// first one that decodes to a selection.
type EmbeddedJSON struct{}

func (EmbeddedJSON) Name() string { return "embedded_json" }

func (EmbeddedJSON) Parse(raw string) (Selection, bool) {
	for _, block := range jsonObjects(raw) {
		if sel, ok := decodeSelection(block); ok {
			return sel, true
		}
	}
	return Selection{}, false
}

var (
	kvIDPattern         = regexp.MustCompile(`(?i)["']?category[_ ]?id["']?\s*[:=]\s*["']?([^"'\s,;}]+)`)
	kvNamePattern       = regexp.MustCompile(`(?i)["']?category[_ ]?name["']?\s*[:=]\s*(?:"([^"\n]+)"|'([^'\n]+)'|([^,;}\n]+))`)
	kvConfidencePattern = regexp.MustCompile(`(?i)["']?confidence["']?\s*[:=]\s*["']?([0-9]*\.?[0-9]+)`)
)

// KeyValue reads "category_id: 123" style pairs from free text.
type KeyValue struct{}

func (KeyValue) Name() string { return "key_value" }

func (KeyValue) Parse(raw string) (Selection, bool) {
	var sel Selection
	if m := kvIDPattern.FindStringSubmatch(raw); m != nil {
		sel.ID = strings.TrimSpace(m[1])
	}
	if m := kvNamePattern.FindStringSubmatch(raw); m != nil {
		for _, g := range m[1:] {
			if g = strings.TrimSpace(g); g != "" {
				sel.Name = g
				break
			}
		}
	}
	if m := kvConfidencePattern.FindStringSubmatch(raw); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			sel.Confidence = &v
		}
	}
	return sel, !sel.empty()
}

func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// drop the language tag line, e.g. ```json
		s = s[nl+1:]
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// jsonObjects returns top-level balanced {...} substrings in order. Braces
// inside JSON strings are ignored.
func jsonObjects(raw string) []string {
	var out []string
	depth, start := 0, -1
	inString, escaped := false, false
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				out = append(out, raw[start:i+1])
				start = -1
			}
		}
	}
	return out
}

func decodeSelection(s string) (Selection, bool) {
	if !strings.HasPrefix(s, "{") {
		return Selection{}, false
	}
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return Selection{}, false
	}
	if dec.More() {
		return Selection{}, false
	}
	return selectionFrom(obj)
}

// selectionFrom accepts {category_id, category_name}, {selection: {...}} and
// {selections: [{...}, ...]} (first element).
func selectionFrom(obj map[string]any) (Selection, bool) {
	if nested, ok := obj["selection"].(map[string]any); ok {
		if sel, ok := fieldsFrom(nested, true); ok {
			return sel, true
		}
	}
	if list, ok := obj["selections"].([]any); ok && len(list) > 0 {
		if first, ok := list[0].(map[string]any); ok {
			if sel, ok := fieldsFrom(first, true); ok {
				return sel, true
			}
		}
	}
	return fieldsFrom(obj, false)
}

func fieldsFrom(obj map[string]any, nested bool) (Selection, bool) {
	idKeys := []string{"category_id", "categoryId", "categoryID"}
	nameKeys := []string{"category_name", "categoryName"}
	if nested {
		idKeys = append(idKeys, "id")
		nameKeys = append(nameKeys, "name")
	}
	sel := Selection{
		ID:   firstText(obj, idKeys),
		Name: firstText(obj, nameKeys),
	}
	if v, ok := number(obj["confidence"]); ok {
		sel.Confidence = &v
	}
	return sel, !sel.empty()
}

func firstText(obj map[string]any, keys []string) string {
	for _, k := range keys {
		switch v := obj[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func number(raw any) (float64, bool) {
	switch v := raw.(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(v), "%"), 64)
		return f, err == nil
	}
	return 0, false
}
