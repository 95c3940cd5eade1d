package product

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/kirillkom/marketplace-categorizer/internal/core/domain"
)

const (
	DefaultNameLimit        = 300
	DefaultDescriptionLimit = 2000
	DefaultAttributeLimit   = 200
)

// Limits bounds the length, in characters, of normalized free-text fields.
// Zero values fall back to the defaults.
type Limits struct {
	Name        int
	Description int
	Attribute   int
}

func (l Limits) withDefaults() Limits {
	if l.Name <= 0 {
		l.Name = DefaultNameLimit
	}
	if l.Description <= 0 {
		l.Description = DefaultDescriptionLimit
	}
	if l.Attribute <= 0 {
		l.Attribute = DefaultAttributeLimit
	}
	return l
}

type Normalizer struct {
	aliases domain.FieldAliases
	limits  Limits
}

func NewNormalizer(aliases domain.FieldAliases, limits Limits) *Normalizer {
	return &Normalizer{aliases: aliases, limits: limits.withDefaults()}
}

// Normalize maps an arbitrary product payload onto a ProductRecord. The first
// alias present with a non-empty value wins for every field.
func (n *Normalizer) Normalize(payload map[string]any) (domain.ProductRecord, error) {
	const op = "normalize product"
	if payload == nil {
		return domain.ProductRecord{}, domain.WrapError(domain.ErrProductValidation, op, errors.New("product payload is empty"))
	}

	name := TruncateAtSpace(CleanText(n.lookupText(payload, n.aliases.Name)), n.limits.Name)
	if name == "" {
		return domain.ProductRecord{}, domain.WrapError(
			domain.ErrProductValidation, op,
			fmt.Errorf("missing required field name (aliases: %s)", strings.Join(n.aliases.Name, ", ")),
		)
	}

	return domain.ProductRecord{
		SKU:         CleanText(n.lookupText(payload, n.aliases.SKU)),
		Name:        name,
		Brand:       TruncateAtSpace(CleanText(n.lookupText(payload, n.aliases.Brand)), n.limits.Name),
		Description: TruncateAtSpace(CleanText(n.lookupText(payload, n.aliases.Description)), n.limits.Description),
		Attributes:  n.attributes(payload),
		ImageRef:    strings.TrimSpace(n.lookupText(payload, n.aliases.ImageRef)),
	}, nil
}

func (n *Normalizer) lookupText(payload map[string]any, aliases []string) string {
	for _, key := range aliases {
		raw, ok := lookupKey(payload, key)
		if !ok {
			continue
		}
		if s := stringify(raw); strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func (n *Normalizer) attributes(payload map[string]any) map[string]string {
	for _, key := range n.aliases.Attributes {
		raw, ok := lookupKey(payload, key)
		if !ok {
			continue
		}
		attrs := n.attributeMap(raw)
		if len(attrs) > 0 {
			return attrs
		}
	}
	return map[string]string{}
}

func (n *Normalizer) attributeMap(raw any) map[string]string {
	out := make(map[string]string)
	add := func(key string, value any) {
		key = CleanText(key)
		val := TruncateAtSpace(CleanText(stringify(value)), n.limits.Attribute)
		if key == "" || val == "" {
			return
		}
		if _, exists := out[key]; !exists {
			out[key] = val
		}
	}

	switch v := raw.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			add(k, v[k])
		}
	case map[string]string:
		for k, val := range v {
			add(k, val)
		}
	case []any:
		// [{"name": "color", "value": "red"}, ...]
		for _, item := range v {
			pair, ok := item.(map[string]any)
			if !ok {
				continue
			}
			key := firstString(pair, "name", "key", "label")
			if key == "" {
				continue
			}
			add(key, firstValue(pair, "value", "values", "val"))
		}
	}
	return out
}

// lookupKey finds key in payload, falling back to a case-insensitive match.
// Among several case variants the lexically smallest key wins.
func lookupKey(payload map[string]any, key string) (any, bool) {
	if v, ok := payload[key]; ok {
		return v, true
	}
	var matches []string
	for k := range payload {
		if strings.EqualFold(k, key) {
			matches = append(matches, k)
		}
	}
	if len(matches) == 0 {
		return nil, false
	}
	sort.Strings(matches)
	return payload[matches[0]], true
}

func firstString(m map[string]any, keys ...string) string {
	return stringify(firstValue(m, keys...))
}

func firstValue(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func stringify(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if s := strings.TrimSpace(stringify(item)); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	}
}

// TruncateAtSpace cuts s to at most limit runes. The cut falls on the last
// whitespace before the limit so no word is split; a single overlong word is
// cut hard.
func TruncateAtSpace(s string, limit int) string {
	runes := []rune(s)
	if limit <= 0 || len(runes) <= limit {
		return s
	}
	cut := limit
	for i := limit; i > 0; i-- {
		if unicode.IsSpace(runes[i]) {
			cut = i
			break
		}
	}
	return strings.TrimRightFunc(string(runes[:cut]), unicode.IsSpace)
}
