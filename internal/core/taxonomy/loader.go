package taxonomy

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/kirillkom/marketplace-categorizer/internal/core/domain"
)

// Flatten walks a taxonomy document depth-first and returns its leaves in
// pre-order. doc is a single root object or a list of root objects.
//
// Every node must carry a name, every leaf an id. A nameless top-level wrapper
// with children is accepted and contributes no path segment.
func Flatten(marketplace string, doc any, mapping domain.FieldMapping) ([]domain.LeafCategory, error) {
	mapping = mapping.WithDefaults()
	op := "load taxonomy " + marketplace

	roots, err := rootNodes(doc)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTaxonomyLoad, op, err)
	}

	w := &walker{
		mapping: mapping,
		seen:    make(map[string]struct{}),
	}
	for i, root := range roots {
		if err := w.walk(root, nil, fmt.Sprintf("$[%d]", i), true); err != nil {
			return nil, domain.WrapError(domain.ErrTaxonomyLoad, op, err)
		}
	}
	return w.leaves, nil
}

// Load resolves the document format of spec and flattens it.
func Load(spec domain.MarketplaceSpec, doc any) ([]domain.LeafCategory, error) {
	mapping := spec.FieldMapping.WithDefaults()
	if spec.Format == domain.TaxonomyFormatFlat {
		nested, err := Nest(doc, mapping)
		if err != nil {
			return nil, domain.WrapError(domain.ErrTaxonomyLoad, "load taxonomy "+spec.Name, err)
		}
		doc = nested
	}
	return Flatten(spec.Name, doc, mapping)
}

type walker struct {
	mapping domain.FieldMapping
	leaves  []domain.LeafCategory
	seen    map[string]struct{}
}

func (w *walker) walk(raw any, parentPath []string, loc string, topLevel bool) error {
	node, ok := raw.(map[string]any)
	if !ok {
		return fmt.Errorf("node %s: expected object, got %T", loc, raw)
	}

	children, err := childNodes(node, w.mapping.ChildrenField)
	if err != nil {
		return fmt.Errorf("node %s: %w", loc, err)
	}

	name, hasName := scalarField(node, w.mapping.NameField)
	if !hasName && !(topLevel && len(children) > 0) {
		return fmt.Errorf("node %s: missing name field %q", loc, w.mapping.NameField)
	}

	path := appendSegment(parentPath, name)
	if w.mapping.PathField != "" {
		if provided, ok := scalarField(node, w.mapping.PathField); ok {
			if segments := NormalizePath(provided); len(segments) > 0 {
				path = segments
			}
		}
	}

	if len(children) == 0 {
		return w.emitLeaf(node, path, name, loc)
	}

	for i, child := range children {
		childLoc := fmt.Sprintf("%s.%s[%d]", loc, w.mapping.ChildrenField, i)
		if err := w.walk(child, path, childLoc, false); err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) emitLeaf(node map[string]any, rawPath []string, name, loc string) error {
	id, ok := scalarField(node, w.mapping.IDField)
	if !ok {
		return fmt.Errorf("node %s: missing id field %q", loc, w.mapping.IDField)
	}

	path := normalizeSegments(rawPath)
	if len(path) == 0 {
		return fmt.Errorf("node %s: empty path", loc)
	}

	key := strings.Join(path, domain.PathSeparator)
	if _, dup := w.seen[key]; dup {
		return nil
	}
	w.seen[key] = struct{}{}

	w.leaves = append(w.leaves, domain.LeafCategory{
		ID:    id,
		Name:  name,
		Path:  path,
		Depth: len(path),
	})
	return nil
}

func rootNodes(doc any) ([]any, error) {
	switch v := doc.(type) {
	case map[string]any:
		return []any{v}, nil
	case []any:
		return v, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("taxonomy document must be an object or a list, got %T", doc)
	}
}

func childNodes(node map[string]any, field string) ([]any, error) {
	raw, ok := node[field]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("children field %q is %T, not a list", field, raw)
	}
	return list, nil
}

// scalarField returns the trimmed textual value of a string or number field.
func scalarField(node map[string]any, field string) (string, bool) {
	raw, ok := node[field]
	if !ok || raw == nil {
		return "", false
	}
	var s string
	switch v := raw.(type) {
	case string:
		s = v
	case json.Number:
		s = v.String()
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		s = strconv.Itoa(v)
	case int64:
		s = strconv.FormatInt(v, 10)
	case uint64:
		s = strconv.FormatUint(v, 10)
	default:
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

func appendSegment(parent []string, name string) []string {
	out := make([]string, 0, len(parent)+1)
	out = append(out, parent...)
	if name != "" {
		out = append(out, name)
	}
	return out
}
