package taxonomy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kirillkom/marketplace-categorizer/internal/core/domain"
)

// Nest builds a tree document from flat records linked by mapping.ParentField.
// Records with an empty or "root" parent become roots; records whose parent is
// unknown are attached to the roots as well. Input order is preserved among
// siblings. The input records are not modified.
func Nest(doc any, mapping domain.FieldMapping) ([]any, error) {
	mapping = mapping.WithDefaults()
	if strings.TrimSpace(mapping.ParentField) == "" {
		return nil, fmt.Errorf("flat taxonomy requires parent_field")
	}

	records, err := flatRecords(doc)
	if err != nil {
		return nil, err
	}

	order := make([]string, 0, len(records))
	byID := make(map[string]map[string]any, len(records))
	for i, raw := range records {
		rec, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("record $[%d]: expected object, got %T", i, raw)
		}
		id, ok := scalarField(rec, mapping.IDField)
		if !ok {
			return nil, fmt.Errorf("record $[%d]: missing id field %q", i, mapping.IDField)
		}
		if _, dup := byID[id]; dup {
			continue
		}
		byID[id] = rec
		order = append(order, id)
	}

	var roots []string
	childrenOf := make(map[string][]string, len(order))
	for _, id := range order {
		parent, _ := scalarField(byID[id], mapping.ParentField)
		_, known := byID[parent]
		if parent == "" || strings.EqualFold(parent, "root") || parent == id || !known {
			roots = append(roots, id)
			continue
		}
		childrenOf[parent] = append(childrenOf[parent], id)
	}

	visited := make(map[string]struct{}, len(order))
	var build func(id string) map[string]any
	build = func(id string) map[string]any {
		visited[id] = struct{}{}
		node := make(map[string]any, len(byID[id])+1)
		for k, v := range byID[id] {
			node[k] = v
		}
		delete(node, mapping.ChildrenField)
		if kids := childrenOf[id]; len(kids) > 0 {
			children := make([]any, 0, len(kids))
			for _, kid := range kids {
				children = append(children, build(kid))
			}
			node[mapping.ChildrenField] = children
		}
		return node
	}

	out := make([]any, 0, len(roots))
	for _, id := range roots {
		out = append(out, build(id))
	}

	if len(visited) != len(order) {
		var cyclic []string
		for _, id := range order {
			if _, ok := visited[id]; !ok {
				cyclic = append(cyclic, id)
			}
		}
		sort.Strings(cyclic)
		return nil, fmt.Errorf("parent cycle among records %s", strings.Join(cyclic, ", "))
	}
	return out, nil
}

func flatRecords(doc any) ([]any, error) {
	switch v := doc.(type) {
	case []any:
		return v, nil
	case map[string]any:
		if list, ok := v["hierarchies"].([]any); ok {
			return list, nil
		}
		if list, ok := v["records"].([]any); ok {
			return list, nil
		}
		return nil, fmt.Errorf("flat taxonomy object must hold a \"hierarchies\" or \"records\" list")
	default:
		return nil, fmt.Errorf("flat taxonomy must be a list of records, got %T", doc)
	}
}
