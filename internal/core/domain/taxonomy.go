package domain

import "strings"

// PathSeparator joins path segments in prompts, logs and API output.
const PathSeparator = " > "

// LeafCategory is a taxonomy node without children, the only valid
// classification target.
type LeafCategory struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Path  []string `json:"path"`
	Depth int      `json:"depth"`
}

func (l LeafCategory) PathString() string {
	return strings.Join(l.Path, PathSeparator)
}

type TaxonomyFormat string

const (
	TaxonomyFormatTree TaxonomyFormat = "tree"
	TaxonomyFormatFlat TaxonomyFormat = "flat"
)

// FieldMapping names the fields a marketplace taxonomy document uses.
// PathField and ParentField are optional.
type FieldMapping struct {
	IDField       string `json:"id_field" yaml:"id_field"`
	NameField     string `json:"name_field" yaml:"name_field"`
	ChildrenField string `json:"children_field" yaml:"children_field"`
	PathField     string `json:"path_field,omitempty" yaml:"path_field,omitempty"`
	ParentField   string `json:"parent_field,omitempty" yaml:"parent_field,omitempty"`
}

func DefaultFieldMapping() FieldMapping {
	return FieldMapping{
		IDField:       "id",
		NameField:     "name",
		ChildrenField: "children",
	}
}

// WithDefaults fills empty required field names with the defaults.
func (m FieldMapping) WithDefaults() FieldMapping {
	def := DefaultFieldMapping()
	if strings.TrimSpace(m.IDField) == "" {
		m.IDField = def.IDField
	}
	if strings.TrimSpace(m.NameField) == "" {
		m.NameField = def.NameField
	}
	if strings.TrimSpace(m.ChildrenField) == "" {
		m.ChildrenField = def.ChildrenField
	}
	return m
}

// MarketplaceSpec describes where a marketplace taxonomy lives and how to read it.
type MarketplaceSpec struct {
	Name         string         `json:"name" yaml:"name"`
	TaxonomyFile string         `json:"taxonomy_file" yaml:"taxonomy_file"`
	Format       TaxonomyFormat `json:"format,omitempty" yaml:"format,omitempty"`
	FieldMapping `yaml:",inline"`
}

// Taxonomy is the immutable leaf set of one marketplace.
type Taxonomy struct {
	Marketplace string         `json:"marketplace"`
	Revision    uint64         `json:"revision"`
	Leaves      []LeafCategory `json:"leaves"`
}
