package domain

// ProductRecord is the canonical product representation fed to the shortlister
// and the prompt builder. Optional fields are empty when absent.
type ProductRecord struct {
	SKU         string            `json:"sku,omitempty"`
	Name        string            `json:"name"`
	Brand       string            `json:"brand,omitempty"`
	Description string            `json:"description"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	ImageRef    string            `json:"image_ref,omitempty"`
}

// FieldAliases maps a canonical product field to the input keys accepted for it,
// in priority order.
type FieldAliases struct {
	SKU         []string `json:"sku" yaml:"sku"`
	Name        []string `json:"name" yaml:"name"`
	Brand       []string `json:"brand" yaml:"brand"`
	Description []string `json:"description" yaml:"description"`
	Attributes  []string `json:"attributes" yaml:"attributes"`
	ImageRef    []string `json:"image_ref" yaml:"image_ref"`
}

func DefaultFieldAliases() FieldAliases {
	return FieldAliases{
		SKU:         []string{"sku", "product_id", "item_id"},
		Name:        []string{"name", "title", "product_name"},
		Brand:       []string{"brand", "manufacturer", "vendor"},
		Description: []string{"description", "desc", "long_description", "body_html"},
		Attributes:  []string{"attributes", "attrs", "specs"},
		ImageRef:    []string{"image_ref", "image_url", "image"},
	}
}
