package domain

import "encoding/json"

type ClassificationStatus string

const (
	StatusMatched  ClassificationStatus = "MATCHED"
	StatusUnmapped ClassificationStatus = "UNMAPPED"
)

type ScoredCandidate struct {
	Leaf  LeafCategory `json:"leaf"`
	Score float64      `json:"score"`
}

// ClassificationResult is the outcome of one (product, marketplace) run.
// CategoryID, CategoryName and CategoryPath are empty unless Status is MATCHED
// and are encoded as JSON null when empty.
type ClassificationResult struct {
	Marketplace          string               `json:"marketplace"`
	CategoryID           string               `json:"category_id,omitempty"`
	CategoryName         string               `json:"category_name,omitempty"`
	CategoryPath         string               `json:"category_path,omitempty"`
	Status               ClassificationStatus `json:"status"`
	Confidence           *float64             `json:"confidence,omitempty"`
	Provider             string               `json:"provider,omitempty"`
	Reason               string               `json:"reason,omitempty"`
	CandidatesConsidered []ScoredCandidate    `json:"candidates_considered"`
}

func (r ClassificationResult) Matched() bool {
	return r.Status == StatusMatched
}

func (r ClassificationResult) MarshalJSON() ([]byte, error) {
	type plain ClassificationResult
	return json.Marshal(struct {
		plain
		CategoryID   *string `json:"category_id"`
		CategoryName *string `json:"category_name"`
		CategoryPath *string `json:"category_path"`
	}{
		plain:        plain(r),
		CategoryID:   nullable(r.CategoryID),
		CategoryName: nullable(r.CategoryName),
		CategoryPath: nullable(r.CategoryPath),
	})
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Unmapped reasons reported on UNMAPPED results.
const (
	ReasonEmptyShortlist   = "empty_shortlist"
	ReasonEmptyResponse    = "empty_response"
	ReasonUnparseable      = "unparseable_response"
	ReasonNotACandidate    = "category_not_in_candidates"
	ReasonAmbiguousName    = "ambiguous_category_name"
	ReasonProviderDegraded = "provider_failure"
)

// ResponseFormat hints the provider about the expected output encoding.
type ResponseFormat string

const (
	ResponseFormatText ResponseFormat = "text"
	ResponseFormatJSON ResponseFormat = "json"
)

// PromptOptions are passed to a provider with every prompt.
// Zero values mean "provider default".
type PromptOptions struct {
	Model          string
	ResponseFormat ResponseFormat
	MaxTokens      int
	Temperature    *float64
}

// ClassifyRequest is one orchestration input. An empty Provider selects the
// deployment default.
type ClassifyRequest struct {
	Marketplace       string         `json:"marketplace"`
	Product           map[string]any `json:"product"`
	Provider          string         `json:"provider,omitempty"`
	IncludeConfidence bool           `json:"include_confidence,omitempty"`
}

// MarketplaceSummary is the read model returned when listing marketplaces.
type MarketplaceSummary struct {
	Name     string `json:"name"`
	Leaves   int    `json:"leaves"`
	Revision uint64 `json:"revision"`
}
