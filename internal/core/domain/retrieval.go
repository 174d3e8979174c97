package domain

// MetadataFilter narrows a namespace search by provenance metadata.
type MetadataFilter struct {
	RequiredTags []string
	ContentTypes []string
	YearGTE      *int
	YearLTE      *int
}

// Provenance carries the citation-bearing metadata of one retrieved unit.
type Provenance struct {
	Citation     string   `json:"citation"`
	URL          string   `json:"url"`
	Organization string   `json:"organization"`
	Year         int      `json:"year"`
	ContentType  string   `json:"content_type"`
	License      string   `json:"license"`
	Tags         []string `json:"tags"`
}

// RetrievalCandidate is one retrieved unit. Rank is dense and 1-indexed within
// its originating namespace search; after merge or fusion the surviving set is
// re-numbered densely from 1.
type RetrievalCandidate struct {
	Rank        int        `json:"rank"`
	Score       float64    `json:"score"`
	RerankScore *float64   `json:"rerank_score,omitempty"`
	FinalScore  *float64   `json:"final_score,omitempty"`
	ChunkID     string     `json:"chunk_id"`
	DocumentID  string     `json:"document_id"`
	Namespace   string     `json:"namespace"`
	Text        string     `json:"text"`
	Provenance  Provenance `json:"provenance"`
}

// Effective returns the score the candidate is ranked by: the fused score when
// fusion ran, the primary similarity otherwise.
func (c RetrievalCandidate) Effective() float64 {
	if c.FinalScore != nil {
		return *c.FinalScore
	}
	return c.Score
}

// ExpansionResult is the outcome of query expansion for one request.
type ExpansionResult struct {
	Original   string   `json:"original"`
	Expanded   string   `json:"expanded"`
	AddedTerms []string `json:"added_terms"`
}

// StageTimings records wall time spent in each pipeline stage.
type StageTimings struct {
	EmbedMS  int64 `json:"embed_ms"`
	SearchMS int64 `json:"search_ms"`
	FusionMS int64 `json:"fusion_ms"`
	FormatMS int64 `json:"format_ms"`
}

// RetrievalStatistics is built once per request and read-only afterwards.
type RetrievalStatistics struct {
	NamespacesSearched  []string       `json:"namespaces_searched"`
	FetchedPerNamespace map[string]int `json:"fetched_per_namespace"`
	FailedNamespaces    []string       `json:"failed_namespaces,omitempty"`
	AfterFusion         int            `json:"after_fusion"`
	Returned            int            `json:"returned"`
	DroppedByBudget     int            `json:"dropped_by_budget"`
	TopScore            float64        `json:"top_score"`
	MeanScore           float64        `json:"mean_score"`
	BelowMinResults     bool           `json:"below_min_results"`
	RerankSkipped       bool           `json:"rerank_skipped"`
	Timings             StageTimings   `json:"timings"`
}

// RetrievalOverrides are optional caller overrides; applied only when they stay
// within the persona's validated bounds.
type RetrievalOverrides struct {
	MaxResults     *int     `json:"max_results,omitempty"`
	ScoreThreshold *float64 `json:"score_threshold,omitempty"`
	Namespaces     []string `json:"namespaces,omitempty"`
	RerankEnabled  *bool    `json:"rerank_enabled,omitempty"`
}

// AnswerRequest is the inbound request for the full pipeline.
type AnswerRequest struct {
	Question  string             `json:"question"`
	Persona   string             `json:"persona,omitempty"`
	Mode      string             `json:"mode,omitempty"`
	Overrides RetrievalOverrides `json:"overrides,omitempty"`
}
