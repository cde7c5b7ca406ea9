package domain

// SourceType is a closed variant: every candidate originates from exactly one
// of the two retrieval backends.
type SourceType string

const (
	SourceVector  SourceType = "vector"
	SourceKeyword SourceType = "keyword"
)

// SourceMix summarizes which backends contributed to a fused result set.
type SourceMix string

const (
	MixVectorOnly  SourceMix = "vector_only"
	MixKeywordOnly SourceMix = "keyword_only"
	MixMixed       SourceMix = "mixed"
	MixNone        SourceMix = "none"
)

// Candidate is one retrieved content fragment under consideration for a response.
// RawScore is normalized to [0,1] per source; FinalScore is set by fusion.
type Candidate struct {
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	Title      string            `json:"title,omitempty"`
	URL        string            `json:"url,omitempty"`
	Source     SourceType        `json:"source"`
	RawScore   float64           `json:"raw_score"`
	FinalScore float64           `json:"final_score"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// FusedResult is the deduplicated, re-scored candidate list for one attempt,
// ordered strictly descending by FinalScore.
type FusedResult struct {
	Candidates    []Candidate `json:"candidates"`
	VectorCount   int         `json:"vector_count"`
	KeywordCount  int         `json:"keyword_count"`
	Confidence    float64     `json:"confidence"`
	ThresholdUsed float64     `json:"threshold_used"`
}

func (r FusedResult) SourceMix() SourceMix {
	switch {
	case r.VectorCount > 0 && r.KeywordCount > 0:
		return MixMixed
	case r.VectorCount > 0:
		return MixVectorOnly
	case r.KeywordCount > 0:
		return MixKeywordOnly
	default:
		return MixNone
	}
}

// UsedDocument is the caller-visible attribution entry for one candidate.
type UsedDocument struct {
	ID     string     `json:"id"`
	Title  string     `json:"title,omitempty"`
	URL    string     `json:"url,omitempty"`
	Source SourceType `json:"source_type"`
	Score  float64    `json:"score"`
}

// Answer is the final engine output. It is always well-formed: failed
// retrieval or generation degrades into an insufficient-information text,
// never into an error visible here.
type Answer struct {
	ResponseText       string         `json:"response_text"`
	UsedDocuments      []UsedDocument `json:"used_documents"`
	ConfidenceAchieved float64        `json:"confidence_achieved"`
	Attempts           int            `json:"attempts"`
}
