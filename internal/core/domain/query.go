package domain

// Intent is the coarse question category detected by the normalizer.
type Intent string

const (
	IntentInformational Intent = "informational"
	IntentHowTo         Intent = "how-to"
	IntentLocation      Intent = "location"
	IntentTemporal      Intent = "temporal"
	IntentUnknown       Intent = "unknown"
)

// Query is the normalized, immutable representation of one user turn.
type Query struct {
	ID                  string   `json:"id"`
	Raw                 string   `json:"raw"`
	Normalized          string   `json:"normalized"`
	Language            string   `json:"language"`
	Variants            []string `json:"variants,omitempty"`
	Intent              Intent   `json:"intent"`
	ConversationContext string   `json:"conversation_context,omitempty"`
}

// QueryRequest is the inbound contract consumed from the orchestration layer.
type QueryRequest struct {
	Text                  string            `json:"text"`
	K                     int               `json:"k"`
	MinConfidence         float64           `json:"min_confidence"`
	Filters               map[string]string `json:"filters,omitempty"`
	PrioritizedSourceURLs []string          `json:"prioritized_source_urls,omitempty"`
	ConversationContext   string            `json:"conversation_context,omitempty"`
}
