package media

type ClassificationResult struct {
	Agent         string   `json:"agent"`
	Slot          int      `json:"slot"`
	Role          string   `json:"role"`
	SuggestedName string   `json:"suggested_name"`
	Tags          []string `json:"tags"`
	Confidence    float64  `json:"confidence"`
	Reasoning     string   `json:"reasoning,omitempty"`
}

// ProvisionalUpload is what the object store reports for an object stored under a provisional key.
type ProvisionalUpload struct {
	ProviderID   string
	Key          string
	URL          string
	ResourceKind Kind
	Format       string
	ByteSize     int64
	Width        *int
	Height       *int
	LoopKey      string
}
