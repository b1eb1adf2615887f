package domain

// Status is the lifecycle state of a generation job
type Status string

// Job status constants
const (
	JobStatusPending    Status = "pending"
	JobStatusProcessing Status = "processing"
	JobStatusCompleted  Status = "completed"
	JobStatusFailed     Status = "failed"
)

// Kind is the requested content kind. The set is closed.
type Kind string

// Content kind constants
const (
	KindBlogOutline        Kind = "blog_outline"
	KindProductDescription Kind = "product_description"
	KindSocialCaption      Kind = "social_caption"
)

// Sentiment is the classification attached to generated content
type Sentiment string

// Sentiment constants
const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// Kinds lists every accepted content kind
var Kinds = []Kind{KindBlogOutline, KindProductDescription, KindSocialCaption}

// ParseKind validates a raw content kind
func ParseKind(raw string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == raw {
			return k, nil
		}
	}
	return "", ErrInvalidKind
}

// Label is the human readable name used when prompting the generator
func (k Kind) Label() string {
	switch k {
	case KindBlogOutline:
		return "Blog Post Outline"
	case KindProductDescription:
		return "Product Description"
	default:
		return "Social Media Caption"
	}
}

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are permitted from s
func (s Status) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// rank orders statuses along pending -> processing -> terminal
func (s Status) rank() int {
	switch s {
	case JobStatusPending:
		return 0
	case JobStatusProcessing:
		return 1
	default:
		return 2
	}
}

// Valid reports whether s is one of the known sentiments
func (s Sentiment) Valid() bool {
	return s == SentimentPositive || s == SentimentNeutral || s == SentimentNegative
}
