package knowledge

import "time"

// Search defaults and bounds.
const (
	// DefaultTopK is the number of chunks retrieved when no option is given.
	DefaultTopK = 3

	// MaxTopK caps retrieval size regardless of options.
	MaxTopK = 20

	// defaultSearchTimeout bounds a single vector search.
	defaultSearchTimeout = 10 * time.Second
)

type searchConfig struct {
	topK          int
	minSimilarity float64
	timeout       time.Duration
}

// SearchOption configures a Search call.
type SearchOption func(*searchConfig)

// WithTopK sets the number of chunks to retrieve. Values outside
// [1, MaxTopK] are clamped.
func WithTopK(k int) SearchOption {
	return func(c *searchConfig) {
		if k < 1 {
			k = 1
		}
		if k > MaxTopK {
			k = MaxTopK
		}
		c.topK = k
	}
}

// WithMinSimilarity drops results below the given cosine similarity.
func WithMinSimilarity(min float64) SearchOption {
	return func(c *searchConfig) { c.minSimilarity = min }
}

func buildSearchConfig(opts []SearchOption) searchConfig {
	cfg := searchConfig{
		topK:    DefaultTopK,
		timeout: defaultSearchTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
