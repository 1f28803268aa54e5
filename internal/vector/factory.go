package vector

import "fmt"

// Backend selects a Store implementation.
type Backend string

const (
	// BackendExact is brute-force search, consistent after every Add. Good for small-to-moderate entry counts.
	BackendExact Backend = "exact"
	// BackendApproximate is a random projection forest that needs Build before new entries are queryable.
	BackendApproximate Backend = "approximate"
)

// Options configures NewStore.
type Options struct {
	Backend    string
	Dimensions int
	Metric     string
	Forest     ForestOptions
}

// NewStore creates a store of the requested backend.
// Supported backends: "exact" (default), "approximate".
func NewStore(opts Options) (Store, error) {
	metric, err := ParseMetric(opts.Metric)
	if err != nil {
		return nil, err
	}
	switch Backend(opts.Backend) {
	case BackendExact, "", "flat":
		return NewFlatStore(opts.Dimensions, metric)
	case BackendApproximate, "forest", "annoy":
		return NewForestStore(opts.Dimensions, metric, opts.Forest)
	default:
		return nil, fmt.Errorf("unknown vector backend: %s (supported: exact, approximate)", opts.Backend)
	}
}
