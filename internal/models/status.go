package models

// IndexStatus is returned by the status endpoint.
type IndexStatus struct {
	Backend                  string  `json:"backend"`
	Dimensions               int     `json:"dimensions"`
	Metric                   string  `json:"metric"`
	Entries                  int     `json:"entries"`
	Queryable                int     `json:"queryable"`
	State                    string  `json:"state"`
	Rebuilds                 int64   `json:"rebuilds"`
	LastRebuildMillis        int64   `json:"last_rebuild_ms"`
	RebuildRequests          uint64  `json:"rebuild_requests"`
	FailedRebuilds           uint64  `json:"failed_rebuilds"`
	DefaultDistanceThreshold float64 `json:"default_distance_threshold"`
	EmbeddingDimensions      int     `json:"embedding_dimensions"`
	IndexPath                string  `json:"index_path,omitempty"`
	DiskUsageBytes           int64   `json:"disk_usage_bytes,omitempty"`
}
