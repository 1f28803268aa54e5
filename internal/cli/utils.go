// Package cli formats command output for the semcache CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hyperjump/semcache/internal/models"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a -output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

// queryResultJSON is the JSON shape of a query result; Hit is false on a miss.
type queryResultJSON struct {
	Hit      bool    `json:"hit"`
	ID       int64   `json:"id,omitempty"`
	Distance float64 `json:"distance,omitempty"`
}

// WriteQueryResult writes a query result to w. A nil hit is a cache miss.
func WriteQueryResult(w io.Writer, hit *models.QueryResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		out := queryResultJSON{}
		if hit != nil {
			out = queryResultJSON{Hit: true, ID: hit.ID, Distance: hit.Distance}
		}
		return json.NewEncoder(w).Encode(out)
	default:
		if hit == nil {
			_, err := fmt.Fprintln(w, "miss")
			return err
		}
		_, err := fmt.Fprintf(w, "hit: id=%d distance=%.6f\n", hit.ID, hit.Distance)
		return err
	}
}

// WriteStatus writes the index status to w.
func WriteStatus(w io.Writer, st *models.IndexStatus, format OutputFormat) error {
	if format == OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	fmt.Fprintf(w, "backend:            %s\n", st.Backend)
	fmt.Fprintf(w, "state:              %s   # empty, dirty (entries awaiting rebuild) or built\n", st.State)
	fmt.Fprintf(w, "entries:            %d   # count of added entries\n", st.Entries)
	fmt.Fprintf(w, "queryable:          %d   # entries visible to queries\n", st.Queryable)
	fmt.Fprintf(w, "rebuilds:           %d\n", st.Rebuilds)
	if st.Rebuilds > 0 {
		fmt.Fprintf(w, "last_rebuild_ms:    %d\n", st.LastRebuildMillis)
	}
	if st.FailedRebuilds > 0 {
		fmt.Fprintf(w, "failed_rebuilds:    %d\n", st.FailedRebuilds)
	}
	if st.DiskUsageBytes > 0 {
		fmt.Fprintf(w, "disk_usage_bytes:   %d   # index snapshot + identifiers on disk\n", st.DiskUsageBytes)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "# configuration")
	fmt.Fprintf(w, "dimensions:         %d\n", st.Dimensions)
	fmt.Fprintf(w, "metric:             %s\n", st.Metric)
	fmt.Fprintf(w, "default_threshold:  %g\n", st.DefaultDistanceThreshold)
	if st.IndexPath != "" {
		fmt.Fprintf(w, "index_path:         %s\n", st.IndexPath)
	}
	return nil
}
