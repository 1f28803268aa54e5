// Package models defines the request and response envelopes of the index API.
package models

import (
	"fmt"
	"math"
)

// AddRequest stores text under a caller-chosen identifier.
type AddRequest struct {
	ID      int64  `json:"id"`
	Context string `json:"context"`
}

// Validate returns an error if the request has no text.
func (r *AddRequest) Validate() error {
	if r.Context == "" {
		return fmt.Errorf("context cannot be empty")
	}
	return nil
}

// QueryRequest looks up the entry nearest to Context. A nil DistanceThreshold uses the server default.
type QueryRequest struct {
	Context           string   `json:"context"`
	DistanceThreshold *float64 `json:"distance_threshold,omitempty"`
}

// Validate returns an error if the text is empty or the threshold is negative.
func (r *QueryRequest) Validate() error {
	if r.Context == "" {
		return fmt.Errorf("context cannot be empty")
	}
	if t := r.DistanceThreshold; t != nil && (*t < 0 || math.IsNaN(*t)) {
		return fmt.Errorf("distance_threshold must be non-negative")
	}
	return nil
}

// Threshold returns the request threshold, or def when unset.
func (r *QueryRequest) Threshold(def float64) float64 {
	if r.DistanceThreshold != nil {
		return *r.DistanceThreshold
	}
	return def
}

// QueryResponse is a cache hit. A miss has no body.
type QueryResponse struct {
	ID       int64   `json:"id"`
	Distance float64 `json:"distance"`
}

// StatusResponse is the body of a successful add or rebuild.
type StatusResponse struct {
	Status string `json:"status"`
}

// ErrorResponse carries a failure message.
type ErrorResponse struct {
	Detail string `json:"detail"`
}
