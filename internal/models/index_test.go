package models

import (
	"math"
	"testing"
)

func TestQueryRequest_Validate(t *testing.T) {
	neg, zero, nan := -0.5, 0.0, math.NaN()
	tests := []struct {
		name    string
		req     QueryRequest
		wantErr bool
	}{
		{"valid default threshold", QueryRequest{Context: "hello"}, false},
		{"valid zero threshold", QueryRequest{Context: "hello", DistanceThreshold: &zero}, false},
		{"empty context", QueryRequest{}, true},
		{"negative threshold", QueryRequest{Context: "hello", DistanceThreshold: &neg}, true},
		{"nan threshold", QueryRequest{Context: "hello", DistanceThreshold: &nan}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestQueryRequest_Threshold(t *testing.T) {
	r := QueryRequest{Context: "x"}
	if r.Threshold(0.2) != 0.2 {
		t.Errorf("default threshold not applied")
	}
	v := 0.05
	r.DistanceThreshold = &v
	if r.Threshold(0.2) != 0.05 {
		t.Errorf("request threshold not used")
	}
}

func TestAddRequest_Validate(t *testing.T) {
	if err := (&AddRequest{ID: 1}).Validate(); err == nil {
		t.Error("expected error for empty context")
	}
	if err := (&AddRequest{ID: 1, Context: "x"}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
