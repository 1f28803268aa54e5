package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/hyperjump/semcache/internal/models"
)

func TestWriteQueryResult_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteQueryResult(&buf, &models.QueryResponse{ID: 6, Distance: 0.004}, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded queryResultJSON
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if !decoded.Hit || decoded.ID != 6 || decoded.Distance != 0.004 {
		t.Errorf("decoded=%+v", decoded)
	}

	buf.Reset()
	_ = WriteQueryResult(&buf, nil, OutputJSON)
	if strings.TrimSpace(buf.String()) != `{"hit":false}` {
		t.Errorf("miss JSON=%q", buf.String())
	}
}

func TestWriteQueryResult_text(t *testing.T) {
	var buf bytes.Buffer
	_ = WriteQueryResult(&buf, &models.QueryResponse{ID: 6, Distance: 0.25}, OutputText)
	if !strings.Contains(buf.String(), "id=6") || !strings.Contains(buf.String(), "0.250000") {
		t.Errorf("text output: %q", buf.String())
	}
	buf.Reset()
	_ = WriteQueryResult(&buf, nil, OutputText)
	if buf.String() != "miss\n" {
		t.Errorf("miss output: %q", buf.String())
	}
}

func TestWriteStatus(t *testing.T) {
	st := &models.IndexStatus{
		Backend: "approximate", State: "dirty", Entries: 5, Queryable: 3,
		Rebuilds: 2, LastRebuildMillis: 12, Dimensions: 384, Metric: "angular",
		DefaultDistanceThreshold: 0.2, IndexPath: "/tmp/index.bin",
	}
	var buf bytes.Buffer
	if err := WriteStatus(&buf, st, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, sub := range []string{"approximate", "dirty", "entries:            5", "queryable:          3", "last_rebuild_ms", "angular", "/tmp/index.bin"} {
		if !strings.Contains(out, sub) {
			t.Errorf("text output missing %q:\n%s", sub, out)
		}
	}

	buf.Reset()
	if err := WriteStatus(&buf, st, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded models.IndexStatus
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatal(err)
	}
	if decoded != *st {
		t.Errorf("decoded=%+v", decoded)
	}
}

func TestParseOutputFormat(t *testing.T) {
	for in, want := range map[string]OutputFormat{"": OutputText, "text": OutputText, "json": OutputJSON} {
		got, err := ParseOutputFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseOutputFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseOutputFormat("yaml"); err == nil {
		t.Error("expected error for unknown format")
	}
}
