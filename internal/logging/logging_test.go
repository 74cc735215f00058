package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf})

	log.With(String("component", "sampler")).Info(context.Background(), "sample",
		Int("pairs", 3),
		Float("ratio", 0.5),
		Error(errors.New("boom")),
	)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line %q: %v", buf.String(), err)
	}
	if entry["msg"] != "sample" {
		t.Fatalf("msg = %v, want sample", entry["msg"])
	}
	if entry["component"] != "sampler" {
		t.Fatalf("component = %v, want sampler", entry["component"])
	}
	if entry["pairs"] != float64(3) || entry["ratio"] != 0.5 || entry["error"] != "boom" {
		t.Fatalf("unexpected fields: %v", entry)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})

	log.Info(context.Background(), "hidden")
	log.Warn(context.Background(), "shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestEnsureRunIDIsStable(t *testing.T) {
	ctx, id := EnsureRunID(context.Background())
	if id == "" {
		t.Fatalf("expected a run id")
	}
	ctx2, id2 := EnsureRunID(ctx)
	if id2 != id || RunIDFromContext(ctx2) != id {
		t.Fatalf("run id changed: %q -> %q", id, id2)
	}
}

func TestRunLoggerTagsRecords(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Format: "json", Output: &buf})

	ctx, id := EnsureRunID(context.Background())
	ctx, log := WithRunLogger(ctx, base)
	if RunIDFromContext(ctx) != id {
		t.Fatalf("WithRunLogger replaced the existing run id")
	}
	log.Info(ctx, "simulation finished", Uint64("total_checks", 61), Bool("majority", true))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line %q: %v", buf.String(), err)
	}
	if entry["run_id"] != id || entry["total_checks"] != float64(61) || entry["majority"] != true {
		t.Fatalf("unexpected record: %v", entry)
	}
	if RunIDFromContext(context.Background()) != "" {
		t.Fatalf("empty context reported a run id")
	}
}
