package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

func TestLoggerInit(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() {
		if err := Sync(); err != nil {
			t.Errorf("failed to sync logger: %v", err)
		}
	}()

	if Get() == nil {
		t.Fatal("logger is nil after initialization")
	}
}

func TestLoggerNamedFields(t *testing.T) {
	var buf bytes.Buffer
	if err := InitWithWriter(&buf); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = InitWithWriter(os.Stdout) }()

	Named("scoring").Info(context.Background(), "evaluation committed",
		String("user_id", "u1"),
		Float64("cost_usd", 0.0002),
		Bool("budget_exceeded", false),
		Duration("latency", 150*time.Millisecond),
	)

	out := buf.String()
	for _, want := range []string{"logger=scoring", "user_id=u1", "budget_exceeded=false", "latency=150ms", "source="} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in %q", want, out)
		}
	}
}

func TestLoggerJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	if err := InitWithWriter(&buf); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}
	if err := SetFormat("json"); err != nil {
		t.Fatalf("failed to set format: %v", err)
	}
	defer func() {
		_ = SetFormat("text")
		_ = InitWithWriter(os.Stdout)
	}()

	Get().With(String("run_id", "r1")).Error(context.Background(), "commit failed", Error(errors.New("boom")))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not json: %v (%q)", err, buf.String())
	}
	if rec["run_id"] != "r1" || rec["msg"] != "commit failed" || rec["error"] != "boom" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestSetFormatAndLevelRejectUnknown(t *testing.T) {
	if err := SetFormat("xml"); err == nil {
		t.Error("expected error for unknown format")
	}
	if err := SetLevelString("verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
	if err := SetLevelString("WARN"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	_ = SetLevelString("info")
}

func TestDebugSuppressedAtInfo(t *testing.T) {
	var buf bytes.Buffer
	if err := InitWithWriter(&buf); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = InitWithWriter(os.Stdout) }()
	_ = SetLevelString("info")

	Get().Debug(context.Background(), "hidden")
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}
