package main

import (
	"io"
	"log/slog"
	"testing"

	"github.com/spf13/cobra"

	"chronocore/internal/logging"
)

func TestSyntheticCounterIsMonotonic(t *testing.T) {
	values := syntheticCounter(10, "host-1")
	if len(values) != 10 {
		t.Fatalf("expected 10 samples, got %d", len(values))
	}
	for i := 1; i < len(values); i++ {
		if values[i] <= values[i-1] {
			t.Errorf("sample %d = %v should exceed sample %d = %v", i, values[i], i-1, values[i-1])
		}
	}
}

func TestSyntheticCounterVariesByHost(t *testing.T) {
	a := syntheticCounter(10, "host-1")
	b := syntheticCounter(10, "host-2")
	if a[len(a)-1] == b[len(b)-1] {
		t.Fatalf("expected different hosts to produce different slopes, got equal totals %v", a[len(a)-1])
	}
}

func TestRunDemoEndToEnd(t *testing.T) {
	cmd := &cobra.Command{Use: "demo"}
	cmd.Flags().StringP("output", "o", "table", "")
	logger := slog.New(logging.NewComponentFilterHandler(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}), slog.LevelError))
	if err := runDemo(cmd, logger, 2, 60, true); err != nil {
		t.Fatalf("runDemo: %v", err)
	}
}
