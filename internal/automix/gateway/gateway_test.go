/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package gateway

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/automixengine/internal/automix"
)

// writeStubWorker writes a small shell script standing in for the native
// analyser binary: it drains stdin and echoes body to stdout, simulating a
// worker that always returns the same canned JSON response.
func writeStubWorker(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	// The body is written to its own file and cat'd back, rather than
	// inlined into the script, to avoid shell-quoting the JSON.
	bodyPath := filepath.Join(dir, "body.json")
	if err := os.WriteFile(bodyPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write body: %v", err)
	}
	path := filepath.Join(dir, "stub-analyser.sh")
	script := "#!/bin/sh\ncat >/dev/null\ncat " + bodyPath + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func writeMediaFile(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "track.mp3")
	if err := os.WriteFile(path, []byte("fake audio"), 0o644); err != nil {
		t.Fatalf("write media file: %v", err)
	}
	return path
}

func TestGateway_AnalyzeSuccess(t *testing.T) {
	worker := writeStubWorker(t, `{"analysis":{"version":1,"analyze_window":60,"duration":180,"bpm":128}}`)
	g := New(worker, zerolog.Nop())
	track := writeMediaFile(t)

	analysis, err := g.Analyze(context.Background(), track, 60)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if analysis.BPM != 128 || analysis.Duration != 180 {
		t.Errorf("unexpected analysis: %+v", analysis)
	}
	if analysis.IsHeadOnly {
		t.Errorf("expected IsHeadOnly=false for a full analysis")
	}
}

func TestGateway_AnalyzeHeadMarksHeadOnly(t *testing.T) {
	worker := writeStubWorker(t, `{"analysis":{"version":1,"analyze_window":10,"duration":180}}`)
	g := New(worker, zerolog.Nop())
	track := writeMediaFile(t)

	analysis, err := g.AnalyzeHead(context.Background(), track, 10)
	if err != nil {
		t.Fatalf("analyze_head: %v", err)
	}
	if !analysis.IsHeadOnly {
		t.Errorf("expected IsHeadOnly=true for a head analysis")
	}
}

func TestGateway_MissingFileIsAnalyserUnavailable(t *testing.T) {
	worker := writeStubWorker(t, `{}`)
	g := New(worker, zerolog.Nop())

	_, err := g.Analyze(context.Background(), "/nonexistent/path.mp3", 60)
	if !errors.Is(err, automix.ErrAnalyserUnavailable) {
		t.Errorf("expected ErrAnalyserUnavailable, got %v", err)
	}
}

func TestGateway_WorkerErrorFieldIsAnalyserUnavailable(t *testing.T) {
	worker := writeStubWorker(t, `{"error":"decode failed"}`)
	g := New(worker, zerolog.Nop())
	track := writeMediaFile(t)

	_, err := g.Analyze(context.Background(), track, 60)
	if !errors.Is(err, automix.ErrAnalyserUnavailable) {
		t.Errorf("expected ErrAnalyserUnavailable, got %v", err)
	}
}

func TestGateway_TimeoutIsAnalyserUnavailable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "slow.sh")
	script := "#!/bin/sh\ncat >/dev/null\nsleep 5\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	g := New(path, zerolog.Nop())
	track := writeMediaFile(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := g.callForAnalysis(ctx, opAnalyze, request{Op: opAnalyze, Path: track, MaxWindow: 60}, 50*time.Millisecond)
	if !errors.Is(err, automix.ErrAnalyserUnavailable) {
		t.Errorf("expected ErrAnalyserUnavailable on timeout, got %v", err)
	}
}

func TestGateway_WindowClampedToBounds(t *testing.T) {
	if got := clampWindow(5); got != minWindow {
		t.Errorf("clampWindow(5) = %v, want %v", got, minWindow)
	}
	if got := clampWindow(1000); got != maxWindow {
		t.Errorf("clampWindow(1000) = %v, want %v", got, maxWindow)
	}
	if got := clampWindow(60); got != 60 {
		t.Errorf("clampWindow(60) = %v, want 60", got)
	}
}
