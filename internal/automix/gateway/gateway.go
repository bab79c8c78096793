/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package gateway wraps the four native analyser operations, each invoked
// in an isolated worker process so that a crash or deadlock in the native
// analysis code never reaches the scheduler or UI threads.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/automixengine/internal/automix"
	"github.com/friendsincode/automixengine/internal/automix/model"
	"github.com/friendsincode/automixengine/internal/telemetry"
)

const (
	// HeadTimeout bounds an analyze_head call.
	HeadTimeout = 4 * time.Second
	// FullTimeout bounds analyze, suggest_transition and suggest_long_mix.
	FullTimeout = 30 * time.Second

	minWindow = 10.0
	maxWindow = 300.0

	warnInterval = 5 * time.Second
)

// operation names sent to the worker binary, matching the analyser contract.
const (
	opAnalyze           = "analyze"
	opAnalyzeHead       = "analyze_head"
	opSuggestTransition = "suggest_transition"
	opSuggestLongMix    = "suggest_long_mix"
)

// request is the JSON payload written to the worker's stdin.
type request struct {
	Op        string  `json:"op"`
	Path      string  `json:"path,omitempty"`
	OtherPath string  `json:"other_path,omitempty"`
	MaxWindow float64 `json:"max_window,omitempty"`
}

// response is the JSON payload read from the worker's stdout.
type response struct {
	Analysis *model.AudioAnalysis      `json:"analysis,omitempty"`
	Proposal *model.TransitionProposal `json:"proposal,omitempty"`
	Advanced *model.AdvancedTransition `json:"advanced,omitempty"`
	Error    string                    `json:"error,omitempty"`
}

// Gateway is the Analyser Gateway.
type Gateway struct {
	binPath string
	logger  zerolog.Logger

	warnMu   sync.Mutex
	lastWarn map[string]time.Time
}

// New creates a Gateway that spawns binPath once per call.
func New(binPath string, logger zerolog.Logger) *Gateway {
	return &Gateway{
		binPath:  binPath,
		logger:   logger.With().Str("component", "automix.gateway").Logger(),
		lastWarn: make(map[string]time.Time),
	}
}

func clampWindow(w float64) float64 {
	if w < minWindow {
		return minWindow
	}
	if w > maxWindow {
		return maxWindow
	}
	return w
}

// Analyze runs the full analysis operation.
func (g *Gateway) Analyze(ctx context.Context, path string, maxWindow float64) (model.AudioAnalysis, error) {
	analysis, err := g.callForAnalysis(ctx, opAnalyze, request{Op: opAnalyze, Path: path, MaxWindow: clampWindow(maxWindow)}, FullTimeout)
	if err != nil {
		return model.AudioAnalysis{}, err
	}
	analysis.IsHeadOnly = false
	analysis.SanitizeOrdering()
	return analysis, nil
}

// AnalyzeHead runs the cheap, intro-only analysis operation.
func (g *Gateway) AnalyzeHead(ctx context.Context, path string, maxWindow float64) (model.AudioAnalysis, error) {
	analysis, err := g.callForAnalysis(ctx, opAnalyzeHead, request{Op: opAnalyzeHead, Path: path, MaxWindow: clampWindow(maxWindow)}, HeadTimeout)
	if err != nil {
		return model.AudioAnalysis{}, err
	}
	analysis.IsHeadOnly = true
	analysis.SanitizeOrdering()
	return analysis, nil
}

// SuggestTransition asks for a short-mix proposal.
func (g *Gateway) SuggestTransition(ctx context.Context, currentPath, nextPath string) (model.TransitionProposal, error) {
	resp, err := g.call(ctx, request{Op: opSuggestTransition, Path: currentPath, OtherPath: nextPath}, FullTimeout)
	if err != nil {
		return model.TransitionProposal{}, err
	}
	if resp.Proposal == nil {
		return model.TransitionProposal{}, fmt.Errorf("%w: empty suggest_transition response", automix.ErrAnalyserUnavailable)
	}
	return *resp.Proposal, nil
}

// SuggestLongMix asks for a long "mashup" plan.
func (g *Gateway) SuggestLongMix(ctx context.Context, currentPath, nextPath string) (model.AdvancedTransition, error) {
	resp, err := g.call(ctx, request{Op: opSuggestLongMix, Path: currentPath, OtherPath: nextPath}, FullTimeout)
	if err != nil {
		return model.AdvancedTransition{}, err
	}
	if resp.Advanced == nil {
		return model.AdvancedTransition{}, fmt.Errorf("%w: empty suggest_long_mix response", automix.ErrAnalyserUnavailable)
	}
	return *resp.Advanced, nil
}

func (g *Gateway) callForAnalysis(ctx context.Context, op string, req request, timeout time.Duration) (model.AudioAnalysis, error) {
	resp, err := g.call(ctx, req, timeout)
	if err != nil {
		return model.AudioAnalysis{}, err
	}
	if resp.Analysis == nil {
		return model.AudioAnalysis{}, fmt.Errorf("%w: empty %s response", automix.ErrAnalyserUnavailable, op)
	}
	return *resp.Analysis, nil
}

// call verifies the file is reachable, spawns an isolated worker, sends the
// request on stdin, and reads the JSON response from stdout within timeout.
func (g *Gateway) call(ctx context.Context, req request, timeout time.Duration) (response, error) {
	start := time.Now()
	defer func() {
		telemetry.AutomixAnalysisDuration.WithLabelValues(req.Op).Observe(time.Since(start).Seconds())
	}()

	if req.Path != "" {
		if _, err := os.Stat(req.Path); err != nil {
			return response{}, fmt.Errorf("%w: %v", automix.ErrAnalyserUnavailable, err)
		}
	}
	if req.OtherPath != "" {
		if _, err := os.Stat(req.OtherPath); err != nil {
			return response{}, fmt.Errorf("%w: %v", automix.ErrAnalyserUnavailable, err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(callCtx, g.binPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return response{}, fmt.Errorf("%w: stdin pipe: %v", automix.ErrAnalyserUnavailable, err)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return response{}, fmt.Errorf("%w: start worker: %v", automix.ErrAnalyserUnavailable, err)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		_ = cmd.Process.Kill()
		return response{}, fmt.Errorf("marshal request: %w", err)
	}
	if _, err := stdin.Write(payload); err != nil {
		_ = cmd.Process.Kill()
		return response{}, fmt.Errorf("%w: write request: %v", automix.ErrAnalyserUnavailable, err)
	}
	_ = stdin.Close()

	waitErr := cmd.Wait()
	if callCtx.Err() != nil {
		g.warnOnce(req.Op, fmt.Errorf("worker timed out after %s", timeout))
		return response{}, fmt.Errorf("%w: timeout", automix.ErrAnalyserUnavailable)
	}
	if waitErr != nil {
		g.warnOnce(req.Op, fmt.Errorf("worker exited: %w (%s)", waitErr, stderr.String()))
		return response{}, fmt.Errorf("%w: worker crashed: %v", automix.ErrAnalyserUnavailable, waitErr)
	}

	var resp response
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return response{}, fmt.Errorf("%w: malformed response: %v", automix.ErrAnalyserUnavailable, err)
	}
	if resp.Error != "" {
		return response{}, fmt.Errorf("%w: %s", automix.ErrAnalyserUnavailable, resp.Error)
	}
	return resp, nil
}

// warnOnce logs a transient error at most once per warnInterval per key.
func (g *Gateway) warnOnce(key string, err error) {
	g.warnMu.Lock()
	defer g.warnMu.Unlock()
	if last, ok := g.lastWarn[key]; ok && time.Since(last) < warnInterval {
		return
	}
	g.lastWarn[key] = time.Now()
	g.logger.Warn().Err(err).Str("op", key).Msg("analyser call failed")
}
