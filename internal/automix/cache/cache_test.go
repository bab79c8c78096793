/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package cache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/automixengine/internal/automix/model"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return New(db, Config{}, zerolog.Nop())
}

func TestCache_PutThenGetHit(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	mtime := time.Unix(1000, 0)

	analysis := model.AudioAnalysis{Version: model.SchemaVersion, AnalyzeWindow: 60, Duration: 180, BPM: 128}
	if err := c.Put(ctx, "/music/track.mp3", mtime, 4096, analysis); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, ok := c.Get(ctx, "/music/track.mp3", mtime, 4096, 60)
	if !ok {
		t.Fatalf("expected a cache hit")
	}
	if got.BPM != 128 {
		t.Errorf("bpm = %v, want 128", got.BPM)
	}
}

func TestCache_MissOnMTimeChange(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	mtime := time.Unix(1000, 0)

	analysis := model.AudioAnalysis{Version: model.SchemaVersion, AnalyzeWindow: 60, Duration: 180}
	if err := c.Put(ctx, "/music/track.mp3", mtime, 4096, analysis); err != nil {
		t.Fatalf("put: %v", err)
	}

	if _, ok := c.Get(ctx, "/music/track.mp3", time.Unix(2000, 0), 4096, 60); ok {
		t.Errorf("expected a miss after mtime change")
	}
}

func TestCache_MissOnVersionMismatch(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	mtime := time.Unix(1000, 0)

	analysis := model.AudioAnalysis{Version: model.SchemaVersion + 1, AnalyzeWindow: 60, Duration: 180}
	if err := c.Put(ctx, "/music/track.mp3", mtime, 4096, analysis); err != nil {
		t.Fatalf("put: %v", err)
	}

	if _, ok := c.Get(ctx, "/music/track.mp3", mtime, 4096, 60); ok {
		t.Errorf("expected a miss on version mismatch")
	}
}

func TestCache_MissWhenWindowDiffersByMoreThanOneSecond(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	mtime := time.Unix(1000, 0)

	analysis := model.AudioAnalysis{Version: model.SchemaVersion, AnalyzeWindow: 60, Duration: 180}
	if err := c.Put(ctx, "/music/track.mp3", mtime, 4096, analysis); err != nil {
		t.Fatalf("put: %v", err)
	}

	if _, ok := c.Get(ctx, "/music/track.mp3", mtime, 4096, 61.5); ok {
		t.Errorf("expected a miss for a window difference > 1s")
	}
	if _, ok := c.Get(ctx, "/music/track.mp3", mtime, 4096, 60.9); !ok {
		t.Errorf("expected a hit for a window difference < 1s")
	}
}

func TestCache_NormalizePathAliasing(t *testing.T) {
	a := NormalizePath("/Music/Track.mp3")
	b := NormalizePath("/music/track.mp3")
	if caseInsensitiveFS() && a != b {
		t.Errorf("expected case-insensitive aliasing to collapse paths: %q vs %q", a, b)
	}
}

func TestCache_SingleFlightDeduplicatesConcurrentCallers(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	var calls int64
	compute := func(ctx context.Context) (model.AudioAnalysis, error) {
		atomic.AddInt64(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return model.AudioAnalysis{Version: model.SchemaVersion, BPM: 100}, nil
	}

	results := make(chan model.AudioAnalysis, 5)
	for i := 0; i < 5; i++ {
		go func() {
			a, err := c.SingleFlight(ctx, "same-key", compute)
			if err != nil {
				t.Errorf("single flight error: %v", err)
			}
			results <- a
		}()
	}

	for i := 0; i < 5; i++ {
		a := <-results
		if a.BPM != 100 {
			t.Errorf("bpm = %v, want 100", a.BPM)
		}
	}
	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Errorf("compute called %d times, want 1", got)
	}
}
