/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package source

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/automixengine/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.MediaItem{}, &models.ScheduleEntry{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestScheduleSource_CurrentAndNextTrack(t *testing.T) {
	db := newTestDB(t)
	mount := "mount-1"
	now := time.Now().UTC()

	current := models.MediaItem{ID: "media-current", Path: "/music/current.mp3", ReplayGain: -3.0}
	next := models.MediaItem{ID: "media-next", Path: "/music/next.mp3"}
	if err := db.Create(&current).Error; err != nil {
		t.Fatalf("create current media: %v", err)
	}
	if err := db.Create(&next).Error; err != nil {
		t.Fatalf("create next media: %v", err)
	}

	entries := []models.ScheduleEntry{
		{
			ID:         "entry-current",
			MountID:    mount,
			StartsAt:   now.Add(-1 * time.Minute),
			EndsAt:     now.Add(2 * time.Minute),
			SourceType: "media",
			SourceID:   current.ID,
		},
		{
			ID:         "entry-next",
			MountID:    mount,
			StartsAt:   now.Add(2 * time.Minute),
			EndsAt:     now.Add(5 * time.Minute),
			SourceType: "media",
			SourceID:   next.ID,
		},
	}
	for _, e := range entries {
		if err := db.Create(&e).Error; err != nil {
			t.Fatalf("create schedule entry: %v", err)
		}
	}

	src := New(db, mount, zerolog.Nop())

	track, ok := src.CurrentTrack()
	if !ok {
		t.Fatal("expected an on-air track")
	}
	if track.SongRef != current.ID {
		t.Fatalf("expected current track %q, got %q", current.ID, track.SongRef)
	}

	nextTrack, ok := src.NextTrack()
	if !ok {
		t.Fatal("expected a next track")
	}
	if nextTrack.SongRef != next.ID {
		t.Fatalf("expected next track %q, got %q", next.ID, nextTrack.SongRef)
	}
	if nextTrack.Index != 1 {
		t.Fatalf("expected next track index 1, got %d", nextTrack.Index)
	}

	pos := src.PositionSec()
	if pos < 55 || pos > 65 {
		t.Fatalf("expected position around 60s, got %f", pos)
	}

	gain := src.ReplayGainLinear()
	if gain >= 1.0 {
		t.Fatalf("expected a sub-unity gain for negative replay gain, got %f", gain)
	}
}

func TestScheduleSource_NoOnAirEntryReturnsFalse(t *testing.T) {
	db := newTestDB(t)
	src := New(db, "empty-mount", zerolog.Nop())

	if _, ok := src.CurrentTrack(); ok {
		t.Fatal("expected no on-air track for an empty schedule")
	}
	if gain := src.ReplayGainLinear(); gain != 1.0 {
		t.Fatalf("expected default unity gain, got %f", gain)
	}
}

func TestScheduleSource_NonMediaEntryIsSkipped(t *testing.T) {
	db := newTestDB(t)
	mount := "mount-2"
	now := time.Now().UTC()

	entry := models.ScheduleEntry{
		ID:         "entry-live",
		MountID:    mount,
		StartsAt:   now.Add(-1 * time.Minute),
		EndsAt:     now.Add(1 * time.Minute),
		SourceType: "live",
		SourceID:   "dj-session",
	}
	if err := db.Create(&entry).Error; err != nil {
		t.Fatalf("create schedule entry: %v", err)
	}

	src := New(db, mount, zerolog.Nop())
	if _, ok := src.CurrentTrack(); ok {
		t.Fatal("expected non-media schedule entries to be skipped")
	}
}
