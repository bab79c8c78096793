/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package source adapts the station's schedule and media library into the
// service.PlaybackSource the AutoMix Engine polls every monitor tick. It
// reads the same schedule_entries/media_items tables the playout director
// drives playback from, so AutoMix always sees what is actually on air.
package source

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/automixengine/internal/automix/gain"
	"github.com/friendsincode/automixengine/internal/automix/service"
	"github.com/friendsincode/automixengine/internal/models"
)

// ScheduleSource implements service.PlaybackSource against a single mount's
// schedule, picking the currently on-air entry and whatever entry follows it.
type ScheduleSource struct {
	db      *gorm.DB
	mountID string
	logger  zerolog.Logger
}

// New creates a ScheduleSource for the given mount.
func New(db *gorm.DB, mountID string, logger zerolog.Logger) *ScheduleSource {
	return &ScheduleSource{
		db:      db,
		mountID: mountID,
		logger:  logger.With().Str("component", "automix.source").Logger(),
	}
}

func (s *ScheduleSource) trackFromEntry(entry models.ScheduleEntry) (service.Track, bool) {
	if entry.SourceType != "media" {
		return service.Track{}, false
	}
	var media models.MediaItem
	if err := s.db.First(&media, "id = ?", entry.SourceID).Error; err != nil {
		s.logger.Debug().Err(err).Str("entry", entry.ID).Msg("schedule entry media lookup failed")
		return service.Track{}, false
	}
	return service.Track{
		SongRef: media.ID,
		Path:    media.Path,
		URL:     "file://" + media.Path,
	}, true
}

// CurrentTrack returns whatever schedule_entries row is on air right now.
func (s *ScheduleSource) CurrentTrack() (service.Track, bool) {
	now := time.Now().UTC()
	var entry models.ScheduleEntry
	err := s.db.WithContext(context.Background()).
		Where("mount_id = ?", s.mountID).
		Where("starts_at <= ?", now).
		Where("ends_at >= ?", now).
		Order("starts_at DESC").
		First(&entry).Error
	if err != nil {
		return service.Track{}, false
	}
	return s.trackFromEntry(entry)
}

// NextTrack returns the entry immediately following the on-air one.
func (s *ScheduleSource) NextTrack() (service.Track, bool) {
	now := time.Now().UTC()
	var entry models.ScheduleEntry
	err := s.db.WithContext(context.Background()).
		Where("mount_id = ?", s.mountID).
		Where("starts_at > ?", now).
		Order("starts_at ASC").
		First(&entry).Error
	if err != nil {
		return service.Track{}, false
	}
	t, ok := s.trackFromEntry(entry)
	if !ok {
		return service.Track{}, false
	}
	t.Index = 1
	return t, true
}

// PositionSec reports seconds elapsed since the on-air entry's starts_at.
func (s *ScheduleSource) PositionSec() float64 {
	now := time.Now().UTC()
	var entry models.ScheduleEntry
	err := s.db.WithContext(context.Background()).
		Where("mount_id = ?", s.mountID).
		Where("starts_at <= ?", now).
		Where("ends_at >= ?", now).
		Order("starts_at DESC").
		First(&entry).Error
	if err != nil {
		return 0
	}
	return now.Sub(entry.StartsAt).Seconds()
}

// ReplayGainLinear converts the on-air media item's ReplayGain (dB) to a
// linear multiplier for the gain stage.
func (s *ScheduleSource) ReplayGainLinear() float64 {
	now := time.Now().UTC()
	var entry models.ScheduleEntry
	if err := s.db.WithContext(context.Background()).
		Where("mount_id = ?", s.mountID).
		Where("starts_at <= ?", now).
		Where("ends_at >= ?", now).
		Order("starts_at DESC").
		First(&entry).Error; err != nil {
		return 1.0
	}
	if entry.SourceType != "media" {
		return 1.0
	}
	var media models.MediaItem
	if err := s.db.First(&media, "id = ?", entry.SourceID).Error; err != nil {
		return 1.0
	}
	return gain.DBToLinear(media.ReplayGain)
}
