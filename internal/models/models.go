/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package models holds the gorm-mapped station tables AutoMix reads. It is
// deliberately narrow: AutoMix is a secondary consumer of the station
// database, never its owner, so only the tables it actually queries are
// represented here.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// MediaItem is an audio asset with analysis metadata.
type MediaItem struct {
	ID            string `gorm:"type:uuid;primaryKey"`
	StationID     string `gorm:"type:uuid;index"`
	Title         string `gorm:"index"`
	Artist        string `gorm:"index"`
	Album         string `gorm:"index"`
	Duration      time.Duration
	Path          string
	StorageKey    string
	ImportPath    string // Original path from import (LibreTime/AzuraCast)
	Genre         string
	Mood          string
	Label         string
	Language      string
	Explicit      bool
	LoudnessLUFS  float64
	ReplayGain    float64
	BPM           float64
	Year          string // Changed from int to string for flexibility
	TrackNumber   int
	Bitrate       int
	Samplerate    int
	Tags          []MediaTagLink
	CuePoints     CuePointSet `gorm:"type:jsonb"`
	Waveform      []byte
	Artwork       []byte `gorm:"type:bytea"`       // Embedded album art (JPEG/PNG)
	ArtworkMime   string `gorm:"type:varchar(32)"` // MIME type of artwork
	AnalysisState AnalysisState `gorm:"type:varchar(32)"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CuePointSet captures intro/outro markers.
type CuePointSet struct {
	IntroEnd float64 `json:"intro_end"`
	OutroIn  float64 `json:"outro_in"`
}

// Value implements driver.Valuer for database serialization.
func (c CuePointSet) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Scan implements sql.Scanner for database deserialization.
func (c *CuePointSet) Scan(value interface{}) error {
	if value == nil {
		*c = CuePointSet{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("failed to unmarshal CuePointSet: %v", value)
	}
	if len(bytes) == 0 {
		*c = CuePointSet{}
		return nil
	}
	return json.Unmarshal(bytes, c)
}

// AnalysisState tracks analyzer progress.
type AnalysisState string

const (
	AnalysisPending  AnalysisState = "pending"
	AnalysisRunning  AnalysisState = "running"
	AnalysisComplete AnalysisState = "complete"
	AnalysisFailed   AnalysisState = "failed"
)

// MediaTagLink join table between media and tags.
type MediaTagLink struct {
	MediaItemID string `gorm:"type:uuid;primaryKey"`
	TagID       string `gorm:"type:uuid;primaryKey"`
}

// ScheduleEntry materializes a planned item on a mount's timeline.
type ScheduleEntry struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	StationID  string `gorm:"type:uuid;index"`
	MountID    string `gorm:"type:uuid;index"`
	StartsAt   time.Time
	EndsAt     time.Time
	SourceType string         `gorm:"type:varchar(32)"`
	SourceID   string         `gorm:"type:uuid"`
	Metadata   map[string]any `gorm:"type:jsonb"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
