/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache implements the Analysis Cache: a keyed, versioned,
// mtime/size-validated store of AudioAnalysis results with single-flight
// deduplication. A gorm-backed table is the source of truth (the only
// state the automix subsystem persists across restarts); an optional Redis
// front tier absorbs repeat reads and disables itself after the first error.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/automixengine/internal/automix/model"
)

// KeyPrefix namespaces the Redis front-cache tier.
const KeyPrefix = "automix:cache:analysis:"

// DefaultFrontTTL is how long a hit stays in the Redis front tier.
const DefaultFrontTTL = 10 * time.Minute

// Config configures the Analysis Cache.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	FrontTTL      time.Duration
	// DisableOnError mirrors the circuit-breaker behaviour used elsewhere in
	// the codebase's Redis-backed caches: once a Redis call fails, the front
	// tier stops being consulted for the remainder of the process lifetime
	// and every read/write falls through to the gorm-backed tier.
	DisableOnError bool
}

// DefaultConfig returns sane defaults.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		FrontTTL:       DefaultFrontTTL,
		DisableOnError: true,
	}
}

// analysisRecord is the gorm-mapped persistence twin of model.AudioAnalysis.
type analysisRecord struct {
	PathKey       string  `gorm:"primaryKey;column:path_key"`
	MTimeUnix     int64   `gorm:"column:mtime_unix"`
	SizeBytes     int64   `gorm:"column:size_bytes"`
	Version       int     `gorm:"column:version"`
	AnalyzeWindow float64 `gorm:"column:analyze_window"`
	Payload       []byte  `gorm:"column:payload"`
	UpdatedAtUnix int64   `gorm:"column:updated_at_unix"`
}

func (analysisRecord) TableName() string { return "automix_analysis_cache" }

// Cache is the Analysis Cache.
type Cache struct {
	db     *gorm.DB
	logger zerolog.Logger
	cfg    Config

	redisClient *redis.Client
	mu          sync.RWMutex
	redisDown   bool

	flightMu sync.Mutex
	flight   map[string]*flightEntry
}

type flightEntry struct {
	done chan struct{}
	val  *model.AudioAnalysis
	err  error
}

// New creates an Analysis Cache backed by db (source of truth) and,
// optionally, a Redis front tier. db must already have the
// automix_analysis_cache table migrated (see AutoMigrate).
func New(db *gorm.DB, cfg Config, logger zerolog.Logger) *Cache {
	c := &Cache{
		db:     db,
		cfg:    cfg,
		logger: logger.With().Str("component", "automix.cache").Logger(),
		flight: make(map[string]*flightEntry),
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.RedisAddr,
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  2 * time.Second,
			WriteTimeout: 2 * time.Second,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			c.logger.Warn().Err(err).Msg("redis front-cache unavailable, using database tier only")
			c.redisDown = true
		} else {
			c.redisClient = client
		}
	}

	return c
}

// AutoMigrate creates/updates the analysis-cache table.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&analysisRecord{})
}

// Close releases the Redis connection, if any.
func (c *Cache) Close() error {
	if c.redisClient != nil {
		return c.redisClient.Close()
	}
	return nil
}

func (c *Cache) frontAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.redisClient != nil && !c.redisDown
}

func (c *Cache) disableFront(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.redisDown {
		return
	}
	c.redisDown = true
	c.logger.Warn().Err(err).Msg("disabling redis front-cache after error")
}

// NormalizePath canonicalises a filesystem path for use as a cache key.
// On case-insensitive filesystems (assumed for windows/darwin GOOS, matching
// the platform's native behaviour) the key is lowercased and slashes are
// normalised to forward slashes; on case-sensitive filesystems the cleaned,
// slash-normalised path keeps its case. The path is not made absolute.
func NormalizePath(path string) string {
	clean := filepath.ToSlash(filepath.Clean(path))
	if caseInsensitiveFS() {
		return strings.ToLower(clean)
	}
	return clean
}

func caseInsensitiveFS() bool {
	return runtime.GOOS == "windows" || runtime.GOOS == "darwin"
}

// Key builds the single_flight key for a full-window request. Stored
// records are keyed by NormalizePath(path) alone, not by this key.
func Key(path string, window float64) string {
	return fmt.Sprintf("%s|%.3f", NormalizePath(path), window)
}

// HeadKey builds the single_flight key for a head-window request.
func HeadKey(path string, window float64) string {
	return fmt.Sprintf("%s|head|%.3f", NormalizePath(path), window)
}

// Get returns the cached analysis for path if mtime/size/version/window all
// match; otherwise it reports a miss. A parse error or version mismatch is a
// miss, not an error; a storage I/O error is logged and also treated as a
// miss (§4.1 Failure modes).
func (c *Cache) Get(ctx context.Context, path string, mtime time.Time, size int64, wantWindow float64) (model.AudioAnalysis, bool) {
	key := NormalizePath(path)

	if c.frontAvailable() {
		if rec, ok := c.getFront(ctx, key); ok {
			if analysis, ok := c.validate(rec, mtime, size, wantWindow); ok {
				return analysis, true
			}
			return model.AudioAnalysis{}, false
		}
	}

	var rec analysisRecord
	err := c.db.WithContext(ctx).Where("path_key = ?", key).First(&rec).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			c.logger.Warn().Err(err).Str("key", key).Msg("analysis cache read failed")
		}
		return model.AudioAnalysis{}, false
	}

	analysis, ok := c.validate(rec, mtime, size, wantWindow)
	if ok && c.frontAvailable() {
		c.setFront(ctx, key, rec)
	}
	return analysis, ok
}

func (c *Cache) validate(rec analysisRecord, mtime time.Time, size int64, wantWindow float64) (model.AudioAnalysis, bool) {
	if rec.MTimeUnix != mtime.Unix() || rec.SizeBytes != size {
		return model.AudioAnalysis{}, false
	}
	if rec.Version != model.SchemaVersion {
		return model.AudioAnalysis{}, false
	}
	if diff := rec.AnalyzeWindow - wantWindow; diff > 1.0 || diff < -1.0 {
		return model.AudioAnalysis{}, false
	}
	var analysis model.AudioAnalysis
	if err := json.Unmarshal(rec.Payload, &analysis); err != nil {
		c.logger.Debug().Err(err).Str("key", rec.PathKey).Msg("cached payload failed to parse")
		return model.AudioAnalysis{}, false
	}
	if analysis.Version != model.SchemaVersion {
		return model.AudioAnalysis{}, false
	}
	return analysis, true
}

// Put performs an unconditional, last-writer-wins write.
func (c *Cache) Put(ctx context.Context, path string, mtime time.Time, size int64, analysis model.AudioAnalysis) error {
	payload, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("marshal analysis: %w", err)
	}

	rec := analysisRecord{
		PathKey:       NormalizePath(path),
		MTimeUnix:     mtime.Unix(),
		SizeBytes:     size,
		Version:       analysis.Version,
		AnalyzeWindow: analysis.AnalyzeWindow,
		Payload:       payload,
		UpdatedAtUnix: time.Now().Unix(),
	}

	err = c.db.WithContext(ctx).Save(&rec).Error
	if err != nil {
		return fmt.Errorf("persist analysis: %w", err)
	}

	if c.frontAvailable() {
		c.setFront(ctx, rec.PathKey, rec)
	}
	return nil
}

func (c *Cache) getFront(ctx context.Context, key string) (analysisRecord, bool) {
	data, err := c.redisClient.Get(ctx, KeyPrefix+key).Bytes()
	if err == redis.Nil {
		return analysisRecord{}, false
	}
	if err != nil {
		if c.cfg.DisableOnError {
			c.disableFront(err)
		}
		return analysisRecord{}, false
	}
	var rec analysisRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return analysisRecord{}, false
	}
	return rec, true
}

func (c *Cache) setFront(ctx context.Context, key string, rec analysisRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	ttl := c.cfg.FrontTTL
	if ttl <= 0 {
		ttl = DefaultFrontTTL
	}
	if err := c.redisClient.Set(ctx, KeyPrefix+key, data, ttl).Err(); err != nil && c.cfg.DisableOnError {
		c.disableFront(err)
	}
}

// SingleFlight ensures that concurrent callers sharing requestKey observe
// exactly one in-flight computation; the result is broadcast to all waiters
// and the entry removed on completion, whether it succeeded or failed.
func (c *Cache) SingleFlight(ctx context.Context, requestKey string, compute func(ctx context.Context) (model.AudioAnalysis, error)) (model.AudioAnalysis, error) {
	c.flightMu.Lock()
	if entry, ok := c.flight[requestKey]; ok {
		c.flightMu.Unlock()
		select {
		case <-entry.done:
			return derefAnalysis(entry.val), entry.err
		case <-ctx.Done():
			return model.AudioAnalysis{}, ctx.Err()
		}
	}

	entry := &flightEntry{done: make(chan struct{})}
	c.flight[requestKey] = entry
	c.flightMu.Unlock()

	analysis, err := compute(ctx)
	entry.val = &analysis
	entry.err = err
	close(entry.done)

	c.flightMu.Lock()
	delete(c.flight, requestKey)
	c.flightMu.Unlock()

	return analysis, err
}

func derefAnalysis(a *model.AudioAnalysis) model.AudioAnalysis {
	if a == nil {
		return model.AudioAnalysis{}
	}
	return *a
}
