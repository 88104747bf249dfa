package broker

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"sensextrader/internal/logs"
)

// marginCacheTTL is how long a cached margins snapshot stays usable after
// the live API starts failing.
const marginCacheTTL = time.Hour

// MarginCache persists the last good margins snapshot to a JSON file so a
// flaky broker API does not blind the engine.
type MarginCache struct {
	Path string
}

type marginCacheFile struct {
	Margins   MarginsSnapshot `json:"margins"`
	Timestamp time.Time       `json:"timestamp"`
}

// Save writes snap atomically (tmp file + rename).
func (c *MarginCache) Save(snap MarginsSnapshot) error {
	if c == nil || c.Path == "" {
		return nil
	}
	data, err := json.MarshalIndent(marginCacheFile{Margins: snap, Timestamp: time.Now()}, "", "  ")
	if err != nil {
		return err
	}
	tmp := c.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.Path)
}

// Load returns the cached snapshot and its age. ok is false when no usable
// cache exists.
func (c *MarginCache) Load() (snap MarginsSnapshot, age time.Duration, ok bool) {
	if c == nil || c.Path == "" {
		return MarginsSnapshot{}, 0, false
	}
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return MarginsSnapshot{}, 0, false
	}
	var f marginCacheFile
	if err := json.Unmarshal(data, &f); err != nil || f.Timestamp.IsZero() {
		return MarginsSnapshot{}, 0, false
	}
	return f.Margins, time.Since(f.Timestamp), true
}

// marginsWithFallback implements the deterministic chain shared by the live
// gateways: live API, then a cache younger than an hour, then the static
// default representing the configured minimum trading capital. The tier used
// is recorded in the snapshot Source.
func marginsWithFallback(ctx context.Context, broker string, cache *MarginCache, defaultCash float64,
	live func(context.Context) (MarginsSnapshot, error)) (MarginsSnapshot, error) {

	snap, err := live(ctx)
	if err == nil {
		snap.Source = SourceLive
		snap.Time = time.Now()
		if saveErr := cache.Save(snap); saveErr != nil {
			logs.Warnf("%s margin cache write failed: %v", broker, saveErr)
		}
		return snap, nil
	}
	logs.Warnf("%s live margins failed, trying cache: %v", broker, err)

	if cached, age, ok := cache.Load(); ok && age < marginCacheTTL {
		cached.Source = SourceCached
		return cached, nil
	}

	logs.Warnf("%s margin cache missing or stale, using default capital %.2f", broker, defaultCash)
	return MarginsSnapshot{
		Cash:      defaultCash,
		Available: defaultCash,
		Source:    SourceDefault,
		Time:      time.Now(),
	}, nil
}
