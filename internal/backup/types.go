// Package backup writes point-in-time archives of every entity's memories
// with tiered retention, and restores them.
package backup

import (
	"context"
	"time"
)

// Store is the part of the engine a backup reads from and restores into.
// *engine.Engine implements it.
type Store interface {
	Entities(ctx context.Context) ([]string, error)
	ExportMemories(ctx context.Context, entityID string) ([]byte, error)
	ImportMemories(ctx context.Context, entityID string, payload []byte, merge bool) (int, error)
}

// Config holds backup service configuration.
type Config struct {
	// Dir is where archives are written.
	Dir string

	// Interval between scheduled backups. Zero disables scheduling.
	Interval time.Duration

	Retention RetentionPolicy
}

// RetentionPolicy defines how many backups to keep at each tier.
// Backups are categorized by age:
// - Hourly: backups less than 24 hours old
// - Daily: backups between 1-7 days old
// - Weekly: backups between 7-30 days old
// - Monthly: backups between 30-365 days old
type RetentionPolicy struct {
	Hourly  int // default: 24
	Daily   int // default: 7
	Weekly  int // default: 4
	Monthly int // default: 12
}

// withDefaults fills unset tiers.
func (p RetentionPolicy) withDefaults() RetentionPolicy {
	if p.Hourly == 0 {
		p.Hourly = 24
	}
	if p.Daily == 0 {
		p.Daily = 7
	}
	if p.Weekly == 0 {
		p.Weekly = 4
	}
	if p.Monthly == 0 {
		p.Monthly = 12
	}
	return p
}

// Info describes an archive on disk.
type Info struct {
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
	Size      int64     `json:"size"`
}

// Result describes a completed backup.
type Result struct {
	Path     string        `json:"path"`
	Entities int           `json:"entities"`
	Memories int           `json:"memories"`
	Size     int64         `json:"size"`
	Duration time.Duration `json:"duration"`
}
