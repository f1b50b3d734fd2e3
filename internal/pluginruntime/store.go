/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package pluginruntime

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SyncLogEntry is one row of plugin_sync_log: a durable record of a reconciliation
// transition and what became of it, so a restarted host can explain its active set.
type SyncLogEntry struct {
	ID         uint `gorm:"primaryKey"`
	PluginID   string
	Transition string
	Outcome    string
	Message    string
	CreatedAt  time.Time
}

func (SyncLogEntry) TableName() string { return "plugin_sync_log" }

// Store persists reconciliation outcomes to a gorm database. The plugin_sync_log table
// is the only schema this store owns; its backend is chosen by dsn's scheme so a
// single-host deployment can keep it on sqlite while a multi-host deployment points it
// at a shared mysql or postgres instance.
type Store struct {
	db *gorm.DB
}

// dialectorFor picks a gorm.Dialector from dsn's scheme prefix: "postgres://" or
// "postgresql://" opens Postgres, "mysql://" opens MySQL (with the scheme stripped,
// since the mysql driver's DSN grammar predates URL schemes), anything else — bare
// paths, "file:" DSNs — opens sqlite.
func dialectorFor(dsn string) gorm.Dialector {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return postgres.Open(dsn)
	case strings.HasPrefix(dsn, "mysql://"):
		return mysql.Open(strings.TrimPrefix(dsn, "mysql://"))
	default:
		return sqlite.Open(dsn)
	}
}

// NewStore opens (creating if necessary) the database named by dsn and migrates the
// plugin_sync_log table.
func NewStore(dsn string) (*Store, error) {
	db, err := gorm.Open(dialectorFor(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open plugin sync store: %w", err)
	}
	if err := db.AutoMigrate(&SyncLogEntry{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Record appends one reconciliation outcome.
func (s *Store) Record(pluginID string, transition ReconcileTransition, outcome ReconcileOutcome, message string) error {
	entry := SyncLogEntry{
		PluginID:   pluginID,
		Transition: string(transition),
		Outcome:    string(outcome),
		Message:    message,
		CreatedAt:  time.Now(),
	}
	return s.db.Create(&entry).Error
}

// Recent returns the most recent log entries for a plugin id, newest first, bounded by
// limit.
func (s *Store) Recent(pluginID string, limit int) ([]SyncLogEntry, error) {
	var entries []SyncLogEntry
	err := s.db.Where("plugin_id = ?", pluginID).Order("created_at desc").Limit(limit).Find(&entries).Error
	return entries, err
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
