/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package dbtest opens throwaway migrated databases for package tests.
package dbtest

import (
	"testing"

	"github.com/friendsincode/wateringd/internal/config"
	"github.com/friendsincode/wateringd/internal/db"
	"gorm.io/gorm"
)

// Open returns a migrated in-memory SQLite database that is closed when the test ends.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	database, err := db.Connect(&config.Config{
		Environment: "test",
		DBBackend:   config.DatabaseSQLite,
		DBDSN:       "file::memory:?_foreign_keys=on",
	})
	if err != nil {
		t.Fatalf("connect test db: %v", err)
	}
	if err := db.Migrate(database); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(database) })
	return database
}
