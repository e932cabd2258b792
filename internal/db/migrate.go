/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"github.com/mikl0s/PLM/internal/models"
	"gorm.io/gorm"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	return database.AutoMigrate(
		// Accounts and registry
		&models.User{},
		&models.PlexServer{},

		// Fingerprint engine
		&models.MediaFingerprint{},
		&models.DuplicateMatch{},
		&models.ScanRun{},
	)
}
