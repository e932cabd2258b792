/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"time"

	"github.com/mikl0s/PLM/internal/telemetry"
	"gorm.io/gorm"
)

const (
	_startTime = "gorm:start_time"
)

// RegisterCallbacks registers telemetry callbacks for GORM operations.
func RegisterCallbacks(database *gorm.DB) error {
	if err := database.Callback().Query().Before("gorm:query").Register("telemetry:before_query", beforeCallback); err != nil {
		return err
	}
	if err := database.Callback().Query().After("gorm:query").Register("telemetry:after_query", afterCallback("query")); err != nil {
		return err
	}

	if err := database.Callback().Create().Before("gorm:create").Register("telemetry:before_create", beforeCallback); err != nil {
		return err
	}
	if err := database.Callback().Create().After("gorm:create").Register("telemetry:after_create", afterCallback("create")); err != nil {
		return err
	}

	if err := database.Callback().Update().Before("gorm:update").Register("telemetry:before_update", beforeCallback); err != nil {
		return err
	}
	if err := database.Callback().Update().After("gorm:update").Register("telemetry:after_update", afterCallback("update")); err != nil {
		return err
	}

	if err := database.Callback().Delete().Before("gorm:delete").Register("telemetry:before_delete", beforeCallback); err != nil {
		return err
	}
	if err := database.Callback().Delete().After("gorm:delete").Register("telemetry:after_delete", afterCallback("delete")); err != nil {
		return err
	}

	return nil
}

// beforeCallback records the start time before a database operation.
func beforeCallback(database *gorm.DB) {
	database.InstanceSet(_startTime, time.Now())
}

// afterCallback creates a callback that records metrics after a database operation.
func afterCallback(operation string) func(*gorm.DB) {
	return func(database *gorm.DB) {
		startTimeValue, exists := database.InstanceGet(_startTime)
		if !exists {
			return
		}

		startTime, ok := startTimeValue.(time.Time)
		if !ok {
			return
		}

		duration := time.Since(startTime).Seconds()

		tableName := database.Statement.Table
		if tableName == "" {
			tableName = "unknown"
		}

		telemetry.DatabaseQueryDuration.WithLabelValues(operation, tableName).Observe(duration)

		if database.Error != nil && database.Error != gorm.ErrRecordNotFound {
			telemetry.DatabaseErrorsTotal.WithLabelValues(operation, "query_error").Inc()
		}
	}
}

// UpdateConnectionMetrics updates connection pool metrics.
// Should be called periodically (e.g., every 30 seconds).
func UpdateConnectionMetrics(database *gorm.DB) {
	sqlDB, err := database.DB()
	if err != nil {
		return
	}

	stats := sqlDB.Stats()
	telemetry.DatabaseConnectionsActive.Set(float64(stats.OpenConnections))
}
