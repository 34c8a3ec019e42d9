package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Migrate creates the SLA tables if they do not exist. The DDL sticks to
// column types every supported driver accepts, with a MySQL variant for the
// fractional-second timestamps.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schemaStatements(db.DriverName()) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sla schema: %w", err)
		}
	}
	return nil
}

func schemaStatements(driver string) []string {
	ts := "TIMESTAMP"
	if driver == "mysql" {
		// MySQL TIMESTAMP drops fractional seconds unless told otherwise;
		// breach deadlines carry millisecond precision.
		ts = "DATETIME(6)"
	}

	// MySQL has no CREATE INDEX IF NOT EXISTS; its indexes ride along in the
	// CREATE TABLE instead.
	instanceIndexes := `,
				INDEX idx_sla_instance_entity (entity_id),
				INDEX idx_sla_instance_scan (status, breach_at)`
	var extra []string
	if driver != "mysql" {
		instanceIndexes = ""
		extra = []string{
			`CREATE INDEX IF NOT EXISTS idx_sla_instance_entity ON sla_instance (entity_id)`,
			`CREATE INDEX IF NOT EXISTS idx_sla_instance_scan ON sla_instance (status, breach_at)`,
		}
	}

	stmts := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS sla_config (
				id               VARCHAR(36) PRIMARY KEY,
				tenant_id        VARCHAR(36) NOT NULL,
				name             VARCHAR(200) NOT NULL,
				metric           VARCHAR(32) NOT NULL,
				target_minutes   INTEGER NOT NULL,
				start_condition  TEXT,
				stop_condition   TEXT,
				pause_conditions TEXT,
				calendar         TEXT NOT NULL,
				escalation_rules TEXT,
				is_active        BOOLEAN NOT NULL,
				created_at       %[1]s NOT NULL,
				updated_at       %[1]s NOT NULL
			)`, ts),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS sla_instance (
				id           VARCHAR(36) PRIMARY KEY,
				config_id    VARCHAR(36) NOT NULL,
				entity_id    VARCHAR(36) NOT NULL,
				status       VARCHAR(16) NOT NULL,
				started_at   %[1]s NOT NULL,
				paused_at    %[1]s,
				resumed_at   %[1]s,
				elapsed_ms   BIGINT NOT NULL,
				remaining_ms BIGINT NOT NULL,
				breach_at    %[1]s NOT NULL,
				completed_at %[1]s,
				created_at   %[1]s NOT NULL,
				updated_at   %[1]s NOT NULL%[2]s
			)`, ts, instanceIndexes),
	}
	return append(stmts, extra...)
}
