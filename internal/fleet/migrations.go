package fleet

import (
	"database/sql"

	"github.com/HerbHall/upkeep/pkg/plugin"
)

func migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create machines, service_intervals and history tables",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE machines (
						id               TEXT     PRIMARY KEY,
						name             TEXT     NOT NULL DEFAULT '',
						location         TEXT     NOT NULL DEFAULT '',
						model            TEXT     NOT NULL DEFAULT '',
						avg_daily_cycles REAL     NOT NULL DEFAULT 0 CHECK (avg_daily_cycles >= 0),
						created_at       DATETIME NOT NULL,
						updated_at       DATETIME NOT NULL
					)`,
					`CREATE TABLE service_intervals (
						machine_id        TEXT    NOT NULL REFERENCES machines(id) ON DELETE CASCADE,
						position          INTEGER NOT NULL,
						name              TEXT    NOT NULL,
						kind              TEXT    NOT NULL CHECK (kind IN ('cyclic', 'calendar')),
						threshold         INTEGER NOT NULL CHECK (threshold > 0),
						current_value     INTEGER NOT NULL DEFAULT 0 CHECK (current_value >= 0),
						last_service_date TEXT    NOT NULL,
						enabled           INTEGER NOT NULL DEFAULT 1,
						PRIMARY KEY (machine_id, name)
					)`,
					`CREATE TABLE history (
						id            TEXT     PRIMARY KEY,
						machine_id    TEXT     NOT NULL,
						action        TEXT     NOT NULL,
						interval_name TEXT     NOT NULL DEFAULT '',
						delta         INTEGER  NOT NULL DEFAULT 0,
						detail        TEXT     NOT NULL DEFAULT '',
						occurred_at   DATETIME NOT NULL
					)`,
					`CREATE INDEX idx_history_machine ON history(machine_id, occurred_at)`,
					`CREATE INDEX idx_history_occurred ON history(occurred_at)`,
				}
				for _, s := range stmts {
					if _, err := tx.Exec(s); err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			Version:     2,
			Description: "track last evaluated status per machine",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec(`ALTER TABLE machines ADD COLUMN last_status TEXT NOT NULL DEFAULT 'ok'`)
				return err
			},
		},
	}
}
