// SPDX-License-Identifier: GPL-3.0-or-later
package store

import (
	migrate "github.com/rubenv/sql-migrate"
)

func migrationSource() migrate.MigrationSource {
	return &migrate.MemoryMigrationSource{
		Migrations: []*migrate.Migration{
			{
				Id: "1_documents.sql",
				Up: []string{
					`CREATE TABLE documents (
						id TEXT PRIMARY KEY,
						schema_id TEXT NOT NULL,
						account TEXT NOT NULL DEFAULT '',
						folder TEXT NOT NULL DEFAULT '',
						msgid TEXT NOT NULL DEFAULT '',
						rev INTEGER NOT NULL,
						payload TEXT NOT NULL
					)`,
					`CREATE INDEX idx_documents_schema_account ON documents (schema_id, account)`,
					`CREATE INDEX idx_documents_schema_folder ON documents (schema_id, folder)`,
					`CREATE INDEX idx_documents_schema_msgid ON documents (schema_id, msgid)`,
				},
				Down: []string{
					`DROP TABLE documents`,
				},
			},
		},
	}
}
