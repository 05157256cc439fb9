// SPDX-License-Identifier: GPL-3.0-or-later

// Package store persists sync output as schema-tagged documents in sqlite.
// Every document carries a revision; writes are optimistic-concurrency
// upserts that report conflicts per item instead of failing the batch.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/driftmail/imapsync/domain"
	"github.com/driftmail/imapsync/log"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/sirupsen/logrus"
)

type Store struct {
	db *sqlx.DB
	l  *logrus.Logger
}

func NewStore(datasource string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", datasource)
	if err != nil {
		return nil, fmt.Errorf("could not open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	l := log.Logger(log.LOG_STORE)
	l.WithField("file", datasource).Info("Connected")

	_, err = db.Exec(`PRAGMA journal_mode=WAL`)
	if err != nil {
		return nil, fmt.Errorf("could not set journal mode: %w", err)
	}
	_, err = db.Exec(`PRAGMA synchronous=normal`)
	if err != nil {
		return nil, fmt.Errorf("could not set synchronous mode: %w", err)
	}

	appliedMigrations, err := migrate.Exec(db.DB, "sqlite3", migrationSource(), migrate.Up)
	if err != nil {
		return nil, fmt.Errorf("could not migrate to newest version: %w", err)
	}

	l.WithField("migrations", appliedMigrations).Debug("Executed migrations")

	return &Store{
		db: db,
		l:  l,
	}, nil
}

func (s *Store) Close() error {
	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("could not close db: %w", err)
	}
	s.l.Info("Disconnected")
	return nil
}

func (s *Store) MailboxCaches(account string) (map[string]domain.CachedMailbox, error) {
	rows := []struct {
		Folder  string
		Rev     int64
		Payload string
	}{}

	err := s.db.Select(
		&rows,
		`SELECT folder, rev, payload FROM documents WHERE schema_id = ? AND account = ?`,
		domain.SchemaMailboxCache,
		account,
	)
	if err != nil {
		return nil, fmt.Errorf("could not query db: %w", err)
	}

	caches := map[string]domain.CachedMailbox{}
	for _, row := range rows {
		cache := domain.MailboxCache{}
		err = json.Unmarshal([]byte(row.Payload), &cache)
		if err != nil {
			return nil, fmt.Errorf("could not decode mailbox cache for folder %s: %w", row.Folder, err)
		}
		caches[row.Folder] = domain.CachedMailbox{
			Rev:   row.Rev,
			Cache: cache,
		}
	}

	s.l.WithFields(logrus.Fields{"account": account, "count": len(caches)}).Debug("Found mailbox caches")

	return caches, nil
}

func (s *Store) LocationsForFolder(path []string) ([]domain.StoredLocation, error) {
	rows := []struct {
		Id      string
		Rev     int64
		Payload string
	}{}

	err := s.db.Select(
		&rows,
		`SELECT id, rev, payload FROM documents WHERE schema_id = ? AND folder = ?`,
		domain.SchemaLocation,
		strings.Join(path, "/"),
	)
	if err != nil {
		return nil, fmt.Errorf("could not query db: %w", err)
	}

	locations := []domain.StoredLocation{}
	for _, row := range rows {
		location := domain.LocationRecord{}
		err = json.Unmarshal([]byte(row.Payload), &location)
		if err != nil {
			return nil, fmt.Errorf("could not decode location record %s: %w", row.Id, err)
		}
		locations = append(
			locations,
			domain.StoredLocation{
				Key:      row.Id,
				Rev:      row.Rev,
				Location: location,
			},
		)
	}

	return locations, nil
}

func (s *Store) RawContentExists(messageIDs []string) (map[string]bool, error) {
	result := map[string]bool{}
	if len(messageIDs) == 0 {
		return result, nil
	}

	qry, args, err := sqlx.Named(
		"SELECT msgid FROM documents WHERE schema_id = :schema AND msgid IN (:ids)",
		map[string]interface{}{
			"schema": domain.SchemaRawContent,
			"ids":    messageIDs,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("could not create query: %w", err)
	}

	qry, args, err = sqlx.In(qry, args...)
	if err != nil {
		return nil, fmt.Errorf("could not replace IN in query: %w", err)
	}

	ids := []string{}
	err = s.db.Select(
		&ids,
		qry,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("could not query db: %w", err)
	}

	for _, id := range ids {
		result[id] = true
	}

	return result, nil
}

// WriteItems upserts or deletes documents in one transaction. A revision
// mismatch, a blind create over an existing document or a delete of a
// missing document all yield a per-item conflict rather than an error.
func (s *Store) WriteItems(items []domain.Item) ([]domain.ItemResult, error) {
	tx, err := s.db.BeginTxx(context.TODO(), nil)
	if err != nil {
		return nil, fmt.Errorf("could not start transaction: %w", err)
	}

	results := []domain.ItemResult{}
	for _, item := range items {
		result, err := writeItem(tx, item)
		if err != nil {
			return nil, txEnd(tx, err)
		}
		results = append(results, result)
	}

	err = txEnd(tx, nil)
	if err != nil {
		return nil, err
	}

	return results, nil
}

func writeItem(tx *sqlx.Tx, item domain.Item) (domain.ItemResult, error) {
	var rev int64
	err := tx.Get(&rev, "SELECT rev FROM documents WHERE id = ?", item.Key)
	exists := true
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
	} else if err != nil {
		return domain.ItemResult{}, fmt.Errorf("could not query document rev: %w", err)
	}

	if !exists {
		if item.Deleted || item.Rev != 0 {
			return domain.ItemResult{Key: item.Key, Conflict: true}, nil
		}
		payload, err := json.Marshal(item.Payload)
		if err != nil {
			return domain.ItemResult{}, fmt.Errorf("could not encode payload: %w", err)
		}
		_, err = tx.Exec(
			"INSERT INTO documents (id, schema_id, account, folder, msgid, rev, payload) VALUES (?, ?, ?, ?, ?, 1, ?)",
			item.Key, item.Schema, item.Account, item.Folder, item.MessageID, string(payload),
		)
		if err != nil {
			return domain.ItemResult{}, fmt.Errorf("could not insert document: %w", err)
		}
		return domain.ItemResult{Key: item.Key}, nil
	}

	if item.Rev != rev {
		return domain.ItemResult{Key: item.Key, Conflict: true}, nil
	}

	if item.Deleted {
		_, err = tx.Exec("DELETE FROM documents WHERE id = ?", item.Key)
		if err != nil {
			return domain.ItemResult{}, fmt.Errorf("could not delete document: %w", err)
		}
		return domain.ItemResult{Key: item.Key}, nil
	}

	payload, err := json.Marshal(item.Payload)
	if err != nil {
		return domain.ItemResult{}, fmt.Errorf("could not encode payload: %w", err)
	}
	_, err = tx.Exec(
		"UPDATE documents SET rev = ?, payload = ? WHERE id = ?",
		rev+1, string(payload), item.Key,
	)
	if err != nil {
		return domain.ItemResult{}, fmt.Errorf("could not update document: %w", err)
	}
	return domain.ItemResult{Key: item.Key}, nil
}

func txEnd(tx *sqlx.Tx, err error) error {
	if err == nil {
		err = tx.Commit()
		if err != nil {
			return fmt.Errorf("could not commit tx: %w", err)
		}
	} else {
		rollbackErr := tx.Rollback()
		if rollbackErr != nil {
			errStr := err.Error()
			return fmt.Errorf("%s, could not rollback tx: %w", errStr, rollbackErr)
		} else {
			return err
		}
	}

	return nil
}
