// SPDX-License-Identifier: GPL-3.0-or-later
package store

import (
	"testing"

	"github.com/driftmail/imapsync/domain"
	"github.com/driftmail/imapsync/log"

	"github.com/stretchr/testify/assert"
)

func testStore(t *testing.T) *Store {
	log.InitLogging("error")
	s, err := NewStore(":memory:")
	assert.NoError(t, err)
	return s
}

func TestWriteItemsCreate(t *testing.T) {
	s := testStore(t)
	defer s.Close()

	results, err := s.WriteItems([]domain.Item{
		{
			Key:     domain.MailboxCacheKey("test", "INBOX"),
			Schema:  domain.SchemaMailboxCache,
			Account: "test",
			Folder:  "INBOX",
			Payload: domain.MailboxCache{UIDValidity: 7},
		},
	})
	assert.NoError(t, err)
	assert.Len(t, results, 1)
	assert.False(t, results[0].Conflict)

	caches, err := s.MailboxCaches("test")
	assert.NoError(t, err)
	assert.Equal(t, int64(1), caches["INBOX"].Rev)
	assert.Equal(t, uint32(7), caches["INBOX"].Cache.UIDValidity)
}

func TestWriteItemsBlindCreateConflictsOnExisting(t *testing.T) {
	s := testStore(t)
	defer s.Close()

	item := domain.Item{
		Key:     domain.MailboxCacheKey("test", "INBOX"),
		Schema:  domain.SchemaMailboxCache,
		Account: "test",
		Folder:  "INBOX",
		Payload: domain.MailboxCache{},
	}
	_, err := s.WriteItems([]domain.Item{item})
	assert.NoError(t, err)

	results, err := s.WriteItems([]domain.Item{item})
	assert.NoError(t, err)
	assert.True(t, results[0].Conflict)
}

func TestWriteItemsUpdate(t *testing.T) {
	s := testStore(t)
	defer s.Close()

	item := domain.Item{
		Key:     domain.MailboxCacheKey("test", "INBOX"),
		Schema:  domain.SchemaMailboxCache,
		Account: "test",
		Folder:  "INBOX",
		Payload: domain.MailboxCache{UIDValidity: 1},
	}
	_, err := s.WriteItems([]domain.Item{item})
	assert.NoError(t, err)

	item.Rev = 1
	item.Payload = domain.MailboxCache{UIDValidity: 2}
	results, err := s.WriteItems([]domain.Item{item})
	assert.NoError(t, err)
	assert.False(t, results[0].Conflict)

	caches, err := s.MailboxCaches("test")
	assert.NoError(t, err)
	assert.Equal(t, int64(2), caches["INBOX"].Rev)
	assert.Equal(t, uint32(2), caches["INBOX"].Cache.UIDValidity)

	// A stale revision must not overwrite the newer document.
	item.Rev = 1
	results, err = s.WriteItems([]domain.Item{item})
	assert.NoError(t, err)
	assert.True(t, results[0].Conflict)
}

func TestWriteItemsDelete(t *testing.T) {
	s := testStore(t)
	defer s.Close()

	item := domain.Item{
		Key:       domain.LocationKey("a", "test", []string{"INBOX"}),
		Schema:    domain.SchemaLocation,
		Account:   "test",
		Folder:    "INBOX",
		MessageID: "a",
		Payload:   domain.LocationRecord{MessageID: "a", Account: "test", Path: []string{"INBOX"}, UID: 1},
	}
	_, err := s.WriteItems([]domain.Item{item})
	assert.NoError(t, err)

	item.Rev = 1
	item.Deleted = true
	results, err := s.WriteItems([]domain.Item{item})
	assert.NoError(t, err)
	assert.False(t, results[0].Conflict)

	locations, err := s.LocationsForFolder([]string{"INBOX"})
	assert.NoError(t, err)
	assert.Empty(t, locations)

	// Deleting a missing document conflicts instead of failing the batch.
	results, err = s.WriteItems([]domain.Item{item})
	assert.NoError(t, err)
	assert.True(t, results[0].Conflict)
}

func TestLocationsForFolder(t *testing.T) {
	s := testStore(t)
	defer s.Close()

	_, err := s.WriteItems([]domain.Item{
		{
			Key:       domain.LocationKey("a", "test", []string{"Work", "Reports"}),
			Schema:    domain.SchemaLocation,
			Account:   "test",
			Folder:    "Work/Reports",
			MessageID: "a",
			Payload:   domain.LocationRecord{MessageID: "a", Account: "test", Path: []string{"Work", "Reports"}, UID: 4},
		},
		{
			Key:       domain.LocationKey("b", "test", []string{"INBOX"}),
			Schema:    domain.SchemaLocation,
			Account:   "test",
			Folder:    "INBOX",
			MessageID: "b",
			Payload:   domain.LocationRecord{MessageID: "b", Account: "test", Path: []string{"INBOX"}, UID: 1},
		},
	})
	assert.NoError(t, err)

	locations, err := s.LocationsForFolder([]string{"Work", "Reports"})
	assert.NoError(t, err)
	assert.Len(t, locations, 1)
	assert.Equal(t, "a", locations[0].Location.MessageID)
	assert.Equal(t, uint32(4), locations[0].Location.UID)
	assert.Equal(t, int64(1), locations[0].Rev)
}

func TestRawContentExists(t *testing.T) {
	s := testStore(t)
	defer s.Close()

	_, err := s.WriteItems([]domain.Item{
		{
			Key:       domain.RawContentKey("a"),
			Schema:    domain.SchemaRawContent,
			Account:   "test",
			MessageID: "a",
			Payload:   domain.RawContent{MessageID: "a", Account: "test", Content: []byte("hello")},
		},
	})
	assert.NoError(t, err)

	seen, err := s.RawContentExists([]string{"a", "b"})
	assert.NoError(t, err)
	assert.True(t, seen["a"])
	assert.False(t, seen["b"])

	seen, err = s.RawContentExists(nil)
	assert.NoError(t, err)
	assert.Empty(t, seen)
}

func TestMailboxCachesEmpty(t *testing.T) {
	s := testStore(t)
	defer s.Close()

	caches, err := s.MailboxCaches("unknown")
	assert.NoError(t, err)
	assert.Empty(t, caches)
}
