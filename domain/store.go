// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import "strings"

const (
	SchemaRawContent   = "msg.raw"
	SchemaLocation     = "msg.location"
	SchemaMailboxCache = "imap.mailbox-cache"
)

// Item is one document for a bulk write. Rev carries the prior revision
// token for optimistic-concurrency updates; 0 means blind create.
type Item struct {
	Key       string
	Schema    string
	Account   string
	Folder    string
	MessageID string
	Rev       int64
	Deleted   bool
	Payload   interface{}
}

// ItemResult reports the per-item outcome of a bulk write. Conflict means
// the revision did not match or a blind create hit an existing document.
type ItemResult struct {
	Key      string
	Conflict bool
}

// CachedMailbox is a mailbox cache document together with its revision.
type CachedMailbox struct {
	Rev   int64
	Cache MailboxCache
}

// StoredLocation is a location document together with its key and revision.
type StoredLocation struct {
	Key      string
	Rev      int64
	Location LocationRecord
}

// Store is the document store boundary. Mailbox caches and location
// records are owned by the store and only mutated through WriteItems.
type Store interface {
	MailboxCaches(account string) (map[string]CachedMailbox, error)
	LocationsForFolder(path []string) ([]StoredLocation, error)
	RawContentExists(messageIDs []string) (map[string]bool, error)
	WriteItems(items []Item) ([]ItemResult, error)
	Close() error
}

func RawContentKey(messageID string) string {
	return "msg!" + messageID + "!raw"
}

func LocationKey(messageID, account string, path []string) string {
	return "msg!" + messageID + "!loc!" + account + "!" + strings.Join(path, "/")
}

func MailboxCacheKey(account, folder string) string {
	return "mbox!" + account + "!" + folder
}
