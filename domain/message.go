// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import (
	"strings"
	"time"
)

type FolderClass int

const (
	FolderOther = FolderClass(0)
	FolderInbox = FolderClass(1)
	FolderSent  = FolderClass(2)
	FolderDraft = FolderClass(3)
)

// FolderDescriptor describes one selectable folder for the current run.
// It is derived from a live listing and never persisted.
type FolderDescriptor struct {
	Name      string
	Delimiter string
	Class     FolderClass
}

// Path splits the folder name into its hierarchy segments.
func (f FolderDescriptor) Path() []string {
	if f.Delimiter == "" {
		return []string{f.Name}
	}
	return strings.Split(f.Name, f.Delimiter)
}

// FolderListing is one raw entry from the server's folder listing.
type FolderListing struct {
	Name       string
	Delimiter  string
	Attributes []string
}

// FolderStatus is the server-reported state of a selected folder.
// UIDNext is 0 when the server does not report it.
type FolderStatus struct {
	UIDValidity uint32
	UIDNext     uint32
}

// MessageDescriptor is the cached per-message state. The UID is only
// meaningful together with the folder's current UID validity epoch.
type MessageDescriptor struct {
	UID       uint32
	MessageID string
	Flags     []string
	Size      uint32
	Date      time.Time
	// ValidEnvelope is false when the server's envelope data is unusable
	// (missing message-id or non-ASCII fields the store cannot hold).
	ValidEnvelope bool
}

// MailboxCache is the persisted per-folder state. Messages are strictly
// increasing by UID with no duplicates.
type MailboxCache struct {
	UIDValidity uint32
	Messages    []MessageDescriptor
}

// UIDNext returns the first UID not covered by the cache.
func (c *MailboxCache) UIDNext() uint32 {
	if len(c.Messages) == 0 {
		return 1
	}
	return c.Messages[len(c.Messages)-1].UID + 1
}

// LocationRecord asserts that a message identity currently resides in a
// folder, as observed by one account.
type LocationRecord struct {
	MessageID string
	Account   string
	Path      []string
	Delimiter string
	UID       uint32
}

// RawMessage is one fetched message body.
type RawMessage struct {
	UID  uint32
	Body []byte
}

// RawContent is the payload written for a fetched message.
type RawContent struct {
	MessageID string
	Account   string
	Content   []byte
}
