// SPDX-License-Identifier: GPL-3.0-or-later
package domain

// MailConnector is the protocol capability the sync engine drives. Search
// and fetch operations act on the currently selected folder. Fetches must
// use peek semantics so syncing never mutates server-side seen state.
type MailConnector interface {
	ListFolders() ([]FolderListing, error)
	Select(folder string) (*FolderStatus, error)
	// SearchQuickRecent finds unseen, recent or flagged messages below
	// maxSize bytes, skipping deleted ones.
	SearchQuickRecent(maxSize uint32) ([]uint32, error)
	// FetchEnvelopesFrom fetches descriptors for the open-ended UID range
	// starting at uid.
	FetchEnvelopesFrom(uid uint32) ([]MessageDescriptor, error)
	FetchEnvelopes(uids []uint32) ([]MessageDescriptor, error)
	// FetchFlags returns current flags for the inclusive UID range.
	FetchFlags(fromUID, toUID uint32) (map[uint32][]string, error)
	FetchBodies(uids []uint32) ([]RawMessage, error)
	AddFlags(uid uint32, flags []string) error
	RemoveFlags(uid uint32, flags []string) error

	// Alive reports whether the peer still holds the connection open.
	Alive() bool
	Logout() error
}
