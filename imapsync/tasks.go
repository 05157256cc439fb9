// SPDX-License-Identifier: GPL-3.0-or-later
package imapsync

import "github.com/driftmail/imapsync/domain"

type taskKind int

const (
	taskListFolders = taskKind(iota)
	taskSyncFolderQuick
	taskSyncFolderFull
	taskFetchBatch
)

// task is the closed set of work items the sync engine queues. Exactly one
// of the argument groups is populated, depending on kind. The folder
// listing task is the seed of the discovery queue: its failure must shut
// the whole account sync down.
type task struct {
	kind taskKind
	seed bool

	folder domain.FolderDescriptor

	// batch holds the missing messages of one fetch task, keyed by UID.
	batch map[uint32]domain.MessageDescriptor
}

func (t *task) Seed() bool {
	return t.seed
}

func (t *task) name() string {
	switch t.kind {
	case taskListFolders:
		return "list-folders"
	case taskSyncFolderQuick:
		return "sync-folder-quick"
	case taskSyncFolderFull:
		return "sync-folder-full"
	case taskFetchBatch:
		return "fetch-batch"
	}
	return "unknown"
}
