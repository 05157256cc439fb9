// SPDX-License-Identifier: GPL-3.0-or-later
package imapsync

import (
	"testing"

	"github.com/driftmail/imapsync/domain"

	"github.com/stretchr/testify/assert"
)

func pending(count int, size uint32) map[uint32]domain.MessageDescriptor {
	byUID := map[uint32]domain.MessageDescriptor{}
	for i := 1; i <= count; i++ {
		uid := uint32(i)
		byUID[uid] = domain.MessageDescriptor{UID: uid, Size: size, ValidEnvelope: true}
	}
	return byUID
}

func TestBatchUIDsByteLimit(t *testing.T) {
	batches := batchUIDs(pending(40, 20000))

	assert.Len(t, batches, 2)
	assert.Len(t, batches[0], 25)
	assert.Len(t, batches[1], 15)
}

func TestBatchUIDsCountLimit(t *testing.T) {
	batches := batchUIDs(pending(65, 10))

	assert.Len(t, batches, 3)
	assert.Len(t, batches[0], 30)
	assert.Len(t, batches[1], 30)
	assert.Len(t, batches[2], 5)
}

func TestBatchUIDsNewestFirst(t *testing.T) {
	batches := batchUIDs(pending(40, 20000))

	assert.Equal(t, uint32(40), batches[0][0])
	assert.Equal(t, uint32(16), batches[0][len(batches[0])-1])
	assert.Equal(t, uint32(15), batches[1][0])
	assert.Equal(t, uint32(1), batches[1][len(batches[1])-1])
}

func TestBatchUIDsFallbackSize(t *testing.T) {
	batches := batchUIDs(pending(12, 0))

	// Unknown sizes count as 100k each, so five messages fill a batch.
	assert.Len(t, batches, 3)
	assert.Len(t, batches[0], 5)
	assert.Len(t, batches[1], 5)
	assert.Len(t, batches[2], 2)
}

func TestBatchUIDsEmpty(t *testing.T) {
	assert.Empty(t, batchUIDs(nil))
}

func TestProcessFetchBatch(t *testing.T) {
	store := newFakeStore()
	r := newTestRun(store)

	conn := newFakeConnector()
	conn.addFolder(domain.FolderListing{Name: "INBOX"}, 1, []domain.MessageDescriptor{
		descriptor(1, "a"),
		descriptor(2, "b"),
	})

	err := r.processFetchBatch(conn, &task{
		kind:   taskFetchBatch,
		folder: domain.FolderDescriptor{Name: "INBOX"},
		batch: map[uint32]domain.MessageDescriptor{
			1: descriptor(1, "a"),
			2: descriptor(2, "b"),
		},
	})
	assert.NoError(t, err)

	written := store.writtenBySchema(domain.SchemaRawContent)
	assert.Len(t, written, 2)
	assert.True(t, store.raw["a"])
	assert.True(t, store.raw["b"])

	content := written[0].Payload.(domain.RawContent)
	assert.Equal(t, "test", content.Account)
	assert.NotEmpty(t, content.Content)
}

func TestProcessFetchBatchSkipsUnrequestedMessages(t *testing.T) {
	store := newFakeStore()
	r := newTestRun(store)

	conn := newFakeConnector()
	conn.addFolder(domain.FolderListing{Name: "INBOX"}, 1, []domain.MessageDescriptor{
		descriptor(1, "a"),
	})
	// The server hands back an extra message the batch never asked for.
	conn.bodies["INBOX"][2] = []byte("surprise")
	conn.returnAllBodies = true
	batch := map[uint32]domain.MessageDescriptor{1: descriptor(1, "a")}

	err := r.processFetchBatch(conn, &task{
		kind:   taskFetchBatch,
		folder: domain.FolderDescriptor{Name: "INBOX"},
		batch:  batch,
	})
	assert.NoError(t, err)
	assert.Len(t, store.writtenBySchema(domain.SchemaRawContent), 1)
}
