// SPDX-License-Identifier: GPL-3.0-or-later
package imapsync

import (
	"sort"

	"github.com/driftmail/imapsync/domain"

	"github.com/sirupsen/logrus"
)

const (
	// One fetch request carries at most this many messages or this many
	// cumulative bytes, whichever limit is hit first.
	MaxMessagesPerFetch = 30
	MaxBytesPerFetch    = 500000

	// Messages with no usable size count as this many bytes.
	fallbackMessageSize = 100000

	// Quick pre-pass search only considers messages below this size.
	quickSearchMaxSize = 50000

	// Cached descriptors are walked in slices of this many when queueing
	// fetch checks; larger slices mean fewer store queries but a longer
	// apparent queue stall.
	descriptorBatchSize = 100
)

// batchUIDs partitions the pending messages into fetch batches, newest
// UID first, honoring both the message count and the byte limits.
func batchUIDs(byUID map[uint32]domain.MessageDescriptor) [][]uint32 {
	left := make([]uint32, 0, len(byUID))
	for uid := range byUID {
		left = append(left, uid)
	}
	sort.Slice(left, func(i, j int) bool { return left[i] > left[j] })

	batches := [][]uint32{}
	for len(left) > 0 {
		this := []uint32{}
		nbytes := 0
		for len(left) > 0 && len(this) < MaxMessagesPerFetch && nbytes < MaxBytesPerFetch {
			uid := left[0]
			left = left[1:]
			this = append(this, uid)

			size := int(byUID[uid].Size)
			if size <= 0 {
				size = fallbackMessageSize
			}
			nbytes += size
		}
		batches = append(batches, this)
	}

	return batches
}

// processFetchBatch fetches the missing messages of one folder batch and
// writes their raw content to the store.
func (r *accountRun) processFetchBatch(conn domain.MailConnector, t *task) error {
	_, err := conn.Select(t.folder.Name)
	if err != nil {
		return err
	}

	total := 0
	for _, uids := range batchUIDs(t.batch) {
		r.l.WithFields(logrus.Fields{"folder": t.folder.Name, "count": len(uids)}).Debug("Starting fetch")
		mails, err := conn.FetchBodies(uids)
		if err != nil {
			return err
		}

		items := []domain.Item{}
		for _, m := range mails {
			descriptor, ok := t.batch[m.UID]
			if !ok {
				r.l.WithFields(logrus.Fields{"folder": t.folder.Name, "uid": m.UID}).Warn("Fetch returned a message that was not requested, skipping")
				continue
			}
			content := domain.RawContent{
				MessageID: descriptor.MessageID,
				Account:   r.account.ID,
				Content:   m.Body,
			}
			items = append(
				items,
				domain.Item{
					Key:       domain.RawContentKey(descriptor.MessageID),
					Schema:    domain.SchemaRawContent,
					Account:   r.account.ID,
					MessageID: descriptor.MessageID,
					Payload:   content,
				},
			)
		}

		err = r.writeItems(items)
		if err != nil {
			return err
		}
		total += len(items)
	}

	r.l.WithFields(logrus.Fields{"account": r.account.ID, "folder": t.folder.Name, "messages": total}).Info("Fetched folder batch")
	return nil
}
