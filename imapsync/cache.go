// SPDX-License-Identifier: GPL-3.0-or-later
package imapsync

import (
	"sort"

	"github.com/driftmail/imapsync/domain"

	"github.com/sirupsen/logrus"
)

// reconcileCache diffs the persisted per-folder cache against live server
// state and returns the updated descriptor sequence plus a dirty flag. The
// sequence stays strictly increasing by UID. Messages whose envelope is
// unusable are dropped permanently and never retried.
func (r *accountRun) reconcileCache(conn domain.MailConnector, folderName string, status *domain.FolderStatus, cache domain.MailboxCache) (domain.MailboxCache, bool, error) {
	dirty := false
	if status.UIDValidity != cache.UIDValidity {
		// The server reset the folder's UID numbering; every cached UID is
		// meaningless now.
		if len(cache.Messages) > 0 {
			r.l.WithFields(logrus.Fields{"folder": folderName, "cached": cache.UIDValidity, "server": status.UIDValidity}).Info("UIDVALIDITY changed, discarding cached state")
		}
		cache = domain.MailboxCache{UIDValidity: status.UIDValidity}
		dirty = true
	}

	cachedUIDNext := cache.UIDNext()

	newDescriptors := []domain.MessageDescriptor{}
	if status.UIDNext == 0 || status.UIDNext > cachedUIDNext {
		if status.UIDNext == 0 {
			r.warnMissingUIDNext()
		}
		r.l.WithFields(logrus.Fields{"folder": folderName, "from": cachedUIDNext}).Debug("Requesting info for new items")
		descriptors, err := conn.FetchEnvelopesFrom(cachedUIDNext)
		if err != nil {
			return cache, dirty, err
		}
		newDescriptors = descriptors
	} else {
		r.l.WithField("folder", folderName).Info("Folder has no new messages")
	}

	updatedFlags := map[uint32][]string{}
	if cachedUIDNext > 1 {
		flags, err := conn.FetchFlags(1, cachedUIDNext-1)
		if err != nil {
			return cache, dirty, err
		}
		updatedFlags = flags
	}

	r.l.WithFields(logrus.Fields{"folder": folderName, "new": len(newDescriptors), "flags": len(updatedFlags)}).Info("Fetched folder state")

	// Walk the cached sequence and the flags response in ascending UID
	// order together, dropping removed messages and updating changed flags.
	flagUIDs := make([]uint32, 0, len(updatedFlags))
	for uid := range updatedFlags {
		flagUIDs = append(flagUIDs, uid)
	}
	sort.Slice(flagUIDs, func(i, j int) bool { return flagUIDs[i] < flagUIDs[j] })

	kept := make([]domain.MessageDescriptor, 0, len(cache.Messages))
	idx := 0
	for _, uid := range flagUIDs {
		for idx < len(cache.Messages) && cache.Messages[idx].UID < uid {
			r.l.WithFields(logrus.Fields{"folder": folderName, "uid": cache.Messages[idx].UID}).Debug("Detected a removed message")
			dirty = true
			idx++
		}
		if idx < len(cache.Messages) && cache.Messages[idx].UID == uid {
			descriptor := cache.Messages[idx]
			if !flagsEqual(descriptor.Flags, updatedFlags[uid]) {
				r.l.WithFields(logrus.Fields{"folder": folderName, "uid": uid, "old": descriptor.Flags, "new": updatedFlags[uid]}).Debug("Flags changed")
				descriptor.Flags = updatedFlags[uid]
				dirty = true
			}
			kept = append(kept, descriptor)
			idx++
			continue
		}
		// Seen on the server but never cached - most likely an item we
		// previously rejected for an invalid envelope.
		r.l.WithFields(logrus.Fields{"folder": folderName, "uid": uid}).Debug("Message never seen before, probably invalid")
	}
	for ; idx < len(cache.Messages); idx++ {
		r.l.WithFields(logrus.Fields{"folder": folderName, "uid": cache.Messages[idx].UID}).Debug("Detected a removed message")
		dirty = true
	}

	// Append the freshly fetched descriptors. Some servers answer a
	// request for 900:* with UID 899, so enforce the floor here.
	for _, descriptor := range newDescriptors {
		if descriptor.UID < cachedUIDNext {
			continue
		}
		if descriptor.MessageID == "" {
			r.l.WithFields(logrus.Fields{"folder": folderName, "uid": descriptor.UID}).Debug("Message has no message-id, skipping permanently")
			continue
		}
		if !descriptor.ValidEnvelope {
			r.l.WithFields(logrus.Fields{"folder": folderName, "uid": descriptor.UID}).Debug("Message has an invalid envelope, skipping permanently")
			continue
		}
		cachedUIDNext = descriptor.UID + 1
		kept = append(kept, descriptor)
		dirty = true
	}

	cache.Messages = kept
	return cache, dirty, nil
}

func flagsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
