// SPDX-License-Identifier: GPL-3.0-or-later
package imapsync

import (
	"github.com/driftmail/imapsync/domain"

	"github.com/sirupsen/logrus"
)

// findMissing resolves which of the given messages have no raw-content
// document in the store yet, with a single bulk existence query. The
// result is keyed by UID. A duplicate message-id within one batch is
// tolerated with a warning; the first-seen descriptor wins.
func (r *accountRun) findMissing(descriptors []domain.MessageDescriptor) (map[uint32]domain.MessageDescriptor, error) {
	byID := map[string]domain.MessageDescriptor{}
	ids := []string{}
	for _, descriptor := range descriptors {
		if descriptor.MessageID == "" {
			continue
		}
		if _, ok := byID[descriptor.MessageID]; ok {
			r.l.WithFields(logrus.Fields{"account": r.account.ID, "messageid": descriptor.MessageID}).Warn("Duplicate message ID detected, keeping the first occurrence")
			continue
		}
		byID[descriptor.MessageID] = descriptor
		ids = append(ids, descriptor.MessageID)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	seen, err := r.store.RawContentExists(ids)
	if err != nil {
		return nil, err
	}

	byUID := map[uint32]domain.MessageDescriptor{}
	for id, descriptor := range byID {
		if !seen[id] {
			byUID[descriptor.UID] = descriptor
		}
	}

	r.l.WithFields(logrus.Fields{"account": r.account.ID, "batch": len(byID), "new": len(byUID)}).Debug("Resolved missing messages")

	return byUID, nil
}
