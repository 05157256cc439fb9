// SPDX-License-Identifier: GPL-3.0-or-later
package imapsync

import (
	"strings"

	"github.com/driftmail/imapsync/domain"
)

// reconcileLocations compares the store's location records for a folder
// against the messages currently on the server. It returns the stale owned
// records as deletion items and the missing ones as new location items
// keyed by UID. Records written by a different account for the same folder
// path are left alone.
func reconcileLocations(store domain.Store, accountID string, folder domain.FolderDescriptor, descriptors []domain.MessageDescriptor) ([]domain.Item, map[uint32]domain.Item, error) {
	path := folder.Path()

	current := map[string]uint32{}
	for _, descriptor := range descriptors {
		if descriptor.MessageID != "" {
			current[descriptor.MessageID] = descriptor.UID
		}
	}

	existing, err := store.LocationsForFolder(path)
	if err != nil {
		return nil, nil, err
	}

	toRemove := []domain.Item{}
	known := map[string]bool{}
	for _, stored := range existing {
		if stored.Location.Account != accountID {
			// Something in this location, but placed there by a different
			// account that happens to share the folder path.
			continue
		}
		if _, ok := current[stored.Location.MessageID]; !ok {
			toRemove = append(
				toRemove,
				domain.Item{
					Key:       stored.Key,
					Schema:    domain.SchemaLocation,
					Account:   accountID,
					Folder:    strings.Join(path, "/"),
					MessageID: stored.Location.MessageID,
					Rev:       stored.Rev,
					Deleted:   true,
				},
			)
		}
		known[stored.Location.MessageID] = true
	}

	toAdd := map[uint32]domain.Item{}
	for messageID, uid := range current {
		if known[messageID] {
			continue
		}
		record := domain.LocationRecord{
			MessageID: messageID,
			Account:   accountID,
			Path:      path,
			Delimiter: folder.Delimiter,
			UID:       uid,
		}
		toAdd[uid] = domain.Item{
			Key:       domain.LocationKey(messageID, accountID, path),
			Schema:    domain.SchemaLocation,
			Account:   accountID,
			Folder:    strings.Join(path, "/"),
			MessageID: messageID,
			Payload:   record,
		}
	}

	return toRemove, toAdd, nil
}
