// SPDX-License-Identifier: GPL-3.0-or-later
package imapsync

import (
	"fmt"
	"io/ioutil"
	"strings"
	"sync"

	"github.com/driftmail/imapsync/domain"
	"github.com/driftmail/imapsync/log"
	"github.com/driftmail/imapsync/queue"

	"github.com/sirupsen/logrus"
)

func nullLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(ioutil.Discard)
	return logger
}

func newTestRun(store domain.Store) *accountRun {
	log.InitLogging("error")
	return &accountRun{
		account:       &domain.Account{ID: "test"},
		store:         store,
		configuration: defaultConfiguration(),
		l:             nullLogger(),
	}
}

// fakeConnector serves scripted folder state. All message state lives in
// envelopes, ascending by UID per folder; flags and bodies are derived
// from it the way a live server would.
type fakeConnector struct {
	mu sync.Mutex

	folders   []domain.FolderListing
	statuses  map[string]*domain.FolderStatus
	envelopes map[string][]domain.MessageDescriptor
	bodies    map[string]map[uint32][]byte
	quick     map[string][]uint32

	selected  string
	loggedOut bool

	// alwaysReturnLast mimics servers that answer an open-ended UID range
	// beyond the mailbox end with the last existing message.
	alwaysReturnLast bool

	// returnAllBodies mimics servers that answer a body fetch with more
	// messages than were requested.
	returnAllBodies bool

	flagsAdded   map[uint32][]string
	flagsRemoved map[uint32][]string
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{
		statuses:     map[string]*domain.FolderStatus{},
		envelopes:    map[string][]domain.MessageDescriptor{},
		bodies:       map[string]map[uint32][]byte{},
		quick:        map[string][]uint32{},
		flagsAdded:   map[uint32][]string{},
		flagsRemoved: map[uint32][]string{},
	}
}

// addFolder registers a folder whose status is derived from its messages.
func (c *fakeConnector) addFolder(listing domain.FolderListing, uidValidity uint32, messages []domain.MessageDescriptor) {
	c.folders = append(c.folders, listing)
	uidNext := uint32(1)
	if len(messages) > 0 {
		uidNext = messages[len(messages)-1].UID + 1
	}
	c.statuses[listing.Name] = &domain.FolderStatus{UIDValidity: uidValidity, UIDNext: uidNext}
	c.envelopes[listing.Name] = messages
	c.bodies[listing.Name] = map[uint32][]byte{}
	for _, m := range messages {
		c.bodies[listing.Name][m.UID] = []byte("body of " + m.MessageID)
	}
}

func (c *fakeConnector) ListFolders() ([]domain.FolderListing, error) {
	return c.folders, nil
}

func (c *fakeConnector) Select(folder string) (*domain.FolderStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	status, ok := c.statuses[folder]
	if !ok {
		return nil, fmt.Errorf("no such folder %s", folder)
	}
	c.selected = folder
	return status, nil
}

func (c *fakeConnector) SearchQuickRecent(maxSize uint32) ([]uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quick[c.selected], nil
}

func (c *fakeConnector) FetchEnvelopesFrom(uid uint32) ([]domain.MessageDescriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := []domain.MessageDescriptor{}
	for _, m := range c.envelopes[c.selected] {
		if m.UID >= uid {
			result = append(result, m)
		}
	}
	if len(result) == 0 && c.alwaysReturnLast && len(c.envelopes[c.selected]) > 0 {
		result = append(result, c.envelopes[c.selected][len(c.envelopes[c.selected])-1])
	}
	return result, nil
}

func (c *fakeConnector) FetchEnvelopes(uids []uint32) ([]domain.MessageDescriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	wanted := map[uint32]bool{}
	for _, uid := range uids {
		wanted[uid] = true
	}
	result := []domain.MessageDescriptor{}
	for _, m := range c.envelopes[c.selected] {
		if wanted[m.UID] {
			result = append(result, m)
		}
	}
	return result, nil
}

func (c *fakeConnector) FetchFlags(fromUID, toUID uint32) (map[uint32][]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := map[uint32][]string{}
	for _, m := range c.envelopes[c.selected] {
		if m.UID >= fromUID && m.UID <= toUID {
			result[m.UID] = m.Flags
		}
	}
	return result, nil
}

func (c *fakeConnector) FetchBodies(uids []uint32) ([]domain.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := []domain.RawMessage{}
	if c.returnAllBodies {
		for uid, body := range c.bodies[c.selected] {
			result = append(result, domain.RawMessage{UID: uid, Body: body})
		}
		return result, nil
	}
	for _, uid := range uids {
		body, ok := c.bodies[c.selected][uid]
		if ok {
			result = append(result, domain.RawMessage{UID: uid, Body: body})
		}
	}
	return result, nil
}

func (c *fakeConnector) AddFlags(uid uint32, flags []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flagsAdded[uid] = append(c.flagsAdded[uid], flags...)
	return nil
}

func (c *fakeConnector) RemoveFlags(uid uint32, flags []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flagsRemoved[uid] = append(c.flagsRemoved[uid], flags...)
	return nil
}

func (c *fakeConnector) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.loggedOut
}

func (c *fakeConnector) Logout() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loggedOut = true
	return nil
}

// fakeConnectorDialer hands out the same connector for every dial, which
// keeps the scripted state shared across all workers of a run.
type fakeConnectorDialer struct {
	conn *fakeConnector
}

func (d *fakeConnectorDialer) Dial() (queue.Conn, error) {
	d.conn.mu.Lock()
	d.conn.loggedOut = false
	d.conn.mu.Unlock()
	return d.conn, nil
}

// fakeStore keeps documents in memory and mirrors writes back into the
// query views so a sync run observes its own output.
type fakeStore struct {
	mu sync.Mutex

	caches    map[string]map[string]domain.CachedMailbox
	locations map[string][]domain.StoredLocation
	raw       map[string]bool

	conflicts map[string]bool
	written   []domain.Item
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		caches:    map[string]map[string]domain.CachedMailbox{},
		locations: map[string][]domain.StoredLocation{},
		raw:       map[string]bool{},
		conflicts: map[string]bool{},
	}
}

func (s *fakeStore) MailboxCaches(account string) (map[string]domain.CachedMailbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := map[string]domain.CachedMailbox{}
	for folder, cache := range s.caches[account] {
		result[folder] = cache
	}
	return result, nil
}

func (s *fakeStore) LocationsForFolder(path []string) ([]domain.StoredLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.StoredLocation{}, s.locations[strings.Join(path, "/")]...), nil
}

func (s *fakeStore) RawContentExists(messageIDs []string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := map[string]bool{}
	for _, id := range messageIDs {
		if s.raw[id] {
			result[id] = true
		}
	}
	return result, nil
}

func (s *fakeStore) WriteItems(items []domain.Item) ([]domain.ItemResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := []domain.ItemResult{}
	for _, item := range items {
		s.written = append(s.written, item)
		if s.conflicts[item.Key] {
			results = append(results, domain.ItemResult{Key: item.Key, Conflict: true})
			continue
		}

		switch item.Schema {
		case domain.SchemaRawContent:
			s.raw[item.MessageID] = true
		case domain.SchemaLocation:
			if item.Deleted {
				kept := []domain.StoredLocation{}
				for _, loc := range s.locations[item.Folder] {
					if loc.Key != item.Key {
						kept = append(kept, loc)
					}
				}
				s.locations[item.Folder] = kept
			} else {
				record := item.Payload.(domain.LocationRecord)
				s.locations[item.Folder] = append(s.locations[item.Folder], domain.StoredLocation{
					Key:      item.Key,
					Rev:      1,
					Location: record,
				})
			}
		case domain.SchemaMailboxCache:
			cache := item.Payload.(domain.MailboxCache)
			if s.caches[item.Account] == nil {
				s.caches[item.Account] = map[string]domain.CachedMailbox{}
			}
			s.caches[item.Account][item.Folder] = domain.CachedMailbox{Rev: item.Rev + 1, Cache: cache}
		}
		results = append(results, domain.ItemResult{Key: item.Key})
	}
	return results, nil
}

func (s *fakeStore) Close() error {
	return nil
}

func (s *fakeStore) writtenBySchema(schema string) []domain.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := []domain.Item{}
	for _, item := range s.written {
		if item.Schema == schema {
			result = append(result, item)
		}
	}
	return result
}

func (s *fakeStore) resetWritten() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = nil
}
