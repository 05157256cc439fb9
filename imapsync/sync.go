// SPDX-License-Identifier: GPL-3.0-or-later

// Package imapsync incrementally synchronizes IMAP accounts against the
// document store. One sync run per account discovers folders, diffs each
// folder's persisted cache against live server state, reconciles location
// records and fetches missing message content in bounded batches, driven
// by two connection-bound work queues.
package imapsync

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/driftmail/imapsync/domain"
	"github.com/driftmail/imapsync/log"
	"github.com/driftmail/imapsync/queue"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	NumDiscoverers         = 3
	NumFetchers            = 3
	DefaultQuickFetchCount = 20

	queueStatusInterval = 10 * time.Second

	deletedFlag = "\\Deleted"
)

type Synchronizer struct {
	store domain.Store

	configuration *configuration

	l *logrus.Logger
}

func NewSynchronizer(store domain.Store, configFunc ...ConfigFunc) (*Synchronizer, error) {
	config := defaultConfiguration()
	for _, f := range configFunc {
		err := f(config)
		if err != nil {
			return nil, fmt.Errorf("error applying configuration: %w", err)
		}
	}

	return &Synchronizer{
		store:         store,
		configuration: config,
		l:             log.Logger(log.LOG_SYNC),
	}, nil
}

// Sync runs one full synchronization pass for the account. It returns nil
// when the account reached the done state; otherwise the first terminal
// failure. Partial progress is never rolled back: caches dirtied before a
// failure are still flushed.
func (s *Synchronizer) Sync(account *domain.Account) error {
	run := &accountRun{
		account:       account,
		store:         s.store,
		configuration: s.configuration,
		l:             s.l,
	}

	dialer := s.configuration.Dialer(account)
	run.discovery = queue.New(queue.Config{
		Name:           account.ID + "/discovery",
		Dialer:         dialer,
		Executor:       run,
		ConnectRetries: s.configuration.ConnectRetries,
		ItemRetries:    s.configuration.ItemRetries,
		BaseDelay:      s.configuration.BaseDelay,
		Status:         run.reportStatus,
	})
	run.fetch = queue.New(queue.Config{
		Name:           account.ID + "/fetch",
		Dialer:         dialer,
		Executor:       run,
		ConnectRetries: s.configuration.ConnectRetries,
		ItemRetries:    s.configuration.ItemRetries,
		BaseDelay:      s.configuration.BaseDelay,
		Status:         run.reportStatus,
	})

	// The listing task is the seed: it must either expand into per-folder
	// tasks and push the sentinel, or fail and force the pool down.
	run.discovery.Enqueue(&task{kind: taskListFolders, seed: true})

	stop := make(chan struct{})
	go run.logQueueDepth(stop)

	g := &errgroup.Group{}
	g.Go(func() error {
		err := run.discovery.Run(s.configuration.Discoverers)
		s.l.WithField("account", account.ID).Info("Folder discovery complete, waiting for fetch queue")
		run.fetch.Finish()
		return err
	})
	g.Go(func() error {
		return run.fetch.Run(s.configuration.Fetchers)
	})
	err := g.Wait()
	close(stop)

	flushErr := run.flushCaches()
	if err != nil {
		return errors.Wrapf(err, "could not sync account %s", account.ID)
	}
	if flushErr != nil {
		return errors.Wrapf(flushErr, "could not write mailbox caches for account %s", account.ID)
	}
	return nil
}

// PushFlags applies a flag delta to one message on the server, used when a
// local state change (e.g. marking a message read) must be written back.
func (s *Synchronizer) PushFlags(account *domain.Account, folder string, uid uint32, add, remove []string) error {
	conn, err := s.configuration.Dialer(account).Dial()
	if err != nil {
		return errors.Wrapf(err, "could not connect to account %s", account.ID)
	}
	mailConn, ok := conn.(domain.MailConnector)
	if !ok {
		return fmt.Errorf("connection %T does not implement the mail protocol", conn)
	}
	defer func() {
		if err := mailConn.Logout(); err != nil {
			s.l.WithField("error", err).Debug("Ignoring logout failure after flag update")
		}
	}()

	_, err = mailConn.Select(folder)
	if err != nil {
		return errors.Wrapf(err, "could not select folder %s", folder)
	}
	if len(add) > 0 {
		err = mailConn.AddFlags(uid, add)
		if err != nil {
			return errors.Wrapf(err, "could not add flags to uid %d in %s", uid, folder)
		}
	}
	if len(remove) > 0 {
		err = mailConn.RemoveFlags(uid, remove)
		if err != nil {
			return errors.Wrapf(err, "could not remove flags from uid %d in %s", uid, folder)
		}
	}

	s.l.WithFields(logrus.Fields{"account": account.ID, "folder": folder, "uid": uid, "add": add, "remove": remove}).Debug("Adjusted flags")
	return nil
}

// accountRun is the state of one synchronization pass. It owns the two
// queues and accumulates dirtied caches until the flush at the end; the
// account itself is read-only configuration.
type accountRun struct {
	account       *domain.Account
	store         domain.Store
	configuration *configuration

	discovery *queue.Queue
	fetch     *queue.Queue

	l *logrus.Logger

	// caches is populated once by the seed task before any per-folder task
	// is enqueued, and read-only afterwards.
	caches map[string]domain.CachedMailbox

	mu            sync.Mutex
	pendingCaches []domain.Item
	warnedUIDNext bool
	healthy       bool
}

// Execute dispatches one queued task. The queue retries errors marked
// transient by the connection layer; store failures and programming errors
// propagate as unexpected.
func (r *accountRun) Execute(conn queue.Conn, qt queue.Task) error {
	mailConn, ok := conn.(domain.MailConnector)
	if !ok {
		return fmt.Errorf("connection %T does not implement the mail protocol", conn)
	}
	t, ok := qt.(*task)
	if !ok {
		return fmt.Errorf("unexpected task type %T", qt)
	}

	switch t.kind {
	case taskListFolders:
		return r.listFolders(mailConn)
	case taskSyncFolderQuick:
		return r.syncFolderQuick(mailConn, t)
	case taskSyncFolderFull:
		return r.syncFolderFull(mailConn, t)
	case taskFetchBatch:
		return r.processFetchBatch(mailConn, t)
	}
	return fmt.Errorf("unexpected task kind %s", t.name())
}

// listFolders expands the folder listing into per-folder tasks and then
// pushes the discovery sentinel. Folders with no persisted cache get an
// additional quick pre-pass queued ahead of their full pass so urgent
// content surfaces fast on a cold cache.
func (r *accountRun) listFolders(conn domain.MailConnector) error {
	listing, err := conn.ListFolders()
	if err != nil {
		return err
	}
	catalog := buildCatalog(listing, r.account.Folders, r.account.ExcludeFolders)
	r.l.WithFields(logrus.Fields{"account": r.account.ID, "listed": len(listing), "selected": len(catalog)}).Info("Examined folders")

	caches, err := r.store.MailboxCaches(r.account.ID)
	if err != nil {
		return err
	}
	r.caches = caches

	for _, folder := range catalog {
		if _, ok := caches[folder.Name]; !ok {
			r.discovery.Enqueue(&task{kind: taskSyncFolderQuick, folder: folder})
		}
	}
	for _, folder := range catalog {
		r.discovery.Enqueue(&task{kind: taskSyncFolderFull, folder: folder})
	}

	r.discovery.Finish()
	return nil
}

// syncFolderQuick surfaces unseen, recent or flagged small messages of a
// cold-cache folder ahead of the full pass, bounded to a small count.
func (r *accountRun) syncFolderQuick(conn domain.MailConnector, t *task) error {
	_, err := conn.Select(t.folder.Name)
	if err != nil {
		return err
	}

	uids, err := conn.SearchQuickRecent(quickSearchMaxSize)
	if err != nil {
		return err
	}
	if len(uids) == 0 {
		r.l.WithField("folder", t.folder.Name).Debug("Folder has no quick items")
		return nil
	}
	if len(uids) > r.configuration.QuickFetchCount {
		uids = uids[len(uids)-r.configuration.QuickFetchCount:]
	}

	descriptors, err := conn.FetchEnvelopes(uids)
	if err != nil {
		return err
	}

	infos := []domain.MessageDescriptor{}
	for _, descriptor := range descriptors {
		if r.shouldFetch(descriptor) {
			infos = append(infos, descriptor)
		}
	}
	r.l.WithFields(logrus.Fields{"folder": t.folder.Name, "quick": len(infos)}).Info("Folder has quick items")

	return r.queueFetchItems(t.folder, infos)
}

// syncFolderFull runs the cache and location reconciliation for one folder
// and queues fetch work for everything missing from the store.
func (r *accountRun) syncFolderFull(conn domain.MailConnector, t *task) error {
	status, err := conn.Select(t.folder.Name)
	if err != nil {
		return err
	}

	cached := r.caches[t.folder.Name]
	cache, dirty, err := r.reconcileCache(conn, t.folder.Name, status, cached.Cache)
	if err != nil {
		return err
	}
	if dirty {
		r.l.WithField("folder", t.folder.Name).Debug("Folder cache needs updating")
		r.addPendingCache(t.folder.Name, cached.Rev, cache)
	}

	toRemove, toAdd, err := reconcileLocations(r.store, r.account.ID, t.folder, cache.Messages)
	if err != nil {
		return err
	}
	r.l.WithFields(logrus.Fields{"folder": t.folder.Name, "add": len(toAdd), "remove": len(toRemove)}).Debug("Reconciled location records")

	// Delete stale locations before fetching anything for this folder.
	err = r.writeItems(toRemove)
	if err != nil {
		return err
	}

	// Walk the descriptors newest first in bounded slices, queueing fetch
	// checks and writing the location records each slice needs.
	todo := make([]domain.MessageDescriptor, len(cache.Messages))
	copy(todo, cache.Messages)
	for len(todo) > 0 {
		batch := []domain.MessageDescriptor{}
		for len(batch) < descriptorBatchSize && len(todo) > 0 {
			descriptor := todo[len(todo)-1]
			todo = todo[:len(todo)-1]
			if r.shouldFetch(descriptor) {
				batch = append(batch, descriptor)
			}
		}

		err = r.queueFetchItems(t.folder, batch)
		if err != nil {
			return err
		}

		newLocations := []domain.Item{}
		for _, descriptor := range batch {
			if item, ok := toAdd[descriptor.UID]; ok {
				newLocations = append(newLocations, item)
			}
		}
		err = r.writeItems(newLocations)
		if err != nil {
			return err
		}
	}

	return nil
}

// queueFetchItems resolves which of the descriptors are missing from the
// store and enqueues one fetch task for them. The existence check is also
// the dedupe boundary between the quick and the full pass.
func (r *accountRun) queueFetchItems(folder domain.FolderDescriptor, descriptors []domain.MessageDescriptor) error {
	if len(descriptors) == 0 {
		return nil
	}
	byUID, err := r.findMissing(descriptors)
	if err != nil {
		return err
	}
	if len(byUID) == 0 {
		return nil
	}
	r.fetch.Enqueue(&task{kind: taskFetchBatch, folder: folder, batch: byUID})
	return nil
}

func (r *accountRun) shouldFetch(descriptor domain.MessageDescriptor) bool {
	for _, flag := range descriptor.Flags {
		if strings.EqualFold(flag, deletedFlag) {
			r.l.WithField("uid", descriptor.UID).Debug("Message is deleted, skipping")
			return false
		}
	}
	if r.account.MaxAge > 0 {
		if descriptor.Date.IsZero() {
			return false
		}
		if time.Since(descriptor.Date) > r.account.MaxAge {
			r.l.WithField("uid", descriptor.UID).Debug("Message is too old, skipping")
			return false
		}
	}
	if descriptor.MessageID == "" {
		r.l.WithField("uid", descriptor.UID).Debug("Message has no message-id, skipping")
		return false
	}
	return true
}

// writeItems writes one batch to the store, tolerating conflicts only on
// the raw-content schema: those are expected when two accounts deliver the
// same message-id, e.g. a sent-items copy. Any other conflict is fatal.
func (r *accountRun) writeItems(items []domain.Item) error {
	if len(items) == 0 {
		return nil
	}
	results, err := r.store.WriteItems(items)
	if err != nil {
		return err
	}

	conflicts := 0
	for i, result := range results {
		if !result.Conflict {
			continue
		}
		if items[i].Schema != domain.SchemaRawContent {
			return fmt.Errorf("conflict writing %s document %s", items[i].Schema, result.Key)
		}
		conflicts++
	}
	if conflicts > 0 {
		r.l.WithFields(logrus.Fields{"account": r.account.ID, "conflicts": conflicts}).Debug("Ignored raw content conflicts writing batch")
	}
	return nil
}

func (r *accountRun) addPendingCache(folderName string, rev int64, cache domain.MailboxCache) {
	item := domain.Item{
		Key:     domain.MailboxCacheKey(r.account.ID, folderName),
		Schema:  domain.SchemaMailboxCache,
		Account: r.account.ID,
		Folder:  folderName,
		Rev:     rev,
		Payload: cache,
	}
	r.mu.Lock()
	r.pendingCaches = append(r.pendingCaches, item)
	r.mu.Unlock()
}

// flushCaches writes all caches dirtied during the run in one batch. This
// runs only after the fetch queue has drained, so a persisted cache never
// claims messages whose write failed to land.
func (r *accountRun) flushCaches() error {
	r.mu.Lock()
	pending := r.pendingCaches
	r.pendingCaches = nil
	r.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}
	r.l.WithFields(logrus.Fields{"account": r.account.ID, "folders": len(pending)}).Info("Writing updated mailbox caches")
	return r.writeItems(pending)
}

func (r *accountRun) warnMissingUIDNext() {
	r.mu.Lock()
	warned := r.warnedUIDNext
	r.warnedUIDNext = true
	r.mu.Unlock()
	if !warned {
		r.l.WithField("account", r.account.ID).Warn("This server doesn't provide UIDNEXT, syncing will be slower")
	}
}

func (r *accountRun) reportStatus(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.healthy = false
		return
	}
	if !r.healthy {
		r.l.WithField("account", r.account.ID).Debug("Account connection is healthy")
	}
	r.healthy = true
}

func (r *accountRun) logQueueDepth(stop <-chan struct{}) {
	ticker := time.NewTicker(queueStatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if pending := r.fetch.Len(); pending > 0 {
				r.l.WithFields(logrus.Fields{"account": r.account.ID, "batches": pending}).Info("Fetch queue has pending batches")
			}
		}
	}
}
