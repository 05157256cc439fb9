// SPDX-License-Identifier: GPL-3.0-or-later
package imapconnection

import (
	"fmt"
	"io/ioutil"
	"sort"
	"time"

	"github.com/driftmail/imapsync/domain"
	"github.com/driftmail/imapsync/log"
	"github.com/driftmail/imapsync/mail"
	"github.com/driftmail/imapsync/queue"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"
)

// Timeouts should be rare - the server may just be slow. Errors are more
// likely to be connection drops, so this stays fairly high.
const DefaultTimeout = 5 * time.Minute

type ImapConnection struct {
	connection *client.Client

	account *domain.Account

	selectedFolder string

	l *logrus.Logger
}

func Connect(account *domain.Account) (*ImapConnection, error) {
	var imapClient *client.Client
	var err error
	if account.TLS {
		imapClient, err = client.DialTLS(account.Addr(), nil)
	} else {
		imapClient, err = client.Dial(account.Addr())
	}
	if err != nil {
		return nil, fmt.Errorf("could not dial to imap: %w", err)
	}
	imapClient.Timeout = DefaultTimeout

	err = imapClient.Login(account.User, account.Password)
	if err != nil {
		return nil, fmt.Errorf("could not login to imap: %w", err)
	}

	conn := &ImapConnection{
		connection: imapClient,
		account:    account,
		l:          log.Logger(log.LOG_IMAP),
	}

	conn.l.WithFields(logrus.Fields{"account": account.ID, "server": account.Addr()}).Debug("Logged in to server")

	return conn, nil
}

func (ic *ImapConnection) ListFolders() ([]domain.FolderListing, error) {
	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- ic.connection.List("", "*", mailboxes)
	}()

	listing := []domain.FolderListing{}
	for m := range mailboxes {
		listing = append(
			listing,
			domain.FolderListing{
				Name:       m.Name,
				Delimiter:  m.Delimiter,
				Attributes: m.Attributes,
			},
		)
	}

	err := <-done
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("could not list folders: %w", err))
	}

	return listing, nil
}

func (ic *ImapConnection) Select(folder string) (*domain.FolderStatus, error) {
	m, err := ic.connection.Select(folder, false)
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("could not select folder: %w", err))
	}

	ic.selectedFolder = folder
	return &domain.FolderStatus{
		UIDValidity: m.UidValidity,
		UIDNext:     m.UidNext,
	}, nil
}

// SearchQuickRecent finds the messages worth surfacing fast on a cold
// cache: unseen, recent or flagged, not deleted, and small.
func (ic *ImapConnection) SearchQuickRecent(maxSize uint32) ([]uint32, error) {
	unseen := &imap.SearchCriteria{WithoutFlags: []string{imap.SeenFlag}}
	recent := &imap.SearchCriteria{WithFlags: []string{imap.RecentFlag}}
	flagged := &imap.SearchCriteria{WithFlags: []string{imap.FlaggedFlag}}

	criteria := &imap.SearchCriteria{
		WithoutFlags: []string{imap.DeletedFlag},
		Smaller:      maxSize,
		Or: [][2]*imap.SearchCriteria{
			{unseen, {Or: [][2]*imap.SearchCriteria{{recent, flagged}}}},
		},
	}

	uids, err := ic.connection.UidSearch(criteria)
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("could not search folder: %w", err))
	}

	return uids, nil
}

func (ic *ImapConnection) FetchEnvelopesFrom(uid uint32) ([]domain.MessageDescriptor, error) {
	seqset := &imap.SeqSet{}
	seqset.AddRange(uid, 0)
	return ic.fetchEnvelopes(seqset)
}

func (ic *ImapConnection) FetchEnvelopes(uids []uint32) ([]domain.MessageDescriptor, error) {
	seqset := &imap.SeqSet{}
	seqset.AddNum(uids...)
	return ic.fetchEnvelopes(seqset)
}

func (ic *ImapConnection) fetchEnvelopes(seqset *imap.SeqSet) ([]domain.MessageDescriptor, error) {
	fetchItems := []imap.FetchItem{
		imap.FetchEnvelope,
		imap.FetchFlags,
		imap.FetchRFC822Size,
		imap.FetchUid,
	}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- ic.connection.UidFetch(seqset, fetchItems, messages)
	}()

	descriptors := []domain.MessageDescriptor{}
	for msg := range messages {
		descriptors = append(descriptors, descriptorFromMessage(msg))
	}

	err := <-done
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("could not fetch envelopes: %w", err))
	}

	sort.Slice(descriptors, func(i, j int) bool { return descriptors[i].UID < descriptors[j].UID })
	return descriptors, nil
}

func (ic *ImapConnection) FetchFlags(fromUID, toUID uint32) (map[uint32][]string, error) {
	seqset := &imap.SeqSet{}
	seqset.AddRange(fromUID, toUID)
	fetchItems := []imap.FetchItem{imap.FetchFlags, imap.FetchUid}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- ic.connection.UidFetch(seqset, fetchItems, messages)
	}()

	flags := map[uint32][]string{}
	for msg := range messages {
		flags[msg.Uid] = msg.Flags
	}

	err := <-done
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("could not fetch flags: %w", err))
	}

	return flags, nil
}

// FetchBodies fetches full message content with peek semantics, so the
// server does not set \Seen as a side effect.
func (ic *ImapConnection) FetchBodies(uids []uint32) ([]domain.RawMessage, error) {
	seqset := &imap.SeqSet{}
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{
		Peek: true,
	}
	fetchItems := []imap.FetchItem{section.FetchItem(), imap.FetchUid}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- ic.connection.UidFetch(seqset, fetchItems, messages)
	}()

	mails := []domain.RawMessage{}
	var readErr error
	for msg := range messages {
		r := msg.GetBody(section)
		if r == nil {
			ic.l.WithField("uid", msg.Uid).Warn("Fetched message has no body section")
			continue
		}
		rawBody, err := ioutil.ReadAll(r)
		if err != nil {
			readErr = fmt.Errorf("could not read mail body: %w", err)
			continue
		}
		mails = append(
			mails,
			domain.RawMessage{
				UID:  msg.Uid,
				Body: rawBody,
			},
		)
	}

	err := <-done
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("could not fetch mails: %w", err))
	}
	if readErr != nil {
		return nil, readErr
	}

	return mails, nil
}

func (ic *ImapConnection) AddFlags(uid uint32, flags []string) error {
	return ic.storeFlags(uid, imap.AddFlags, flags)
}

func (ic *ImapConnection) RemoveFlags(uid uint32, flags []string) error {
	return ic.storeFlags(uid, imap.RemoveFlags, flags)
}

func (ic *ImapConnection) storeFlags(uid uint32, op imap.FlagsOp, flags []string) error {
	seqset := &imap.SeqSet{}
	seqset.AddNum(uid)

	items := make([]interface{}, len(flags))
	for i, f := range flags {
		items[i] = f
	}

	err := ic.connection.UidStore(seqset, imap.FormatFlagsOp(op, true), items, nil)
	if err != nil {
		return domain.Transient(fmt.Errorf("could not store flags: %w", err))
	}
	return nil
}

// Alive reports whether the peer still holds the connection open. Some
// servers drop the connection right after answering a command; the queue
// checks this between operations so the next one reconnects.
func (ic *ImapConnection) Alive() bool {
	return ic.connection.State() != imap.LogoutState
}

func (ic *ImapConnection) Logout() error {
	return ic.connection.Logout()
}

func descriptorFromMessage(msg *imap.Message) domain.MessageDescriptor {
	descriptor := domain.MessageDescriptor{
		UID:   msg.Uid,
		Flags: msg.Flags,
		Size:  msg.Size,
	}

	env := msg.Envelope
	if env == nil || env.MessageId == "" {
		return descriptor
	}

	descriptor.MessageID = mail.NormalizeMessageID(env.MessageId)
	descriptor.Date = env.Date
	descriptor.ValidEnvelope = mail.ASCIIOnly(envelopeFields(env)...)
	return descriptor
}

func envelopeFields(env *imap.Envelope) []string {
	fields := []string{env.MessageId, env.Subject, env.InReplyTo}
	for _, addrs := range [][]*imap.Address{env.From, env.Sender, env.ReplyTo, env.To, env.Cc, env.Bcc} {
		for _, a := range addrs {
			fields = append(fields, a.PersonalName, a.MailboxName, a.HostName)
		}
	}
	return fields
}

// Dialer lazily establishes connections for a work queue. Each worker owns
// the connection it dials; there is no sharing between workers.
type Dialer struct {
	account *domain.Account
}

func NewDialer(account *domain.Account) *Dialer {
	return &Dialer{account: account}
}

func (d *Dialer) Dial() (queue.Conn, error) {
	return Connect(d.account)
}
