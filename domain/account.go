// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Account holds the connection parameters and sync rules for one mailbox.
// It is loaded once from configuration and never mutated during a run.
type Account struct {
	ID       string
	Host     string
	Port     int
	TLS      bool
	User     string
	Password string

	// Addresses this account owns, used to build identities.
	Addresses []string

	// Folders is an explicit allow-list; empty means all folders.
	Folders []string
	// ExcludeFolders are skipped case-insensitively.
	ExcludeFolders []string

	// MaxAge filters messages by envelope date; zero means no limit.
	MaxAge time.Duration
}

func (a *Account) Addr() string {
	port := a.Port
	if port == 0 {
		if a.TLS {
			port = 993
		} else {
			port = 143
		}
	}
	return fmt.Sprintf("%s:%d", a.Host, port)
}

type Identity struct {
	Kind  string
	Value string
}

// Identities returns the email identities owned by this account. When no
// addresses are configured, the username is used if it looks like an
// address; otherwise the result is empty and sent-by-me detection will not
// work for this account.
func (a *Account) Identities() []Identity {
	if len(a.Addresses) == 0 {
		if strings.Contains(a.User, "@") {
			return []Identity{{Kind: "email", Value: a.User}}
		}
		return nil
	}

	identities := []Identity{}
	for _, addr := range a.Addresses {
		addr = strings.TrimSpace(addr)
		if addr != "" {
			identities = append(identities, Identity{Kind: "email", Value: addr})
		}
	}
	return identities
}
