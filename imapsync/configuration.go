// SPDX-License-Identifier: GPL-3.0-or-later
package imapsync

import (
	"fmt"
	"time"

	"github.com/driftmail/imapsync/domain"
	"github.com/driftmail/imapsync/imapconnection"
	"github.com/driftmail/imapsync/queue"
)

type ConfigFunc func(c *configuration) error

// Discoverers sets the number of workers expanding the folder listing and
// reconciling folders.
func Discoverers(n int) ConfigFunc {
	return func(c *configuration) error {
		if n <= 0 {
			return fmt.Errorf("Discoverers must be positive")
		}
		c.Discoverers = n
		return nil
	}
}

// Fetchers sets the number of workers draining the content fetch queue.
func Fetchers(n int) ConfigFunc {
	return func(c *configuration) error {
		if n <= 0 {
			return fmt.Errorf("Fetchers must be positive")
		}
		c.Fetchers = n
		return nil
	}
}

// QuickFetchCount bounds the cold-cache quick pre-pass.
func QuickFetchCount(n int) ConfigFunc {
	return func(c *configuration) error {
		if n <= 0 {
			return fmt.Errorf("QuickFetchCount must be positive")
		}
		c.QuickFetchCount = n
		return nil
	}
}

// RetryTuning overrides the queue retry knobs. Tests use this to shrink
// backoff delays; production keeps the queue defaults.
func RetryTuning(baseDelay time.Duration, connectRetries, itemRetries int) ConfigFunc {
	return func(c *configuration) error {
		c.BaseDelay = baseDelay
		c.ConnectRetries = connectRetries
		c.ItemRetries = itemRetries
		return nil
	}
}

// WithDialer replaces the connection factory. This is how tests inject a
// fake server; there is deliberately no package-level hook for it.
func WithDialer(dialer func(account *domain.Account) queue.Dialer) ConfigFunc {
	return func(c *configuration) error {
		if dialer == nil {
			return fmt.Errorf("dialer cannot be nil")
		}
		c.Dialer = dialer
		return nil
	}
}

type configuration struct {
	Discoverers     int
	Fetchers        int
	QuickFetchCount int

	BaseDelay      time.Duration
	ConnectRetries int
	ItemRetries    int

	Dialer func(account *domain.Account) queue.Dialer
}

func defaultConfiguration() *configuration {
	return &configuration{
		Discoverers:     NumDiscoverers,
		Fetchers:        NumFetchers,
		QuickFetchCount: DefaultQuickFetchCount,
		Dialer: func(account *domain.Account) queue.Dialer {
			return imapconnection.NewDialer(account)
		},
	}
}
