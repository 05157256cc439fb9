// SPDX-License-Identifier: GPL-3.0-or-later
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/driftmail/imapsync/domain"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Database string

	Loglevel *string

	Accounts []AccountConfig
}

type AccountConfig struct {
	Id       string
	Host     string
	Port     int
	TLS      bool
	User     string
	Password string

	Addresses      []string
	Folders        []string
	ExcludeFolders []string

	MaxAgeDays int
}

func ReadConfig(filename string) (*Config, error) {
	config := &Config{
		Database: "imapsync.db",
	}

	_, err := toml.DecodeFile(filename, config)
	if err != nil {
		return nil, fmt.Errorf("could not read config file: %w", err)
	}

	err = config.validate()
	if err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) validate() error {
	if err := validateNonEmptyStringField(c.Database, "Database name must not be empty, set to a filename for the sqlite database"); err != nil {
		return err
	}

	if len(c.Accounts) == 0 {
		return errors.New("at least one [[Accounts]] block must be configured")
	}

	seen := map[string]bool{}
	for i, a := range c.Accounts {
		if err := validateNonEmptyStringField(a.Id, fmt.Sprintf("Id must not be empty for account %d, set to a unique name", i)); err != nil {
			return err
		}
		if seen[a.Id] {
			return fmt.Errorf("account id %q is configured twice", a.Id)
		}
		seen[a.Id] = true

		if err := validateNonEmptyStringField(a.Host, fmt.Sprintf("Host must not be empty for account %q, set to the imap server hostname", a.Id)); err != nil {
			return err
		}
		if err := validateNonEmptyStringField(a.User, fmt.Sprintf("User must not be empty for account %q, set to the username on the imap server", a.Id)); err != nil {
			return err
		}
		if err := validateNonEmptyStringField(a.Password, fmt.Sprintf("Password must not be empty for account %q, set to the password of User", a.Id)); err != nil {
			return err
		}
		if a.MaxAgeDays < 0 {
			return fmt.Errorf("MaxAgeDays must not be negative for account %q", a.Id)
		}
	}

	return nil
}

// Account converts one configured account block into the immutable domain
// form used during a sync run.
func (a *AccountConfig) Account() *domain.Account {
	return &domain.Account{
		ID:             a.Id,
		Host:           a.Host,
		Port:           a.Port,
		TLS:            a.TLS,
		User:           a.User,
		Password:       a.Password,
		Addresses:      a.Addresses,
		Folders:        a.Folders,
		ExcludeFolders: a.ExcludeFolders,
		MaxAge:         time.Duration(a.MaxAgeDays) * 24 * time.Hour,
	}
}

func validateNonEmptyStringField(field string, err string) error {
	if len(strings.TrimSpace(field)) == 0 {
		return errors.New(err)
	}

	return nil
}
