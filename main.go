// SPDX-License-Identifier: GPL-3.0-or-later
package main

import (
	"github.com/driftmail/imapsync/config"
	"github.com/driftmail/imapsync/imapsync"
	"github.com/driftmail/imapsync/log"
	"github.com/driftmail/imapsync/store"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	log.InitLogging("debug")
	logger := log.Logger(log.LOG_MAIN)

	conf, err := config.ReadConfig("config.toml")
	if err != nil {
		logger.WithField("error", err).Fatal("Could not load config")
	}

	if conf.Loglevel != nil {
		log.SetLogLevel(*conf.Loglevel)
	}

	st, err := store.NewStore(conf.Database)
	if err != nil {
		logger.WithField("error", err).Fatal("Could not connect to database")
	}
	defer st.Close()

	synchronizer, err := imapsync.NewSynchronizer(st)
	if err != nil {
		logger.WithField("error", err).Fatal("Could not start synchronizer")
	}

	g := &errgroup.Group{}
	for i := range conf.Accounts {
		account := conf.Accounts[i].Account()
		if len(account.Identities()) == 0 {
			logger.WithField("account", account.ID).Warn("Account has no addresses configured, messages sent by this account cannot be recognized")
		}

		g.Go(func() error {
			logger.WithFields(logrus.Fields{"account": account.ID, "host": account.Addr()}).Info("Syncing account")
			err := synchronizer.Sync(account)
			if err != nil {
				logger.WithFields(logrus.Fields{"account": account.ID, "error": err}).Error("Account sync failed")
				return err
			}
			logger.WithField("account", account.ID).Info("Account sync done")
			return nil
		})
	}

	err = g.Wait()
	if err != nil {
		logger.WithField("error", err).Fatal("Syncing failed")
	}
	logger.Info("All accounts synced")
}
