// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package mongo connects backup runs to a MongoDB server holding both the
// source database and its backup.
package mongo

import (
	"context"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/mgo/v3"
	"github.com/juju/retry"

	"github.com/juju/dbbackup/backups"
)

var logger = loggo.GetLogger("dbbackup.mongo")

const (
	// DefaultDialTimeout is how long a single dial attempt may take.
	DefaultDialTimeout = 30 * time.Second

	// DefaultDialAttempts is the number of times a server is dialled
	// before a run gives up.
	DefaultDialAttempts = 3

	defaultRetryDelay = time.Second
	maxRetryDelay     = 30 * time.Second
)

// Config holds the settings of a Connector.
type Config struct {
	// URL is a mongodb:// connection string.
	URL string

	// SourceDB and BackupDB name the databases read from and written to.
	SourceDB string
	BackupDB string

	DialTimeout  time.Duration
	DialAttempts int

	// RetryDelay is the initial delay between dial attempts. It doubles
	// on every failure.
	RetryDelay time.Duration

	Clock clock.Clock
}

// Validate returns an error if the config cannot be used to connect.
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.NotValidf("empty URL")
	}
	if c.SourceDB == "" {
		return errors.NotValidf("empty SourceDB")
	}
	if c.BackupDB == "" {
		return errors.NotValidf("empty BackupDB")
	}
	if c.SourceDB == c.BackupDB {
		return errors.NotValidf("backup database %q same as source", c.BackupDB)
	}
	for _, name := range []string{c.SourceDB, c.BackupDB} {
		if strings.ContainsAny(name, `/\. "$`) {
			return errors.NotValidf("database name %q", name)
		}
	}
	if c.DialTimeout < 0 {
		return errors.NotValidf("negative DialTimeout")
	}
	if c.DialAttempts < 0 {
		return errors.NotValidf("negative DialAttempts")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	return nil
}

// dialFunc opens a session to the server described by info.
type dialFunc func(info *mgo.DialInfo) (*mgo.Session, error)

// Connector dials a fresh session for every backup run. It implements
// backups.Connector.
type Connector struct {
	config Config
	info   *mgo.DialInfo
	dial   dialFunc
}

// NewConnector returns a Connector for config, or an error if the config
// or its URL is invalid. No connection is made.
func NewConnector(config Config) (*Connector, error) {
	return newConnector(config, mgo.DialWithInfo)
}

func newConnector(config Config, dial dialFunc) (*Connector, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	info, err := mgo.ParseURL(config.URL)
	if err != nil {
		return nil, errors.NotValidf("mongo URL: %v", err)
	}
	info.Timeout = config.DialTimeout
	if info.Timeout == 0 {
		info.Timeout = DefaultDialTimeout
	}
	return &Connector{config: config, info: info, dial: dial}, nil
}

// Addrs returns the server addresses the connector dials. Credentials in
// the URL are never exposed.
func (c *Connector) Addrs() []string {
	return append([]string(nil), c.info.Addrs...)
}

// Connect is part of the backups.Connector interface.
func (c *Connector) Connect(ctx context.Context) (backups.Connection, error) {
	attempts := c.config.DialAttempts
	if attempts == 0 {
		attempts = DefaultDialAttempts
	}
	delay := c.config.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	var session *mgo.Session
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			s, err := c.dial(c.info)
			if err != nil {
				return errors.Trace(err)
			}
			session = s
			return nil
		},
		NotifyFunc: func(err error, attempt int) {
			logger.Debugf("dialling %v, attempt %d: %v", c.info.Addrs, attempt, err)
		},
		Attempts:    attempts,
		Delay:       delay,
		MaxDelay:    maxRetryDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       c.config.Clock,
		Stop:        ctx.Done(),
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.Trace(ctxErr)
		}
		return nil, errors.Annotatef(retry.LastError(err), "dialling %v", c.info.Addrs)
	}
	logger.Debugf("connected to %v", c.info.Addrs)
	return newConnection(session, c.config.SourceDB, c.config.BackupDB), nil
}
