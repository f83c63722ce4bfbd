//
//  Copyright 2023 PayPal Inc.
//
//  Licensed to the Apache Software Foundation (ASF) under one or more
//  contributor license agreements.  See the NOTICE file distributed with
//  this work for additional information regarding copyright ownership.
//  The ASF licenses this file to You under the Apache License, Version 2.0
//  (the "License"); you may not use this file except in compliance with
//  the License.  You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.
//

// Package engine builds a session's runtime from a loaded configuration:
// the process logger and metrics, the recorder with its flush pool, the
// Sender and the connections it is used on.
package engine

import (
	"context"
	"net"
	"time"

	"go.uber.org/multierr"

	"fixengine/pkg/cfg"
	fixio "fixengine/pkg/io"
	"fixengine/pkg/logging"
	"fixengine/pkg/logging/otel"
	"fixengine/pkg/recorder"
	"fixengine/pkg/session"
)

const otelShutdownTimeout = 5 * time.Second

type Engine struct {
	conf   *cfg.Config
	pool   *recorder.FlushPool
	rec    *recorder.Recorder
	sender *session.Sender
}

// New initializes logging and metrics from c, opens the recorder at
// Recorder.Path, buffers it through a flush pool when FlushInterval is set,
// and creates the Sender with the configured ReplayRate.
func New(c *cfg.Config) (*Engine, error) {
	if err := c.InitLogging(false); err != nil {
		return nil, err
	}
	c.Dump()
	rec := recorder.NewRecorder(c.Session.BeginHeader(), &c.Recorder)
	if err := rec.Initialize(c.Recorder.Path); err != nil {
		return nil, err
	}
	e := &Engine{conf: c, rec: rec}
	if c.Recorder.FlushInterval.Duration > 0 {
		e.pool = recorder.NewFlushPool(c.Recorder.FlushWorkers, c.Recorder.FlushInterval.Duration)
		rec.AttachFlushPool(e.pool)
	}
	e.sender = session.NewSender(c.Session.CompIDs(), rec)
	e.sender.SetReplayRate(c.Session.ReplayRate)
	logging.Infof("engine: %s ready, NextSendSeq=%d NextRecvSeq=%d", rec.Name(), rec.NextSendSeq(), rec.NextRecvSeq())
	return e, nil
}

func (e *Engine) Config() *cfg.Config {
	return e.conf
}

func (e *Engine) Recorder() *recorder.Recorder {
	return e.rec
}

// Sender is handed to the session at logon, by LogonInitiate or
// LogonAccepted.
func (e *Engine) Sender() *session.Sender {
	return e.sender
}

// NewConn runs a session over nc with the Session and IO settings.
func (e *Engine) NewConn(nc net.Conn, mgr session.Manager) *fixio.Conn {
	return fixio.NewConn(nc, &e.conf.Session, mgr, e.conf.IO)
}

// Close closes the recorder, stops the flush pool and shuts the meter
// provider down.
func (e *Engine) Close() error {
	err := e.rec.Close()
	if e.pool != nil {
		e.pool.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), otelShutdownTimeout)
	defer cancel()
	return multierr.Append(err, otel.Shutdown(ctx))
}
