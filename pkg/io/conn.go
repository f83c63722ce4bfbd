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

package io

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"fixengine/pkg/io/ioutil"
	"fixengine/pkg/logging"
	"fixengine/pkg/session"
	"fixengine/pkg/util"
)

// Conn runs one session over a connected net.Conn. Reading happens on its
// own goroutine; parsing, timers and commands all run on the event loop,
// which is the session's goroutine. Conn neither listens nor dials.
type Conn struct {
	conn   net.Conn
	config Config
	ses    *session.Session
	feeder *Feeder
	timer  *util.TimerWrapper
	chCmd  chan func()
	done   chan struct{}

	mtx      sync.Mutex
	closing  bool
	reason   string
	deadline time.Time
}

func NewConn(c net.Conn, scfg *session.Config, mgr session.Manager, config Config) *Conn {
	config.SetDefaultIfNotDefined()
	conn := &Conn{
		conn:   c,
		config: config,
		timer:  util.NewTimerWrapper(time.Second),
		chCmd:  make(chan func()),
		done:   make(chan struct{}),
	}
	conn.ses = session.NewSession(scfg, mgr, conn, conn.timer)
	conn.feeder = NewFeeder(conn.ses)
	return conn
}

func (c *Conn) Session() *session.Session {
	return c.ses
}

// ID is the remote address.
func (c *Conn) ID() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Send writes b through. It is called by the session's Sender with the
// recorder locked, so frames leave in MsgSeqNum order.
func (c *Conn) Send(b []byte) error {
	if c.config.WriteTimeout.Duration > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout.Duration))
	}
	_, err := c.conn.Write(b)
	return err
}

// Close stops delivering input and closes the connection once the peer
// closed its end or LingerTimeout passed. The first reason wins. Cancelling
// the context given to Run cuts the linger short.
func (c *Conn) Close(reason string) {
	c.closeAfter(reason, c.config.LingerTimeout.Duration)
}

// closeAfter may shorten the linger of a close already under way, never
// extend it.
func (c *Conn) closeAfter(reason string, linger time.Duration) {
	deadline := time.Now().Add(linger)
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if !c.closing {
		c.closing = true
		c.reason = reason
		logging.Debugf("conn %s: closing: %s", c.ID(), reason)
	} else if !deadline.Before(c.deadline) {
		return
	}
	c.deadline = deadline
	c.conn.SetReadDeadline(deadline)
}

func (c *Conn) isClosing() bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.closing
}

func (c *Conn) closeReason() string {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.reason
}

// Command runs an operator command on the event loop.
func (c *Conn) Command(line string) string {
	ch := make(chan string, 1)
	select {
	case c.chCmd <- func() { ch <- c.ses.Command(line) }:
		return <-ch
	case <-c.done:
		return "Conn closed.\n"
	}
}

// Run drives the session until the connection is gone. Cancelling ctx
// closes it without linger.
func (c *Conn) Run(ctx context.Context) error {
	chRecv := make(chan []byte, c.config.RecvChanSize)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.doRead(chRecv)
	})
	g.Go(func() error {
		return c.eventLoop(gctx, chRecv)
	})
	return g.Wait()
}

func (c *Conn) doRead(chRecv chan<- []byte) error {
	defer close(chRecv)
	for {
		buf := make([]byte, c.config.IOBufSize)
		n, err := c.conn.Read(buf)
		if n > 0 {
			chRecv <- buf[:n]
		}
		if err != nil {
			if !c.isClosing() {
				ioutil.LogError(c.ID(), err)
				c.closeAfter("Conn.Read:|err="+err.Error(), 0)
			}
			return nil
		}
	}
}

func (c *Conn) eventLoop(ctx context.Context, chRecv <-chan []byte) error {
	defer close(c.done)
	c.ses.OnConnected()
	ctxDone := ctx.Done()
	for {
		select {
		case data, ok := <-chRecv:
			if !ok {
				c.timer.Stop()
				c.conn.Close()
				c.ses.OnDisconnected(c.closeReason())
				return nil
			}
			if !c.isClosing() {
				c.feeder.Feed(data)
			}
		case <-c.timer.GetTimeoutCh():
			c.timer.Fired()
			c.ses.OnTimer()
		case fn := <-c.chCmd:
			fn()
		case <-ctxDone:
			ctxDone = nil
			c.closeAfter("Conn: "+ctx.Err().Error(), 0)
		}
	}
}
