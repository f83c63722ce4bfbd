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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"fixengine/pkg/recorder"
	"fixengine/pkg/session"
	"fixengine/pkg/util"
)

type testManager struct {
	initiate     bool
	sender       *session.Sender
	apReady      chan struct{}
	disconnected chan *session.Sender
}

func newTestManager(t *testing.T, cfg *session.Config, initiate bool) *testManager {
	rec := recorder.NewRecorder(cfg.BeginHeader(), &recorder.Config{IdxInterval: recorder.DefaultIdxInterval})
	require.NoError(t, rec.InitializeFile(recorder.NewMemFile(nil), cfg.SenderCompID))
	return &testManager{
		initiate:     initiate,
		sender:       session.NewSender(cfg.CompIDs(), rec),
		apReady:      make(chan struct{}, 1),
		disconnected: make(chan *session.Sender, 1),
	}
}

func (m *testManager) OnFixSessionConnected(s *session.Session) {
	if m.initiate {
		session.LogonInitiate(s, 30, nil, m.sender)
	}
}

func (m *testManager) OnFixSessionDisconnected(s *session.Session, sender *session.Sender) {
	m.disconnected <- sender
}

func (m *testManager) OnRecvLogonRequest(args *session.RecvArgs) {
	session.LogonAccepted(args, m.sender)
}

func (m *testManager) OnFixSessionApReady(s *session.Session) {
	m.apReady <- struct{}{}
}

func newSessionConfig(sender, target string) *session.Config {
	cfg := &session.Config{
		SenderCompID: sender,
		TargetCompID: target,
		TiLogonTest:  util.Duration{Duration: 200 * time.Millisecond},
	}
	cfg.SetDefaultIfNotDefined()
	session.InitConfig(cfg)
	return cfg
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
}

func TestConnPair(t *testing.T) {
	ca, cb := net.Pipe()
	cfgA, cfgB := newSessionConfig("A", "B"), newSessionConfig("B", "A")
	mgrA, mgrB := newTestManager(t, cfgA, true), newTestManager(t, cfgB, false)
	iocfg := Config{LingerTimeout: util.Duration{Duration: 50 * time.Millisecond}}
	connA := NewConn(ca, cfgA, mgrA, iocfg)
	connB := NewConn(cb, cfgB, mgrB, iocfg)
	assert.Equal(t, "pipe", connA.ID())

	var g errgroup.Group
	g.Go(func() error { return connA.Run(context.Background()) })
	g.Go(func() error { return connB.Run(context.Background()) })

	waitFor(t, mgrA.apReady)
	waitFor(t, mgrB.apReady)
	assert.Contains(t, connA.Command("snext"), "Cleared")
	assert.Contains(t, connB.Command("stats"), "send")

	connA.Close("test done")
	require.NoError(t, g.Wait())
	assert.Same(t, mgrA.sender, <-mgrA.disconnected)
	assert.Same(t, mgrB.sender, <-mgrB.disconnected)
	assert.Contains(t, mgrA.sender.Recorder().Name(), "A")
	assert.Equal(t, "Conn closed.\n", connA.Command("?"))
	assert.Equal(t, session.StDisconnected, connA.Session().State())
}

func TestConnCancel(t *testing.T) {
	ca, cb := net.Pipe()
	defer cb.Close()
	cfg := newSessionConfig("B", "A")
	mgr := newTestManager(t, cfg, false)
	conn := NewConn(ca, cfg, mgr, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- conn.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	// no Logon happened, so no Sender is handed back
	assert.Empty(t, mgr.disconnected)
}

func TestConnCancelDuringLinger(t *testing.T) {
	ca, cb := net.Pipe()
	defer cb.Close()
	cfg := newSessionConfig("B", "A")
	mgr := newTestManager(t, cfg, false)
	conn := NewConn(ca, cfg, mgr, Config{LingerTimeout: util.Duration{Duration: time.Hour}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- conn.Run(ctx) }()
	// the peer neither reads nor closes, so only the linger ends the read
	conn.Close("going away")
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("linger was not cut short")
	}
	assert.Equal(t, "going away", conn.closeReason())

	// a longer linger never extends a shorter one
	conn.closeAfter("later", time.Hour)
	assert.Equal(t, "going away", conn.closeReason())
}

func TestConnStopsOnGarbage(t *testing.T) {
	ca, cb := net.Pipe()
	cfg := newSessionConfig("B", "A")
	mgr := newTestManager(t, cfg, false)
	conn := NewConn(ca, cfg, mgr, Config{LingerTimeout: util.Duration{Duration: 10 * time.Millisecond}})

	done := make(chan error, 1)
	go func() { done <- conn.Run(context.Background()) }()
	go func() {
		cb.Write([]byte("this is not a FIX frame at all\x01"))
		buf := make([]byte, 1024)
		for {
			if _, err := cb.Read(buf); err != nil {
				cb.Close()
				return
			}
		}
	}()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}
