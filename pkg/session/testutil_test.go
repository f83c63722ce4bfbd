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

package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fixengine/pkg/proto"
	"fixengine/pkg/recorder"
	"fixengine/pkg/util"
)

var testNow = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

type testClock struct {
	mtx sync.Mutex
	t   time.Time
}

func newTestClock() *testClock {
	return &testClock{t: testNow}
}

func (c *testClock) now() time.Time {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.t
}

func (c *testClock) add(d time.Duration) {
	c.mtx.Lock()
	c.t = c.t.Add(d)
	c.mtx.Unlock()
}

type fakeTransport struct {
	mtx      sync.Mutex
	id       string
	buf      []byte
	closed   string
	isClosed bool
}

func (f *fakeTransport) Send(b []byte) error {
	f.mtx.Lock()
	f.buf = append(f.buf, b...)
	f.mtx.Unlock()
	return nil
}

func (f *fakeTransport) Close(reason string) {
	f.mtx.Lock()
	f.closed, f.isClosed = reason, true
	f.mtx.Unlock()
}

func (f *fakeTransport) ID() string {
	return f.id
}

func (f *fakeTransport) take() []byte {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	b := f.buf
	f.buf = nil
	return b
}

// frames takes everything sent so far, split into frames.
func (f *fakeTransport) frames(t *testing.T) [][]byte {
	return splitFrames(t, f.take())
}

func splitFrames(t *testing.T, data []byte) [][]byte {
	t.Helper()
	var out [][]byte
	p := proto.NewParser()
	for len(data) > 0 {
		n, err := p.Parse(data, proto.UntilFullMessage)
		require.NoError(t, err)
		out = append(out, data[:n])
		data = data[n:]
	}
	return out
}

func parseFrame(t *testing.T, frame []byte) *proto.Parser {
	t.Helper()
	p := proto.NewParser()
	_, err := p.Parse(frame, proto.UntilFullMessage)
	require.NoError(t, err)
	return p
}

func fieldOf(t *testing.T, frame []byte, tag proto.Tag) string {
	t.Helper()
	return parseFrame(t, frame).GetString(tag)
}

// framesOfType filters frames by MsgType.
func framesOfType(t *testing.T, frames [][]byte, msgType string) [][]byte {
	t.Helper()
	var out [][]byte
	for _, f := range frames {
		if fieldOf(t, f, proto.TagMsgType) == msgType {
			out = append(out, f)
		}
	}
	return out
}

type fakeManager struct {
	initiate     bool
	heartBtInt   uint32
	sender       *Sender
	connected    int
	apReady      int
	disconnected *Sender
}

func (m *fakeManager) OnFixSessionConnected(s *Session) {
	m.connected++
	if m.initiate {
		LogonInitiate(s, m.heartBtInt, nil, m.sender)
	}
}

func (m *fakeManager) OnFixSessionDisconnected(s *Session, sender *Sender) {
	m.disconnected = sender
}

func (m *fakeManager) OnRecvLogonRequest(args *RecvArgs) {
	LogonAccepted(args, m.sender)
}

func (m *fakeManager) OnFixSessionApReady(s *Session) {
	m.apReady++
}

func newTestConfig(sender, target string) *Config {
	cfg := &Config{SenderCompID: sender, TargetCompID: target}
	cfg.SetDefaultIfNotDefined()
	InitConfig(cfg)
	return cfg
}

func newTestSender(t *testing.T, cfg *Config, f *recorder.MemFile, clk *testClock) *Sender {
	t.Helper()
	rec := recorder.NewRecorder(cfg.BeginHeader(), &recorder.Config{IdxInterval: recorder.DefaultIdxInterval})
	rec.SetClock(clk.now)
	require.NoError(t, rec.InitializeFile(f, cfg.SenderCompID+".log"))
	s := NewSender(cfg.CompIDs(), rec)
	s.SetClock(clk.now)
	return s
}

// testPeer is one end of a session with everything faked around it.
type testPeer struct {
	t      *testing.T
	cfg    *Config
	clk    *testClock
	file   *recorder.MemFile
	sender *Sender
	trans  *fakeTransport
	timer  *util.ManualTimer
	mgr    *fakeManager
	ses    *Session
}

func newTestPeer(t *testing.T, sender, target string, initiate bool) *testPeer {
	p := &testPeer{
		t:     t,
		cfg:   newTestConfig(sender, target),
		clk:   newTestClock(),
		file:  recorder.NewMemFile(nil),
		trans: &fakeTransport{id: sender + ".peer"},
		timer: &util.ManualTimer{},
	}
	p.sender = newTestSender(t, p.cfg, p.file, p.clk)
	p.mgr = &fakeManager{initiate: initiate, heartBtInt: 30, sender: p.sender}
	p.ses = NewSession(p.cfg, p.mgr, p.trans, p.timer)
	p.ses.SetClock(p.clk.now)
	return p
}

// msg builds a frame as the remote side would send it.
func (p *testPeer) msg(seq uint32, msgType string, fill func(b *proto.Builder)) []byte {
	b := proto.NewBuilder()
	if fill != nil {
		fill(b)
	}
	ids := proto.NewCompIDs(p.cfg.TargetCompID, "", p.cfg.SenderCompID, "")
	b.PrependString(ids.Header())
	b.PrependUintField(proto.TagMsgSeqNum, uint64(seq))
	b.PrependField(proto.TagMsgType, msgType)
	b.PrependTimeField(proto.TagSendingTime, p.clk.now())
	return append([]byte(nil), b.Final(p.cfg.BeginHeader())...)
}

// feed delivers a byte stream holding whole frames to the session.
func (p *testPeer) feed(data []byte) {
	p.t.Helper()
	for len(data) > 0 {
		n, err := p.ses.Parser().Parse(data, proto.UntilFullMessage)
		require.NoError(p.t, err)
		p.ses.OnFixMessageParsed(data[:n])
		data = data[n:]
	}
}

func (p *testPeer) expire() {
	p.t.Helper()
	require.True(p.t, p.timer.Expire())
	p.ses.OnTimer()
}

func (p *testPeer) log() string {
	return string(p.file.Bytes())
}

// toApReady runs an initiator through logon without a remote session.
func (p *testPeer) toApReady() {
	p.t.Helper()
	p.ses.OnConnected()
	p.feed(p.msg(p.sender.Recorder().NextRecvSeq(), proto.MsgTypeLogon, func(b *proto.Builder) {
		b.PrependField(proto.TagHeartBtInt, "30")
		b.PrependField(proto.TagEncryptMethod, "0")
	}))
	p.feed(p.msg(p.sender.Recorder().NextRecvSeq(), proto.MsgTypeHeartbeat, nil))
	require.Equal(p.t, StApReady, p.ses.State())
	p.trans.take()
}

func seqs(t *testing.T, frames [][]byte) []uint32 {
	t.Helper()
	var out []uint32
	for _, f := range frames {
		out = append(out, parseFrame(t, f).MsgSeqNum())
	}
	return out
}

func seqRange(from, to uint32) []uint32 {
	var out []uint32
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}
