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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fixengine/pkg/proto"
)

func TestCommandHelp(t *testing.T) {
	p := newTestPeer(t, "A", "B", true)
	out := p.ses.Command("?")
	assert.Contains(t, out, "snext")
	assert.Contains(t, out, "rnext")
	assert.Contains(t, out, "stats")
	assert.Equal(t, "Unknown command: foo\n", p.ses.Command("foo 1"))
	assert.Equal(t, "No FixSender.\n", p.ses.Command("stats"))
}

func TestResetNextSendSeqBeforeLogon(t *testing.T) {
	p := newTestPeer(t, "A", "B", true)
	assert.Equal(t, "Invalid next SEND seqNum string.", p.ses.Command("snext 1x"))
	assert.Equal(t, "New next SEND seqNum = 10\nUse it when next Logon.\n", p.ses.Command("snext 10"))

	p.ses.OnConnected()
	frames := p.trans.frames(t)
	require.Len(t, frames, 1)
	assert.Equal(t, uint32(10), parseFrame(t, frames[0]).MsgSeqNum())
	assert.Equal(t, uint32(11), p.sender.Recorder().NextSendSeq())
}

func TestResetNextSendSeqCleared(t *testing.T) {
	p := newTestPeer(t, "A", "B", true)
	p.ses.Command("snext 10")
	assert.Equal(t, "New next SEND seqNum = 0\nCleared\n", p.ses.Command("snext"))
	p.ses.OnConnected()
	assert.Equal(t, uint32(1), parseFrame(t, p.trans.frames(t)[0]).MsgSeqNum())
}

func TestResetNextSendSeqApReady(t *testing.T) {
	p := newTestPeer(t, "A", "B", true)
	p.toApReady()
	assert.Equal(t, "New next SEND seqNum = 50\nSequenceReset sent\n", p.ses.Command("snext 50"))
	frames := p.trans.frames(t)
	require.Len(t, frames, 1)
	sr := parseFrame(t, frames[0])
	assert.Equal(t, proto.MsgTypeSequenceReset, sr.GetString(proto.TagMsgType))
	assert.Equal(t, "50", sr.GetString(proto.TagNewSeqNo))
	assert.Equal(t, uint32(50), p.sender.Recorder().NextSendSeq())
}

func TestResetNextRecvSeq(t *testing.T) {
	p := newTestPeer(t, "A", "B", true)
	assert.Equal(t, "Invalid next RECV seqNum string.", p.ses.Command("rnext -1"))
	assert.Equal(t, "New next RECV seqNum = 7\nUse it when next Logon.\n", p.ses.Command("rnext 7"))
	p.ses.OnConnected()
	assert.Equal(t, uint32(7), p.sender.Recorder().NextRecvSeq())
	assert.Contains(t, p.log(), "Reset RECV seqNum on SendLogon()\n")

	assert.Equal(t, "New next RECV seqNum = 9\nResetted\n", p.ses.Command("rnext 9"))
	assert.Equal(t, uint32(9), p.sender.Recorder().NextRecvSeq())
	assert.Contains(t, p.log(), "FixSession.ResetNextRecvSeq\n")
}

func TestCommandStats(t *testing.T) {
	p := newTestPeer(t, "A", "B", true)
	p.toApReady()
	out := p.ses.Command("stats")
	assert.Contains(t, out, "send")
	assert.Contains(t, out, "replay")
}

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{SenderCompID: "A", TargetCompID: "B"}
	cfg.SetDefaultIfNotDefined()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "FIX.4.4", cfg.BeginString)
	assert.Equal(t, uint32(30), cfg.HeartBtInt)
	assert.Equal(t, 3*time.Second, cfg.TiWaitForLogon.Duration)
	assert.Equal(t, 10*time.Second, cfg.TiLogonRecover.Duration)
	assert.Equal(t, time.Second, cfg.TiLogonTest.Duration)
	assert.Equal(t, uint32(10), cfg.MaxLogonTestCount)
	assert.Equal(t, uint32(2), cfg.HbTestRequestCount)
	assert.Equal(t, "8=FIX.4.4\x019=", cfg.BeginHeader())
	ids := cfg.CompIDs()
	assert.Equal(t, "\x0149=A\x0156=B", ids.Header())

	assert.Error(t, (&Config{BeginString: "FIX.4.4", HeartBtInt: 30}).Validate())
	bad := *cfg
	bad.ReplayRate = -1
	assert.Error(t, bad.Validate())
}

func TestConfigMsgTypes(t *testing.T) {
	cfg := newTestConfig("A", "B")
	assert.Nil(t, cfg.Get("D"))
	m := cfg.Fetch("D")
	assert.Same(t, m, cfg.Fetch("D"))
	assert.Same(t, m, cfg.Get("D"))

	rr := cfg.Get(proto.MsgTypeResendRequest)
	require.NotNil(t, rr)
	assert.True(t, rr.Allow.Has(SeqTooHigh))
	assert.True(t, rr.Allow.Has(SeqTooLow))
	assert.False(t, rr.Allow.Has(SeqNoPreRecord))
	assert.True(t, cfg.Get(proto.MsgTypeSequenceReset).Allow.Has(SeqNoPreRecord))
	cfg.Dump()
}

func TestCompareSeqNum(t *testing.T) {
	assert.Equal(t, SeqConform, CompareSeqNum(5, 5))
	assert.Equal(t, SeqTooLow, CompareSeqNum(4, 5))
	assert.Equal(t, SeqTooHigh, CompareSeqNum(6, 5))
	assert.Equal(t, "TooHigh", SeqTooHigh.String())
	assert.False(t, SeqAllowAny.Has(SeqConform))
}

func TestReplayRequired(t *testing.T) {
	sent := proto.FormatSendingTime(testNow)
	inf := MsgTypeConfig{TTL: TTLInfinite}
	assert.True(t, inf.replayRequired([]byte("garbage"), testNow))

	none := MsgTypeConfig{}
	assert.False(t, none.replayRequired([]byte(sent), testNow))

	ttl := MsgTypeConfig{TTL: time.Minute}
	assert.True(t, ttl.replayRequired([]byte(sent), testNow.Add(59*time.Second)))
	assert.False(t, ttl.replayRequired([]byte(sent), testNow.Add(time.Minute)))
	assert.False(t, ttl.replayRequired([]byte("garbage"), testNow))
}
