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
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fixengine/pkg/proto"
	"fixengine/pkg/recorder"
)

type senderFixture struct {
	cfg    *Config
	clk    *testClock
	file   *recorder.MemFile
	sender *Sender
	trans  *fakeTransport
}

func newSenderFixture(t *testing.T) *senderFixture {
	f := &senderFixture{
		cfg:   newTestConfig("A", "B"),
		clk:   newTestClock(),
		file:  recorder.NewMemFile(nil),
		trans: &fakeTransport{id: "B.peer"},
	}
	f.cfg.Fetch(proto.MsgTypeNewOrderSingle).TTL = TTLInfinite
	f.sender = newTestSender(t, f.cfg, f.file, f.clk)
	f.sender.attach(f.trans)
	return f
}

func (f *senderFixture) sendOrders(t *testing.T, n int) [][]byte {
	for i := 0; i < n; i++ {
		b := proto.NewBuilder()
		b.PrependField(proto.TagText, "order")
		require.NoError(t, f.sender.Send(proto.MsgTypeNewOrderSingle, b))
	}
	return f.trans.frames(t)
}

func TestSendFieldOrder(t *testing.T) {
	f := newSenderFixture(t)
	b := proto.NewBuilder()
	b.PrependField(proto.TagText, "hi")
	require.NoError(t, f.sender.Send(proto.MsgTypeNewOrderSingle, b))

	frames := f.trans.frames(t)
	require.Len(t, frames, 1)
	assert.Contains(t, string(frames[0]), "\x0152=20240301-09:30:00.000\x0135=D\x0134=1\x0149=A\x0156=B\x0158=hi\x0110=")
	assert.True(t, strings.HasPrefix(string(frames[0]), "8=FIX.4.4\x019="))
	assert.Equal(t, uint32(2), f.sender.Recorder().NextSendSeq())
	assert.Equal(t, testNow, f.sender.LastSentTime())
	assert.Contains(t, f.sender.Recorder().Name(), "A")

	st := f.sender.Stats().Send.GetStats()
	assert.Equal(t, int64(1), st.NumSamples)
	assert.Contains(t, string(f.file.Bytes()), "S 20240301093000.000000 "+string(frames[0])+"\n")
}

func TestSendDetached(t *testing.T) {
	f := newSenderFixture(t)
	f.sender.detach()
	require.NoError(t, f.sender.Send(proto.MsgTypeHeartbeat, nil))
	assert.Empty(t, f.trans.take())
	assert.Equal(t, uint32(2), f.sender.Recorder().NextSendSeq())
}

func TestSenderSequenceReset(t *testing.T) {
	f := newSenderFixture(t)
	f.sendOrders(t, 2)

	require.NoError(t, f.sender.SequenceReset(10))
	frames := f.trans.frames(t)
	require.Len(t, frames, 1)
	p := parseFrame(t, frames[0])
	assert.Equal(t, proto.MsgTypeSequenceReset, p.GetString(proto.TagMsgType))
	assert.Equal(t, uint32(3), p.MsgSeqNum())
	assert.Equal(t, "10", p.GetString(proto.TagNewSeqNo))
	assert.Nil(t, p.GetField(proto.TagGapFillFlag))
	assert.Equal(t, uint32(10), f.sender.Recorder().NextSendSeq())

	require.NoError(t, f.sender.ResetNextSendSeq(20))
	assert.Empty(t, f.trans.take())
	assert.Equal(t, uint32(20), f.sender.Recorder().NextSendSeq())
	require.NoError(t, f.sender.ResetNextSendSeq(0))
	assert.Equal(t, uint32(20), f.sender.Recorder().NextSendSeq())
}

// fieldList is the body of a frame as "tag=value" strings.
func fieldList(t *testing.T, frame []byte) []string {
	var out []string
	parseFrame(t, frame).Each(func(tag proto.Tag, value []byte) {
		out = append(out, strconv.FormatUint(uint64(tag), 10)+"="+string(value))
	})
	return out
}

func TestReplayExactness(t *testing.T) {
	f := newSenderFixture(t)
	orig := f.sendOrders(t, 100)
	require.Len(t, orig, 100)

	f.clk.add(time.Hour)
	f.sender.Replay(f.cfg, 50, 60)
	frames := f.trans.frames(t)
	require.Len(t, frames, 11)
	assert.Equal(t, seqRange(50, 60), seqs(t, frames))

	now := proto.FormatSendingTime(f.clk.now())
	for i, frame := range frames {
		src := fieldList(t, orig[49+i])
		var want []string
		for _, fld := range src {
			if strings.HasPrefix(fld, "52=") {
				want = append(want, "43=Y", "52="+now, "122="+fld[3:])
				continue
			}
			want = append(want, fld)
		}
		assert.Equal(t, want, fieldList(t, frame))
	}
	assert.Equal(t, uint32(101), f.sender.Recorder().NextSendSeq())

	log := string(f.file.Bytes())
	assert.Contains(t, log, "\x01beginSeqNo=50\x01endSeqNo=60\n")
	assert.Contains(t, log, string(frames[10])+"\n")
	assert.Equal(t, int64(1), f.sender.Stats().Replay.GetStats().NumSamples)
}

func TestReplayGapFillsAdminMessages(t *testing.T) {
	f := newSenderFixture(t)
	f.sendOrders(t, 2)
	require.NoError(t, f.sender.Send(proto.MsgTypeHeartbeat, nil))
	f.sendOrders(t, 2)

	f.sender.Replay(f.cfg, 1, 5)
	frames := f.trans.frames(t)
	require.Len(t, frames, 5)
	assert.Equal(t, []uint32{1, 2, 3, 4, 5}, seqs(t, frames))

	gf := parseFrame(t, frames[2])
	assert.Equal(t, proto.MsgTypeSequenceReset, gf.GetString(proto.TagMsgType))
	assert.Equal(t, "Y", gf.GetString(proto.TagGapFillFlag))
	assert.Equal(t, "Y", gf.GetString(proto.TagPossDupFlag))
	assert.Equal(t, "4", gf.GetString(proto.TagNewSeqNo))
	assert.Nil(t, gf.GetField(proto.TagOrigSendingTime))
	assert.Equal(t, "A", gf.GetString(proto.TagSenderCompID))
}

func TestReplayTrailingGapFill(t *testing.T) {
	f := newSenderFixture(t)
	f.sendOrders(t, 2)
	require.NoError(t, f.sender.Send(proto.MsgTypeHeartbeat, nil))
	f.trans.take()

	f.sender.Replay(f.cfg, 1, 3)
	frames := f.trans.frames(t)
	require.Len(t, frames, 3)
	last := parseFrame(t, frames[2])
	assert.Equal(t, uint32(3), last.MsgSeqNum())
	assert.Equal(t, "4", last.GetString(proto.TagNewSeqNo))
}

func TestReplayExpiredTTL(t *testing.T) {
	f := newSenderFixture(t)
	f.cfg.Fetch(proto.MsgTypeOrderCancelRequest).TTL = time.Minute
	for i := 0; i < 3; i++ {
		require.NoError(t, f.sender.Send(proto.MsgTypeOrderCancelRequest, nil))
	}
	f.trans.take()

	f.clk.add(30 * time.Second)
	f.sender.Replay(f.cfg, 1, 3)
	assert.Len(t, f.trans.frames(t), 3)

	f.clk.add(time.Minute)
	f.sender.Replay(f.cfg, 1, 3)
	frames := f.trans.frames(t)
	require.Len(t, frames, 1)
	assert.Equal(t, "4", fieldOf(t, frames[0], proto.TagNewSeqNo))
}

func TestReplayUnbounded(t *testing.T) {
	f := newSenderFixture(t)
	f.sendOrders(t, 3)
	require.NoError(t, f.sender.Send(proto.MsgTypeHeartbeat, nil))
	f.trans.take()

	f.sender.Replay(f.cfg, 2, 0)
	frames := f.trans.frames(t)
	require.Len(t, frames, 3)
	assert.Equal(t, []uint32{2, 3, 4}, seqs(t, frames))
	assert.Equal(t, "5", fieldOf(t, frames[2], proto.TagNewSeqNo))
	assert.Equal(t, "Y", fieldOf(t, frames[2], proto.TagGapFillFlag))
	assert.False(t, f.sender.IsReplayingAll())
	assert.Contains(t, string(f.file.Bytes()), "Replay.End.GapFill:|NewSeqNo=5\n")
}

func TestReplayBeyondNextSend(t *testing.T) {
	f := newSenderFixture(t)
	f.sendOrders(t, 3)

	f.sender.Replay(f.cfg, 7, 0)
	frames := f.trans.frames(t)
	require.Len(t, frames, 1)
	p := parseFrame(t, frames[0])
	assert.Equal(t, uint32(7), p.MsgSeqNum())
	assert.Equal(t, "4", p.GetString(proto.TagNewSeqNo))
	assert.Nil(t, p.GetField(proto.TagGapFillFlag))
	assert.Contains(t, string(f.file.Bytes()), "Replay.End.SequenceReset:|NewSeqNo=4\n")
}

func TestReplayQueued(t *testing.T) {
	f := newSenderFixture(t)
	f.sendOrders(t, 3)

	f.sender.rec.Lock()
	f.sender.replaying = true
	f.sender.rec.Unlock()
	f.sender.Replay(f.cfg, 1, 2)
	assert.Empty(t, f.trans.take())
	assert.Len(t, f.sender.replayQueue, 1)
	assert.Contains(t, string(f.file.Bytes()), "Replay.Queued:|beginSeqNo=1|endSeqNo=2\n")

	// the running replay serves the queue when it is done
	f.sender.rec.Lock()
	f.sender.replaying = false
	f.sender.replayQueue = []replayRequest{{3, 3}}
	f.sender.rec.Unlock()
	f.sender.Replay(f.cfg, 1, 1)
	assert.Equal(t, []uint32{1, 3}, seqs(t, f.trans.frames(t)))
	assert.Empty(t, f.sender.replayQueue)
	assert.False(t, f.sender.replaying)
}

func TestReplayNoReplay(t *testing.T) {
	f := newSenderFixture(t)
	f.cfg.IsNoReplay = true
	f.sendOrders(t, 3)

	f.sender.Replay(f.cfg, 1, 3)
	frames := f.trans.frames(t)
	require.Len(t, frames, 1)
	p := parseFrame(t, frames[0])
	assert.Equal(t, uint32(1), p.MsgSeqNum())
	assert.Equal(t, "4", p.GetString(proto.TagNewSeqNo))
	assert.Equal(t, "Y", p.GetString(proto.TagGapFillFlag))
	assert.Contains(t, string(f.file.Bytes()), "\x01GapFill\x01beginSeqNo=1\x01endSeqNo=3\n")

	f.sender.GapFill(2, 0)
	frames = f.trans.frames(t)
	require.Len(t, frames, 1)
	assert.Equal(t, "4", fieldOf(t, frames[0], proto.TagNewSeqNo))
	assert.Contains(t, string(f.file.Bytes()), "GapFill:|NewSeqNo=4\n")

	f.sender.GapFill(3, 2)
	assert.Empty(t, f.trans.take())
	assert.Contains(t, string(f.file.Bytes()), "beginSeqNo > endSeqNo\n")
}

func TestReplayRateLimited(t *testing.T) {
	f := newSenderFixture(t)
	f.sendOrders(t, 5)
	f.sender.SetReplayRate(1000)

	f.sender.Replay(f.cfg, 1, 5)
	assert.Equal(t, seqRange(1, 5), seqs(t, f.trans.frames(t)))

	f.sender.SetReplayRate(0)
	assert.Nil(t, f.sender.limiter)
}

func TestReplayLogUnreadable(t *testing.T) {
	f := newSenderFixture(t)
	f.sendOrders(t, 5)
	f.file.FailAppend = errors.New("disk full")
	// the Heartbeat stays buffered in the recorder
	require.Error(t, f.sender.Send(proto.MsgTypeHeartbeat, nil))
	f.trans.take()

	require.Error(t, f.sender.Replay(f.cfg, 1, 5))
	assert.Empty(t, f.trans.take())

	f.sender.rec.Lock()
	f.sender.replayQueue = []replayRequest{{3, 3}}
	f.sender.rec.Unlock()
	done := make(chan error, 1)
	go func() { done <- f.sender.Replay(f.cfg, 1, 0) }()
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("unbounded replay did not return")
	}
	assert.Empty(t, f.trans.take())
	assert.False(t, f.sender.IsReplayingAll())
	assert.False(t, f.sender.replaying)
	assert.Empty(t, f.sender.replayQueue)

	f.file.FailAppend = nil
	require.NoError(t, f.sender.Replay(f.cfg, 1, 5))
	assert.Equal(t, seqRange(1, 5), seqs(t, f.trans.frames(t)))
	log := string(f.file.Bytes())
	assert.Contains(t, log, "Replay.Abort:|beginSeqNo=1|endSeqNo=5|err=")
	assert.Contains(t, log, "Replay.Abort:|beginSeqNo=1|endSeqNo=0|err=")
}
