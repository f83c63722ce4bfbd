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

package recorder

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fixerrors "fixengine/pkg/errors"
	"fixengine/pkg/proto"
)

const testBeginHeader = "8=FIX.4.4\x019="

var testNow = time.Date(2024, 3, 1, 9, 30, 0, 123456000, time.UTC)

func makeMsg(seq uint32, msgType string, text string) []byte {
	b := proto.NewBuilder()
	if text != "" {
		b.PrependField(proto.TagText, text)
	}
	b.PrependString("\x0149=A\x0156=B")
	b.PrependUintField(proto.TagMsgSeqNum, uint64(seq))
	b.PrependField(proto.TagMsgType, msgType)
	b.PrependTimeField(proto.TagSendingTime, testNow)
	return append([]byte(nil), b.Final(testBeginHeader)...)
}

func newTestRecorder(t *testing.T, f *MemFile, idxInterval int) *Recorder {
	t.Helper()
	r := NewRecorder(testBeginHeader, &Config{IdxInterval: idxInterval})
	r.SetClock(func() time.Time { return testNow })
	require.NoError(t, r.InitializeFile(f, "test.log"))
	return r
}

func sendMsg(t *testing.T, r *Recorder, text string) uint32 {
	t.Helper()
	r.Lock()
	defer r.Unlock()
	seq := r.NextSendSeqLocked()
	require.NoError(t, r.WriteBeforeSendLocked(makeMsg(seq, "D", text), seq+1, false))
	return seq
}

func recvMsg(t *testing.T, r *Recorder) {
	t.Helper()
	require.NoError(t, r.WriteReceivedInOrder(makeMsg(r.NextRecvSeq(), "8", "")))
}

func reopen(t *testing.T, r *Recorder, f *MemFile) (*Recorder, *MemFile) {
	t.Helper()
	require.NoError(t, r.Close())
	assert.True(t, f.IsClosed())
	nf := NewMemFile(f.Bytes())
	return newTestRecorder(t, nf, DefaultIdxInterval), nf
}

func TestInitializeEmpty(t *testing.T) {
	f := NewMemFile(nil)
	r := newTestRecorder(t, f, 0)
	assert.Equal(t, uint32(1), r.NextSendSeq())
	assert.Equal(t, uint32(1), r.NextRecvSeq())
	assert.Len(t, r.ID(), 36)
	assert.Contains(t, string(f.Bytes()), "i 20240301093000.123456 Initialized:|id="+r.ID()+"|NextSendSeq=1|NextRecvSeq=1\n")
}

func TestIdempotentReopen(t *testing.T) {
	for _, tc := range []struct {
		recv, sent  int
		idxInterval int
	}{
		{0, 0, DefaultIdxInterval},
		{3, 0, DefaultIdxInterval},
		{0, 4, DefaultIdxInterval},
		{7, 5, DefaultIdxInterval},
		{300, 200, 500},
		{1000, 10, 300},
		{5, 900, 4096},
	} {
		t.Run(fmt.Sprintf("R%d_S%d_idx%d", tc.recv, tc.sent, tc.idxInterval), func(t *testing.T) {
			f := NewMemFile(nil)
			r := newTestRecorder(t, f, tc.idxInterval)
			for i, j := 0, 0; i < tc.recv || j < tc.sent; {
				if i < tc.recv {
					recvMsg(t, r)
					i++
				}
				if j < tc.sent {
					sendMsg(t, r, "")
					j++
				}
			}
			r2, _ := reopen(t, r, f)
			assert.Equal(t, uint32(tc.recv+1), r2.NextRecvSeq())
			assert.Equal(t, uint32(tc.sent+1), r2.NextSendSeq())
		})
	}
}

func TestReopenCheckpointsOnly(t *testing.T) {
	// The last S and R lines sit far before the last checkpoint.
	f := NewMemFile(nil)
	r := newTestRecorder(t, f, 256)
	for i := 0; i < 20; i++ {
		recvMsg(t, r)
		sendMsg(t, r, "")
	}
	for i := 0; i < 200; i++ {
		require.NoError(t, r.Write(HdrInfo, strings.Repeat("x", 40)))
	}
	assert.Contains(t, string(f.Bytes()), "\x02IDX\x01S=21\x01R=21\n")
	r2, _ := reopen(t, r, f)
	assert.Equal(t, uint32(21), r2.NextRecvSeq())
	assert.Equal(t, uint32(21), r2.NextSendSeq())
}

func TestTornLastLine(t *testing.T) {
	f := NewMemFile(nil)
	r := newTestRecorder(t, f, 0)
	for i := 0; i < 5; i++ {
		sendMsg(t, r, "")
		recvMsg(t, r)
	}
	require.NoError(t, r.Close())

	data := f.Bytes()
	torn := AppendLine(nil, HdrSend, testNow, makeMsg(99, "D", "torn"))
	data = append(data, torn[:len(torn)-20]...)
	r2 := newTestRecorder(t, NewMemFile(data), 0)
	assert.Equal(t, uint32(6), r2.NextSendSeq())
	assert.Equal(t, uint32(6), r2.NextRecvSeq())

	// a short garbage line is skipped as well
	data = append(f.Bytes(), "S 2024\nR\n"...)
	r3 := newTestRecorder(t, NewMemFile(data), 0)
	assert.Equal(t, uint32(6), r3.NextSendSeq())
	assert.Equal(t, uint32(6), r3.NextRecvSeq())
}

func TestResetsSurviveReopen(t *testing.T) {
	f := NewMemFile(nil)
	r := newTestRecorder(t, f, 0)
	for i := 0; i < 3; i++ {
		recvMsg(t, r)
		sendMsg(t, r, "")
	}
	require.NoError(t, r.WriteInputSeqReset(makeMsg(4, proto.MsgTypeSequenceReset, ""), 40, true))
	assert.Equal(t, uint32(40), r.NextRecvSeq())
	r, f = reopen(t, r, f)
	assert.Equal(t, uint32(40), r.NextRecvSeq())
	assert.Equal(t, uint32(4), r.NextSendSeq())

	require.NoError(t, r.ForceResetRecvSeq("operator", 7))
	require.NoError(t, r.ResetNextSendSeq(100))
	r, f = reopen(t, r, f)
	assert.Equal(t, uint32(7), r.NextRecvSeq())
	assert.Equal(t, uint32(100), r.NextSendSeq())

	// SequenceReset sent with a new NextSend
	r.Lock()
	require.NoError(t, r.WriteBeforeSendLocked(makeMsg(100, proto.MsgTypeSequenceReset, ""), 500, true))
	r.Unlock()
	r, _ = reopen(t, r, f)
	assert.Equal(t, uint32(500), r.NextSendSeq())
}

func TestParseControl(t *testing.T) {
	s, rr, rst, ok := parseControl([]byte("\x02IDX\x01S=12\x01R=34"))
	assert.True(t, ok)
	assert.False(t, rst)
	assert.Equal(t, uint32(12), s)
	assert.Equal(t, uint32(34), rr)

	s, rr, rst, ok = parseControl([]byte("\x02RST\x01R=9"))
	assert.True(t, ok)
	assert.True(t, rst)
	assert.Equal(t, uint32(0), s)
	assert.Equal(t, uint32(9), rr)

	_, _, _, ok = parseControl([]byte("\x02XYZ\x01S=1"))
	assert.False(t, ok)
	_, _, _, ok = parseControl([]byte("\x02IDX\x01S=x"))
	assert.False(t, ok)
}

func TestSentSearcher(t *testing.T) {
	f := NewMemFile(nil)
	r := newTestRecorder(t, f, 1024)
	for i := 1; i <= 100; i++ {
		seq := sendMsg(t, r, fmt.Sprintf("m%d", i))
		require.Equal(t, uint32(i), seq)
		if i%3 == 0 {
			recvMsg(t, r)
		}
	}
	s := r.NewSentSearcher()
	find := func(seq uint32) []byte {
		msg, err := s.Find(seq)
		require.NoError(t, err)
		return msg
	}
	msg := find(50)
	require.NotNil(t, msg)
	assert.Equal(t, uint32(50), s.MsgSeqNum())
	assert.Equal(t, string(makeMsg(50, "D", "m50")), string(msg))

	for want := uint32(51); want <= 60; want++ {
		msg = s.Next()
		require.NotNil(t, msg)
		assert.Equal(t, want, s.MsgSeqNum())
		assert.True(t, bytes.HasSuffix(bytes.SplitN(msg, []byte("\x0110="), 2)[0], []byte(fmt.Sprintf("58=m%d", want))))
	}

	assert.NotNil(t, find(1))
	assert.NotNil(t, find(100))
	assert.Nil(t, find(0))
	assert.Nil(t, find(101))

	// Next runs off the end
	msg, err := s.Start(99)
	require.NoError(t, err)
	require.NotNil(t, msg)
	require.NotNil(t, s.Next())
	assert.Nil(t, s.Next())
	assert.Nil(t, s.Next())
	assert.NoError(t, s.Err())
}

func TestSentSearcherAfterReset(t *testing.T) {
	f := NewMemFile(nil)
	r := newTestRecorder(t, f, 0)
	for i := 0; i < 10; i++ {
		sendMsg(t, r, "")
	}
	require.NoError(t, r.ResetNextSendSeq(20))
	for i := 0; i < 6; i++ {
		sendMsg(t, r, "")
	}
	s := r.NewSentSearcher()
	msg, err := s.Find(5)
	require.NoError(t, err)
	assert.Nil(t, msg)
	msg, err = s.Start(5)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, uint32(20), s.MsgSeqNum())
	msg, err = s.Find(22)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, uint32(22), s.MsgSeqNum())
}

func TestSentSearcherFlushFailure(t *testing.T) {
	f := NewMemFile(nil)
	r := newTestRecorder(t, f, 0)
	for i := 0; i < 5; i++ {
		sendMsg(t, r, "")
	}
	f.FailAppend = errors.New("disk full")
	require.Error(t, r.Write(HdrInfo, "pending"))

	s := r.NewSentSearcher()
	msg, err := s.Start(1)
	assert.Nil(t, msg)
	assert.ErrorIs(t, err, fixerrors.ErrResource)
	assert.Equal(t, uint32(0), s.NextSendAtStart())
	msg, err = s.Find(3)
	assert.Nil(t, msg)
	assert.Error(t, err)

	f.FailAppend = nil
	msg, err = s.Find(3)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, uint32(6), s.NextSendAtStart())
}

func TestBufferedWithFlushPool(t *testing.T) {
	pool := NewFlushPool(3, time.Millisecond)
	f := NewMemFile(nil)
	r := newTestRecorder(t, f, 0)
	r.AttachFlushPool(pool)

	sendMsg(t, r, "")
	recvMsg(t, r)
	assert.Eventually(t, func() bool {
		return bytes.Contains(f.Bytes(), []byte("\nR "))
	}, 2*time.Second, time.Millisecond)

	// searching flushes first
	sendMsg(t, r, "x")
	msg, err := r.NewSentSearcher().Find(2)
	require.NoError(t, err)
	assert.NotNil(t, msg)

	require.NoError(t, r.Close())
	pool.Close()
	assert.True(t, bytes.HasSuffix(f.Bytes(), []byte("NextSendSeq=3|NextRecvSeq=2\n\n")))
}

func TestFlushFailure(t *testing.T) {
	f := NewMemFile(nil)
	r := newTestRecorder(t, f, 0)
	f.FailAppend = errors.New("disk full")
	err := r.Write(HdrInfo, "lost?")
	require.Error(t, err)
	assert.Equal(t, fixerrors.ErrnoResource, fixerrors.ErrNoOf(err))
	assert.ErrorIs(t, r.Err(), fixerrors.ErrResource)

	f.FailAppend = nil
	require.NoError(t, r.Flush())
	assert.NoError(t, r.Err())
	content := string(f.Bytes())
	assert.Contains(t, content, " lost?\n")
	assert.Contains(t, content, "e 20240301093000.123456 Flush failed:|err=")
}

func TestArchiveRoundTrip(t *testing.T) {
	f := NewMemFile(nil)
	r := newTestRecorder(t, f, 0)
	for i := 0; i < 30; i++ {
		sendMsg(t, r, "")
		recvMsg(t, r)
	}
	require.NoError(t, r.Close())

	var buf bytes.Buffer
	n, err := Archive(f, &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(len(f.Bytes())), n)

	mf, err := LoadArchive(&buf)
	require.NoError(t, err)
	assert.Equal(t, f.Bytes(), mf.Bytes())
	p := proto.NewParser()
	s, rr, err := LastSeqSearch(mf, p)
	require.NoError(t, err)
	assert.Equal(t, uint32(31), s)
	assert.Equal(t, uint32(31), rr)
}

func TestLineHelpers(t *testing.T) {
	line := AppendLine(nil, HdrRecv, testNow, makeMsg(3, "0", ""))
	line = line[:len(line)-1]
	ts, ok := ParseLineTime(line)
	require.True(t, ok)
	assert.Equal(t, testNow, ts)
	assert.Equal(t, string(makeMsg(3, "0", "")), string(SkipTimestamp(line)))
	seq, _ := lineMsgSeqNum(proto.NewParser(), line)
	assert.Equal(t, uint32(3), seq)
	assert.Nil(t, SkipTimestamp([]byte("R short")))
}

func TestReadOnlyRecorder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ro.log")
	w := NewRecorder(testBeginHeader, nil)
	w.SetClock(func() time.Time { return testNow })
	require.NoError(t, w.Initialize(path))
	for i := 0; i < 4; i++ {
		sendMsg(t, w, fmt.Sprintf("m%d", i+1))
	}
	recvMsg(t, w)
	require.NoError(t, w.Close())
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	f, err := OpenFileReadOnly(path)
	require.NoError(t, err)
	assert.ErrorIs(t, f.Append([]byte("x\n")), fixerrors.ErrState)

	r := NewRecorder(testBeginHeader, nil)
	require.NoError(t, r.InitializeReadOnly(f, path))
	assert.Equal(t, uint32(5), r.NextSendSeq())
	assert.Equal(t, uint32(2), r.NextRecvSeq())

	s := r.NewSentSearcher()
	msg, err := s.Find(3)
	require.NoError(t, err)
	assert.Equal(t, string(makeMsg(3, "D", "m3")), string(msg))
	assert.ErrorIs(t, r.Write(HdrInfo, "never written"), fixerrors.ErrState)
	assert.NoError(t, r.Err())
	require.NoError(t, r.Close())

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
