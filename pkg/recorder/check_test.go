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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckRecorderOutput(t *testing.T) {
	f := NewMemFile(nil)
	r := newTestRecorder(t, f, DefaultIdxInterval)
	for i := 0; i < 3; i++ {
		sendMsg(t, r, "")
	}
	recvMsg(t, r)
	recvMsg(t, r)
	require.NoError(t, r.ResetNextSendSeq(10))
	sendMsg(t, r, "")
	// reset mode SequenceReset far ahead of NextRecv
	require.NoError(t, r.WriteInputSeqReset(makeMsg(50, "4", ""), 60, false))
	recvMsg(t, r)
	require.NoError(t, r.ForceResetRecvSeq("manual", 5))
	recvMsg(t, r)
	require.NoError(t, r.WriteMsg(HdrReplay, []byte("\x01beginSeqNo=2\x01endSeqNo=2")))
	r.Lock()
	require.NoError(t, r.AppendLocked(append(makeMsg(2, "4", ""), '\n')))
	r.Unlock()
	require.NoError(t, r.Close())

	rep, err := Check(NewMemFile(f.Bytes()), testBeginHeader)
	require.NoError(t, err)
	assert.True(t, rep.OK(), "%v", rep.Problems)
	assert.Equal(t, 18, rep.Lines)
	assert.Equal(t, map[string]int{"i": 3, "S": 4, "R": 5, "RST": 3, "y": 1, "raw": 1}, rep.Kinds)
	assert.Equal(t, uint32(11), rep.NextSendSeq)
	assert.Equal(t, uint32(6), rep.NextRecvSeq)
}

func TestCheckFindsDamage(t *testing.T) {
	var data []byte
	data = AppendLine(data, HdrSend, testNow, makeMsg(1, "D", ""))
	data = AppendLine(data, HdrSend, testNow, makeMsg(1, "D", "again"))
	bad := makeMsg(2, "D", "")
	if bad[len(bad)-2] == '0' {
		bad[len(bad)-2] = '1'
	} else {
		bad[len(bad)-2] = '0'
	}
	data = AppendLine(data, HdrSend, testNow, bad)
	data = AppendLine(data, HdrRecv, testNow, makeMsg(1, "0", ""))
	data = AppendLine(data, HdrRecv, testNow, makeMsg(4, "0", ""))
	data = AppendLine(data, HdrInfo, testNow, []byte("note"))
	data = append(data, "x something\n"...)
	data = append(data, "e notatimestamp\n"...)
	data = append(data, "S 20240301"...)

	rep, err := Check(NewMemFile(data), testBeginHeader)
	require.NoError(t, err)
	assert.False(t, rep.OK())
	assert.Equal(t, 9, rep.Lines)
	var lines []int
	for _, p := range rep.Problems {
		lines = append(lines, p.Line)
	}
	assert.Equal(t, []int{2, 3, 5, 7, 8, 9}, lines)
	assert.Contains(t, rep.Problems[0].Reason, "below expected 2")
	assert.Contains(t, rep.Problems[2].Reason, "expected 2")
	assert.Contains(t, rep.Problems[5].String(), "torn")
	assert.Equal(t, uint32(5), rep.NextRecvSeq)
}
