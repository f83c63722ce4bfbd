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
	"bytes"
	"strconv"
	"strings"
)

const commandHelp = "snext\tSet next SEND MsgSeqNum\tNew next SEND seqNum.\n" +
	"rnext\tSet next RECV MsgSeqNum\tNew next RECV seqNum.\n" +
	"stats\tSend and replay latency\t\n"

func parseSeqArg(arg string) (uint32, bool) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return 0, true
	}
	v, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

// ResetNextSendSeq sends a SequenceReset when ApReady, otherwise the new
// number is applied at the next Logon. 0 clears a pending reset.
func (s *Session) ResetNextSendSeq(arg string) string {
	seq, ok := parseSeqArg(arg)
	if !ok {
		return "Invalid next SEND seqNum string."
	}
	res := "New next SEND seqNum = " + strconv.FormatUint(uint64(seq), 10) + "\n"
	if seq == 0 {
		s.resetNextSendSeq = 0
		return res + "Cleared\n"
	}
	if s.st == StApReady {
		s.resetNextSendSeq = 0
		s.sender.SequenceReset(seq)
		return res + "SequenceReset sent\n"
	}
	s.resetNextSendSeq = seq
	return res + "Use it when next Logon.\n"
}

// ResetNextRecvSeq resets NextRecv at once when a Sender is bound,
// otherwise at the next Logon. 0 clears a pending reset.
func (s *Session) ResetNextRecvSeq(arg string) string {
	seq, ok := parseSeqArg(arg)
	if !ok {
		return "Invalid next RECV seqNum string."
	}
	res := "New next RECV seqNum = " + strconv.FormatUint(uint64(seq), 10) + "\n"
	if seq == 0 {
		s.resetNextRecvSeq = 0
		return res + "Cleared\n"
	}
	if s.sender != nil {
		s.resetNextRecvSeq = 0
		s.sender.Recorder().ForceResetRecvSeq("FixSession.ResetNextRecvSeq", seq)
		return res + "Resetted\n"
	}
	s.resetNextRecvSeq = seq
	return res + "Use it when next Logon.\n"
}

// Command runs one operator command line and returns its output.
func (s *Session) Command(line string) string {
	line = strings.TrimSpace(line)
	cmd, arg := line, ""
	if i := strings.IndexAny(line, " \t"); i >= 0 {
		cmd, arg = line[:i], line[i+1:]
	}
	switch cmd {
	case "?":
		return commandHelp
	case "snext":
		return s.ResetNextSendSeq(arg)
	case "rnext":
		return s.ResetNextRecvSeq(arg)
	case "stats":
		if s.sender == nil {
			return "No FixSender.\n"
		}
		var buf bytes.Buffer
		s.sender.Stats().PrettyPrint(&buf)
		return buf.String()
	}
	return "Unknown command: " + cmd + "\n"
}
