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
	"fmt"

	"fixengine/pkg/proto"
	"fixengine/pkg/recorder"
)

// InitConfig installs the handlers of the administrative messages. Their
// TTL stays 0: they are gap filled, never replayed.
func InitConfig(cfg *Config) {
	m := cfg.Fetch(proto.MsgTypeSequenceReset)
	m.Allow = SeqAllowAny | SeqNoPreRecord
	m.Handler = OnRecvSequenceReset

	m = cfg.Fetch(proto.MsgTypeResendRequest)
	m.Allow = SeqAllowAny
	m.Handler = OnRecvResendRequest

	cfg.Fetch(proto.MsgTypeHeartbeat).Handler = OnRecvHeartbeat
	cfg.Fetch(proto.MsgTypeTestRequest).Handler = OnRecvTestRequest

	m = cfg.Fetch(proto.MsgTypeLogout)
	m.Allow = SeqAllowAny
	m.Handler = OnRecvLogout

	// Only the Logon response is handled here; a Logon request is the first
	// message of an acceptor and goes to Manager.OnRecvLogonRequest.
	m = cfg.Fetch(proto.MsgTypeLogon)
	m.Allow = SeqTooHigh
	m.Handler = OnRecvLogonResponse

	m = cfg.Fetch(proto.MsgTypeReject)
	m.Allow = SeqTooHigh
	m.Handler = OnRecvReject

	cfg.Fetch(proto.MsgTypeBusinessReject).Handler = OnRecvReject
}

func OnRecvResendRequest(args *RecvArgs) {
	if args.SeqSt != SeqConform {
		args.Sender.Recorder().WriteMsg(recorder.HdrReplay, args.MsgStr)
	}
	errTag := proto.TagBeginSeqNo
	if beginSeq, ok := args.Msg.GetUint(proto.TagBeginSeqNo); ok {
		errTag = proto.TagEndSeqNo
		if endSeq, ok := args.Msg.GetUint(proto.TagEndSeqNo); ok {
			if err := args.Sender.Replay(args.Config, beginSeq, endSeq); err != nil {
				if args.Session != nil {
					args.Session.close(CloseRecorder, "Replay:|err="+err.Error())
				}
				return
			}
			args.Receiver.OnMsgSeqNumNotExpected(args, GapSkipRecord)
			return
		}
	}
	SendRequiredTagMissing(args.Sender, args.Msg.MsgSeqNum(), errTag, proto.MsgTypeResendRequest)
	args.Receiver.OnMsgSeqNumNotExpected(args, GapSkipRecord)
}

// OnRecvSequenceReset handles both modes. A gap fill must conform; a reset
// sets NextRecv whatever its MsgSeqNum.
func OnRecvSequenceReset(args *RecvArgs) {
	isGapFill := false
	if fld := args.Msg.GetField(proto.TagGapFillFlag); fld != nil && len(fld.Value) > 0 {
		isGapFill = fld.Value[0] == 'Y'
	}
	if isGapFill && args.SeqSt != SeqConform {
		args.Receiver.OnMsgSeqNumNotExpected(args, GapDontKeep)
		return
	}

	rec := args.Sender.Recorder()
	seq := args.Msg.MsgSeqNum()
	newSeq, ok := args.Msg.GetUint(proto.TagNewSeqNo)
	if !ok {
		if args.SeqSt == SeqConform {
			rec.WriteReceivedInOrder(args.MsgStr)
		} else {
			rec.WriteMsg(recorder.HdrError, args.MsgStr)
		}
		SendRequiredTagMissing(args.Sender, seq, proto.TagNewSeqNo, proto.MsgTypeSequenceReset)
		return
	}

	r := args.Receiver
	if !isGapFill {
		r.ClearRecvKeeper()
		rec.WriteInputSeqReset(args.MsgStr, newSeq, false)
		r.recoverDone(args)
		return
	}
	if newSeq <= seq {
		rec.WriteReceivedInOrder(args.MsgStr)
		b := proto.NewBuilder()
		b.PrependField(proto.TagText, fmt.Sprintf("NewSeqNo(%d) <= MsgSeqNum(%d)", newSeq, seq))
		b.PrependUintField(proto.TagSessionRejectReason, proto.RejectValueIsIncorrect)
		SendSessionReject(args.Sender, seq, proto.TagNewSeqNo, proto.MsgTypeSequenceReset, b)
		return
	}
	rec.WriteInputSeqReset(args.MsgStr, newSeq, true)
	if r.resendEnd < newSeq {
		// the outstanding ResendRequest is filled
		r.resendEnd = 0
		r.CheckMsgKeeper(args, newSeq)
	}
}

// SendHeartbeat echoes testReqID when it is not nil.
func SendHeartbeat(sender *Sender, testReqID []byte) {
	var b *proto.Builder
	if testReqID != nil {
		b = proto.NewBuilder()
		b.PrependFieldBytes(proto.TagTestReqID, testReqID)
	}
	sender.Send(proto.MsgTypeHeartbeat, b)
}

func SendTestRequest(sender *Sender, testReqID string) {
	b := proto.NewBuilder()
	b.PrependField(proto.TagTestReqID, testReqID)
	sender.Send(proto.MsgTypeTestRequest, b)
}

func OnRecvHeartbeat(args *RecvArgs) {
	args.Session.setApReady()
}

func OnRecvTestRequest(args *RecvArgs) {
	var id []byte
	if fld := args.Msg.GetField(proto.TagTestReqID); fld != nil {
		id = fld.Value
	}
	SendHeartbeat(args.Sender, id)
	args.Session.setApReady()
}

func OnRecvLogonResponse(args *RecvArgs) {
	s := args.Session
	if s.st == StLogonSent {
		s.onLogonResponded(args, GapDontKeep)
		return
	}
	SendInvalidMsgType(args.Sender, args.Msg.MsgSeqNum(), proto.MsgTypeLogon)
}

func OnRecvLogout(args *RecvArgs) {
	s := args.Session
	if args.SeqSt == SeqTooLow {
		args.Receiver.OnMsgSeqNumNotExpected(args, GapDontKeep)
		return
	}
	if args.SeqSt != SeqConform {
		args.Sender.Recorder().WriteMsg(recorder.HdrIgnoreRecv, args.MsgStr)
	}
	switch s.st {
	case StLogoutPending:
		s.close(CloseLogout, "Logout acknowledged.")
		return
	case StApReady, StLogonRecovering, StLogonTest:
		s.SendLogoutText("Logout response", nil)
	}
	if args.SeqSt == SeqTooHigh {
		args.Receiver.OnMsgSeqNumNotExpected(args, GapDontKeep)
	}
}
