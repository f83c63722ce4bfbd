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

	"fixengine/pkg/logging/otel"
	"fixengine/pkg/proto"
	"fixengine/pkg/recorder"
)

// RecvArgs describes one inbound message while it is dispatched. Msg and
// MsgStr are valid only during the handler call.
type RecvArgs struct {
	Msg    *proto.Parser
	MsgStr []byte
	// Set before the handler is called.
	SeqSt SeqSt

	Session  *Session
	Sender   *Sender
	Receiver *Receiver
	Config   *Config
}

// ResetSeqSt compares the message with the sender's NextRecv.
func (a *RecvArgs) ResetSeqSt() {
	a.SeqSt = CompareSeqNum(a.Msg.MsgSeqNum(), a.Sender.Recorder().NextRecvSeq())
}

// OrigArgs is a previously sent message referred to by a Reject.
type OrigArgs struct {
	Msg    *proto.Parser
	MsgStr []byte
}

type GapFlags uint8

const (
	GapDontKeep     GapFlags = 0x00
	GapKeepRequired GapFlags = 0x01
	// GapSkipRecord writes neither a g nor a d line.
	GapSkipRecord GapFlags = 0x02
)

// MaxKeptMsgs bounds the messages held behind a gap. Above it a message is
// dropped and requested again.
const MaxKeptMsgs = 4096

type keptMsg struct {
	msg []byte
	seq uint32
}

// receiverEvents lets the owner of a Receiver react to recovery.
type receiverEvents interface {
	onRecoverDone(args *RecvArgs)
	onLogoutRequired(args *RecvArgs, b *proto.Builder)
}

// Receiver keeps the inbound stream gap free. Messages are handed to their
// MsgType handler in MsgSeqNum order; a gap is asked for again with one
// ResendRequest and messages of infinite TTL arriving behind the gap are
// kept until it is filled.
//
// A Receiver is driven by its session's goroutine only.
type Receiver struct {
	keeper    []keptMsg
	resendEnd uint32
	lastGap   uint32
	events    receiverEvents
}

func (r *Receiver) ClearRecvKeeper() {
	r.keeper = nil
	r.resendEnd = 0
	r.lastGap = 0
}

// ResendRequestEnd is the upper bound of the outstanding ResendRequest, 0
// when none is.
func (r *Receiver) ResendRequestEnd() uint32 {
	return r.resendEnd
}

func (r *Receiver) KeptCount() int {
	return len(r.keeper)
}

// Dispatch routes a parsed message according to its sequence status.
func (r *Receiver) Dispatch(args *RecvArgs) {
	rec := args.Sender.Recorder()
	fldType := args.Msg.GetField(proto.TagMsgType)
	seq := args.Msg.MsgSeqNum()
	if fldType == nil {
		rec.WriteMsg(recorder.HdrError, args.MsgStr)
		SendRequiredTagMissing(args.Sender, seq, proto.TagMsgType, "")
		return
	}
	args.SeqSt = CompareSeqNum(seq, rec.NextRecvSeq())

	msgType := string(fldType.Value)
	if r.checkCompID(args, msgType) != 0 {
		return
	}
	mcfg := args.Config.Get(msgType)
	if args.SeqSt == SeqConform {
		if mcfg != nil && mcfg.Handler != nil {
			if !mcfg.Allow.Has(SeqNoPreRecord) {
				rec.WriteReceivedInOrder(args.MsgStr)
			}
			mcfg.Handler(args)
		} else {
			rec.WriteReceivedInOrder(args.MsgStr)
			r.onHandlerNotFound(args, msgType)
		}
		if r.resendEnd > 0 && seq == r.resendEnd {
			r.CheckMsgKeeper(args, seq+1)
		}
		return
	}
	if mcfg != nil && mcfg.Handler != nil && mcfg.Allow.Has(args.SeqSt) {
		mcfg.Handler(args)
		return
	}
	flags := GapDontKeep
	if mcfg != nil && mcfg.IsInfiniteTTL() {
		flags = GapKeepRequired
	}
	r.OnMsgSeqNumNotExpected(args, flags)
}

func (r *Receiver) checkCompID(args *RecvArgs, msgType string) proto.Tag {
	errTag := args.Sender.CompIDs().Check(args.Msg)
	if errTag == 0 {
		return 0
	}
	rec := args.Sender.Recorder()
	// A conforming message still consumes its MsgSeqNum, otherwise a resend
	// would bring the same bad message back.
	if args.SeqSt == SeqConform {
		rec.WriteReceivedInOrder(args.MsgStr)
	} else {
		rec.WriteMsg(recorder.HdrError, args.MsgStr)
	}
	b := proto.NewBuilder()
	b.PrependField(proto.TagText, "CompID problem")
	b.PrependUintField(proto.TagSessionRejectReason, proto.RejectCompIDProblem)
	SendSessionReject(args.Sender, args.Msg.MsgSeqNum(), errTag, msgType, b)
	return errTag
}

func (r *Receiver) onHandlerNotFound(args *RecvArgs, msgType string) {
	if isAppMsgType(msgType) {
		SendUnsupportedMsgType(args.Sender, args.Msg.MsgSeqNum(), msgType)
		return
	}
	SendInvalidMsgType(args.Sender, args.Msg.MsgSeqNum(), msgType)
}

// OnMsgSeqNumNotExpected handles a message that does not conform: too low
// is checked for PossDupFlag, too high opens or extends the gap.
func (r *Receiver) OnMsgSeqNumNotExpected(args *RecvArgs, flags GapFlags) {
	switch args.SeqSt {
	case SeqConform:
		return
	case SeqTooLow:
		r.onMsgSeqNumTooLow(args)
		return
	}
	rec := args.Sender.Recorder()
	seq := args.Msg.MsgSeqNum()
	if seq <= r.lastGap {
		// inside the range already asked for
		if flags&GapSkipRecord == 0 {
			rec.WriteMsg(recorder.HdrIgnoreRecv, args.MsgStr)
		}
		return
	}
	r.lastGap = seq
	keep := flags&GapKeepRequired != 0
	if keep && len(r.keeper) >= MaxKeptMsgs {
		// asked for again once the keeper drains
		keep = false
	}
	if !keep {
		if flags&GapSkipRecord == 0 {
			rec.WriteMsg(recorder.HdrIgnoreRecv, args.MsgStr)
		}
	} else {
		if flags&GapSkipRecord == 0 {
			rec.WriteMsg(recorder.HdrGapRecv, args.MsgStr)
		}
		r.keeper = append(r.keeper, keptMsg{msg: append([]byte(nil), args.MsgStr...), seq: seq})
		seq--
	}
	if r.resendEnd > 0 {
		// the rest is asked for once the outstanding request is filled
		return
	}
	r.sendResendRequest(args.Sender, rec.NextRecvSeq(), seq)
}

func (r *Receiver) onMsgSeqNumTooLow(args *RecvArgs) {
	rec := args.Sender.Recorder()
	if fld := args.Msg.GetField(proto.TagPossDupFlag); fld != nil && len(fld.Value) > 0 && fld.Value[0] == 'Y' {
		rec.WriteMsg(recorder.HdrIgnoreRecv, args.MsgStr)
		return
	}
	rec.WriteMsg(recorder.HdrError, args.MsgStr)
	b := proto.NewBuilder()
	b.PrependField(proto.TagText, fmt.Sprintf("MsgSeqNum too low, expecting %d but received %d",
		rec.NextRecvSeq(), args.Msg.MsgSeqNum()))
	if r.events != nil {
		r.events.onLogoutRequired(args, b)
		return
	}
	args.Sender.Send(proto.MsgTypeLogout, b)
}

// CheckMsgKeeper dispatches kept messages from newSeq on and asks for
// whatever is still missing. Recovery is done when nothing is.
func (r *Receiver) CheckMsgKeeper(args *RecvArgs, newSeq uint32) {
	for len(r.keeper) > 0 {
		m := r.keeper[0]
		if newSeq < m.seq {
			r.sendResendRequest(args.Sender, newSeq, m.seq-1)
			return
		}
		r.keeper = r.keeper[1:]
		if newSeq == m.seq {
			args.MsgStr = m.msg
			if _, err := args.Msg.Parse(m.msg, proto.UntilFullMessage); err != nil {
				args.Sender.Recorder().WriteMsg(recorder.HdrError, m.msg)
				continue
			}
			r.Dispatch(args)
			newSeq++
		}
	}
	r.keeper = nil
	if newSeq <= r.lastGap {
		r.sendResendRequest(args.Sender, newSeq, r.lastGap)
		return
	}
	r.recoverDone(args)
}

func (r *Receiver) recoverDone(args *RecvArgs) {
	r.resendEnd = 0
	r.lastGap = 0
	rec := args.Sender.Recorder()
	rec.Writef(recorder.HdrInfo, "OnRecoverDone:|NextRecvSeq=%d", rec.NextRecvSeq())
	if r.events != nil {
		r.events.onRecoverDone(args)
	}
}

func (r *Receiver) sendResendRequest(sender *Sender, beginSeq, endSeq uint32) {
	r.resendEnd = endSeq
	b := proto.NewBuilder()
	b.PrependUintField(proto.TagEndSeqNo, uint64(endSeq))
	b.PrependUintField(proto.TagBeginSeqNo, uint64(beginSeq))
	sender.Send(proto.MsgTypeResendRequest, b)
	otel.RecordCount(otel.ResendRequest, nil)
}
