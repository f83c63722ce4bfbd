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
	"strconv"

	"fixengine/pkg/logging/otel"
	"fixengine/pkg/proto"
	"fixengine/pkg/recorder"
)

var appMsgTypes = map[string]bool{
	proto.MsgTypeExecutionReport:    true,
	proto.MsgTypeOrderCancelReject:  true,
	proto.MsgTypeNewOrderSingle:     true,
	proto.MsgTypeOrderCancelRequest: true,
	proto.MsgTypeOrderCancelReplace: true,
	proto.MsgTypeOrderStatusRequest: true,
}

func isAppMsgType(msgType string) bool {
	return appMsgTypes[msgType]
}

func countReject(msgType string) {
	otel.RecordCount(otel.RejectSent, []otel.Tags{{TagName: otel.MsgType, TagValue: msgType}})
}

// SendSessionReject sends a Reject. b must already hold
// SessionRejectReason and Text.
func SendSessionReject(sender *Sender, refSeqNum uint32, refTagID proto.Tag, refMsgType string, b *proto.Builder) {
	if refTagID != 0 {
		b.PrependUintField(proto.TagRefTagID, uint64(refTagID))
	}
	b.PrependField(proto.TagRefMsgType, refMsgType)
	b.PrependUintField(proto.TagRefSeqNum, uint64(refSeqNum))
	sender.Send(proto.MsgTypeReject, b)
	countReject(proto.MsgTypeReject)
}

func SendRequiredTagMissing(sender *Sender, refSeqNum uint32, refTagID proto.Tag, refMsgType string) {
	tag := strconv.FormatUint(uint64(refTagID), 10)
	b := proto.NewBuilder()
	b.PrependField(proto.TagText, "Required tag missing:"+tag)
	b.PrependUintField(proto.TagSessionRejectReason, proto.RejectRequiredTagMissing)
	b.PrependField(proto.TagRefTagID, tag)
	b.PrependUintField(proto.TagRefSeqNum, uint64(refSeqNum))
	if refMsgType != "" {
		b.PrependField(proto.TagRefMsgType, refMsgType)
	}
	sender.Send(proto.MsgTypeReject, b)
	countReject(proto.MsgTypeReject)
}

func SendInvalidMsgType(sender *Sender, refSeqNum uint32, refMsgType string) {
	b := proto.NewBuilder()
	b.PrependField(proto.TagText, "Invalid MsgType:"+refMsgType)
	b.PrependUintField(proto.TagSessionRejectReason, proto.RejectInvalidMsgType)
	b.PrependField(proto.TagRefMsgType, refMsgType)
	b.PrependUintField(proto.TagRefSeqNum, uint64(refSeqNum))
	sender.Send(proto.MsgTypeReject, b)
	countReject(proto.MsgTypeReject)
}

// SendUnsupportedMsgType answers an application message nobody handles
// with a BusinessMessageReject.
func SendUnsupportedMsgType(sender *Sender, refSeqNum uint32, refMsgType string) {
	b := proto.NewBuilder()
	b.PrependField(proto.TagText, "Unsupported MsgType:"+refMsgType)
	b.PrependUintField(proto.TagBusinessRejectReason, proto.BusinessRejectUnsupportedMsgType)
	b.PrependField(proto.TagRefMsgType, refMsgType)
	b.PrependUintField(proto.TagRefSeqNum, uint64(refSeqNum))
	sender.Send(proto.MsgTypeBusinessReject, b)
	countReject(proto.MsgTypeBusinessReject)
}

// OnRecvReject looks up the sent message a Reject or BusinessReject refers
// to and passes both to the RejectHandler of the original MsgType.
func OnRecvReject(args *RecvArgs) {
	otel.RecordCount(otel.RejectReceived, nil)
	refSeq, ok := args.Msg.GetUint(proto.TagRefSeqNum)
	if !ok {
		return
	}
	rec := args.Sender.Recorder()
	srch := rec.NewSentSearcher()
	msg, err := srch.Find(refSeq)
	if err != nil {
		rec.Write(recorder.HdrError, "RecvReject: Cannot read sent messages: "+err.Error())
		return
	}
	if msg == nil {
		rec.Write(recorder.HdrError, "RecvReject: Cannot find orig message.")
		return
	}
	orig := &OrigArgs{Msg: srch.Parser(), MsgStr: msg}
	if _, err := orig.Msg.Parse(msg, proto.UntilFullMessage); err != nil {
		rec.Write(recorder.HdrError, "RecvReject: Bad orig message: "+err.Error())
		return
	}
	fldType := orig.Msg.GetField(proto.TagMsgType)
	if fldType == nil {
		rec.Write(recorder.HdrError, "RecvReject: Bad orig message: no MsgType.")
		return
	}
	mcfg := args.Config.Get(string(fldType.Value))
	if mcfg == nil {
		rec.Write(recorder.HdrError, "RecvReject: No orig MsgType config.")
		return
	}
	if mcfg.RejectHandler == nil {
		rec.Write(recorder.HdrError, "RecvReject: No orig MsgType handler.")
		return
	}
	mcfg.RejectHandler(args, orig)
}
