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

	"fixengine/pkg/proto"
	"fixengine/pkg/recorder"
)

// Manager owns the sessions of an application. Its callbacks run on the
// session's goroutine.
type Manager interface {
	// OnFixSessionConnected is where an initiator calls LogonInitiate.
	OnFixSessionConnected(s *Session)
	// OnFixSessionDisconnected returns the Sender given at logon.
	OnFixSessionDisconnected(s *Session, sender *Sender)
	// OnRecvLogonRequest authenticates the peer from args.Msg and, with the
	// Sender bound to its CompIDs, calls LogonAccepted or
	// Session.SendLogoutText.
	OnRecvLogonRequest(args *RecvArgs)
	OnFixSessionApReady(s *Session)
}

// LogonInitiate sends the Logon of an initiator.
func LogonInitiate(s *Session, heartBtInt uint32, b *proto.Builder, sender *Sender) {
	sender.Recorder().Write(recorder.HdrInfo, "OnLogon.Initiate:|from="+s.PeerID())
	if b == nil {
		b = proto.NewBuilder()
	}
	b.PrependField(proto.TagEncryptMethod, proto.EncryptMethodNone)
	s.SendLogon(sender, heartBtInt, b)
}

// LogonAccepted checks the Logon request in args and answers it with a Logon
// response, or with a Logout when MsgSeqNum is too low, HeartBtInt is not
// positive or EncryptMethod is not 0.
func LogonAccepted(args *RecvArgs, sender *Sender) bool {
	s := args.Session
	args.Sender = sender
	args.ResetSeqSt()

	rec := sender.Recorder()
	rec.Write(recorder.HdrInfo, "OnLogon.Accepted:|from="+s.PeerID())
	b := proto.NewBuilder()
	if args.SeqSt == SeqTooLow {
		rec.WriteMsg(recorder.HdrError, args.MsgStr)
		b.PrependField(proto.TagText, "Bad Logon, MsgSeqNum too low, expecting "+
			strconv.FormatUint(uint64(rec.NextRecvSeq()), 10)+
			" but received "+strconv.FormatUint(uint64(args.Msg.MsgSeqNum()), 10))
		args.Sender = nil
		s.SendLogout(b, rec)
		return false
	}

	errTag := proto.TagHeartBtInt
	if hb, ok := args.Msg.GetUint(proto.TagHeartBtInt); ok && hb > 0 {
		errTag = proto.TagEncryptMethod
		if args.Msg.GetString(proto.TagEncryptMethod) == proto.EncryptMethodNone {
			if args.SeqSt == SeqConform {
				rec.WriteReceivedInOrder(args.MsgStr)
			} else {
				rec.WriteMsg(recorder.HdrIgnoreRecv, args.MsgStr)
			}
			b.PrependField(proto.TagEncryptMethod, proto.EncryptMethodNone)
			s.SendLogonResponse(sender, hb, b, args)
			return true
		}
	}
	rec.WriteMsg(recorder.HdrError, args.MsgStr)
	b.PrependField(proto.TagText, "Bad Logon, Tag#"+strconv.FormatUint(uint64(errTag), 10))
	args.Sender = nil
	s.SendLogout(b, rec)
	return false
}
