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
	"time"

	"fixengine/pkg/logging"
	"fixengine/pkg/logging/otel"
	"fixengine/pkg/proto"
	"fixengine/pkg/recorder"
	"fixengine/pkg/util"
)

type State int

const (
	StDisconnected State = iota
	StConnected
	// Logon sent. Both sides recover their gaps before ApReady.
	StLogonSent
	// The Logon showed a gap, a ResendRequest is outstanding.
	StLogonRecovering
	// Recovered; TestRequests are sent until the peer answers.
	StLogonTest
	StApReady
	// Logout sent, waiting for the peer's.
	StLogoutPending
)

var stateNames = [...]string{
	"Disconnected",
	"Connected",
	"LogonSent",
	"LogonRecovering",
	"LogonTest",
	"ApReady",
	"LogoutPending",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

// Session runs the logon, heartbeat and logout protocol over one
// connection and feeds the Receiver. It is not safe for concurrent use:
// every method, including OnTimer, must be called from the goroutine that
// owns the connection. Only the Sender may be shared.
type Session struct {
	Receiver

	cfg       *Config
	mgr       Manager
	transport Transport
	timer     util.Scheduler
	parser    *proto.Parser
	args      RecvArgs
	sender    *Sender
	now       func() time.Time

	st               State
	heartBtInt       uint32
	hbTestCount      uint32
	msgReceivedCount uint32
	// applied at the next SendLogon
	resetNextSendSeq uint32
	resetNextRecvSeq uint32
	closeKind        CloseKind
	closing          bool
	lastRecv         time.Time
}

func NewSession(cfg *Config, mgr Manager, transport Transport, timer util.Scheduler) *Session {
	s := &Session{
		cfg:       cfg,
		mgr:       mgr,
		transport: transport,
		timer:     timer,
		parser:    proto.NewParser(),
		now:       time.Now,
	}
	s.Receiver.events = s
	s.args = RecvArgs{
		Msg:      s.parser,
		Session:  s,
		Receiver: &s.Receiver,
		Config:   cfg,
	}
	return s
}

func (s *Session) State() State {
	return s.st
}

func (s *Session) Config() *Config {
	return s.cfg
}

// Parser is where the stream feeder parses inbound frames before calling
// OnFixMessageParsed.
func (s *Session) Parser() *proto.Parser {
	return s.parser
}

// Sender is nil until Logon was sent.
func (s *Session) Sender() *Sender {
	return s.sender
}

// PeerID names the remote end, for recorder info lines.
func (s *Session) PeerID() string {
	if s.transport == nil {
		return ""
	}
	return s.transport.ID()
}

func (s *Session) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Session) setState(st State) {
	if s.st == st {
		return
	}
	logging.Debugf("session %s: %s -> %s", s.PeerID(), s.st, st)
	s.st = st
	otel.RecordCount(otel.StateChange, []otel.Tags{{TagName: otel.State, TagValue: st.String()}})
}

// CloseKind classifies why a session was closed. It tags the close metric;
// the reason text goes to the log only.
type CloseKind string

const (
	CloseOther      CloseKind = "other"
	CloseTimeout    CloseKind = "timeout"
	CloseNoResponse CloseKind = "no_response"
	CloseLogout     CloseKind = "logout"
	CloseProtocol   CloseKind = "protocol"
	CloseRecorder   CloseKind = "recorder"
)

// Close asks the transport to close; OnDisconnected follows when it has.
func (s *Session) Close(reason string) {
	s.close(CloseOther, reason)
}

func (s *Session) close(kind CloseKind, reason string) {
	logging.Infof("session %s: close(%s): %s", s.PeerID(), kind, reason)
	s.closeKind = kind
	s.closing = true
	otel.RecordCount(otel.SessionClose, []otel.Tags{{TagName: otel.Reason, TagValue: string(kind)}})
	if s.transport != nil {
		s.transport.Close(reason)
	}
}

// IsClosing is true from Close until the next connection. Frames received
// meanwhile are not dispatched.
func (s *Session) IsClosing() bool {
	return s.closing
}

// CloseKind is the kind of the last close, empty if there was none.
func (s *Session) CloseKind() CloseKind {
	return s.closeKind
}

func (s *Session) clear(st State) {
	s.setState(st)
	s.closing = false
	s.msgReceivedCount = 0
	s.hbTestCount = 0
	s.parser.Clear()
	s.ClearRecvKeeper()
}

// OnConnected starts waiting for the Logon and tells the manager, which
// sends Logon on an initiator.
func (s *Session) OnConnected() {
	s.clear(StConnected)
	s.timer.RunAfter(s.cfg.TiWaitForLogon.Duration)
	s.mgr.OnFixSessionConnected(s)
}

// OnDisconnected detaches the Sender and returns it to the manager.
func (s *Session) OnDisconnected(info string) {
	s.timer.Stop()
	s.clear(StDisconnected)
	sender := s.sender
	if sender == nil {
		return
	}
	sender.Recorder().Write(recorder.HdrInfo, info)
	sender.detach()
	s.sender = nil
	s.args.Sender = nil
	s.mgr.OnFixSessionDisconnected(s, sender)
}

// OnFixMessageParsed receives the frame just parsed into Parser().
func (s *Session) OnFixMessageParsed(msg []byte) {
	if s.closing {
		return
	}
	s.lastRecv = s.now()
	s.msgReceivedCount++
	otel.RecordCount(otel.MsgReceived, nil)
	s.args.MsgStr = msg
	switch s.st {
	case StApReady:
	case StDisconnected:
		return
	case StConnected:
		// acceptor, msg is a Logon request
		if s.check1stMustLogon() {
			s.mgr.OnRecvLogonRequest(&s.args)
		}
		return
	case StLogonSent:
		// initiator, msg is the Logon response
		if !s.check1stMustLogon() {
			return
		}
	}
	s.Dispatch(&s.args)
}

// OnFixMessageError is called for a frame the stream cannot continue past.
func (s *Session) OnFixMessageError(err error) {
	s.close(CloseProtocol, "FixSession.OnFixMessageError:|err=" + err.Error())
}

func (s *Session) check1stMustLogon() bool {
	fld := s.parser.GetField(proto.TagMsgType)
	if fld == nil {
		s.close(CloseProtocol, "Unknown 1st msg.")
		return false
	}
	switch string(fld.Value) {
	case proto.MsgTypeLogon:
		return true
	case proto.MsgTypeLogout:
		s.close(CloseProtocol, "1st msg is Logout:" + s.parser.GetString(proto.TagText))
		return false
	}
	s.close(CloseProtocol, "1st msg is not Logon.")
	return false
}

// SendLogon sends Logon with HeartBtInt and makes sender the session's
// output. Pending operator resets are applied first.
func (s *Session) SendLogon(sender *Sender, heartBtInt uint32, b *proto.Builder) {
	s.setState(StLogonSent)
	s.heartBtInt = heartBtInt
	if s.resetNextSendSeq > 0 {
		sender.ResetNextSendSeq(s.resetNextSendSeq)
		s.resetNextSendSeq = 0
	}
	if s.resetNextRecvSeq > 0 {
		sender.Recorder().ForceResetRecvSeq("Reset RECV seqNum on SendLogon()", s.resetNextRecvSeq)
		s.resetNextRecvSeq = 0
	}
	if b == nil {
		b = proto.NewBuilder()
	}
	b.PrependUintField(proto.TagHeartBtInt, uint64(heartBtInt))
	sender.attach(s.transport)
	sender.Send(proto.MsgTypeLogon, b)
	s.args.Sender = sender
	s.sender = sender
}

// SendLogonResponse answers an accepted Logon request, then either tests
// the link or recovers the gap the request showed.
func (s *Session) SendLogonResponse(sender *Sender, heartBtInt uint32, b *proto.Builder, args *RecvArgs) {
	s.SendLogon(sender, heartBtInt, b)
	s.onLogonResponded(args, GapSkipRecord)
}

func (s *Session) onLogonResponded(args *RecvArgs, flags GapFlags) {
	if args.SeqSt == SeqConform {
		// the peer may still send a ResendRequest
		s.sendLogonTestRequest()
		return
	}
	s.setState(StLogonRecovering)
	s.timer.RunAfter(s.cfg.TiLogonRecover.Duration)
	s.msgReceivedCount = 0
	s.OnMsgSeqNumNotExpected(args, flags)
}

func (s *Session) sendLogonTestRequest() {
	if s.st < StLogonSent || s.st > StLogonTest {
		return
	}
	s.setState(StLogonTest)
	s.timer.RunAfter(s.cfg.TiLogonTest.Duration)
	SendTestRequest(s.sender, "LogonTest")
}

func (s *Session) setApReady() {
	if s.st != StLogonTest {
		return
	}
	if s.sender == nil {
		s.Close("SetApReadySt:|err=No FixSender.")
		return
	}
	s.sender.Recorder().Write(recorder.HdrInfo, "ApReady")
	s.hbTestCount = 0
	s.lastRecv = s.now()
	s.setState(StApReady)
	s.timer.RunAfter(s.heartBtDuration())
	s.mgr.OnFixSessionApReady(s)
}

func (s *Session) heartBtDuration() time.Duration {
	return time.Duration(s.heartBtInt) * time.Second
}

// SendLogout sends b, which holds the Text, as a Logout. Without a Sender
// the Logout goes out with MsgSeqNum 0 and the CompIDs of the last
// received message, rec gets a copy and the session closes.
func (s *Session) SendLogout(b *proto.Builder, rec *recorder.Recorder) {
	if s.sender != nil {
		if s.st != StLogoutPending {
			s.setState(StLogoutPending)
			s.timer.RunAfter(s.cfg.TiLogoutPending.Duration)
			s.sender.Send(proto.MsgTypeLogout, b)
		}
		return
	}
	s.setState(StDisconnected)
	s.timer.Stop()
	if b == nil {
		b = proto.NewBuilder()
	}
	ids := proto.ReplyCompIDs(s.parser)
	b.PrependString(ids.Header())
	b.PrependField(proto.TagMsgSeqNum, "0")
	b.PrependField(proto.TagMsgType, proto.MsgTypeLogout)
	b.PrependTimeField(proto.TagSendingTime, s.now())
	hdr := s.parser.ExpectHeader()
	if len(hdr) == 0 {
		hdr = []byte(s.cfg.BeginHeader())
	}
	msg := b.Final(string(hdr))
	if s.transport != nil {
		s.transport.Send(msg)
	}
	if rec != nil {
		rec.WriteMsg(recorder.HdrError, msg)
	}
	cause := string(msg)
	p := proto.NewParser()
	if _, err := p.Parse(msg, proto.UntilFullMessage); err == nil {
		if text := p.GetField(proto.TagText); text != nil {
			cause = "ForceLogout:" + string(text.Value)
		}
	}
	s.close(CloseLogout, cause)
}

func (s *Session) SendLogoutText(text string, rec *recorder.Recorder) {
	b := proto.NewBuilder()
	b.PrependField(proto.TagText, text)
	s.SendLogout(b, rec)
}

// SendSessionReject is a no-op before Logon was sent.
func (s *Session) SendSessionReject(refSeqNum uint32, refTagID proto.Tag, refMsgType string, b *proto.Builder) {
	if s.sender != nil {
		SendSessionReject(s.sender, refSeqNum, refTagID, refMsgType, b)
	}
}

// receiverEvents
func (s *Session) onRecoverDone(args *RecvArgs) {
	s.sendLogonTestRequest()
}

func (s *Session) onLogoutRequired(args *RecvArgs, b *proto.Builder) {
	s.SendLogout(b, nil)
}

// OnTimer must be called when the Scheduler expires.
func (s *Session) OnTimer() {
	cfg := s.cfg
	switch s.st {
	case StDisconnected:
	case StConnected, StLogonSent:
		s.close(CloseTimeout, "Logon timeout.")
	case StLogonRecovering:
		if s.msgReceivedCount == 0 {
			s.close(CloseTimeout, "LogonRecover timeout.")
			return
		}
		s.msgReceivedCount = 0
		s.timer.RunAfter(cfg.TiLogonRecover.Duration)
	case StLogonTest:
		if s.msgReceivedCount == 0 {
			s.hbTestCount++
			if s.hbTestCount >= cfg.MaxLogonTestCount {
				s.close(CloseNoResponse, "LogonTest:|err=Remote no response")
				return
			}
		} else {
			s.hbTestCount = 0
			s.msgReceivedCount = 0
		}
		s.sendLogonTestRequest()
	case StLogoutPending:
		s.close(CloseTimeout, "Logout timeout.")
	case StApReady:
		hb := s.heartBtDuration()
		now := s.now()
		remain := hb - now.Sub(s.sender.LastSentTime())
		if remain > time.Second {
			// something was sent lately, yet the peer must still be heard from
			if now.Sub(s.lastRecv) >= hb*time.Duration(cfg.HbTestRequestCount+1) {
				s.close(CloseNoResponse, "Remote no response")
				return
			}
			s.timer.RunAfter(remain)
			return
		}
		s.timer.RunAfter(hb)
		if s.msgReceivedCount == 0 {
			s.hbTestCount++
			if s.hbTestCount >= cfg.HbTestRequestCount+1 {
				s.close(CloseNoResponse, "Remote no response")
				return
			}
			if s.hbTestCount >= cfg.HbTestRequestCount {
				SendTestRequest(s.sender, "AliveTest")
				return
			}
		} else {
			s.hbTestCount = 0
			s.msgReceivedCount = 0
		}
		SendHeartbeat(s.sender, nil)
	}
}
