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
	"time"

	"golang.org/x/time/rate"

	"fixengine/pkg/logging"
	"fixengine/pkg/logging/otel"
	"fixengine/pkg/proto"
	"fixengine/pkg/recorder"
	"fixengine/pkg/stats"
)

// Transport is the byte stream a session runs on.
type Transport interface {
	// Send must not retain b after it returns.
	Send(b []byte) error
	// Close tears the connection down; reason is shown to operators.
	Close(reason string)
	// ID names the peer, e.g. its address.
	ID() string
}

type replayRequest struct {
	begin uint32
	end   uint32
}

// Sender completes outbound messages with the session header, records them
// and hands them to the transport. It is safe for concurrent use; frames
// reach the transport in MsgSeqNum order because the recorder lock is held
// across record and send.
type Sender struct {
	rec     *recorder.Recorder
	compIDs proto.CompIDs
	now     func() time.Time
	stats   *stats.SessionStats
	limiter *rate.Limiter

	// guarded by the recorder lock
	out            Transport
	lastSent       time.Time
	isReplayingAll bool
	replaying      bool
	replayQueue    []replayRequest
}

func NewSender(compIDs proto.CompIDs, rec *recorder.Recorder) *Sender {
	return &Sender{
		rec:     rec,
		compIDs: compIDs,
		now:     time.Now,
		stats:   stats.NewSessionStats(),
	}
}

func (s *Sender) Recorder() *recorder.Recorder {
	return s.rec
}

func (s *Sender) CompIDs() *proto.CompIDs {
	return &s.compIDs
}

func (s *Sender) Stats() *stats.SessionStats {
	return s.stats
}

func (s *Sender) SetClock(now func() time.Time) {
	s.now = now
}

// SetReplayRate limits replay to msgsPerSec messages per second.
func (s *Sender) SetReplayRate(msgsPerSec int) {
	if msgsPerSec <= 0 {
		s.limiter = nil
		return
	}
	s.limiter = rate.NewLimiter(rate.Limit(msgsPerSec), 1)
}

// ReplayRate is 0 when replay is not limited.
func (s *Sender) ReplayRate() int {
	if s.limiter == nil {
		return 0
	}
	return int(s.limiter.Limit())
}

func (s *Sender) LastSentTime() time.Time {
	s.rec.Lock()
	defer s.rec.Unlock()
	return s.lastSent
}

func (s *Sender) IsReplayingAll() bool {
	s.rec.Lock()
	defer s.rec.Unlock()
	return s.isReplayingAll
}

func (s *Sender) attach(t Transport) {
	s.rec.Lock()
	s.out = t
	s.rec.Unlock()
}

func (s *Sender) detach() {
	s.rec.Lock()
	s.out = nil
	s.rec.Unlock()
}

func (s *Sender) outputLocked(b []byte) {
	if s.out == nil {
		return
	}
	if err := s.out.Send(b); err != nil {
		logging.Warningf("sender: %s: %s", s.rec.Name(), err)
	}
}

// Send completes b, which holds the application fields, with SendingTime,
// MsgType, MsgSeqNum and the CompIDs, then records and sends it. A nil b
// sends a message without application fields.
func (s *Sender) Send(msgType string, b *proto.Builder) error {
	s.rec.Lock()
	defer s.rec.Unlock()
	return s.sendLocked(msgType, b, 0)
}

// The field order 8,9,52,35,34 is relied upon by the replayer.
func (s *Sender) sendLocked(msgType string, b *proto.Builder, nextSeq uint32) error {
	t0 := time.Now()
	if b == nil {
		b = proto.NewBuilder()
	}
	b.PrependString(s.compIDs.Header())
	seq := s.rec.NextSendSeqLocked()
	b.PrependUintField(proto.TagMsgSeqNum, uint64(seq))
	b.PrependField(proto.TagMsgType, msgType)
	now := s.now()
	s.lastSent = now
	b.PrependTimeField(proto.TagSendingTime, now)
	msg := b.Final(s.rec.BeginHeader())

	reset := nextSeq != 0
	if !reset {
		nextSeq = seq + 1
	}
	err := s.rec.WriteBeforeSendLocked(msg, nextSeq, reset)
	if !s.isReplayingAll {
		s.outputLocked(msg)
	}
	latency := time.Since(t0)
	s.stats.Send.Put(latency, err)
	otel.RecordSend(s.rec.Name(), msgType, latency.Microseconds())
	otel.RecordCount(otel.MsgSent, []otel.Tags{{TagName: otel.MsgType, TagValue: msgType}})
	return err
}

// ResetNextSendSeq sets the next MsgSeqNum without telling the peer.
func (s *Sender) ResetNextSendSeq(nextSeq uint32) error {
	if nextSeq == 0 {
		return nil
	}
	return s.rec.ResetNextSendSeq(nextSeq)
}

// SequenceReset sends a SequenceReset in reset mode and continues from
// newSeq. Messages sent before can no longer be replayed.
func (s *Sender) SequenceReset(newSeq uint32) error {
	b := proto.NewBuilder()
	b.PrependUintField(proto.TagNewSeqNo, uint64(newSeq))
	s.rec.Lock()
	defer s.rec.Unlock()
	return s.sendLocked(proto.MsgTypeSequenceReset, b, newSeq)
}

// Replay resends the messages numbered beginSeq to endSeq inclusive. An
// endSeq of 0 replays everything up to NextSend and holds live sends back
// until done. A request arriving while another replay runs is queued.
//
// An error means the log could not be read back. The range was not gap
// filled and the queued requests are dropped; the session should close.
func (s *Sender) Replay(cfg *Config, beginSeq, endSeq uint32) error {
	if cfg.IsNoReplay {
		s.GapFill(beginSeq, endSeq)
		return nil
	}
	s.rec.Lock()
	if s.replaying {
		s.replayQueue = append(s.replayQueue, replayRequest{beginSeq, endSeq})
		s.rec.AppendLocked(recorder.AppendLine(nil, recorder.HdrInfo, s.now(),
			[]byte(fmt.Sprintf("Replay.Queued:|beginSeqNo=%d|endSeqNo=%d", beginSeq, endSeq))))
		s.rec.Unlock()
		return nil
	}
	s.replaying = true
	req := replayRequest{beginSeq, endSeq}
	for {
		if req.end == 0 {
			s.isReplayingAll = true
		}
		s.rec.Unlock()

		t0 := time.Now()
		err := s.replay(cfg, req.begin, req.end)
		s.stats.Replay.Put(time.Since(t0), err)

		s.rec.Lock()
		if err != nil {
			s.replayQueue = nil
			s.replaying = false
			s.rec.Unlock()
			return err
		}
		if len(s.replayQueue) == 0 {
			s.replaying = false
			s.rec.Unlock()
			return nil
		}
		req = s.replayQueue[0]
		s.replayQueue = s.replayQueue[1:]
	}
}

func (s *Sender) replay(cfg *Config, beginSeq, endSeq uint32) error {
	rp := newReplayer(s, cfg, beginSeq, endSeq)
	rp.logbuf = recorder.AppendLine(rp.logbuf, recorder.HdrReplay, rp.now,
		[]byte(fmt.Sprintf("\x01beginSeqNo=%d\x01endSeqNo=%d", beginSeq, endSeq)))
	err := rp.run()
	if endSeq == 0 {
		s.isReplayingAll = false
	}
	if err != nil {
		rp.logbuf = recorder.AppendLine(rp.logbuf, recorder.HdrError, rp.now,
			[]byte(fmt.Sprintf("Replay.Abort:|beginSeqNo=%d|endSeqNo=%d|err=%s", rp.begin, endSeq, err)))
		logging.Errorf("sender: %s: replay %d-%d aborted: %s", s.rec.Name(), beginSeq, endSeq, err)
	}
	rp.flushLocked()
	s.rec.Unlock()
	return err
}

// GapFill answers a ResendRequest without replaying: the whole range is
// skipped with one SequenceReset.
func (s *Sender) GapFill(beginSeq, endSeq uint32) {
	rp := newReplayer(s, nil, beginSeq, endSeq)
	rp.logbuf = recorder.AppendLine(rp.logbuf, recorder.HdrReplay, rp.now,
		[]byte(fmt.Sprintf("\x01GapFill\x01beginSeqNo=%d\x01endSeqNo=%d", beginSeq, endSeq)))
	s.rec.Lock()
	defer s.rec.Unlock()
	switch {
	case endSeq == 0:
		nextSeq := s.rec.NextSendSeqLocked()
		isGapFill := beginSeq < nextSeq
		rp.seqReset(isGapFill, beginSeq, nextSeq)
		if isGapFill {
			rp.info("GapFill:|NewSeqNo=%d", nextSeq)
		} else {
			rp.info("SequenceReset:|NewSeqNo=%d", nextSeq)
		}
	case beginSeq <= endSeq:
		rp.gapFill(beginSeq, endSeq+1)
	default:
		rp.logbuf = recorder.AppendLine(rp.logbuf, recorder.HdrError, rp.now, []byte("beginSeqNo > endSeqNo"))
		s.rec.AppendLocked(rp.logbuf)
		return
	}
	rp.flushLocked()
}
