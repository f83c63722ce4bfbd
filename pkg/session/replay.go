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
	"context"
	"fmt"
	"time"

	fixerrors "fixengine/pkg/errors"
	"fixengine/pkg/logging/otel"
	"fixengine/pkg/proto"
	"fixengine/pkg/recorder"
)

var fldSendingTime = []byte("\x0152=")

// MaxReplayRestarts bounds how often an unbounded replay reloads because
// messages were sent while it was reading the log.
const MaxReplayRestarts = 16

// replayer rebuilds sent messages for a ResendRequest. A replayed message
// keeps its body; "|52=<orig>" becomes "|43=Y|52=<now>|122=<orig>" and only
// BodyLength and CheckSum are recomputed.
type replayer struct {
	s      *Sender
	cfg    *Config
	begin  uint32
	end    uint32
	now    time.Time
	reFlds []byte
	b      *proto.Builder
	logbuf []byte
	outbuf []byte
}

func newReplayer(s *Sender, cfg *Config, beginSeq, endSeq uint32) *replayer {
	rp := &replayer{
		s:     s,
		cfg:   cfg,
		begin: beginSeq,
		end:   endSeq,
		now:   s.now(),
		b:     proto.NewBuilder(),
	}
	rp.reFlds = append(rp.reFlds, "\x0143=Y\x0152="...)
	rp.reFlds = proto.AppendSendingTime(rp.reFlds, rp.now)
	rp.reFlds = append(rp.reFlds, "\x01122="...)
	return rp
}

func (rp *replayer) info(format string, args ...interface{}) {
	rp.logbuf = recorder.AppendLine(rp.logbuf, recorder.HdrInfo, rp.now, []byte(fmt.Sprintf(format, args...)))
}

func (rp *replayer) emit(msg []byte) {
	rp.outbuf = append(rp.outbuf, msg...)
	rp.logbuf = append(rp.logbuf, msg...)
	rp.logbuf = append(rp.logbuf, '\n')
}

// rebuild reports false when msg does not start its body with SendingTime.
func (rp *replayer) rebuild(msg []byte) bool {
	i := bytes.Index(msg, fldSendingTime)
	if i < 0 || len(msg) < i+len(fldSendingTime)+proto.TailWidth {
		return false
	}
	rp.b.Restart()
	rp.b.Prepend(msg[i+len(fldSendingTime) : len(msg)-proto.TailWidth])
	rp.b.Prepend(rp.reFlds)
	rp.emit(rp.b.Final(rp.s.rec.BeginHeader()))
	otel.RecordCount(otel.MsgResent, nil)
	return true
}

func (rp *replayer) seqReset(isGapFill bool, oldSeq, newSeq uint32) {
	b := rp.b
	b.Restart()
	if isGapFill {
		b.PrependField(proto.TagGapFillFlag, "Y")
	}
	b.PrependUintField(proto.TagNewSeqNo, uint64(newSeq))
	b.PrependString(rp.s.compIDs.Header())
	b.PrependUintField(proto.TagMsgSeqNum, uint64(oldSeq))
	b.PrependField(proto.TagMsgType, proto.MsgTypeSequenceReset)
	// "|43=Y|52=now" without OrigSendingTime
	b.Prepend(rp.reFlds[:len(rp.reFlds)-len("\x01122=")])
	rp.emit(b.Final(rp.s.rec.BeginHeader()))
	if isGapFill {
		otel.RecordCount(otel.GapFill, nil)
	}
}

func (rp *replayer) gapFill(oldSeq, newSeq uint32) {
	rp.seqReset(true, oldSeq, newSeq)
}

// pace flushes what was built so far when the replay rate is exceeded, then
// waits for the limiter.
func (rp *replayer) pace() {
	lim := rp.s.limiter
	if lim == nil || lim.Allow() {
		return
	}
	rp.s.rec.Lock()
	rp.flushLocked()
	rp.s.rec.Unlock()
	lim.Wait(context.Background())
}

func (rp *replayer) flushLocked() {
	if len(rp.logbuf) > 0 {
		rp.s.rec.AppendLocked(rp.logbuf)
		rp.logbuf = rp.logbuf[:0]
	}
	if len(rp.outbuf) > 0 {
		rp.s.outputLocked(rp.outbuf)
		rp.outbuf = rp.outbuf[:0]
	}
}

// reload walks the sent messages from msg on. It returns true once endSeq
// was reached.
func (rp *replayer) reload(srch *recorder.SentSearcher, msg []byte) bool {
	p := srch.Parser()
	for ; msg != nil; msg = srch.Next() {
		p.Clear()
		if p.ParseFields(msg, proto.UntilMsgType|proto.UntilMsgSeqNum|proto.UntilSendingTime) != nil {
			continue
		}
		cur := p.MsgSeqNum()
		if rp.end != 0 && rp.end < cur {
			return true
		}
		if cur < rp.begin {
			continue
		}
		fldType := p.GetField(proto.TagMsgType)
		fldTime := p.GetField(proto.TagSendingTime)
		if fldType != nil && fldTime != nil {
			if mcfg := rp.cfg.Get(string(fldType.Value)); mcfg != nil && mcfg.replayRequired(fldTime.Value, rp.now) {
				rp.pace()
				if rp.begin < cur {
					rp.gapFill(rp.begin, cur)
				}
				if rp.rebuild(msg) {
					rp.begin = cur + 1
				}
			}
		}
		if rp.end != 0 && rp.end == cur {
			return true
		}
	}
	return false
}

// run returns with the recorder locked so the tail of the replay and its
// log block go out before any live send. An error leaves the rest of the
// range unanswered: nothing is gap filled that could not be read.
func (rp *replayer) run() error {
	srch := rp.s.rec.NewSentSearcher()
	msg, err := srch.Start(rp.begin)
	for restarts := 0; ; restarts++ {
		done := false
		if err == nil {
			done = rp.reload(srch, msg)
			err = srch.Err()
		}
		rp.s.rec.Lock()
		if err != nil {
			return err
		}
		if rp.end == 0 {
			nextSeq := rp.s.rec.NextSendSeqLocked()
			if !done && nextSeq != srch.NextSendAtStart() {
				// sent while loading
				if restarts >= MaxReplayRestarts {
					return fixerrors.NewError("replay outrun by live sends", fixerrors.ErrnoResource)
				}
				rp.s.rec.Unlock()
				msg, err = srch.Start(rp.begin)
				continue
			}
			if rp.begin != nextSeq {
				isGapFill := rp.begin < nextSeq
				rp.seqReset(isGapFill, rp.begin, nextSeq)
				if isGapFill {
					rp.info("Replay.End.GapFill:|NewSeqNo=%d", nextSeq)
				} else {
					rp.info("Replay.End.SequenceReset:|NewSeqNo=%d", nextSeq)
				}
			}
		} else if rp.begin <= rp.end {
			rp.gapFill(rp.begin, rp.end+1)
		}
		return nil
	}
}
