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
	"bufio"
	"fmt"
	"io"

	fixerrors "fixengine/pkg/errors"
	"fixengine/pkg/proto"
)

type CheckProblem struct {
	Line   int
	Offset int64
	Reason string
}

func (p CheckProblem) String() string {
	return fmt.Sprintf("line %d (offset %d): %s", p.Line, p.Offset, p.Reason)
}

// CheckReport summarizes a log. NextSendSeq and NextRecvSeq are the
// counters the lines lead to, 0 when never established.
type CheckReport struct {
	Lines       int
	Kinds       map[string]int
	NextSendSeq uint32
	NextRecvSeq uint32
	Problems    []CheckProblem
}

func (r *CheckReport) OK() bool {
	return len(r.Problems) == 0
}

type checker struct {
	rep    *CheckReport
	parser *proto.Parser
	line   int
	off    int64
	// R line out of sequence, excused only by a following checkpoint
	pendingRecv *CheckProblem
}

// Check reads the whole log and reports lines that a reopen or a replay
// could not trust: torn or malformed lines, frames failing header or
// checksum verification, and sequence numbers going backwards without a
// checkpoint.
func Check(f File, beginHeader string) (*CheckReport, error) {
	size, err := f.Size()
	if err != nil {
		return nil, fixerrors.Wrap(err, "check size", fixerrors.ErrnoResource)
	}
	c := &checker{
		rep:    &CheckReport{Kinds: make(map[string]int)},
		parser: proto.NewParser(),
	}
	c.parser.ResetExpectHeader([]byte(beginHeader))
	rd := bufio.NewReaderSize(io.NewSectionReader(f, 0, size), ReloadSentBufferSize)
	for {
		line, err := rd.ReadBytes('\n')
		if err == io.EOF {
			if len(line) > 0 {
				c.line++
				c.problem("torn line without newline")
			}
			break
		}
		if err != nil {
			return c.rep, fixerrors.Wrap(err, "check read", fixerrors.ErrnoResource)
		}
		c.line++
		c.checkLine(line[:len(line)-1])
		c.off += int64(len(line))
	}
	c.flushPendingRecv()
	c.rep.Lines = c.line
	return c.rep, nil
}

func (c *checker) problem(format string, args ...interface{}) {
	c.rep.Problems = append(c.rep.Problems, CheckProblem{c.line, c.off, fmt.Sprintf(format, args...)})
}

func (c *checker) flushPendingRecv() {
	if c.pendingRecv != nil {
		c.rep.Problems = append(c.rep.Problems, *c.pendingRecv)
		c.pendingRecv = nil
	}
}

func (c *checker) checkLine(line []byte) {
	if len(line) == 0 {
		c.flushPendingRecv()
		return
	}
	if line[0] == ctrlChar {
		c.checkControl(line)
		return
	}
	c.flushPendingRecv()
	if line[0] == '8' {
		c.rep.Kinds["raw"]++
		c.verifyFrame(line)
		return
	}
	switch LineHeader(line[:1]) + " " {
	case HdrInfo, HdrError, HdrReplay, HdrGapRecv, HdrIgnoreRecv:
		c.rep.Kinds[string(line[:1])]++
		if len(line) < 2 || line[1] != ' ' {
			c.problem("malformed %q line", line[0])
		} else if _, ok := ParseLineTime(line); !ok {
			c.problem("bad timestamp")
		}
	case HdrSend:
		c.rep.Kinds["S"]++
		if seq, ok := c.checkMsgLine(line); ok {
			if c.rep.NextSendSeq > 0 && seq < c.rep.NextSendSeq {
				c.problem("sent MsgSeqNum %d below expected %d", seq, c.rep.NextSendSeq)
			}
			c.rep.NextSendSeq = seq + 1
		}
	case HdrRecv:
		c.rep.Kinds["R"]++
		if seq, ok := c.checkMsgLine(line); ok {
			if c.rep.NextRecvSeq > 0 && seq != c.rep.NextRecvSeq {
				c.pendingRecv = &CheckProblem{c.line, c.off,
					fmt.Sprintf("received MsgSeqNum %d, expected %d", seq, c.rep.NextRecvSeq)}
			}
			c.rep.NextRecvSeq = seq + 1
		}
	default:
		c.rep.Kinds["unknown"]++
		c.problem("unknown line kind %q", line[0])
	}
}

func (c *checker) checkControl(line []byte) {
	s, r, isRst, ok := parseControl(line)
	if !ok {
		c.flushPendingRecv()
		c.rep.Kinds["unknown"]++
		c.problem("malformed checkpoint")
		return
	}
	if isRst {
		c.rep.Kinds["RST"]++
	} else {
		c.rep.Kinds["IDX"]++
	}
	if r > 0 && s == 0 {
		// written right after an inbound SequenceReset, which may carry
		// any MsgSeqNum
		c.pendingRecv = nil
	}
	c.flushPendingRecv()
	if r > 0 {
		c.rep.NextRecvSeq = r
	}
	if s > 0 {
		if !isRst && c.rep.NextSendSeq > 0 && s != c.rep.NextSendSeq {
			c.problem("checkpoint S=%d, expected %d", s, c.rep.NextSendSeq)
		}
		c.rep.NextSendSeq = s
	}
}

func (c *checker) checkMsgLine(line []byte) (uint32, bool) {
	if _, ok := ParseLineTime(line); !ok {
		c.problem("bad timestamp")
		return 0, false
	}
	msg := SkipTimestamp(line)
	if msg == nil {
		c.problem("torn line")
		return 0, false
	}
	if !c.verifyFrame(msg) {
		return 0, false
	}
	seq := c.parser.MsgSeqNum()
	if seq == 0 {
		c.problem("missing MsgSeqNum")
		return 0, false
	}
	return seq, true
}

func (c *checker) verifyFrame(msg []byte) bool {
	n, err := c.parser.Parse(msg, proto.UntilFullMessage)
	switch {
	case err == proto.ErrNeedsMore:
		c.problem("truncated frame")
	case err != nil:
		c.problem("bad frame: %s", err)
	case n != len(msg):
		c.problem("%d bytes after the frame", len(msg)-n)
	default:
		return true
	}
	return false
}
