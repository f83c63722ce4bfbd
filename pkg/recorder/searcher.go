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
	"bytes"
	"io"

	fixerrors "fixengine/pkg/errors"
	"fixengine/pkg/proto"
)

// revScanner yields complete lines from the end of a file towards its start,
// reading fixed-size blocks. Bytes after the last newline are a torn write
// and are never returned.
type revScanner struct {
	f       io.ReaderAt
	block   int
	pos     int64
	buf     []byte
	started bool
	line    []byte
	lineOff int64
	err     error
}

func newRevScanner(f io.ReaderAt, size int64, block int) *revScanner {
	return &revScanner{f: f, block: block, pos: size}
}

func (s *revScanner) readBlock() bool {
	if s.pos == 0 {
		return false
	}
	n := int64(s.block)
	if n > s.pos {
		n = s.pos
	}
	nb := make([]byte, int(n)+len(s.buf))
	if _, err := s.f.ReadAt(nb[:n], s.pos-n); err != nil && err != io.EOF {
		s.err = fixerrors.Wrap(err, "recorder read", fixerrors.ErrnoResource)
		return false
	}
	copy(nb[n:], s.buf)
	s.buf = nb
	s.pos -= n
	return true
}

func (s *revScanner) Scan() bool {
	if s.err != nil {
		return false
	}
	if !s.started {
		s.started = true
		for {
			if i := bytes.LastIndexByte(s.buf, '\n'); i >= 0 {
				s.buf = s.buf[:i+1]
				break
			}
			if !s.readBlock() {
				s.buf = nil
				return false
			}
		}
	}
	for len(s.buf) > 0 {
		if j := bytes.LastIndexByte(s.buf[:len(s.buf)-1], '\n'); j >= 0 {
			s.line = s.buf[j+1 : len(s.buf)-1]
			s.lineOff = s.pos + int64(j+1)
			s.buf = s.buf[:j+1]
			return true
		}
		if s.pos == 0 {
			s.line = s.buf[:len(s.buf)-1]
			s.lineOff = 0
			s.buf = nil
			return true
		}
		if !s.readBlock() {
			return false
		}
	}
	return false
}

// Line is valid until the next Scan.
func (s *revScanner) Line() []byte {
	return s.line
}

func (s *revScanner) Offset() int64 {
	return s.lineOff
}

func (s *revScanner) Err() error {
	return s.err
}

// LastSeqSearch rebuilds the next send and receive counters by scanning the
// log backwards. An unresolved counter is returned as 0.
func LastSeqSearch(f File, p *proto.Parser) (nextSend, nextRecv uint32, err error) {
	size, err := f.Size()
	if err != nil {
		return 0, 0, fixerrors.Wrap(err, "recorder size", fixerrors.ErrnoResource)
	}
	sc := newRevScanner(f, size, lastSeqBlockSize)
	for sc.Scan() {
		line := sc.Line()
		if len(line) == 0 {
			continue
		}
		switch line[0] {
		case HdrRecv[0]:
			if nextRecv == 0 {
				if seq, _ := lineMsgSeqNum(p, line); seq > 0 {
					nextRecv = seq + 1
				}
			}
		case HdrSend[0]:
			if nextSend == 0 {
				if seq, _ := lineMsgSeqNum(p, line); seq > 0 {
					nextSend = seq + 1
				}
			}
		case ctrlChar:
			if s, r, _, ok := parseControl(line); ok {
				if nextSend == 0 {
					nextSend = s
				}
				if nextRecv == 0 {
					nextRecv = r
				}
			}
		}
		if nextSend > 0 && nextRecv > 0 {
			break
		}
	}
	return nextSend, nextRecv, sc.Err()
}

// sentStartOffset finds where a forward scan for the sent message seq has to
// begin: the latest S line at or below seq, or the line after the latest
// checkpoint that proves every later S line is at or above it.
func sentStartOffset(f io.ReaderAt, size int64, p *proto.Parser, seq uint32) (int64, error) {
	sc := newRevScanner(f, size, ReloadSentBufferSize)
	for sc.Scan() {
		line := sc.Line()
		if len(line) == 0 {
			continue
		}
		switch line[0] {
		case HdrSend[0]:
			if n, _ := lineMsgSeqNum(p, line); n > 0 && n <= seq {
				return sc.Offset(), nil
			}
		case ctrlChar:
			s, _, isRst, ok := parseControl(line)
			if ok && s > 0 && (s <= seq || isRst) {
				return sc.Offset() + int64(len(line)) + 1, nil
			}
		}
	}
	return 0, sc.Err()
}

// SentSearcher reloads previously sent messages for replay and reject
// lookups. Returned messages stay valid until the next call.
type SentSearcher struct {
	rec    *Recorder
	parser *proto.Parser
	rd     *bufio.Reader
	off    int64
	msgOff int64
	msg    []byte
	seq    uint32
	err    error

	// NextSend when Start took its snapshot
	snapSend uint32
}

func (r *Recorder) NewSentSearcher() *SentSearcher {
	p := proto.NewParser()
	p.ResetExpectHeader([]byte(r.beginHeader))
	return &SentSearcher{rec: r, parser: p}
}

// Start positions at the first sent message whose MsgSeqNum is >= seqFrom.
// It returns nil if seqFrom was never sent, or was sent before a later
// reset and nothing at or above it followed. An error means the log could
// not be flushed or read, so nothing is known about what was sent.
func (s *SentSearcher) Start(seqFrom uint32) ([]byte, error) {
	s.rd, s.msg, s.seq, s.snapSend, s.err = nil, nil, 0, 0, nil
	nextSend, size, err := s.rec.snapshot()
	if err != nil {
		return nil, err
	}
	s.snapSend = nextSend
	if seqFrom == 0 || nextSend <= seqFrom {
		return nil, nil
	}
	off, err := sentStartOffset(s.rec.file, size, s.parser, seqFrom)
	if err != nil {
		s.rec.Writef(HdrError, "ReloadSent:|seq=%d|err=%s", seqFrom, err)
		return nil, err
	}
	s.rd = bufio.NewReaderSize(io.NewSectionReader(s.rec.file, off, size-off), ReloadSentBufferSize)
	s.off = off
	for s.Next() != nil {
		if s.seq >= seqFrom {
			s.rec.Writef(HdrInfo, "ReloadSent:|seq=%d|foundAt=%d|foundSeq=%d", seqFrom, s.msgOff, s.seq)
			return s.msg, nil
		}
	}
	if s.err != nil {
		s.rec.Writef(HdrError, "ReloadSent:|seq=%d|err=%s", seqFrom, s.err)
		return nil, s.err
	}
	s.rec.Writef(HdrInfo, "ReloadSent:|seq=%d|atAfter=%d|err=Not found.", seqFrom, off)
	return nil, nil
}

// Find returns the sent message whose MsgSeqNum is exactly seq.
func (s *SentSearcher) Find(seq uint32) ([]byte, error) {
	msg, err := s.Start(seq)
	if err != nil || msg == nil || s.seq != seq {
		return nil, err
	}
	return msg, nil
}

// Err is the read error that ended Next early, nil at end of log.
func (s *SentSearcher) Err() error {
	return s.err
}

// Next moves to the following sent message, which need not be contiguous.
func (s *SentSearcher) Next() []byte {
	s.msg, s.seq = nil, 0
	if s.rd == nil {
		return nil
	}
	for {
		line, err := s.rd.ReadBytes('\n')
		if err != nil {
			// a line without newline is a torn write
			if err != io.EOF {
				s.err = fixerrors.Wrap(err, "recorder read", fixerrors.ErrnoResource)
			}
			s.rd = nil
			return nil
		}
		lineOff := s.off
		s.off += int64(len(line))
		line = line[:len(line)-1]
		if len(line) == 0 || line[0] != HdrSend[0] {
			continue
		}
		seq, msg := lineMsgSeqNum(s.parser, line)
		if msg == nil {
			continue
		}
		s.msgOff = lineOff
		s.msg, s.seq = msg, seq
		return msg
	}
}

// NextSendAtStart is NextSend as of the last Start; messages sent after it
// are not visible to Next. It is 0 when Start could not read the log.
func (s *SentSearcher) NextSendAtStart() uint32 {
	return s.snapSend
}

// MsgSeqNum of the current message.
func (s *SentSearcher) MsgSeqNum() uint32 {
	return s.seq
}

// Parser holds the fields parsed so far from the current message; only
// MsgSeqNum is guaranteed.
func (s *SentSearcher) Parser() *proto.Parser {
	return s.parser
}
