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

package io

import (
	"fixengine/pkg/logging"
	"fixengine/pkg/logging/otel"
	"fixengine/pkg/proto"
)

// MessageHandler receives the frames cut from a byte stream.
type MessageHandler interface {
	// Parser is used to parse every frame; it holds the fields of the frame
	// passed to OnFixMessageParsed.
	Parser() *proto.Parser
	// msg is only valid during the call.
	OnFixMessageParsed(msg []byte)
	// OnFixMessageError is called once for a frame the stream cannot
	// continue past.
	OnFixMessageError(err error)
	// IsClosing stops delivery, even of frames already buffered.
	IsClosing() bool
}

// Feeder cuts a TCP byte stream into FIX frames. A frame with a bad
// checksum is skipped; any other framing error stops the stream.
type Feeder struct {
	h       MessageHandler
	buf     []byte
	stopped bool
}

func NewFeeder(h MessageHandler) *Feeder {
	return &Feeder{h: h}
}

// Buffered is the number of bytes of an incomplete frame held back.
func (f *Feeder) Buffered() int {
	return len(f.buf)
}

// Feed appends data and delivers every complete frame. It returns false
// once the stream was stopped by a framing error or the handler is closing.
func (f *Feeder) Feed(data []byte) bool {
	if f.stopped {
		return false
	}
	f.buf = append(f.buf, data...)
	p := f.h.Parser()
	off := 0
loop:
	for off < len(f.buf) {
		if f.h.IsClosing() {
			f.buf = f.buf[:0]
			return false
		}
		rest := f.buf[off:]
		if exp := p.ExpectSize(); exp > len(rest) {
			break
		}
		n, err := p.Parse(rest, proto.UntilFullMessage)
		switch {
		case err == nil:
			off += n
			f.h.OnFixMessageParsed(rest[:n])
		case err == proto.ErrNeedsMore:
			break loop
		case proto.CodeOf(err) == proto.ECheckSum:
			logging.Warningf("feeder: skip frame: %s", err)
			otel.RecordCount(otel.ChecksumError, nil)
			p.Clear()
			off += n
		default:
			f.stopped = true
			f.buf = f.buf[:0]
			f.h.OnFixMessageError(err)
			return false
		}
	}
	f.buf = f.buf[:copy(f.buf, f.buf[off:])]
	return true
}

// Reset drops buffered bytes, for reuse on a new connection.
func (f *Feeder) Reset() {
	f.buf = f.buf[:0]
	f.stopped = false
	f.h.Parser().Clear()
}
