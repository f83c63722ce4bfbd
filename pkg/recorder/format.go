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
	"bytes"
	"strconv"
	"time"

	"fixengine/pkg/proto"
)

// LineHeader is the two-byte kind prefix of a recorder line.
type LineHeader string

const (
	HdrInfo       LineHeader = "i "
	HdrError      LineHeader = "e "
	HdrSend       LineHeader = "S "
	HdrReplay     LineHeader = "y "
	HdrRecv       LineHeader = "R "
	HdrGapRecv    LineHeader = "g "
	HdrIgnoreRecv LineHeader = "d "
)

const (
	// yyyymmddhhmmss.uuuuuu
	TimestampLayout = "20060102150405.000000"
	TimestampWidth  = len(TimestampLayout)

	MaxFixMsgBufferSize  = 4 * 1024
	ReloadSentBufferSize = 64 * 1024
	DefaultIdxInterval   = ReloadSentBufferSize - 2*1024

	// Shortest "S <timestamp> 8=...|9=" line a search accepts; anything
	// shorter is treated as a torn write.
	MinLineSize = len(HdrSend) + TimestampWidth + 1 + proto.MinHeaderWidth

	lastSeqBlockSize = 4 * 1024
)

const (
	ctrlChar    = '\x02'
	hdrIdx      = "\x02IDX"
	hdrRst      = "\x02RST"
	hdrNextSend = "\x01S="
	hdrNextRecv = "\x01R="
)

func appendTimestamp(dst []byte, t time.Time) []byte {
	return t.UTC().AppendFormat(dst, TimestampLayout)
}

// AppendLine appends "<hdr><timestamp> <text>\n" to dst.
func AppendLine(dst []byte, hdr LineHeader, now time.Time, text []byte) []byte {
	dst = append(dst, hdr...)
	dst = appendTimestamp(dst, now)
	dst = append(dst, ' ')
	dst = append(dst, text...)
	return append(dst, '\n')
}

// appendControl appends an IDX or RST line. A zero counter is left out.
func appendControl(dst []byte, hdr string, nextSend, nextRecv uint32) []byte {
	dst = append(dst, hdr...)
	if nextSend > 0 {
		dst = append(dst, hdrNextSend...)
		dst = strconv.AppendUint(dst, uint64(nextSend), 10)
	}
	if nextRecv > 0 {
		dst = append(dst, hdrNextRecv...)
		dst = strconv.AppendUint(dst, uint64(nextRecv), 10)
	}
	return append(dst, '\n')
}

// parseControl decodes "\x02IDX|S=n|R=m" or "\x02RST|S=n" without the
// trailing newline. Missing counters are 0.
func parseControl(line []byte) (nextSend, nextRecv uint32, isRst bool, ok bool) {
	if len(line) < len(hdrIdx)+len(hdrNextSend)+1 {
		return
	}
	switch string(line[:len(hdrIdx)]) {
	case hdrIdx:
	case hdrRst:
		isRst = true
	default:
		return
	}
	rest := line[len(hdrIdx):]
	for len(rest) > 0 {
		if len(rest) < len(hdrNextSend)+1 || rest[0] != proto.SOH || rest[2] != '=' {
			return 0, 0, false, false
		}
		kind := rest[1]
		rest = rest[3:]
		end := bytes.IndexByte(rest, proto.SOH)
		if end < 0 {
			end = len(rest)
		}
		v, err := strconv.ParseUint(string(rest[:end]), 10, 32)
		if err != nil {
			return 0, 0, false, false
		}
		switch kind {
		case 'S':
			nextSend = uint32(v)
		case 'R':
			nextRecv = uint32(v)
		default:
			return 0, 0, false, false
		}
		rest = rest[end:]
	}
	return nextSend, nextRecv, isRst, true
}

// SkipTimestamp returns the FIX message of a "X <timestamp> <msg>" line, or
// nil when the line is too short or malformed.
func SkipTimestamp(line []byte) []byte {
	if len(line) < MinLineSize {
		return nil
	}
	if line[1] != ' ' || line[2+TimestampWidth] != ' ' {
		return nil
	}
	return line[3+TimestampWidth:]
}

// ParseLineTime returns the timestamp of a recorder line.
func ParseLineTime(line []byte) (time.Time, bool) {
	if len(line) < 2+TimestampWidth {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(TimestampLayout, string(line[2:2+TimestampWidth]), time.UTC)
	return t, err == nil
}

// lineMsgSeqNum parses MsgSeqNum of an R or S line.
func lineMsgSeqNum(p *proto.Parser, line []byte) (uint32, []byte) {
	msg := SkipTimestamp(line)
	if msg == nil {
		return 0, nil
	}
	p.Clear()
	if p.ParseFields(msg, proto.UntilMsgSeqNum) != nil {
		return 0, nil
	}
	return p.MsgSeqNum(), msg
}
