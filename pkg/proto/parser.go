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

package proto

import (
	"bytes"
	"strconv"
)

type VerifyItem uint8

const (
	VerifyLengthOnly VerifyItem = 0
	VerifyHeader     VerifyItem = 0x01
	VerifyCheckSum   VerifyItem = 0x02
	VerifyAll                   = VerifyHeader | VerifyCheckSum
)

// Until lets ParseFields stop early once every named tag has been seen.
type Until uint8

const (
	UntilFullMessage Until = 0
	UntilMsgSeqNum   Until = 0x01
	UntilMsgType     Until = 0x02
	UntilSendingTime Until = 0x04
)

// tags below kLowTagCount are looked up by index, the rest through a map
const kLowTagCount = 1024

// Field holds every occurrence of one tag in the current message.
// Values alias the parsed buffer.
type Field struct {
	Tag   Tag
	Value []byte
	dups  [][]byte
	count int
}

func (f *Field) Count() int {
	return f.count
}

// ValueAt returns the index-th occurrence, or nil.
func (f *Field) ValueAt(index int) []byte {
	if index < 0 || index >= f.count {
		return nil
	}
	if index == 0 {
		return f.Value
	}
	return f.dups[index-1]
}

func (f *Field) String() string {
	return string(f.Value)
}

func (f *Field) add(v []byte) {
	if f.count == 0 {
		f.Value = v
	} else {
		f.dups = append(f.dups, v)
	}
	f.count++
}

func (f *Field) reset() {
	f.Value = nil
	f.dups = f.dups[:0]
	f.count = 0
}

type fieldRef struct {
	fld   *Field
	index int
}

// Parser verifies frames and tokenizes their fields without copying.
// It is not safe for concurrent use.
type Parser struct {
	expectHeader []byte
	expectSize   int
	msgSeqNum    uint32
	low          []Field
	high         map[Tag]*Field
	order        []fieldRef
}

func NewParser() *Parser {
	return &Parser{}
}

// Clear forgets the parsed fields and the expected frame size. The pinned
// begin header is kept.
func (p *Parser) Clear() {
	p.msgSeqNum = 0
	p.expectSize = 0
	for _, r := range p.order {
		r.fld.reset()
	}
	p.order = p.order[:0]
}

// ResetExpectHeader pins "8=<BeginString>|9=" so later frames are checked by
// a byte compare instead of a scan. An empty header un-pins it.
func (p *Parser) ResetExpectHeader(hdr []byte) {
	p.expectHeader = append(p.expectHeader[:0], hdr...)
}

func (p *Parser) ExpectHeader() []byte {
	return p.expectHeader
}

// ExpectSize is the total frame size wanted by the last NeedsMore, 0 once
// a whole frame was verified.
func (p *Parser) ExpectSize() int {
	return p.expectSize
}

func (p *Parser) MsgSeqNum() uint32 {
	return p.msgSeqNum
}

// Verify checks framing of the frame at the start of msg.
//
// On success it returns the frame size and the body: the bytes after the SOH
// that ends tag 9, up to but excluding the SOH before "10=".
// ErrNeedsMore comes with the total size wanted. A checksum mismatch returns
// the frame size along with the error so the caller can skip the frame.
func (p *Parser) Verify(msg []byte, vitem VerifyItem) (size int, body []byte, err error) {
	msgsz := len(msg)
	if p.expectSize > 0 && msgsz < p.expectSize {
		return p.expectSize, nil, ErrNeedsMore
	}
	pos := len(p.expectHeader)
	if pos > 0 {
		if msgsz <= pos+TailWidth {
			p.expectSize = pos + TailWidth + 1
			return p.expectSize, nil, ErrNeedsMore
		}
		if vitem&VerifyHeader != 0 && !bytes.Equal(p.expectHeader, msg[:pos]) {
			return 0, nil, newError(EInvalidHeader, 0)
		}
	} else {
		// "8=x|9="
		if msgsz <= MinHeaderWidth+TailWidth {
			p.expectSize = MinHeaderWidth + TailWidth + 1
			return p.expectSize, nil, ErrNeedsMore
		}
		if msg[0] != '8' || msg[1] != '=' {
			return 0, nil, newError(EInvalidHeader, 0)
		}
		spl := bytes.IndexByte(msg[2:], SOH)
		if spl < 0 {
			return 0, nil, newError(EInvalidHeader, 2)
		}
		spl += 2
		if spl+3 > msgsz || msg[spl+1] != '9' || msg[spl+2] != '=' {
			return 0, nil, newError(EInvalidHeader, spl)
		}
		pos = spl + 3
		p.expectHeader = append(p.expectHeader[:0], msg[:pos]...)
	}

	digits := pos
	bodyLength := 0
	for ; pos < msgsz && '0' <= msg[pos] && msg[pos] <= '9'; pos++ {
		bodyLength = bodyLength*10 + int(msg[pos]-'0')
		if bodyLength > MaxBodyLength {
			return 0, nil, newError(EOverMaxBodyLength, digits)
		}
	}
	// enough bytes were required above for "9=" digits "|"
	if pos == digits || pos >= msgsz || msg[pos] != SOH {
		return 0, nil, newError(EInvalidHeader, pos)
	}

	pend := pos + bodyLength
	expsz := pend + TailWidth
	if msgsz < expsz {
		p.expectSize = expsz
		return expsz, nil, ErrNeedsMore
	}
	p.expectSize = 0
	if vitem&VerifyCheckSum != 0 {
		//  |10=xxx
		// [0123456]
		if msg[pend] != SOH || msg[pend+1] != '1' || msg[pend+2] != '0' || msg[pend+3] != '=' {
			return 0, nil, newError(EFormat, pend)
		}
		cks, ok := parsePic9(msg[pend+4 : pend+7])
		if !ok {
			return 0, nil, newError(EFormat, pend+4)
		}
		if CheckSum(msg[:pend+1]) != cks {
			p.Clear()
			return expsz, nil, newError(ECheckSum, pend+4)
		}
	}
	if bodyLength == 0 {
		return expsz, msg[pend:pend], nil
	}
	return expsz, msg[pos+1 : pend], nil
}

// Parse verifies then tokenizes one frame. A full parse verifies header and
// checksum; a partial parse checks the length only.
func (p *Parser) Parse(msg []byte, until Until) (int, error) {
	vitem := VerifyAll
	if until != UntilFullMessage {
		vitem = VerifyLengthOnly
	}
	size, body, err := p.Verify(msg, vitem)
	if err == ErrNeedsMore || CodeOf(err) == ECheckSum {
		return size, err
	}
	p.Clear()
	if err != nil {
		return 0, err
	}
	if err = p.ParseFields(body, until); err != nil {
		if pe, ok := err.(*ProtocolError); ok {
			pe.Offset += size - TailWidth - len(body)
		}
		return 0, err
	}
	return size, nil
}

// ParseFields tokenizes body, which must not include the begin header or
// the checksum field. Fields accumulate on top of any already parsed.
func (p *Parser) ParseFields(body []byte, until Until) error {
	n := len(body)
	i := 0
	partial := until != UntilFullMessage
scan:
	for i < n {
		start := i
		var tag uint64
		for ; i < n && '0' <= body[i] && body[i] <= '9'; i++ {
			if tag = tag*10 + uint64(body[i]-'0'); tag > 0xffffffff {
				return newError(EFormat, start)
			}
		}
		if tag == 0 || i >= n || body[i] != '=' {
			return newError(EFormat, start)
		}
		i++
		fld := p.fetch(Tag(tag))
		if fld.count >= MaxDupFieldCount+1 {
			return newError(EDupField, start)
		}
		var val []byte
		rawLen := -1
		if Tag(tag) == TagRawData {
			if fldLen := p.GetField(TagRawDataLength); fldLen != nil {
				l, err := strconv.ParseUint(string(fldLen.Value), 10, 32)
				if err != nil || int(l) > n-i {
					return newError(ERawData, i)
				}
				if i+int(l) < n && body[i+int(l)] != SOH {
					return newError(ERawData, i+int(l))
				}
				rawLen = int(l)
			}
		}
		if rawLen >= 0 {
			val = body[i : i+rawLen]
			i += rawLen + 1
		} else if spl := bytes.IndexByte(body[i:], SOH); spl < 0 {
			val = body[i:]
			i = n
		} else {
			val = body[i : i+spl]
			i += spl + 1
		}
		p.order = append(p.order, fieldRef{fld: fld, index: fld.count})
		fld.add(val)

		if !partial {
			continue
		}
		switch Tag(tag) {
		case TagMsgSeqNum:
			until &^= UntilMsgSeqNum
		case TagMsgType:
			until &^= UntilMsgType
		case TagSendingTime:
			until &^= UntilSendingTime
		default:
			continue
		}
		if until == UntilFullMessage {
			break scan
		}
	}
	p.msgSeqNum = 0
	if fld := p.GetField(TagMsgSeqNum); fld != nil {
		if v, err := strconv.ParseUint(string(fld.Value), 10, 32); err == nil {
			p.msgSeqNum = uint32(v)
		}
	}
	return nil
}

func (p *Parser) fetch(tag Tag) *Field {
	if tag < kLowTagCount {
		if p.low == nil {
			p.low = make([]Field, kLowTagCount)
		}
		fld := &p.low[tag]
		fld.Tag = tag
		return fld
	}
	if p.high == nil {
		p.high = make(map[Tag]*Field)
	}
	fld, ok := p.high[tag]
	if !ok {
		fld = &Field{Tag: tag}
		p.high[tag] = fld
	}
	return fld
}

// GetField returns nil when tag was not present in the parsed message.
func (p *Parser) GetField(tag Tag) *Field {
	var fld *Field
	if tag < kLowTagCount {
		if p.low == nil {
			return nil
		}
		fld = &p.low[tag]
	} else if fld = p.high[tag]; fld == nil {
		return nil
	}
	if fld.count == 0 {
		return nil
	}
	return fld
}

func (p *Parser) GetValue(tag Tag, index int) []byte {
	if fld := p.GetField(tag); fld != nil {
		return fld.ValueAt(index)
	}
	return nil
}

// GetString is "" when tag is absent.
func (p *Parser) GetString(tag Tag) string {
	if fld := p.GetField(tag); fld != nil {
		return string(fld.Value)
	}
	return ""
}

func (p *Parser) GetUint(tag Tag) (uint32, bool) {
	fld := p.GetField(tag)
	if fld == nil {
		return 0, false
	}
	v, err := strconv.ParseUint(string(fld.Value), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

// Each visits fields in wire order, repeats included.
func (p *Parser) Each(fn func(tag Tag, value []byte)) {
	for _, r := range p.order {
		fn(r.fld.Tag, r.fld.ValueAt(r.index))
	}
}

func (p *Parser) NumFields() int {
	return len(p.order)
}

// CheckSum is the byte sum of b mod 256.
func CheckSum(b []byte) byte {
	var cks byte
	for _, c := range b {
		cks += c
	}
	return cks
}

func parsePic9(b []byte) (byte, bool) {
	v := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		v = v*10 + int(c-'0')
	}
	if v > 255 {
		return 0, false
	}
	return byte(v), true
}
