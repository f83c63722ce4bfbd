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
	"strconv"
	"time"
)

const kDefaultBuilderSize = 512

// Builder assembles a message back to front: application fields first, then
// session header fields, then Final adds BodyLength and BeginString in front
// and the checksum behind. Every field is prepended as "|tag=value".
//
// The result of Final is valid until the next Restart.
type Builder struct {
	buf   []byte
	head  int
	final bool
}

func NewBuilder() *Builder {
	b := &Builder{}
	b.Restart()
	return b
}

// Restart discards the content and reserves the checksum slot again.
func (b *Builder) Restart() {
	if len(b.buf) == 0 {
		b.buf = make([]byte, kDefaultBuilderSize)
	}
	b.head = len(b.buf) - TailWidth
	b.final = false
}

// Len is the current body size, which is also the BodyLength before Final.
func (b *Builder) Len() int {
	if b.buf == nil {
		return 0
	}
	return b.tail() - b.head
}

func (b *Builder) tail() int {
	return len(b.buf) - TailWidth
}

func (b *Builder) reserve(n int) {
	if b.buf == nil {
		b.Restart()
	}
	if b.head >= n {
		return
	}
	used := len(b.buf) - b.head
	sz := len(b.buf) * 2
	for sz-used < n {
		sz *= 2
	}
	nb := make([]byte, sz)
	copy(nb[sz-used:], b.buf[b.head:])
	b.buf = nb
	b.head = sz - used
}

func (b *Builder) Prepend(v []byte) {
	b.reserve(len(v))
	b.head -= len(v)
	copy(b.buf[b.head:], v)
}

func (b *Builder) PrependString(v string) {
	b.reserve(len(v))
	b.head -= len(v)
	copy(b.buf[b.head:], v)
}

func (b *Builder) PrependByte(c byte) {
	b.reserve(1)
	b.head--
	b.buf[b.head] = c
}

func (b *Builder) PrependUint(v uint64) {
	var tmp [20]byte
	b.Prepend(strconv.AppendUint(tmp[:0], v, 10))
}

func (b *Builder) prependTagPrefix(tag Tag) {
	b.PrependByte('=')
	b.PrependUint(uint64(tag))
	b.PrependByte(SOH)
}

// PrependField adds "|tag=value" in front of the current content.
func (b *Builder) PrependField(tag Tag, value string) {
	b.PrependString(value)
	b.prependTagPrefix(tag)
}

func (b *Builder) PrependFieldBytes(tag Tag, value []byte) {
	b.Prepend(value)
	b.prependTagPrefix(tag)
}

func (b *Builder) PrependUintField(tag Tag, v uint64) {
	b.PrependUint(v)
	b.prependTagPrefix(tag)
}

func (b *Builder) PrependTimeField(tag Tag, t time.Time) {
	var tmp [32]byte
	b.Prepend(AppendSendingTime(tmp[:0], t))
	b.prependTagPrefix(tag)
}

// Final completes the frame. beginHeader is "8=<BeginString>|9=".
// Until Restart, a later Final returns the same frame and ignores
// beginHeader.
func (b *Builder) Final(beginHeader string) []byte {
	if b.final {
		return b.buf[b.head:]
	}
	if b.buf == nil {
		b.Restart()
	}
	b.final = true
	b.PrependUint(uint64(b.Len()))
	b.PrependString(beginHeader)
	tail := b.tail()
	putCheckSumField(b.buf[tail:], CheckSum(b.buf[b.head:tail])+SOH)
	return b.buf[b.head:]
}

// putCheckSumField writes "|10=ddd|" into dst, which must hold TailWidth bytes.
func putCheckSumField(dst []byte, cks byte) {
	dst[0] = SOH
	dst[1] = '1'
	dst[2] = '0'
	dst[3] = '='
	dst[4] = '0' + cks/100
	dst[5] = '0' + cks/10%10
	dst[6] = '0' + cks%10
	dst[7] = SOH
}
