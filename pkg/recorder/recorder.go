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
	"fmt"
	"sync"
	"time"

	fixerrors "fixengine/pkg/errors"
	"fixengine/pkg/logging"
	"fixengine/pkg/logging/otel"
	"fixengine/pkg/proto"
	"fixengine/pkg/util"
)

var errReadOnly = fixerrors.NewError("recorder opened read-only", fixerrors.ErrnoState)

// Recorder is the append-only log of one session plus its next send and
// receive counters. Counters change only together with the bytes that
// justify them, under the same lock.
//
// Without a FlushPool every write goes to the file before returning. With
// one, writes are buffered and the pool flushes them; Flush forces it.
type Recorder struct {
	mtx         sync.Mutex
	beginHeader string
	idxInterval int
	now         func() time.Time

	file     File
	name     string
	id       string
	pending  []byte
	nextSend uint32
	nextRecv uint32
	idxSize  int
	flushErr error
	pool     *FlushPool
	closed   bool
	readOnly bool
}

// NewRecorder creates a recorder for frames starting with beginHeader,
// "8=FIX.4.4|9=".
func NewRecorder(beginHeader string, conf *Config) *Recorder {
	r := &Recorder{
		beginHeader: beginHeader,
		idxInterval: DefaultIdxInterval,
		now:         time.Now,
	}
	if conf != nil && conf.IdxInterval > 0 {
		r.idxInterval = conf.IdxInterval
	}
	return r
}

// SetClock replaces the clock used for line timestamps.
func (r *Recorder) SetClock(now func() time.Time) {
	r.now = now
}

func (r *Recorder) BeginHeader() string {
	return r.beginHeader
}

// Initialize opens path, creating it if needed, and restores the counters
// from its content.
func (r *Recorder) Initialize(path string) error {
	f, err := OpenFile(path)
	if err != nil {
		logging.Errorf("recorder: %s", err)
		return err
	}
	if err = r.InitializeFile(f, path); err != nil {
		f.Close()
	}
	return err
}

func (r *Recorder) InitializeFile(f File, name string) error {
	return r.initialize(f, name, false)
}

// InitializeReadOnly restores the counters from f for searching only.
// Nothing is ever written to f; writes fail with an ErrnoState error.
func (r *Recorder) InitializeReadOnly(f File, name string) error {
	return r.initialize(f, name, true)
}

func (r *Recorder) initialize(f File, name string, readOnly bool) error {
	p := proto.NewParser()
	p.ResetExpectHeader([]byte(r.beginHeader))
	nextSend, nextRecv, err := LastSeqSearch(f, p)
	if err != nil {
		logging.Errorf("recorder: %s: %s", name, err)
		return err
	}
	if nextSend == 0 {
		nextSend = 1
	}
	if nextRecv == 0 {
		nextRecv = 1
	}

	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.file = f
	r.name = name
	r.id = util.NewInstanceId()
	r.nextSend = nextSend
	r.nextRecv = nextRecv
	r.idxSize = 0
	r.closed = false
	r.flushErr = nil
	r.readOnly = readOnly
	if readOnly {
		r.pending = r.pending[:0]
		logging.Debugf("recorder: %s opened read-only, NextSendSeq=%d NextRecvSeq=%d", name, nextSend, nextRecv)
		return nil
	}
	start := len(r.pending)
	r.pending = AppendLine(r.pending, HdrInfo, r.now(),
		[]byte(fmt.Sprintf("Initialized:|id=%s|NextSendSeq=%d|NextRecvSeq=%d", r.id, nextSend, nextRecv)))
	logging.Infof("recorder: %s initialized, id=%s NextSendSeq=%d NextRecvSeq=%d", name, r.id, nextSend, nextRecv)
	return r.commitLocked(start)
}

// AttachFlushPool switches the recorder to buffered writes.
func (r *Recorder) AttachFlushPool(pool *FlushPool) {
	r.mtx.Lock()
	r.pool = pool
	r.mtx.Unlock()
	pool.Register(r)
}

func (r *Recorder) Name() string {
	return r.name
}

// ID identifies this open of the log; it appears in the Initialized line.
func (r *Recorder) ID() string {
	return r.id
}

func (r *Recorder) Lock() {
	r.mtx.Lock()
}

func (r *Recorder) Unlock() {
	r.mtx.Unlock()
}

func (r *Recorder) NextSendSeq() uint32 {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.nextSend
}

func (r *Recorder) NextSendSeqLocked() uint32 {
	return r.nextSend
}

func (r *Recorder) NextRecvSeq() uint32 {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.nextRecv
}

// Err is the last background flush failure, cleared by a successful flush.
func (r *Recorder) Err() error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.flushErr
}

// commitLocked accounts the bytes appended since start, adds a checkpoint
// when due and writes through unless a pool owns flushing.
func (r *Recorder) commitLocked(start int) error {
	if r.readOnly {
		r.pending = r.pending[:start]
		return errReadOnly
	}
	if r.idxSize += len(r.pending) - start; r.idxSize > r.idxInterval {
		r.idxSize = 0
		r.pending = appendControl(r.pending, hdrIdx, r.nextSend, r.nextRecv)
	}
	if r.pool == nil {
		return r.flushLocked()
	}
	return r.flushErr
}

func (r *Recorder) flushLocked() error {
	if len(r.pending) == 0 {
		return nil
	}
	if r.file == nil || r.closed {
		return fixerrors.NewError("recorder not open", fixerrors.ErrnoResource)
	}
	t0 := time.Now()
	err := r.file.Append(r.pending)
	latency := time.Since(t0).Microseconds()
	if err != nil {
		otel.RecordRecorderFlush(otel.StatusError, latency)
		if r.flushErr == nil {
			logging.Errorf("recorder: %s flush failed: %s", r.name, err)
			r.pending = AppendLine(r.pending, HdrError, r.now(), []byte("Flush failed:|err="+err.Error()))
		}
		r.flushErr = fixerrors.Wrap(err, "recorder flush", fixerrors.ErrnoResource)
		return r.flushErr
	}
	otel.RecordRecorderFlush(otel.StatusSuccess, latency)
	if r.flushErr != nil {
		logging.Infof("recorder: %s flush recovered", r.name)
	}
	r.flushErr = nil
	r.pending = r.pending[:0]
	return nil
}

// Flush writes every buffered line to the file.
func (r *Recorder) Flush() error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.flushLocked()
}

// snapshot flushes and returns NextSend with the file size covering every
// sent line.
func (r *Recorder) snapshot() (uint32, int64, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if err := r.flushLocked(); err != nil {
		return 0, 0, err
	}
	size, err := r.file.Size()
	return r.nextSend, size, err
}

// WriteBeforeSendLocked records msg as sent and sets NextSend. A reset
// additionally writes an RST checkpoint after the S line.
func (r *Recorder) WriteBeforeSendLocked(msg []byte, nextSend uint32, reset bool) error {
	start := len(r.pending)
	r.pending = AppendLine(r.pending, HdrSend, r.now(), msg)
	if reset {
		r.pending = appendControl(r.pending, hdrRst, nextSend, 0)
	}
	r.nextSend = nextSend
	return r.commitLocked(start)
}

// AppendLocked writes b unchanged.
func (r *Recorder) AppendLocked(b []byte) error {
	start := len(r.pending)
	r.pending = append(r.pending, b...)
	return r.commitLocked(start)
}

// ResetNextSendSeq writes an RST checkpoint and sets NextSend.
func (r *Recorder) ResetNextSendSeq(nextSend uint32) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	start := len(r.pending)
	r.pending = appendControl(r.pending, hdrRst, nextSend, 0)
	r.nextSend = nextSend
	return r.commitLocked(start)
}

// WriteReceivedInOrder records an in-sequence inbound message and advances
// NextRecv.
func (r *Recorder) WriteReceivedInOrder(msg []byte) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	start := len(r.pending)
	r.pending = AppendLine(r.pending, HdrRecv, r.now(), msg)
	r.nextRecv++
	return r.commitLocked(start)
}

// WriteInputSeqReset records an inbound SequenceReset and sets NextRecv to
// newSeq. A gap fill is checkpointed with IDX, a reset with RST.
func (r *Recorder) WriteInputSeqReset(msg []byte, newSeq uint32, isGapFill bool) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	start := len(r.pending)
	r.pending = AppendLine(r.pending, HdrRecv, r.now(), msg)
	hdr := hdrRst
	if isGapFill {
		hdr = hdrIdx
	}
	r.pending = appendControl(r.pending, hdr, 0, newSeq)
	r.nextRecv = newSeq
	return r.commitLocked(start)
}

// ForceResetRecvSeq sets NextRecv without an inbound message.
func (r *Recorder) ForceResetRecvSeq(info string, newSeq uint32) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	start := len(r.pending)
	r.pending = AppendLine(r.pending, HdrInfo, r.now(), []byte(info))
	r.pending = appendControl(r.pending, hdrRst, 0, newSeq)
	r.nextRecv = newSeq
	return r.commitLocked(start)
}

func (r *Recorder) Write(hdr LineHeader, text string) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	start := len(r.pending)
	r.pending = AppendLine(r.pending, hdr, r.now(), []byte(text))
	return r.commitLocked(start)
}

func (r *Recorder) Writef(hdr LineHeader, format string, args ...interface{}) error {
	return r.Write(hdr, fmt.Sprintf(format, args...))
}

// WriteMsg records a raw message under hdr, e.g. an ignored or kept inbound
// message.
func (r *Recorder) WriteMsg(hdr LineHeader, msg []byte) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	start := len(r.pending)
	r.pending = AppendLine(r.pending, hdr, r.now(), msg)
	return r.commitLocked(start)
}

// Close writes a final info line followed by an empty line, flushes and
// closes the file.
func (r *Recorder) Close() error {
	r.mtx.Lock()
	if r.closed || r.file == nil {
		r.mtx.Unlock()
		return nil
	}
	if r.readOnly {
		r.closed = true
		r.mtx.Unlock()
		return r.file.Close()
	}
	r.pending = AppendLine(r.pending, HdrInfo, r.now(),
		[]byte(fmt.Sprintf("Closed:|id=%s|NextSendSeq=%d|NextRecvSeq=%d", r.id, r.nextSend, r.nextRecv)))
	r.pending = append(r.pending, '\n')
	err := r.flushLocked()
	r.closed = true
	if cerr := r.file.Close(); err == nil && cerr != nil {
		err = fixerrors.Wrap(cerr, "recorder close", fixerrors.ErrnoResource)
	}
	pool := r.pool
	r.pool = nil
	r.mtx.Unlock()

	if pool != nil {
		pool.Unregister(r)
	}
	logging.Infof("recorder: %s closed", r.name)
	return err
}
