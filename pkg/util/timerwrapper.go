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

package util

import (
	"sync"
	"time"
)

// Scheduler is a single-shot timer owned by one session.
// RunAfter re-arms it and replaces any pending expiry.
type Scheduler interface {
	RunAfter(d time.Duration)
	Stop()
}

// This Wrapper class it to work around the issue with time.Timer.Reset(), mentioned below:
// https://github.com/golang/go/issues/11513
//
// timer.C is buffered, so if the timer has just expired,
// the newly reset timer can actually trigger immediately.
//
// The owner selects on GetTimeoutCh() from its own event loop, which keeps
// timer callbacks on the same goroutine as message handling.
type TimerWrapper struct {
	t        *time.Timer
	stopped  bool
	deadline time.Time
}

func NewTimerWrapper(d time.Duration) *TimerWrapper {
	t := &TimerWrapper{
		t:       time.NewTimer(d),
		stopped: true,
	}
	t.t.Stop()
	return t
}

func (t *TimerWrapper) GetTimeoutCh() <-chan time.Time {
	if t.stopped {
		return nil
	}
	return t.t.C
}

func (t *TimerWrapper) IsStopped() bool {
	return t.stopped
}

// Deadline is the zero time when the timer is stopped.
func (t *TimerWrapper) Deadline() time.Time {
	if t.stopped {
		return time.Time{}
	}
	return t.deadline
}

func (t *TimerWrapper) Stop() {
	if t.stopped {
		return
	}
	// To prevent the timer firing after a call to Stop,
	// check the return value and drain the channel.
	if !t.t.Stop() {
		select {
		case <-t.t.C:
		default:
		}
	}
	t.stopped = true
}

// Fired must be called after a value was received from GetTimeoutCh.
func (t *TimerWrapper) Fired() {
	t.stopped = true
}

func (t *TimerWrapper) Reset(d time.Duration) {
	if !t.stopped {
		t.Stop()
	}
	t.deadline = time.Now().Add(d)
	t.t.Reset(d)
	t.stopped = false
}

func (t *TimerWrapper) RunAfter(d time.Duration) {
	t.Reset(d)
}

// ManualTimer is a Scheduler driven by the caller, for deterministic tests
// and for embedding a session in an external event loop.
type ManualTimer struct {
	mtx     sync.Mutex
	armed   bool
	after   time.Duration
	armedAt int
}

func (m *ManualTimer) RunAfter(d time.Duration) {
	m.mtx.Lock()
	m.armed = true
	m.after = d
	m.armedAt++
	m.mtx.Unlock()
}

func (m *ManualTimer) Stop() {
	m.mtx.Lock()
	m.armed = false
	m.mtx.Unlock()
}

// Pending reports whether the timer is armed and the last requested delay.
func (m *ManualTimer) Pending() (armed bool, after time.Duration) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.armed, m.after
}

// ArmCount is the number of RunAfter calls so far.
func (m *ManualTimer) ArmCount() int {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.armedAt
}

// Expire disarms the timer and reports whether it was armed. The caller
// then invokes the owner's timer callback.
func (m *ManualTimer) Expire() bool {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	was := m.armed
	m.armed = false
	return was
}
