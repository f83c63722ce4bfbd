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
	"math"
	"sort"
	"time"

	"fixengine/pkg/logging"
	"fixengine/pkg/proto"
	"fixengine/pkg/util"
)

// SeqSt compares an inbound MsgSeqNum with the expected one. As a
// MsgTypeConfig.Allow value it is a set of flags.
type SeqSt uint8

const (
	SeqConform SeqSt = 0x00
	SeqTooHigh SeqSt = 0x01
	SeqTooLow  SeqSt = 0x02

	// SeqAllowAny dispatches to the handler whatever the sequence status.
	SeqAllowAny = SeqTooHigh | SeqTooLow

	// SeqNoPreRecord leaves recording of a conforming message to the
	// handler, which must advance NextRecv itself.
	SeqNoPreRecord SeqSt = 0x10
)

func CompareSeqNum(rx uint32, expected uint32) SeqSt {
	switch {
	case rx == expected:
		return SeqConform
	case rx < expected:
		return SeqTooLow
	}
	return SeqTooHigh
}

func (s SeqSt) String() string {
	switch s {
	case SeqConform:
		return "Conform"
	case SeqTooHigh:
		return "TooHigh"
	case SeqTooLow:
		return "TooLow"
	}
	return fmt.Sprintf("SeqSt(%#x)", uint8(s))
}

func (s SeqSt) Has(f SeqSt) bool {
	return f != 0 && s&f == f
}

// TTLInfinite marks messages that stay valid forever: they are replayed on
// request and kept while a gap is being recovered.
const TTLInfinite = time.Duration(math.MaxInt64)

type (
	MsgHandler    func(args *RecvArgs)
	RejectHandler func(args *RecvArgs, orig *OrigArgs)

	MsgTypeConfig struct {
		// 0 or less: never replayed. TTLInfinite: always replayed.
		// Otherwise replayed while SendingTime+TTL is in the future.
		TTL   time.Duration
		Allow SeqSt
		// Handler receives the message. Without one an application type
		// gets a BusinessReject and an unknown type a session Reject.
		Handler MsgHandler
		// RejectHandler receives Reject and BusinessReject messages that
		// refer to a sent message of this type.
		RejectHandler RejectHandler
	}
)

func (m *MsgTypeConfig) IsInfiniteTTL() bool {
	return m.TTL == TTLInfinite
}

func (m *MsgTypeConfig) replayRequired(sendingTime []byte, now time.Time) bool {
	if m.IsInfiniteTTL() {
		return true
	}
	if m.TTL <= 0 {
		return false
	}
	tm, err := proto.ParseSendingTime(sendingTime)
	if err != nil {
		return false
	}
	return now.Before(tm.Add(m.TTL))
}

// Config holds the session parameters and the per MsgType table. The table
// has no lock; fill it before the session starts.
type Config struct {
	BeginString  string
	SenderCompID string
	SenderSubID  string
	TargetCompID string
	TargetSubID  string
	// Seconds, sent in Logon by an initiator.
	HeartBtInt uint32

	// Connected to Logon received.
	TiWaitForLogon util.Duration
	// Restarted while anything is received during logon recovery.
	TiLogonRecover util.Duration
	// Interval of the TestRequests sent after logon recovery.
	TiLogonTest       util.Duration
	MaxLogonTestCount uint32
	// Heartbeats without inbound traffic before a TestRequest.
	HbTestRequestCount uint32
	TiLogoutPending    util.Duration

	// Answer every ResendRequest with a gap fill.
	IsNoReplay bool
	// Replayed messages per second, 0 for unlimited.
	ReplayRate int

	msgTypes map[string]*MsgTypeConfig
}

var DefaultConfig = Config{
	BeginString:        "FIX.4.4",
	HeartBtInt:         30,
	TiWaitForLogon:     util.Duration{Duration: 3 * time.Second},
	TiLogonRecover:     util.Duration{Duration: 10 * time.Second},
	TiLogonTest:        util.Duration{Duration: time.Second},
	MaxLogonTestCount:  10,
	HbTestRequestCount: 2,
	TiLogoutPending:    util.Duration{Duration: 10 * time.Second},
}

func (c *Config) SetDefaultIfNotDefined() {
	if c.BeginString == "" {
		c.BeginString = DefaultConfig.BeginString
	}
	if c.HeartBtInt == 0 {
		c.HeartBtInt = DefaultConfig.HeartBtInt
	}
	if c.TiWaitForLogon.Duration == 0 {
		c.TiWaitForLogon = DefaultConfig.TiWaitForLogon
	}
	if c.TiLogonRecover.Duration == 0 {
		c.TiLogonRecover = DefaultConfig.TiLogonRecover
	}
	if c.TiLogonTest.Duration == 0 {
		c.TiLogonTest = DefaultConfig.TiLogonTest
	}
	if c.MaxLogonTestCount == 0 {
		c.MaxLogonTestCount = DefaultConfig.MaxLogonTestCount
	}
	if c.HbTestRequestCount == 0 {
		c.HbTestRequestCount = DefaultConfig.HbTestRequestCount
	}
	if c.TiLogoutPending.Duration == 0 {
		c.TiLogoutPending = DefaultConfig.TiLogoutPending
	}
}

func (c *Config) Validate() error {
	if c.BeginString == "" {
		return fmt.Errorf("session: empty BeginString")
	}
	if c.SenderCompID == "" || c.TargetCompID == "" {
		return fmt.Errorf("session: SenderCompID and TargetCompID are required")
	}
	if c.HeartBtInt == 0 {
		return fmt.Errorf("session: HeartBtInt must be > 0")
	}
	if c.ReplayRate < 0 {
		return fmt.Errorf("session: negative ReplayRate %d", c.ReplayRate)
	}
	return nil
}

func (c *Config) Dump() {
	logging.Infof("Session.BeginString: %s", c.BeginString)
	logging.Infof("Session.CompIDs: %s/%s -> %s/%s", c.SenderCompID, c.SenderSubID, c.TargetCompID, c.TargetSubID)
	logging.Infof("Session.HeartBtInt: %d", c.HeartBtInt)
	logging.Infof("Session.TiWaitForLogon: %s", c.TiWaitForLogon.Duration)
	logging.Infof("Session.TiLogonRecover: %s", c.TiLogonRecover.Duration)
	logging.Infof("Session.TiLogonTest: %s MaxLogonTestCount: %d", c.TiLogonTest.Duration, c.MaxLogonTestCount)
	logging.Infof("Session.HbTestRequestCount: %d", c.HbTestRequestCount)
	logging.Infof("Session.TiLogoutPending: %s", c.TiLogoutPending.Duration)
	logging.Infof("Session.IsNoReplay: %t ReplayRate: %d", c.IsNoReplay, c.ReplayRate)
	types := make([]string, 0, len(c.msgTypes))
	for t := range c.msgTypes {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		m := c.msgTypes[t]
		ttl := m.TTL.String()
		if m.IsInfiniteTTL() {
			ttl = "infinite"
		}
		logging.Infof("Session.MsgType[%s]: TTL=%s Allow=%#x", t, ttl, uint8(m.Allow))
	}
}

// BeginHeader is "8=<BeginString>|9=".
func (c *Config) BeginHeader() string {
	return "8=" + c.BeginString + "\x019="
}

func (c *Config) CompIDs() proto.CompIDs {
	return proto.NewCompIDs(c.SenderCompID, c.SenderSubID, c.TargetCompID, c.TargetSubID)
}

// Fetch returns the settings of msgType, adding them if absent.
func (c *Config) Fetch(msgType string) *MsgTypeConfig {
	if c.msgTypes == nil {
		c.msgTypes = make(map[string]*MsgTypeConfig)
	}
	m := c.msgTypes[msgType]
	if m == nil {
		m = &MsgTypeConfig{}
		c.msgTypes[msgType] = m
	}
	return m
}

func (c *Config) Get(msgType string) *MsgTypeConfig {
	return c.msgTypes[msgType]
}
