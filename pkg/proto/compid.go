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

import "strings"

// CompIDs identifies one side of a session. SubIDs are optional.
type CompIDs struct {
	SenderCompID string
	SenderSubID  string
	TargetCompID string
	TargetSubID  string
	header       string
}

func NewCompIDs(sender, senderSub, target, targetSub string) CompIDs {
	c := CompIDs{
		SenderCompID: sender,
		SenderSubID:  senderSub,
		TargetCompID: target,
		TargetSubID:  targetSub,
	}
	c.header = c.buildHeader()
	return c
}

// ReplyCompIDs returns the ids for answering the parsed message: its sender
// becomes our target.
func ReplyCompIDs(p *Parser) CompIDs {
	return NewCompIDs(p.GetString(TagTargetCompID), p.GetString(TagTargetSubID),
		p.GetString(TagSenderCompID), p.GetString(TagSenderSubID))
}

func (c *CompIDs) buildHeader() string {
	var sb strings.Builder
	put := func(tag, value string) {
		if value != "" {
			sb.WriteByte(SOH)
			sb.WriteString(tag)
			sb.WriteByte('=')
			sb.WriteString(value)
		}
	}
	put("49", c.SenderCompID)
	put("50", c.SenderSubID)
	put("56", c.TargetCompID)
	put("57", c.TargetSubID)
	return sb.String()
}

// Header is "|49=S|50=SS|56=T|57=TS" with empty SubIDs left out.
func (c *CompIDs) Header() string {
	if c.header == "" {
		c.header = c.buildHeader()
	}
	return c.header
}

func (c *CompIDs) IsEmpty() bool {
	return c.SenderCompID == "" && c.TargetCompID == ""
}

// Check matches an inbound message against this side: our sender must be
// the message target and our target the message sender. It returns the
// first tag that does not match, or 0.
func (c *CompIDs) Check(p *Parser) Tag {
	if tag := checkCompID(p, c.SenderCompID, TagTargetCompID, c.SenderSubID, TagTargetSubID); tag != 0 {
		return tag
	}
	return checkCompID(p, c.TargetCompID, TagSenderCompID, c.TargetSubID, TagSenderSubID)
}

func checkCompID(p *Parser, id string, idTag Tag, sub string, subTag Tag) Tag {
	if sub != "" {
		if fld := p.GetField(subTag); fld == nil || string(fld.Value) != sub {
			return subTag
		}
	}
	if fld := p.GetField(idTag); fld == nil || string(fld.Value) != id {
		return idTag
	}
	return 0
}
