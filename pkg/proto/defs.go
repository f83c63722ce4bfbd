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
	"fmt"

	fixerrors "fixengine/pkg/errors"
)

const (
	SOH byte = 0x01

	// "|10=xxx|"
	TailWidth = 8
	// len("8=FIX.4.4|9=xxx|")
	MinHeaderWidth  = 16
	MinMessageWidth = MinHeaderWidth + TailWidth
	MaxBodyLength   = 1024 * 1024
	// a tag may repeat MaxDupFieldCount times after its first occurrence
	MaxDupFieldCount = 4
)

type Tag uint32

const (
	TagBeginSeqNo           Tag = 7
	TagBeginString          Tag = 8
	TagBodyLength           Tag = 9
	TagCheckSum             Tag = 10
	TagEndSeqNo             Tag = 16
	TagMsgSeqNum            Tag = 34
	TagMsgType              Tag = 35
	TagNewSeqNo             Tag = 36
	TagPossDupFlag          Tag = 43
	TagRefSeqNum            Tag = 45
	TagSenderCompID         Tag = 49
	TagSenderSubID          Tag = 50
	TagSendingTime          Tag = 52
	TagTargetCompID         Tag = 56
	TagTargetSubID          Tag = 57
	TagText                 Tag = 58
	TagRawDataLength        Tag = 95
	TagRawData              Tag = 96
	TagPossResend           Tag = 97
	TagEncryptMethod        Tag = 98
	TagHeartBtInt           Tag = 108
	TagTestReqID            Tag = 112
	TagOrigSendingTime      Tag = 122
	TagGapFillFlag          Tag = 123
	TagResetSeqNumFlag      Tag = 141
	TagRefTagID             Tag = 371
	TagRefMsgType           Tag = 372
	TagSessionRejectReason  Tag = 373
	TagBusinessRejectRefID  Tag = 379
	TagBusinessRejectReason Tag = 380
)

// Administrative message types.
const (
	MsgTypeHeartbeat      = "0"
	MsgTypeTestRequest    = "1"
	MsgTypeResendRequest  = "2"
	MsgTypeReject         = "3"
	MsgTypeSequenceReset  = "4"
	MsgTypeLogout         = "5"
	MsgTypeLogon          = "A"
	MsgTypeBusinessReject = "j"
)

// Common application message types.
const (
	MsgTypeExecutionReport    = "8"
	MsgTypeOrderCancelReject  = "9"
	MsgTypeNewOrderSingle     = "D"
	MsgTypeOrderCancelRequest = "F"
	MsgTypeOrderCancelReplace = "G"
	MsgTypeOrderStatusRequest = "H"
)

// SessionRejectReason(373) values.
const (
	RejectInvalidTag                 = 0
	RejectRequiredTagMissing         = 1
	RejectTagNotDefinedForMsgType    = 2
	RejectUndefinedTag               = 3
	RejectTagSpecifiedWithoutValue   = 4
	RejectValueIsIncorrect           = 5
	RejectIncorrectDataFormat        = 6
	RejectDecryptionProblem          = 7
	RejectSignatureProblem           = 8
	RejectCompIDProblem              = 9
	RejectSendingTimeAccuracyProblem = 10
	RejectInvalidMsgType             = 11
)

// BusinessRejectReason(380) values.
const (
	BusinessRejectOther               = 0
	BusinessRejectUnknownID           = 1
	BusinessRejectUnknownSecurity     = 2
	BusinessRejectUnsupportedMsgType  = 3
	BusinessRejectAppNotAvailable     = 4
	BusinessRejectCondRequiredMissing = 5
)

const EncryptMethodNone = "0"

// ResultCode values are negative for errors, matching the parser's
// historic integer results.
type ResultCode int

const (
	NeedsMore          ResultCode = 0
	EInvalidHeader     ResultCode = -1
	EFormat            ResultCode = -2
	EDupField          ResultCode = -3
	ERawData           ResultCode = -4
	EOverMaxBodyLength ResultCode = -5
	ECheckSum          ResultCode = -10
)

func (c ResultCode) String() string {
	switch c {
	case NeedsMore:
		return "NeedsMore"
	case EInvalidHeader:
		return "InvalidHeader"
	case EFormat:
		return "FormatError"
	case EDupField:
		return "DuplicateField"
	case ERawData:
		return "RawDataError"
	case EOverMaxBodyLength:
		return "OverMaxBodyLength"
	case ECheckSum:
		return "ChecksumError"
	}
	return fmt.Sprintf("ResultCode(%d)", int(c))
}

// ProtocolError is returned for any malformed frame.
type ProtocolError struct {
	Code   ResultCode
	Offset int
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("fix: %s at offset %d", e.Code, e.Offset)
}

// IsFatal is false only for checksum mismatches: the frame boundary is still
// known and the stream can continue after it.
func (e *ProtocolError) IsFatal() bool {
	return e.Code != ECheckSum
}

func (e *ProtocolError) ErrNo() uint32 {
	if e.Code == ECheckSum {
		return fixerrors.ErrnoIntegrity
	}
	return fixerrors.ErrnoStructural
}

type needsMoreError struct{}

func (needsMoreError) Error() string { return "fix: needs more data" }

// ErrNeedsMore reports an incomplete frame; the size returned with it is the
// total number of bytes required.
var ErrNeedsMore error = needsMoreError{}

// CodeOf extracts the ResultCode from an error returned by this package.
func CodeOf(err error) ResultCode {
	switch e := err.(type) {
	case nil:
		return NeedsMore
	case *ProtocolError:
		return e.Code
	}
	return EFormat
}

func newError(code ResultCode, off int) *ProtocolError {
	return &ProtocolError{Code: code, Offset: off}
}
