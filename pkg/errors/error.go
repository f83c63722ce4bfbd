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

// Package errors classifies engine failures by errno so callers can decide
// between dropping a frame, logging out, or refusing to start.
package errors

import (
	"fmt"
)

const (
	// ErrnoStructural means the byte stream can no longer be framed.
	ErrnoStructural uint32 = iota + 1
	// ErrnoIntegrity is a single bad frame; the stream stays usable.
	ErrnoIntegrity
	// ErrnoSequence is an unrecoverable sequence desynchronization.
	ErrnoSequence
	// ErrnoResource is a recorder file failure.
	ErrnoResource
	// ErrnoState is an operation invalid in the current session state.
	ErrnoState
)

type Error struct {
	what  string
	errno uint32
	cause error
}

func NewError(what string, errno uint32) *Error {
	return &Error{what: what, errno: errno}
}

// Wrap keeps cause reachable through errors.Is / errors.As.
func Wrap(cause error, what string, errno uint32) *Error {
	return &Error{what: what, errno: errno, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("error: %s (%d): %v", e.what, e.errno, e.cause)
	}
	return fmt.Sprintf("error: %s (%d)", e.what, e.errno)
}

func (e *Error) ErrNo() uint32 {
	return e.errno
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches another *Error with the same errno, so sentinels can be compared
// with the standard errors.Is.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return t.errno == e.errno && (t.what == "" || t.what == e.what)
	}
	return false
}

// ErrNoOf returns the errno carried by err, or 0.
func ErrNoOf(err error) uint32 {
	for err != nil {
		if e, ok := err.(interface{ ErrNo() uint32 }); ok {
			return e.ErrNo()
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return 0
		}
		err = u.Unwrap()
	}
	return 0
}

var (
	ErrResource = &Error{errno: ErrnoResource}
	ErrSequence = &Error{errno: ErrnoSequence}
	ErrState    = &Error{errno: ErrnoState}
)
