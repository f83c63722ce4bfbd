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

package errors

import (
	stderrors "errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrnoMatching(t *testing.T) {
	err := Wrap(io.ErrUnexpectedEOF, "recorder open", ErrnoResource)
	assert.True(t, stderrors.Is(err, ErrResource))
	assert.False(t, stderrors.Is(err, ErrSequence))
	assert.True(t, stderrors.Is(err, io.ErrUnexpectedEOF))
	assert.Equal(t, ErrnoResource, ErrNoOf(err))
	assert.Contains(t, err.Error(), "recorder open")

	plain := NewError("bad state", ErrnoState)
	assert.Equal(t, "error: bad state (5)", plain.Error())
	assert.Equal(t, uint32(0), ErrNoOf(io.EOF))
}
