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

package ioutil

import (
	"errors"
	"io"
	"net"
	"os"
	"syscall"

	"fixengine/pkg/logging"
)

// IsDisconnect reports errors that only mean the peer went away or the
// connection was closed locally.
func IsDisconnect(err error) bool {
	if err == io.EOF || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	if opErr, ok := err.(*net.OpError); ok {
		if sErr, ok := opErr.Err.(*os.SyscallError); ok && sErr.Err == syscall.ECONNRESET {
			return true
		}
	}
	return false
}

// LogError logs err at a level matching how unusual it is.
func LogError(peer string, err error) {
	if err == nil {
		return
	}
	if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
		logging.Warningf("%s: %s", peer, err)
		return
	}
	if IsDisconnect(err) {
		logging.Debugf("%s: %s", peer, err)
		return
	}
	logging.Warningf("%s: %s", peer, err)
}
