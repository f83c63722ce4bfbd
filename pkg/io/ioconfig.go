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

package io

import (
	"fmt"
	"time"

	"fixengine/pkg/logging"
	"fixengine/pkg/util"
)

var DefaultConfig = Config{
	WriteTimeout:  util.Duration{Duration: 5 * time.Second},
	LingerTimeout: util.Duration{Duration: 500 * time.Millisecond},
	IOBufSize:     64 * 1024,
	RecvChanSize:  16,
}

type Config struct {
	// A blocked write longer than this fails the send.
	WriteTimeout util.Duration
	// After Close, how long the peer gets to read what was sent and close
	// its end.
	LingerTimeout util.Duration
	IOBufSize     int
	RecvChanSize  int
}

func (conf *Config) SetDefaultIfNotDefined() (set bool) {
	if conf.WriteTimeout.Duration == 0 {
		set = true
		conf.WriteTimeout = DefaultConfig.WriteTimeout
	}
	if conf.LingerTimeout.Duration == 0 {
		set = true
		conf.LingerTimeout = DefaultConfig.LingerTimeout
	}
	if conf.IOBufSize == 0 {
		set = true
		conf.IOBufSize = DefaultConfig.IOBufSize
	}
	if conf.RecvChanSize == 0 {
		set = true
		conf.RecvChanSize = DefaultConfig.RecvChanSize
	}
	return
}

func (conf *Config) Validate() error {
	if conf.IOBufSize < 256 {
		return fmt.Errorf("io: IOBufSize %d too small", conf.IOBufSize)
	}
	if conf.WriteTimeout.Duration < 0 || conf.LingerTimeout.Duration < 0 {
		return fmt.Errorf("io: negative timeout")
	}
	return nil
}

func (conf *Config) Dump() {
	logging.Infof("IO.WriteTimeout: %s", conf.WriteTimeout.Duration)
	logging.Infof("IO.LingerTimeout: %s", conf.LingerTimeout.Duration)
	logging.Infof("IO.IOBufSize: %d RecvChanSize: %d", conf.IOBufSize, conf.RecvChanSize)
}
