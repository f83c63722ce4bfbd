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
	"time"

	"fixengine/pkg/logging"
	"fixengine/pkg/util"
)

type Config struct {
	// Path of the session log file.
	Path string
	// 0 writes every line through before returning.
	FlushInterval util.Duration
	FlushWorkers  int
	// Bytes between IDX checkpoints.
	IdxInterval int
}

var DefaultConfig = Config{
	Path:          "./log/fix.session.log",
	FlushInterval: util.Duration{Duration: 20 * time.Millisecond},
	FlushWorkers:  2,
	IdxInterval:   DefaultIdxInterval,
}

func (c *Config) SetDefaultIfNotDefined() {
	if c.Path == "" {
		c.Path = DefaultConfig.Path
	}
	if c.FlushWorkers == 0 {
		c.FlushWorkers = DefaultConfig.FlushWorkers
	}
	if c.IdxInterval == 0 {
		c.IdxInterval = DefaultConfig.IdxInterval
	}
}

func (c *Config) Validate() error {
	if c.FlushInterval.Duration < 0 {
		return fmt.Errorf("recorder: negative FlushInterval %s", c.FlushInterval.Duration)
	}
	if c.FlushWorkers < 0 {
		return fmt.Errorf("recorder: negative FlushWorkers %d", c.FlushWorkers)
	}
	if c.IdxInterval < MaxFixMsgBufferSize || c.IdxInterval > ReloadSentBufferSize {
		return fmt.Errorf("recorder: IdxInterval %d out of [%d, %d]", c.IdxInterval, MaxFixMsgBufferSize, ReloadSentBufferSize)
	}
	return nil
}

func (c *Config) Dump() {
	logging.Infof("Recorder.Path: %s", c.Path)
	logging.Infof("Recorder.FlushInterval: %s", c.FlushInterval.Duration)
	logging.Infof("Recorder.FlushWorkers: %d", c.FlushWorkers)
	logging.Infof("Recorder.IdxInterval: %d", c.IdxInterval)
}
