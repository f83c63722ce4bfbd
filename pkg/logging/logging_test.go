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

package logging

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.SetDefaultIfNotDefined()
	assert.Equal(t, DefaultConfig.Level, c.Level)
	assert.Equal(t, "console", c.Encoding)
	require.NoError(t, c.Validate())

	c.Level = "loud"
	assert.Error(t, c.Validate())
	c.Level = "debug"
	c.Encoding = "xml"
	assert.Error(t, c.Validate())
}

func TestDebugGuard(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	SetLogger(zap.New(core))
	assert.False(t, LOG_DEBUG.Load())
	Debugf("hidden %d", 1)
	Infof("session %s ready", "A")
	Warningf("warn")
	Errorf("err %v", "x")
	require.Equal(t, 3, logs.Len())
	assert.Equal(t, "session A ready", logs.All()[0].Message)

	core, logs = observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	assert.True(t, LOG_DEBUG.Load())
	Debugf("shown")
	assert.Equal(t, 1, logs.Len())
}

// run with -race: swapping the logger must not race with debug calls.
func TestSetLoggerWhileLogging(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			lvl := zapcore.InfoLevel
			if i%2 == 0 {
				lvl = zapcore.DebugLevel
			}
			core, _ := observer.New(lvl)
			SetLogger(zap.New(core))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			Debugf("tick %d", i)
		}
	}()
	wg.Wait()
	SetLogger(zap.NewNop())
	assert.False(t, LOG_DEBUG.Load())
}
