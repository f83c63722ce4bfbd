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

// Package logging is the engine's operational logger: printf-style calls
// in the glog manner, backed by a zap SugaredLogger.
package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// LOG_DEBUG guards expensive debug formatting at call sites.
	LOG_DEBUG = atomic.NewBool(false)

	mtx   sync.RWMutex
	sugar *zap.SugaredLogger = newDefault()
)

type Config struct {
	Level       string
	Encoding    string
	OutputPaths []string
}

var DefaultConfig = Config{
	Level:       "info",
	Encoding:    "console",
	OutputPaths: []string{"stderr"},
}

func (c *Config) SetDefaultIfNotDefined() {
	if c.Level == "" {
		c.Level = DefaultConfig.Level
	}
	if c.Encoding == "" {
		c.Encoding = DefaultConfig.Encoding
	}
	if len(c.OutputPaths) == 0 {
		c.OutputPaths = DefaultConfig.OutputPaths
	}
}

func (c *Config) Validate() error {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(c.Level)); err != nil {
		return fmt.Errorf("log level %q: %w", c.Level, err)
	}
	switch c.Encoding {
	case "console", "json":
	default:
		return fmt.Errorf("log encoding %q: must be console or json", c.Encoding)
	}
	return nil
}

func (c *Config) Dump() {
	Infof("Log.Level: %s", c.Level)
	Infof("Log.Encoding: %s", c.Encoding)
	Infof("Log.OutputPaths: %s", strings.Join(c.OutputPaths, ","))
}

func newDefault() *zap.SugaredLogger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), zapcore.InfoLevel)
	return zap.New(core).Sugar()
}

// Initialize replaces the process logger. It is safe to call more than once.
func Initialize(c Config) error {
	c.SetDefaultIfNotDefined()
	if err := c.Validate(); err != nil {
		return err
	}
	zc := zap.NewProductionConfig()
	zc.Encoding = c.Encoding
	zc.OutputPaths = c.OutputPaths
	zc.Sampling = nil
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if err := zc.Level.UnmarshalText([]byte(c.Level)); err != nil {
		return err
	}
	lg, err := zc.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}
	SetLogger(lg)
	return nil
}

// SetLogger installs a caller supplied zap logger, e.g. zaptest in unit tests.
func SetLogger(lg *zap.Logger) {
	mtx.Lock()
	old := sugar
	sugar = lg.Sugar()
	LOG_DEBUG.Store(lg.Core().Enabled(zapcore.DebugLevel))
	mtx.Unlock()
	if old != nil {
		_ = old.Sync()
	}
}

func get() *zap.SugaredLogger {
	mtx.RLock()
	s := sugar
	mtx.RUnlock()
	return s
}

func Sync() {
	_ = get().Sync()
}

func Debugf(format string, args ...interface{}) {
	if LOG_DEBUG.Load() {
		get().Debugf(format, args...)
	}
}

func Infof(format string, args ...interface{}) {
	get().Infof(format, args...)
}

func Warningf(format string, args ...interface{}) {
	get().Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	get().Errorf(format, args...)
}

// With returns a logger carrying key/value context, e.g. the session name.
func With(args ...interface{}) *zap.SugaredLogger {
	return get().With(args...)
}
