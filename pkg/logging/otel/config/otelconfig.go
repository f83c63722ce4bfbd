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

package config

import (
	"fmt"

	"fixengine/pkg/logging"
)

type HistBuckets struct {
	Send          []float64
	RecorderFlush []float64
}

type Config struct {
	Host        string
	Port        uint32
	UrlPath     string
	Environment string
	Poolname    string
	Enabled     bool
	// export interval in seconds
	Resolution       uint32
	UseTls           bool
	HistogramBuckets HistBuckets
}

var DefaultConfig = Config{
	Host:        "127.0.0.1",
	Port:        4318,
	UrlPath:     "v1/metrics",
	Environment: "dev",
	Poolname:    "fixengine",
	Resolution:  60,
}

func (c *Config) Validate() error {
	if c.Enabled && len(c.Poolname) == 0 {
		return fmt.Errorf("otel: Poolname is required")
	}
	return nil
}

func (c *Config) SetDefaultIfNotDefined() {
	if c.Host == "" {
		c.Host = DefaultConfig.Host
	}
	if c.Port == 0 {
		c.Port = DefaultConfig.Port
	}
	if c.Resolution == 0 {
		c.Resolution = DefaultConfig.Resolution
	}
	if c.Environment == "" {
		c.Environment = DefaultConfig.Environment
	}
	if c.UrlPath == "" {
		c.UrlPath = DefaultConfig.UrlPath
	}
	if c.Poolname == "" {
		c.Poolname = DefaultConfig.Poolname
	}
	// microseconds
	if c.HistogramBuckets.Send == nil {
		c.HistogramBuckets.Send = []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}
	}
	if c.HistogramBuckets.RecorderFlush == nil {
		c.HistogramBuckets.RecorderFlush = []float64{50, 100, 250, 500, 1000, 5000, 10000, 50000, 100000}
	}
}

func (c *Config) Dump() {
	logging.Infof("OTEL.Enabled: %t", c.Enabled)
	logging.Infof("OTEL.Host: %s", c.Host)
	logging.Infof("OTEL.Port: %d", c.Port)
	logging.Infof("OTEL.UrlPath: %s", c.UrlPath)
	logging.Infof("OTEL.Environment: %s", c.Environment)
	logging.Infof("OTEL.Poolname: %s", c.Poolname)
	logging.Infof("OTEL.Resolution: %d", c.Resolution)
	logging.Infof("OTEL.UseTls: %t", c.UseTls)
	logging.Infof("OTEL.Send Bucket: %v", c.HistogramBuckets.Send)
	logging.Infof("OTEL.RecorderFlush Bucket: %v", c.HistogramBuckets.RecorderFlush)
}
