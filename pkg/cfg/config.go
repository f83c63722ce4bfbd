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

package cfg

import (
	"fmt"
	"strings"
	"time"

	fixio "fixengine/pkg/io"
	"fixengine/pkg/logging"
	"fixengine/pkg/logging/otel"
	otelcfg "fixengine/pkg/logging/otel/config"
	"fixengine/pkg/recorder"
	"fixengine/pkg/session"
)

// MsgType sets the replay TTL of an application message type. TTL is
// "infinite", "0" for never, or a duration after SendingTime.
type MsgType struct {
	Type string
	TTL  string
}

type Config struct {
	Session  session.Config
	Recorder recorder.Config
	Log      logging.Config
	OTEL     otelcfg.Config
	IO       fixio.Config
	MsgType  []MsgType
}

// LoadFromFile reads path, applies the "Section.Key=value" overrides,
// fills the defaults and validates the result.
func LoadFromFile(path string, overrides ...string) (*Config, error) {
	var p Props
	if path != "" {
		if err := p.ReadTomlFile(path); err != nil {
			return nil, fmt.Errorf("cfg: %s: %w", path, err)
		}
	}
	return load(&p, overrides)
}

// LoadFromToml is LoadFromFile on TOML text.
func LoadFromToml(text string, overrides ...string) (*Config, error) {
	var p Props
	if err := p.ReadToml(strings.NewReader(text)); err != nil {
		return nil, fmt.Errorf("cfg: %w", err)
	}
	return load(&p, overrides)
}

func load(p *Props, overrides []string) (*Config, error) {
	for _, kv := range overrides {
		if err := p.SetKeyValue(kv); err != nil {
			return nil, fmt.Errorf("cfg: %w", err)
		}
	}
	c := &Config{}
	if err := p.Decode(c); err != nil {
		return nil, fmt.Errorf("cfg: %w", err)
	}
	c.SetDefaultIfNotDefined()
	session.InitConfig(&c.Session)
	if err := c.applyMsgTypes(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) SetDefaultIfNotDefined() {
	c.Session.SetDefaultIfNotDefined()
	c.Recorder.SetDefaultIfNotDefined()
	c.Log.SetDefaultIfNotDefined()
	c.OTEL.SetDefaultIfNotDefined()
	c.IO.SetDefaultIfNotDefined()
}

func (c *Config) Validate() error {
	for _, v := range []interface{ Validate() error }{&c.Session, &c.Recorder, &c.Log, &c.OTEL, &c.IO} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// InitLogging installs the process logger from the Log section, at debug
// level when verbose, and the meter provider when OTEL is enabled.
func (c *Config) InitLogging(verbose bool) error {
	lc := c.Log
	if verbose {
		lc.Level = "debug"
	}
	if err := logging.Initialize(lc); err != nil {
		return err
	}
	return otel.Initialize(&c.OTEL)
}

func (c *Config) Dump() {
	c.Log.Dump()
	c.Session.Dump()
	c.Recorder.Dump()
	c.IO.Dump()
	c.OTEL.Dump()
}

func (c *Config) applyMsgTypes() error {
	for _, e := range c.MsgType {
		if e.Type == "" {
			return fmt.Errorf("cfg: MsgType entry without Type")
		}
		ttl, err := ParseTTL(e.TTL)
		if err != nil {
			return fmt.Errorf("cfg: MsgType %s: %w", e.Type, err)
		}
		c.Session.Fetch(e.Type).TTL = ttl
	}
	return nil
}

func ParseTTL(s string) (time.Duration, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "infinite":
		return session.TTLInfinite, nil
	case "", "0", "never":
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative TTL %s", s)
	}
	return d, nil
}
