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

// Package cfg loads the engine configuration. TOML files are read into a
// case insensitive property tree so that dot-delimited overrides from the
// command line can be merged before the tree is decoded into Config.
package cfg

import (
	"bytes"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"fixengine/pkg/logging"
)

type (
	// Props is not goroutine safe.
	Props struct {
		tree map[string]prop
	}
	prop struct {
		// key as first spelled
		key   string
		value interface{}
	}
)

func (p *Props) ReadToml(r io.Reader) error {
	m := make(map[string]interface{})
	if _, err := toml.NewDecoder(r).Decode(&m); err != nil {
		return err
	}
	p.tree = make(map[string]prop)
	fill(p.tree, m)
	return nil
}

func (p *Props) ReadTomlFile(path string) error {
	m := make(map[string]interface{})
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return err
	}
	p.tree = make(map[string]prop)
	fill(p.tree, m)
	return nil
}

// ReadFrom loads the properties of a struct or a map.
func (p *Props) ReadFrom(v interface{}) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(v); err != nil {
		return err
	}
	return p.ReadToml(&buf)
}

func (p *Props) WriteToml(w io.Writer) error {
	return toml.NewEncoder(w).Encode(p.Map())
}

// Decode writes the properties into a struct or a map.
func (p *Props) Decode(v interface{}) error {
	var buf bytes.Buffer
	if err := p.WriteToml(&buf); err != nil {
		return err
	}
	_, err := toml.Decode(buf.String(), v)
	return err
}

func (p *Props) Map() map[string]interface{} {
	m := make(map[string]interface{})
	unfold(m, p.tree)
	return m
}

// Get returns the value of a dot-delimited key, nil if absent. A table is
// returned as a map.
func (p *Props) Get(dotKey string) interface{} {
	keys := strings.Split(dotKey, ".")
	t := p.tree
	for i, k := range keys {
		v, ok := t[strings.ToLower(k)]
		if !ok {
			return nil
		}
		sub, isTable := v.value.(map[string]prop)
		if i == len(keys)-1 {
			if isTable {
				m := make(map[string]interface{})
				unfold(m, sub)
				return m
			}
			return v.value
		}
		if !isTable {
			return nil
		}
		t = sub
	}
	return nil
}

// Set stores v under a dot-delimited key, creating the tables on the way.
func (p *Props) Set(dotKey string, v interface{}) error {
	keys := strings.Split(dotKey, ".")
	last := len(keys) - 1
	leaf := map[string]prop{strings.ToLower(keys[last]): {keys[last], v}}
	for i := last - 1; i >= 0; i-- {
		leaf = map[string]prop{strings.ToLower(keys[i]): {keys[i], leaf}}
	}
	if p.tree == nil {
		p.tree = make(map[string]prop)
	}
	if err := merge(p.tree, leaf); err != nil {
		return fmt.Errorf("%s: %w", dotKey, err)
	}
	return nil
}

// SetKeyValue parses "Section.Key=value". The value is read as a TOML
// value when it is one, as a bare string otherwise.
func (p *Props) SetKeyValue(kv string) error {
	i := strings.IndexByte(kv, '=')
	if i <= 0 {
		return fmt.Errorf("override %q: expecting key=value", kv)
	}
	key := strings.TrimSpace(kv[:i])
	raw := strings.TrimSpace(kv[i+1:])
	var holder struct{ V interface{} }
	if _, err := toml.Decode("V = "+raw, &holder); err != nil || holder.V == nil {
		return p.Set(key, raw)
	}
	return p.Set(key, holder.V)
}

func (p *Props) Merge(o *Props) error {
	if p.tree == nil {
		p.tree = make(map[string]prop)
	}
	return merge(p.tree, o.tree)
}

// WriteKVList writes one sorted key=value line per leaf.
func (p *Props) WriteKVList(w io.Writer) {
	var lines []string
	var walk func(prefix string, t map[string]prop)
	walk = func(prefix string, t map[string]prop) {
		for _, v := range t {
			if sub, ok := v.value.(map[string]prop); ok {
				walk(prefix+v.key+".", sub)
			} else {
				lines = append(lines, fmt.Sprintf("%s%s=%v", prefix, v.key, v.value))
			}
		}
	}
	walk("", p.tree)
	sort.Strings(lines)
	for _, l := range lines {
		fmt.Fprintln(w, l)
	}
}

func fill(to map[string]prop, from map[string]interface{}) {
	for k, v := range from {
		lk := strings.ToLower(k)
		if _, found := to[lk]; found {
			logging.Warningf("cfg: key %s found, skip", k)
			continue
		}
		if vm, ok := v.(map[string]interface{}); ok {
			sub := make(map[string]prop)
			fill(sub, vm)
			to[lk] = prop{k, sub}
		} else {
			to[lk] = prop{k, v}
		}
	}
}

func unfold(to map[string]interface{}, from map[string]prop) {
	for _, v := range from {
		if sub, ok := v.value.(map[string]prop); ok {
			m := make(map[string]interface{})
			unfold(m, sub)
			to[v.key] = m
		} else {
			to[v.key] = v.value
		}
	}
}

// merge overrides the values of to. A leaf may only be replaced by a value
// of the same type.
func merge(to, from map[string]prop) error {
	for k, v := range from {
		sub, isTable := v.value.(map[string]prop)
		cur, found := to[k]
		if !found {
			if isTable {
				t := make(map[string]prop)
				if err := merge(t, sub); err != nil {
					return err
				}
				v = prop{v.key, t}
			}
			to[k] = v
			continue
		}
		curSub, curIsTable := cur.value.(map[string]prop)
		switch {
		case curIsTable && isTable:
			if err := merge(curSub, sub); err != nil {
				return err
			}
		case curIsTable || isTable:
			return fmt.Errorf("key %s: table and value mismatch", v.key)
		default:
			tto, tfrom := reflect.TypeOf(cur.value), reflect.TypeOf(v.value)
			if tto != tfrom {
				return fmt.Errorf("key %s: type mismatch. target: %v source: %v", v.key, tto, tfrom)
			}
			to[k] = prop{cur.key, v.value}
		}
	}
	return nil
}
