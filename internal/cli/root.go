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

// Package cli implements fixtool, the offline companion of the session
// log: counters, sent message lookup, dumps, archives and integrity checks.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"fixengine/pkg/cfg"
	"fixengine/pkg/logging"
	"fixengine/pkg/recorder"
	"fixengine/pkg/version"
)

type RootOptions struct {
	Verbose     bool
	BeginString string
	ConfigFile  string
	Overrides   []string
}

func (o *RootOptions) beginHeader() string {
	return "8=" + o.BeginString + "\x019="
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:          "fixtool",
		Short:        "Inspect and maintain FIX session logs",
		Version:      version.OnelineVersionString(),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.ConfigFile == "" {
				lc := logging.Config{Level: "warn"}
				if opts.Verbose {
					lc.Level = "debug"
				}
				return logging.Initialize(lc)
			}
			c, err := cfg.LoadFromFile(opts.ConfigFile, opts.Overrides...)
			if err != nil {
				return err
			}
			opts.BeginString = c.Session.BeginString
			return c.InitLogging(opts.Verbose)
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.BeginString, "begin", "FIX.4.4", "BeginString of the logged messages")
	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "engine TOML config, its BeginString wins over --begin")
	cmd.PersistentFlags().StringArrayVar(&opts.Overrides, "set", nil, "config override Section.Key=value, repeatable")

	cmd.AddCommand(NewLastSeqCommand(opts))
	cmd.AddCommand(NewFindCommand(opts))
	cmd.AddCommand(NewDumpCommand(opts))
	cmd.AddCommand(NewArchiveCommand(opts))
	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			version.WriteVersionInfo(cmd.OutOrStdout(), os.Args[0])
		},
	})

	return cmd
}

// openLog opens a session log read-only in place, or loads a snappy archive
// when path ends in .sz. The live log is never written.
func openLog(path string) (recorder.File, error) {
	if !strings.HasSuffix(path, ".sz") {
		return recorder.OpenFileReadOnly(path)
	}
	af, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer af.Close()
	f, err := recorder.LoadArchive(af)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// logReader reads f from its start to its size at the time of the call.
func logReader(f recorder.File) (io.Reader, error) {
	size, err := f.Size()
	if err != nil {
		return nil, err
	}
	return io.NewSectionReader(f, 0, size), nil
}

// printable shows SOH as '|' and a checkpoint marker as '#'.
func printable(line []byte, pipe bool) string {
	if !pipe {
		return string(line)
	}
	out := make([]byte, len(line))
	for i, c := range line {
		switch c {
		case '\x01':
			c = '|'
		case '\x02':
			c = '#'
		}
		out[i] = c
	}
	return string(out)
}
