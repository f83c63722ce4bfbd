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

package cli

import (
	"bytes"
	"fmt"

	"github.com/spf13/cobra"

	"fixengine/pkg/cfg"
	"fixengine/pkg/engine"
)

type ConfigOptions struct {
	*RootOptions
	Format   string
	Validate bool
	Open     bool
}

func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConfigOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "config [<toml>...]",
		Short: "Merge config files and --set overrides, then print the result",
		Long: `Merge TOML config files left to right, keys compared case insensitively,
apply the --set overrides and print the result.

Examples:
  fixtool config base.toml site.toml --set Session.HeartBtInt=10
  fixtool config base.toml --format text --validate
  fixtool config base.toml --open`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfig(opts, cmd, args)
		},
	}
	cmd.Flags().StringVarP(&opts.Format, "format", "f", "toml", "output format (toml|text)")
	cmd.Flags().BoolVar(&opts.Validate, "validate", false, "load the result as an engine config and log it")
	cmd.Flags().BoolVar(&opts.Open, "open", false, "start the engine on the result and print the counters of its session log")
	return cmd
}

func runConfig(opts *ConfigOptions, cmd *cobra.Command, files []string) error {
	var merged cfg.Props
	for _, f := range files {
		var p cfg.Props
		if err := p.ReadTomlFile(f); err != nil {
			return fmt.Errorf("%s: %w", f, err)
		}
		if err := merged.Merge(&p); err != nil {
			return fmt.Errorf("%s: %w", f, err)
		}
	}
	for _, kv := range opts.Overrides {
		if err := merged.SetKeyValue(kv); err != nil {
			return err
		}
	}

	var buf bytes.Buffer
	if err := merged.WriteToml(&buf); err != nil {
		return err
	}
	if opts.Validate || opts.Open {
		c, err := cfg.LoadFromToml(buf.String())
		if err != nil {
			return err
		}
		c.Dump()
		if opts.Open {
			return openEngine(cmd, c)
		}
	}
	switch opts.Format {
	case "toml":
		_, err := cmd.OutOrStdout().Write(buf.Bytes())
		return err
	case "text":
		merged.WriteKVList(cmd.OutOrStdout())
		return nil
	}
	return fmt.Errorf("invalid format %q: must be toml or text", opts.Format)
}

func openEngine(cmd *cobra.Command, c *cfg.Config) error {
	e, err := engine.New(c)
	if err != nil {
		return err
	}
	rec := e.Recorder()
	fmt.Fprintf(cmd.OutOrStdout(), "%s\tNextSendSeq=%d\tNextRecvSeq=%d\tReplayRate=%d\n",
		c.Recorder.Path, rec.NextSendSeq(), rec.NextRecvSeq(), e.Sender().ReplayRate())
	return e.Close()
}
