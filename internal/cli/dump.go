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
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

type DumpOptions struct {
	*RootOptions
	Kinds string
	Raw   bool
}

func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DumpOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dump <log|log.sz>",
		Short: "Print a log or an archive line by line",
		Long: `Print a session log or a snappy archive of one.

Line kinds: i info, e error, S sent, y replay, R received, g kept while
a gap is recovered, d ignored, # checkpoint, 8 replayed frame.

Examples:
  fixtool dump ./log/fix.session.log --kind SR
  fixtool dump ./log/fix.session.log.sz`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := openLog(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			r, err := logReader(f)
			if err != nil {
				return err
			}
			return dump(cmd.OutOrStdout(), r, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.Kinds, "kind", "k", "", "line kinds to print, all when empty")
	cmd.Flags().BoolVar(&opts.Raw, "raw", false, "print SOH unchanged")
	return cmd
}

func dump(w io.Writer, r io.Reader, opts *DumpOptions) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	out := bufio.NewWriter(w)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if opts.Kinds != "" {
			kind := line[0]
			if kind == '\x02' {
				kind = '#'
			}
			if !strings.ContainsRune(opts.Kinds, rune(kind)) {
				continue
			}
		}
		fmt.Fprintln(out, printable(line, !opts.Raw))
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return out.Flush()
}
