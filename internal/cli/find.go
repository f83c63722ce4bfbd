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
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"fixengine/pkg/recorder"
)

type FindOptions struct {
	*RootOptions
	Count int
	Raw   bool
}

func NewFindCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FindOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "find <log> <seq>",
		Short: "Print the sent message with MsgSeqNum seq, or --count messages from it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := strconv.ParseUint(args[1], 10, 32)
			if err != nil || seq == 0 {
				return fmt.Errorf("invalid seq %q", args[1])
			}
			return runFind(opts, cmd, args[0], uint32(seq))
		},
	}
	cmd.Flags().IntVarP(&opts.Count, "count", "n", 1, "number of sent messages to print")
	cmd.Flags().BoolVar(&opts.Raw, "raw", false, "print SOH unchanged")
	return cmd
}

func runFind(opts *FindOptions, cmd *cobra.Command, path string, seq uint32) error {
	f, err := openLog(path)
	if err != nil {
		return err
	}
	rec := recorder.NewRecorder(opts.beginHeader(), nil)
	if err = rec.InitializeReadOnly(f, path); err != nil {
		f.Close()
		return err
	}
	defer rec.Close()

	s := rec.NewSentSearcher()
	if opts.Count <= 1 {
		msg, err := s.Find(seq)
		if err != nil {
			return err
		}
		if msg == nil {
			return fmt.Errorf("%s: MsgSeqNum %d not found", path, seq)
		}
		fmt.Fprintln(cmd.OutOrStdout(), printable(msg, !opts.Raw))
		return nil
	}
	msg, err := s.Start(seq)
	if err != nil {
		return err
	}
	if msg == nil {
		return fmt.Errorf("%s: nothing sent at or after MsgSeqNum %d", path, seq)
	}
	for n := 0; msg != nil && n < opts.Count; n++ {
		fmt.Fprintln(cmd.OutOrStdout(), printable(msg, !opts.Raw))
		msg = s.Next()
	}
	return s.Err()
}
