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

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"fixengine/pkg/proto"
	"fixengine/pkg/recorder"
)

const maxParallelLogs = 8

func NewLastSeqCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lastseq <log>...",
		Short: "Print the next send and receive sequence numbers a log reopens with",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results := make([]string, len(args))
			var g errgroup.Group
			g.SetLimit(maxParallelLogs)
			for i, path := range args {
				i, path := i, path
				g.Go(func() error {
					f, err := openLog(path)
					if err != nil {
						return err
					}
					defer f.Close()
					p := proto.NewParser()
					p.ResetExpectHeader([]byte(rootOpts.beginHeader()))
					nextSend, nextRecv, err := recorder.LastSeqSearch(f, p)
					if err != nil {
						return fmt.Errorf("%s: %w", path, err)
					}
					// an empty log reopens at 1
					if nextSend == 0 {
						nextSend = 1
					}
					if nextRecv == 0 {
						nextRecv = 1
					}
					results[i] = fmt.Sprintf("%s\tNextSendSeq=%d\tNextRecvSeq=%d", path, nextSend, nextRecv)
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			for _, r := range results {
				fmt.Fprintln(cmd.OutOrStdout(), r)
			}
			return nil
		},
	}
}
