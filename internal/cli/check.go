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
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"fixengine/pkg/recorder"
)

func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check <log|log.sz>...",
		Short: "Verify the lines, frames and sequence numbers of logs",
		Long: `Verify every line of each log: timestamps, FIX frames (header and
checksum) and sequence numbers. Exits non-zero if any log has problems.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reports := make([]*recorder.CheckReport, len(args))
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
					rep, err := recorder.Check(f, rootOpts.beginHeader())
					if err != nil {
						return fmt.Errorf("%s: %w", path, err)
					}
					reports[i] = rep
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			bad := 0
			w := cmd.OutOrStdout()
			for i, rep := range reports {
				fmt.Fprintf(w, "%s: %d lines [%s] NextSendSeq=%d NextRecvSeq=%d\n",
					args[i], rep.Lines, formatKinds(rep.Kinds), rep.NextSendSeq, rep.NextRecvSeq)
				for _, p := range rep.Problems {
					fmt.Fprintf(w, "  %s\n", p)
				}
				if !rep.OK() {
					bad++
				}
			}
			if bad > 0 {
				return fmt.Errorf("%d of %d logs have problems", bad, len(args))
			}
			return nil
		},
	}
}

func formatKinds(kinds map[string]int) string {
	names := make([]string, 0, len(kinds))
	for k := range kinds {
		names = append(names, k)
	}
	sort.Strings(names)
	for i, k := range names {
		names[i] = fmt.Sprintf("%s=%d", k, kinds[k])
	}
	return strings.Join(names, " ")
}
