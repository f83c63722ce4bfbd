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
	"io"
	"os"

	"github.com/spf13/cobra"

	"fixengine/pkg/recorder"
)

type ArchiveOptions struct {
	*RootOptions
	Output string
	Verify bool
}

func NewArchiveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ArchiveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "archive <log>",
		Short: "Compress a session log into a snappy archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArchive(opts, cmd, args[0])
		},
	}
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "archive path, <log>.sz by default")
	cmd.Flags().BoolVar(&opts.Verify, "verify", false, "read the archive back and compare")
	return cmd
}

func runArchive(opts *ArchiveOptions, cmd *cobra.Command, path string) error {
	f, err := openLog(path)
	if err != nil {
		return err
	}
	defer f.Close()
	out := opts.Output
	if out == "" {
		out = path + ".sz"
	}
	w, err := os.Create(out)
	if err != nil {
		return err
	}
	n, err := recorder.Archive(f, w)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(out)
		return err
	}
	if opts.Verify {
		back, err := openLog(out)
		if err != nil {
			return err
		}
		defer back.Close()
		same, err := sameContent(back, f)
		if err != nil {
			return err
		}
		if !same {
			return fmt.Errorf("%s: archive differs from %s", out, path)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d bytes archived to %s\n", path, n, out)
	return nil
}

func sameContent(a, b recorder.File) (bool, error) {
	ra, err := logReader(a)
	if err != nil {
		return false, err
	}
	rb, err := logReader(b)
	if err != nil {
		return false, err
	}
	bufA, bufB := make([]byte, 64*1024), make([]byte, 64*1024)
	for {
		na, errA := io.ReadFull(ra, bufA)
		nb, errB := io.ReadFull(rb, bufB)
		if !bytes.Equal(bufA[:na], bufB[:nb]) {
			return false, nil
		}
		if errA == io.EOF || errA == io.ErrUnexpectedEOF {
			return errB == io.EOF || errB == io.ErrUnexpectedEOF, nil
		}
		if errA != nil {
			return false, errA
		}
		if errB != nil {
			if errB == io.EOF || errB == io.ErrUnexpectedEOF {
				return false, nil
			}
			return false, errB
		}
	}
}
