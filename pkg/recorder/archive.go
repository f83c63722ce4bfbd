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

package recorder

import (
	"io"

	"github.com/golang/snappy"

	fixerrors "fixengine/pkg/errors"
)

// Archive writes the content of f to w as a snappy framed stream.
func Archive(f File, w io.Writer) (int64, error) {
	size, err := f.Size()
	if err != nil {
		return 0, fixerrors.Wrap(err, "archive size", fixerrors.ErrnoResource)
	}
	sw := snappy.NewBufferedWriter(w)
	n, err := io.Copy(sw, io.NewSectionReader(f, 0, size))
	if err != nil {
		sw.Close()
		return n, fixerrors.Wrap(err, "archive copy", fixerrors.ErrnoResource)
	}
	if err = sw.Close(); err != nil {
		return n, fixerrors.Wrap(err, "archive close", fixerrors.ErrnoResource)
	}
	return n, nil
}

// OpenArchive returns the log content of a stream written by Archive.
func OpenArchive(r io.Reader) io.Reader {
	return snappy.NewReader(r)
}

// LoadArchive decompresses a whole archive into a MemFile, so the searches
// can run against it.
func LoadArchive(r io.Reader) (*MemFile, error) {
	data, err := io.ReadAll(OpenArchive(r))
	if err != nil {
		return nil, fixerrors.Wrap(err, "archive read", fixerrors.ErrnoResource)
	}
	return &MemFile{data: data}, nil
}
