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
	"os"
	"path/filepath"
	"sync"

	fixerrors "fixengine/pkg/errors"
)

// File is the append-only storage behind a Recorder.
type File interface {
	io.ReaderAt
	Append(b []byte) error
	Size() (int64, error)
	Close() error
}

type OSFile struct {
	f        *os.File
	size     int64
	readOnly bool
}

// OpenFile opens or creates path for append, creating parent directories.
func OpenFile(path string) (*OSFile, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fixerrors.Wrap(err, "mkdir "+dir, fixerrors.ErrnoResource)
		}
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fixerrors.Wrap(err, "open "+path, fixerrors.ErrnoResource)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fixerrors.Wrap(err, "stat "+path, fixerrors.ErrnoResource)
	}
	return &OSFile{f: f, size: st.Size()}, nil
}

// OpenFileReadOnly opens an existing log for reading in place.
func OpenFileReadOnly(path string) (*OSFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fixerrors.Wrap(err, "open "+path, fixerrors.ErrnoResource)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fixerrors.Wrap(err, "stat "+path, fixerrors.ErrnoResource)
	}
	return &OSFile{f: f, size: st.Size(), readOnly: true}, nil
}

func (o *OSFile) Append(b []byte) error {
	if o.readOnly {
		return fixerrors.NewError("append "+o.f.Name()+": opened read-only", fixerrors.ErrnoState)
	}
	n, err := o.f.Write(b)
	o.size += int64(n)
	if err != nil {
		return fixerrors.Wrap(err, "append "+o.f.Name(), fixerrors.ErrnoResource)
	}
	return nil
}

func (o *OSFile) ReadAt(p []byte, off int64) (int, error) {
	return o.f.ReadAt(p, off)
}

func (o *OSFile) Size() (int64, error) {
	return o.size, nil
}

func (o *OSFile) Name() string {
	return o.f.Name()
}

func (o *OSFile) Close() error {
	return o.f.Close()
}

// MemFile keeps the whole log in memory.
type MemFile struct {
	mtx    sync.RWMutex
	data   []byte
	closed bool
	// FailAppend makes Append fail with this error when set.
	FailAppend error
}

func NewMemFile(initial []byte) *MemFile {
	return &MemFile{data: append([]byte(nil), initial...)}
}

func (m *MemFile) Append(b []byte) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if m.FailAppend != nil {
		return fixerrors.Wrap(m.FailAppend, "append", fixerrors.ErrnoResource)
	}
	m.data = append(m.data, b...)
	return nil
}

func (m *MemFile) ReadAt(p []byte, off int64) (int, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *MemFile) Size() (int64, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return int64(len(m.data)), nil
}

func (m *MemFile) Close() error {
	m.mtx.Lock()
	m.closed = true
	m.mtx.Unlock()
	return nil
}

// Bytes returns a copy of the content.
func (m *MemFile) Bytes() []byte {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return append([]byte(nil), m.data...)
}

func (m *MemFile) IsClosed() bool {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return m.closed
}
