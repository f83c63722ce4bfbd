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

package stats

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

type (
	// LatencyStat collects durations of one kind of operation.
	LatencyStat struct {
		mtx       sync.Mutex
		hist      *hdrhistogram.Histogram
		total     time.Duration
		numErrors int64
	}

	LatencyData struct {
		AvgLatency   time.Duration
		MinLatency   time.Duration
		MaxLatency   time.Duration
		P50Latency   time.Duration
		P95Latency   time.Duration
		P99Latency   time.Duration
		P9999Latency time.Duration
		NumSamples   int64
		NumErrors    int64
	}

	// SessionStats is kept per session: how long Send takes to build,
	// record and hand a frame to the transport, and how long a replay takes
	// end to end.
	SessionStats struct {
		Send    LatencyStat
		Replay  LatencyStat
		tmStart time.Time
	}
)

const (
	kMinTrackable = 1
	kMaxTrackable = int64(3600 * time.Second)
	kSigFigs      = 3
)

func (s *LatencyStat) init() {
	if s.hist == nil {
		s.hist = hdrhistogram.New(kMinTrackable, kMaxTrackable, kSigFigs)
	}
}

func (s *LatencyStat) Put(tm time.Duration, err error) {
	s.mtx.Lock()
	s.init()
	if tm < kMinTrackable {
		tm = kMinTrackable
	}
	s.hist.RecordValue(int64(tm))
	s.total += tm
	if err != nil {
		s.numErrors++
	}
	s.mtx.Unlock()
}

func (s *LatencyStat) GetStats() (stat LatencyData) {
	s.mtx.Lock()
	s.init()
	stat.NumSamples = s.hist.TotalCount()
	stat.NumErrors = s.numErrors
	stat.MinLatency = time.Duration(s.hist.Min())
	stat.MaxLatency = time.Duration(s.hist.Max())
	stat.P50Latency = time.Duration(s.hist.ValueAtQuantile(50.))
	stat.P95Latency = time.Duration(s.hist.ValueAtQuantile(95.))
	stat.P99Latency = time.Duration(s.hist.ValueAtQuantile(99.))
	stat.P9999Latency = time.Duration(s.hist.ValueAtQuantile(99.99))
	total := s.total
	s.mtx.Unlock()

	if stat.NumSamples != 0 {
		stat.AvgLatency = total / time.Duration(stat.NumSamples)
	}
	return
}

func (s *LatencyStat) Reset() {
	s.mtx.Lock()
	s.init()
	s.hist.Reset()
	s.numErrors = 0
	s.total = 0
	s.mtx.Unlock()
}

func NewSessionStats() *SessionStats {
	return &SessionStats{tmStart: time.Now()}
}

func (s *SessionStats) Reset() {
	s.Send.Reset()
	s.Replay.Reset()
	s.tmStart = time.Now()
}

func (s *SessionStats) PrettyPrint(w io.Writer) {
	usfunc := func(d time.Duration) time.Duration {
		return d.Round(time.Microsecond)
	}
	fmt.Fprintf(w, "since %s\n", s.tmStart.Format(time.RFC3339))
	fmt.Fprintln(w,
		`           | average    | min        | max        |        50% |      95% |      99% |   99.99% |    samples |     errors
-----------+------------+------------+------------+------------+----------+----------+----------+------------+-----------`)
	line := func(name string, stat LatencyData) {
		fmt.Fprintf(w, "%-10s %12s %12s %12s %12s %10s %10s %10s %12d %11d\n",
			name, usfunc(stat.AvgLatency), usfunc(stat.MinLatency), usfunc(stat.MaxLatency),
			usfunc(stat.P50Latency), usfunc(stat.P95Latency), usfunc(stat.P99Latency), usfunc(stat.P9999Latency),
			stat.NumSamples, stat.NumErrors)
	}
	line("send", s.Send.GetStats())
	line("replay", s.Replay.GetStats())
}
