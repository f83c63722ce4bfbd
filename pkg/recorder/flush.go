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
	"sync"
	"time"

	"fixengine/pkg/logging"
	"fixengine/pkg/util"
)

// FlushPool writes buffered recorder lines from background workers. Each
// recorder is pinned to one worker by a hash of its name, so its lines are
// always written by the same goroutine.
type FlushPool struct {
	workers []*flushWorker
	wg      sync.WaitGroup
}

type flushWorker struct {
	id       int
	interval time.Duration
	mtx      sync.Mutex
	recs     map[*Recorder]struct{}
	stopCh   chan struct{}
}

func NewFlushPool(numWorkers int, interval time.Duration) *FlushPool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if interval <= 0 {
		interval = DefaultConfig.FlushInterval.Duration
	}
	p := &FlushPool{workers: make([]*flushWorker, numWorkers)}
	for i := range p.workers {
		w := &flushWorker{
			id:       i,
			interval: interval,
			recs:     make(map[*Recorder]struct{}),
			stopCh:   make(chan struct{}),
		}
		p.workers[i] = w
		p.wg.Add(1)
		go w.run(&p.wg)
	}
	return p
}

func (p *FlushPool) workerFor(r *Recorder) *flushWorker {
	return p.workers[util.GetPartitionId([]byte(r.Name()), uint32(len(p.workers)))]
}

func (p *FlushPool) Register(r *Recorder) {
	w := p.workerFor(r)
	w.mtx.Lock()
	w.recs[r] = struct{}{}
	w.mtx.Unlock()
	if logging.LOG_DEBUG.Load() {
		logging.Debugf("recorder: %s flushed by worker %d", r.Name(), w.id)
	}
}

func (p *FlushPool) Unregister(r *Recorder) {
	w := p.workerFor(r)
	w.mtx.Lock()
	delete(w.recs, r)
	w.mtx.Unlock()
}

// Close stops the workers after a last flush.
func (p *FlushPool) Close() {
	for _, w := range p.workers {
		close(w.stopCh)
	}
	p.wg.Wait()
}

func (w *flushWorker) run(wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.flushAll()
		case <-w.stopCh:
			w.flushAll()
			return
		}
	}
}

func (w *flushWorker) flushAll() {
	w.mtx.Lock()
	recs := make([]*Recorder, 0, len(w.recs))
	for r := range w.recs {
		recs = append(recs, r)
	}
	w.mtx.Unlock()
	for _, r := range recs {
		// failures are kept by the recorder and retried on the next tick
		r.Flush()
	}
}
