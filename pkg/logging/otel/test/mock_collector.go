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

package otel

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"

	"google.golang.org/protobuf/proto"

	collectormetricpb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	metricpb "go.opentelemetry.io/proto/otlp/metrics/v1"
)

const DefaultMetricsPath string = "/v1/metrics"

// mockCollector accepts OTLP/HTTP protobuf exports and keeps the metrics.
type mockCollector struct {
	endpoint string
	port     int
	server   *http.Server

	mtx            sync.Mutex
	metricsStorage MetricsStorage

	injectHTTPStatus []int
	expectedHeaders  map[string]string
}

type mockCollectorConfig struct {
	MetricsURLPath   string
	InjectHTTPStatus []int
	ExpectedHeaders  map[string]string
}

func (c *mockCollectorConfig) fillInDefaults() {
	if c.MetricsURLPath == "" {
		c.MetricsURLPath = DefaultMetricsPath
	}
}

func runMockCollector(t *testing.T, cfg mockCollectorConfig) *mockCollector {
	t.Helper()
	cfg.fillInDefaults()
	ln, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("listen: %s", err)
	}
	m := &mockCollector{
		endpoint:         ln.Addr().String(),
		port:             ln.Addr().(*net.TCPAddr).Port,
		injectHTTPStatus: cfg.InjectHTTPStatus,
		expectedHeaders:  cfg.ExpectedHeaders,
	}
	mux := http.NewServeMux()
	mux.Handle(cfg.MetricsURLPath, http.HandlerFunc(m.serveMetrics))
	m.server = &http.Server{Handler: mux}
	go func() {
		_ = m.server.Serve(ln)
	}()
	return m
}

func (c *mockCollector) MustStop(t *testing.T) {
	if err := c.server.Shutdown(context.Background()); err != nil {
		t.Errorf("collector shutdown: %s", err)
	}
}

func (c *mockCollector) Endpoint() string {
	return c.endpoint
}

func (c *mockCollector) GetMetrics() []*metricpb.Metric {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.metricsStorage.GetMetrics()
}

func (c *mockCollector) serveMetrics(w http.ResponseWriter, r *http.Request) {
	for k, v := range c.expectedHeaders {
		if r.Header.Get(k) != v {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	}
	rawResponse, err := proto.Marshal(&collectormetricpb.ExportMetricsServiceResponse{})
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if status := c.nextInjectedStatus(); status != 0 {
		writeReply(w, rawResponse, status)
		return
	}
	rawRequest, err := readRequest(r)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	request, err := unmarshalMetricsRequest(rawRequest, r.Header.Get("content-type"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeReply(w, rawResponse, http.StatusOK)
	c.mtx.Lock()
	c.metricsStorage.AddMetrics(request)
	c.mtx.Unlock()
}

func (c *mockCollector) nextInjectedStatus() int {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if len(c.injectHTTPStatus) == 0 {
		return 0
	}
	status := c.injectHTTPStatus[0]
	c.injectHTTPStatus = c.injectHTTPStatus[1:]
	return status
}

func unmarshalMetricsRequest(rawRequest []byte, contentType string) (*collectormetricpb.ExportMetricsServiceRequest, error) {
	request := &collectormetricpb.ExportMetricsServiceRequest{}
	if contentType != "application/x-protobuf" {
		return request, fmt.Errorf("invalid content-type: %s, only application/x-protobuf is supported", contentType)
	}
	err := proto.Unmarshal(rawRequest, request)
	return request, err
}

func readRequest(r *http.Request) ([]byte, error) {
	if r.Header.Get("Content-Encoding") != "gzip" {
		return io.ReadAll(r.Body)
	}
	gunzipper, err := gzip.NewReader(r.Body)
	if err != nil {
		return nil, err
	}
	defer gunzipper.Close()
	var raw bytes.Buffer
	if _, err = io.Copy(&raw, gunzipper); err != nil {
		return nil, err
	}
	return raw.Bytes(), nil
}

func writeReply(w http.ResponseWriter, rawResponse []byte, status int) {
	w.Header().Set("Content-Type", "application/x-protobuf")
	w.WriteHeader(status)
	_, _ = w.Write(rawResponse)
}

// MetricsStorage keeps every metric of every scope received.
type MetricsStorage struct {
	metrics []*metricpb.Metric
}

func (s *MetricsStorage) AddMetrics(request *collectormetricpb.ExportMetricsServiceRequest) {
	for _, rm := range request.GetResourceMetrics() {
		for _, sm := range rm.GetScopeMetrics() {
			s.metrics = append(s.metrics, sm.GetMetrics()...)
		}
	}
}

func (s *MetricsStorage) GetMetrics() []*metricpb.Metric {
	m := make([]*metricpb.Metric, 0, len(s.metrics))
	return append(m, s.metrics...)
}
