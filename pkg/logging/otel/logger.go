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

// Package otel exports session metrics through an OTLP/HTTP meter provider.
// Until InitMetricProvider runs, every Record call goes to the global no-op
// meter.
package otel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"fixengine/pkg/logging"
	otelCfg "fixengine/pkg/logging/otel/config"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric/global"
	"go.opentelemetry.io/otel/metric/instrument"
	"go.opentelemetry.io/otel/metric/instrument/syncint64"
	"go.opentelemetry.io/otel/metric/unit"
	"go.opentelemetry.io/otel/sdk/instrumentation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/aggregation"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

type CMetric int

const (
	MsgSent CMetric = CMetric(iota)
	MsgReceived
	MsgResent
	GapFill
	ResendRequest
	RejectSent
	RejectReceived
	ChecksumError
	StateChange
	SessionClose
)

type Tags struct {
	TagName  string
	TagValue string
}

const (
	Session = string("session")
	MsgType = string("msg_type")
	State   = string("state")
	Reason  = string("reason")
	Status  = string("status")
)

const (
	StatusSuccess string = "SUCCESS"
	StatusError   string = "ERROR"
)

const METRIC_PREFIX = "fix.engine."
const MeterName = "fixengine-meter"

const (
	sendHistogramName  = "send"
	flushHistogramName = "recorder_flush"
)

type countMetric struct {
	metricName    string
	metricDesc    string
	counter       syncint64.Counter
	createCounter sync.Once
}

var countMetricMap = map[CMetric]*countMetric{
	MsgSent:        {metricName: "msg_sent", metricDesc: "Messages sent with a new MsgSeqNum"},
	MsgReceived:    {metricName: "msg_received", metricDesc: "Frames received and parsed"},
	MsgResent:      {metricName: "msg_resent", metricDesc: "Messages replayed with PossDupFlag"},
	GapFill:        {metricName: "gap_fill", metricDesc: "SequenceReset messages sent, gap-fill or reset"},
	ResendRequest:  {metricName: "resend_request", metricDesc: "ResendRequest messages sent"},
	RejectSent:     {metricName: "reject_sent", metricDesc: "Session and business rejects sent"},
	RejectReceived: {metricName: "reject_received", metricDesc: "Session and business rejects received"},
	ChecksumError:  {metricName: "checksum_error", metricDesc: "Frames discarded on checksum mismatch"},
	StateChange:    {metricName: "state_change", metricDesc: "Session state transitions"},
	SessionClose:   {metricName: "session_close", metricDesc: "Sessions closed"},
}

var (
	sendHistogramOnce  sync.Once
	flushHistogramOnce sync.Once
	sendHistogram      syncint64.Histogram
	flushHistogram     syncint64.Histogram
)

var (
	providerMtx   sync.Mutex
	meterProvider *metric.MeterProvider
)

func Initialize(c *otelCfg.Config) (err error) {
	if c == nil {
		err = fmt.Errorf("otel: nil config")
		logging.Errorf("%s", err)
		return
	}
	c.SetDefaultIfNotDefined()
	if err = c.Validate(); err != nil {
		return
	}
	c.Dump()
	if c.Enabled {
		err = InitMetricProvider(c)
	}
	return
}

func InitMetricProvider(config *otelCfg.Config) error {
	providerMtx.Lock()
	defer providerMtx.Unlock()
	if meterProvider != nil {
		logging.Infof("otel: meter provider already initialized")
		return nil
	}
	config.SetDefaultIfNotDefined()

	sendView := metric.NewView(
		metric.Instrument{
			Name:  PopulateMetricNamePrefix(sendHistogramName),
			Scope: instrumentation.Scope{Name: MeterName},
		},
		metric.Stream{
			Aggregation: aggregation.ExplicitBucketHistogram{
				Boundaries: config.HistogramBuckets.Send,
			},
		})
	flushView := metric.NewView(
		metric.Instrument{
			Name:  PopulateMetricNamePrefix(flushHistogramName),
			Scope: instrumentation.Scope{Name: MeterName},
		},
		metric.Stream{
			Aggregation: aggregation.ExplicitBucketHistogram{
				Boundaries: config.HistogramBuckets.RecorderFlush,
			},
		})

	provider, err := NewMeterProvider(context.Background(), *config, sendView, flushView)
	if err != nil {
		logging.Errorf("otel: %s", err)
		return err
	}
	meterProvider = provider
	global.SetMeterProvider(provider)
	logging.Infof("otel: exporting to %s:%d every %ds", config.Host, config.Port, config.Resolution)
	return nil
}

func NewMeterProvider(ctx context.Context, cfg otelCfg.Config, vis ...metric.View) (*metric.MeterProvider, error) {
	exp, err := NewHTTPExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	reader := metric.NewPeriodicReader(exp, metric.WithInterval(time.Duration(cfg.Resolution)*time.Second))
	return metric.NewMeterProvider(
		metric.WithResource(getResourceInfo(cfg)),
		metric.WithReader(reader),
		metric.WithView(vis...),
	), nil
}

func NewHTTPExporter(ctx context.Context, cfg otelCfg.Config) (metric.Exporter, error) {
	var deltaTemporalitySelector = func(metric.InstrumentKind) metricdata.Temporality { return metricdata.DeltaTemporality }
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)),
		otlpmetrichttp.WithURLPath("/" + cfg.UrlPath),
		otlpmetrichttp.WithTimeout(7 * time.Second),
		otlpmetrichttp.WithCompression(otlpmetrichttp.NoCompression),
		otlpmetrichttp.WithTemporalitySelector(deltaTemporalitySelector),
		otlpmetrichttp.WithRetry(otlpmetrichttp.RetryConfig{
			Enabled:         true,
			InitialInterval: 1 * time.Second,
			MaxInterval:     10 * time.Second,
			MaxElapsedTime:  240 * time.Second,
		}),
	}
	if !cfg.UseTls {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	return otlpmetrichttp.New(ctx, opts...)
}

func IsEnabled() bool {
	providerMtx.Lock()
	defer providerMtx.Unlock()
	return meterProvider != nil
}

// Flush pushes everything recorded so far to the collector.
func Flush(ctx context.Context) error {
	providerMtx.Lock()
	mp := meterProvider
	providerMtx.Unlock()
	if mp == nil {
		return nil
	}
	return mp.ForceFlush(ctx)
}

func Shutdown(ctx context.Context) error {
	providerMtx.Lock()
	mp := meterProvider
	meterProvider = nil
	providerMtx.Unlock()
	if mp == nil {
		return nil
	}
	return mp.Shutdown(ctx)
}

func getHistogram(once *sync.Once, h *syncint64.Histogram, name string, desc string) (syncint64.Histogram, error) {
	var err error
	once.Do(func() {
		meter := global.Meter(MeterName)
		*h, err = meter.SyncInt64().Histogram(
			PopulateMetricNamePrefix(name),
			instrument.WithDescription(desc),
			instrument.WithUnit(unit.Unit("us")),
		)
	})
	if *h == nil {
		if err == nil {
			err = errors.New("histogram not ready")
		}
		return nil, err
	}
	return *h, nil
}

func GetCounter(counterName CMetric) (syncint64.Counter, error) {
	counterMetric, ok := countMetricMap[counterName]
	if !ok {
		return nil, errors.New("no such counter")
	}
	counterMetric.createCounter.Do(func() {
		meter := global.Meter(MeterName)
		counterMetric.counter, _ = meter.SyncInt64().Counter(
			PopulateMetricNamePrefix(counterMetric.metricName),
			instrument.WithDescription(counterMetric.metricDesc),
		)
	})
	if counterMetric.counter == nil {
		return nil, errors.New("counter not ready")
	}
	return counterMetric.counter, nil
}

// RecordSend records the time from building to handing a frame to the
// transport, in microseconds.
func RecordSend(session string, msgType string, latency int64) {
	if h, err := getHistogram(&sendHistogramOnce, &sendHistogram, sendHistogramName, "Histogram for FIX send path"); err == nil {
		h.Record(context.Background(), latency,
			attribute.String(Session, session),
			attribute.String(MsgType, msgType))
	}
}

// RecordRecorderFlush records one background write of buffered log lines.
func RecordRecorderFlush(status string, latency int64) {
	if h, err := getHistogram(&flushHistogramOnce, &flushHistogram, flushHistogramName, "Histogram for recorder flush"); err == nil {
		h.Record(context.Background(), latency, attribute.String(Status, status))
	}
}

func RecordCount(counterName CMetric, tags []Tags) {
	counter, err := GetCounter(counterName)
	if err != nil {
		logging.Errorf("otel: %s", err)
		return
	}
	if len(tags) != 0 {
		counter.Add(context.Background(), 1, covertTagsToOTELAttributes(tags)...)
	} else {
		counter.Add(context.Background(), 1)
	}
}

func covertTagsToOTELAttributes(tags []Tags) (attr []attribute.KeyValue) {
	attr = make([]attribute.KeyValue, len(tags))
	for i := 0; i < len(tags); i++ {
		attr[i] = attribute.String(tags[i].TagName, tags[i].TagValue)
	}
	return
}

func PopulateMetricNamePrefix(metricName string) string {
	return METRIC_PREFIX + metricName
}

func getResourceInfo(cfg otelCfg.Config) *resource.Resource {
	hostname, _ := os.Hostname()
	return resource.NewWithAttributes(semconv.SchemaURL,
		semconv.HostNameKey.String(hostname),
		semconv.ServiceNameKey.String(cfg.Poolname),
		attribute.String("environment", cfg.Environment),
		attribute.String("application", cfg.Poolname),
	)
}
