// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics accounts the events of the probe that are otherwise silent.
type Metrics interface {
	// InsertFailed is called when a request could not be stored for
	// correlation, typically because the table is full.
	InsertFailed()
	// CorrelationMissed is called when a returning request has no stored
	// entry.
	CorrelationMissed()
	// FieldTruncated is called when a method or path did not fit a record.
	FieldTruncated()
	// ParentPropagated is called when a request continues an upstream trace.
	ParentPropagated()
	// RecordEmitted is called when a record was written to the output.
	RecordEmitted()
	// RecordLost is called when a record was dropped by the output.
	RecordLost()
}

// NoopMetrics is a Metrics that does nothing.
type NoopMetrics struct{}

func (NoopMetrics) InsertFailed()      {}
func (NoopMetrics) CorrelationMissed() {}
func (NoopMetrics) FieldTruncated()    {}
func (NoopMetrics) ParentPropagated()  {}
func (NoopMetrics) RecordEmitted()     {}
func (NoopMetrics) RecordLost()        {}

type promMetrics struct {
	insertFailures    prometheus.Counter
	correlationMisses prometheus.Counter
	truncatedFields   prometheus.Counter
	propagatedParents prometheus.Counter
	emittedRecords    prometheus.Counter
	lostRecords       prometheus.Counter
}

// NewPrometheusMetrics returns Metrics backed by counters registered with
// reg.
func NewPrometheusMetrics(reg prometheus.Registerer) (Metrics, error) {
	m := &promMetrics{
		insertFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autohttp_server_insert_failures_total",
			Help: "How many requests could not be stored for correlation",
		}),
		correlationMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autohttp_server_correlation_misses_total",
			Help: "How many returning requests had no stored entry and produced an empty record",
		}),
		truncatedFields: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autohttp_server_truncated_fields_total",
			Help: "How many methods or paths were longer than a record field",
		}),
		propagatedParents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autohttp_server_propagated_parents_total",
			Help: "How many requests carried a traceparent header",
		}),
		emittedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autohttp_server_emitted_records_total",
			Help: "How many records were written to the output channel",
		}),
		lostRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autohttp_server_lost_records_total",
			Help: "How many records were dropped because the output channel was full",
		}),
	}

	var err error
	for _, c := range []prometheus.Collector{
		m.insertFailures,
		m.correlationMisses,
		m.truncatedFields,
		m.propagatedParents,
		m.emittedRecords,
		m.lostRecords,
	} {
		err = errors.Join(err, reg.Register(c))
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *promMetrics) InsertFailed()      { m.insertFailures.Inc() }
func (m *promMetrics) CorrelationMissed() { m.correlationMisses.Inc() }
func (m *promMetrics) FieldTruncated()    { m.truncatedFields.Inc() }
func (m *promMetrics) ParentPropagated()  { m.propagatedParents.Inc() }
func (m *promMetrics) RecordEmitted()     { m.emittedRecords.Inc() }
func (m *promMetrics) RecordLost()        { m.lostRecords.Inc() }
