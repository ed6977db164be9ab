/*
 * Copyright 2024 The F1r3fly Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Source is a named collector instance for one rspace.Space, covering
// comm.produce, comm.consume,
// comm.produce-time, comm.consume-time, reset and revert-soft-checkpoint.
type Source struct {
	produceTotal prometheus.Counter
	consumeTotal prometheus.Counter
	produceTime  prometheus.Histogram
	consumeTime  prometheus.Histogram
	resetTotal   prometheus.Counter
	revertTotal  prometheus.Counter
}

// NewSource builds and registers a Source labelled with prefix against
// registry. Passing a nil registry skips registration, for callers that
// don't want a live exporter.
func NewSource(prefix string, registry *prometheus.Registry) *Source {
	s := &Source{
		produceTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_comm_produce_total",
			Help: "Total number of produce calls.",
		}),
		consumeTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_comm_consume_total",
			Help: "Total number of consume calls.",
		}),
		produceTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: prefix + "_comm_produce_time_seconds",
			Help: "Latency of produce calls.",
		}),
		consumeTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: prefix + "_comm_consume_time_seconds",
			Help: "Latency of consume calls.",
		}),
		resetTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_reset_total",
			Help: "Total number of reset calls.",
		}),
		revertTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_revert_soft_checkpoint_total",
			Help: "Total number of revertToSoftCheckpoint calls.",
		}),
	}
	if registry != nil {
		registry.MustRegister(
			s.produceTotal, s.consumeTotal,
			s.produceTime, s.consumeTime,
			s.resetTotal, s.revertTotal,
		)
	}
	return s
}

// ObserveProduce records one produce call's wall-clock duration.
func (s *Source) ObserveProduce(d time.Duration) {
	if s == nil {
		return
	}
	s.produceTotal.Inc()
	s.produceTime.Observe(d.Seconds())
}

// ObserveConsume records one consume call's wall-clock duration.
func (s *Source) ObserveConsume(d time.Duration) {
	if s == nil {
		return
	}
	s.consumeTotal.Inc()
	s.consumeTime.Observe(d.Seconds())
}

// IncReset records one reset (or clear) call.
func (s *Source) IncReset() {
	if s == nil {
		return
	}
	s.resetTotal.Inc()
}

// IncRevertSoftCheckpoint records one revertToSoftCheckpoint call.
func (s *Source) IncRevertSoftCheckpoint() {
	if s == nil {
		return
	}
	s.revertTotal.Inc()
}
