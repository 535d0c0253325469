// Copyright 2025 Cachet Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package archive

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type archiverMetrics struct {
	segmentsTotal prometheus.Counter
	entriesTotal  prometheus.Counter
	errorsTotal   prometheus.Counter
	lastSequence  prometheus.Gauge
}

func (m *archiverMetrics) init(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	m.segmentsTotal = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "cachet_archive_segments_total",
			Help: "total number of journal segment objects uploaded",
		},
	)
	m.entriesTotal = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "cachet_archive_entries_total",
			Help: "total number of journal entries archived",
		},
	)
	m.errorsTotal = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "cachet_archive_errors_total",
			Help: "total number of failed archive passes",
		},
	)
	m.lastSequence = promautoFactory.NewGauge(
		prometheus.GaugeOpts{
			Name: "cachet_archive_last_sequence",
			Help: "highest journal sequence number archived",
		},
	)
}
