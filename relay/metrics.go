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

package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type relayMetrics struct {
	submissionsTotal *prometheus.CounterVec
	pendingClaims    prometheus.GaugeFunc
	nodeRoundTrip    prometheus.Histogram
}

func (m *relayMetrics) init(
	promRegistry prometheus.Registerer,
	pendingSize func() float64,
) {
	promautoFactory := promauto.With(promRegistry)
	m.submissionsTotal = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cachet_relay_submissions_total",
			Help: "total number of relayed claim submissions by target kind and result",
		},
		[]string{"target", "result"},
	)
	m.pendingClaims = promautoFactory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "cachet_relay_pending_claims",
			Help: "number of claims currently in flight toward the node",
		},
		pendingSize,
	)
	m.nodeRoundTrip = promautoFactory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cachet_relay_node_round_trip_seconds",
			Help:    "round-trip time of claim submissions to the node",
			Buckets: prometheus.DefBuckets,
		},
	)
}
