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

package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type ledgerMetrics struct {
	giftsCreatedTotal  prometheus.Counter
	chainsCreatedTotal prometheus.Counter
	claimsTotal        *prometheus.CounterVec
	relayClaimsTotal   *prometheus.CounterVec
	refundsTotal       *prometheus.CounterVec
	expiredTotal       *prometheus.CounterVec
	depositsTotal      prometheus.Counter
	feesCollectedTotal prometheus.Counter
	valueLocked        prometheus.Gauge
	journalSeq         prometheus.Gauge
	startTime          prometheus.Gauge
}

func (m *ledgerMetrics) init(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	m.giftsCreatedTotal = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "cachet_ledger_gifts_created_total",
		Help: "total number of gifts created",
	})
	m.chainsCreatedTotal = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "cachet_ledger_chains_created_total",
		Help: "total number of chains created",
	})
	m.claimsTotal = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cachet_ledger_claims_total",
			Help: "total number of claim attempts by target kind and outcome",
		},
		[]string{"target", "outcome"},
	)
	m.relayClaimsTotal = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cachet_ledger_relay_claims_total",
			Help: "total number of relayed claim attempts by outcome",
		},
		[]string{"outcome"},
	)
	m.refundsTotal = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cachet_ledger_refunds_total",
			Help: "total number of refunds by target kind and reason",
		},
		[]string{"target", "reason"},
	)
	m.expiredTotal = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cachet_ledger_expired_total",
			Help: "total number of targets flagged by the expiry sweep",
		},
		[]string{"target"},
	)
	m.depositsTotal = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "cachet_ledger_deposits_total",
		Help: "total value credited via operator deposits",
	})
	m.feesCollectedTotal = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "cachet_ledger_fees_collected_total",
		Help: "total value collected as settlement fees",
	})
	m.valueLocked = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "cachet_ledger_value_locked",
		Help: "value currently held in escrow",
	})
	m.journalSeq = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "cachet_ledger_journal_sequence",
		Help: "sequence number of the newest journal entry",
	})
	m.startTime = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "cachet_ledger_start_time",
		Help: "unix timestamp when the ledger started",
	})
}
