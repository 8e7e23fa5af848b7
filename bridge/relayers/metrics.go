// Copyright 2023 Crosslane
// SPDX-License-Identifier: LGPL-3.0-only

package relayers

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	RewardTotal *prometheus.CounterVec
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	metrics := &Metrics{
		RewardTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relayer_reward_total",
			Help: "Total reward credited to a relayer on a lane",
		}, []string{"relayer", "lane"}),
	}
	if registerer != nil {
		registerer.MustRegister(metrics.RewardTotal)
	}
	return metrics
}
