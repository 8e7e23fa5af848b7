package finality

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	BestSourceBlock prometheus.Gauge
	BestTargetBlock prometheus.Gauge
	SubmittedProofs prometheus.Counter
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	metrics := &Metrics{
		BestSourceBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "finality_relay_best_source_block",
			Help: "Best finalized block number at the source chain",
		}),
		BestTargetBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "finality_relay_best_target_block",
			Help: "Best source block number tracked by the target ledger",
		}),
		SubmittedProofs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "finality_relay_submitted_proofs_total",
			Help: "Number of finality proofs submitted and finalized",
		}),
	}
	if registerer != nil {
		registerer.MustRegister(metrics.BestSourceBlock, metrics.BestTargetBlock, metrics.SubmittedProofs)
	}
	return metrics
}
