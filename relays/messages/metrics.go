package messages

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	LatestGeneratedNonce *prometheus.GaugeVec
	LatestReceivedNonce  *prometheus.GaugeVec
	LastDeliveredNonce   *prometheus.GaugeVec
	LastConfirmedNonce   *prometheus.GaugeVec
	ProofBytes           *prometheus.GaugeVec
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	laneLabel := []string{"lane"}
	metrics := &Metrics{
		LatestGeneratedNonce: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "message_lane_latest_generated_nonce",
			Help: "Latest nonce generated at the source outbound lane",
		}, laneLabel),
		LatestReceivedNonce: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "message_lane_latest_received_nonce",
			Help: "Latest nonce the source knows to be received by the target",
		}, laneLabel),
		LastDeliveredNonce: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "message_lane_last_delivered_nonce",
			Help: "Last nonce delivered to the target inbound lane",
		}, laneLabel),
		LastConfirmedNonce: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "message_lane_last_confirmed_nonce",
			Help: "Last nonce confirmed back to the source chain",
		}, laneLabel),
		ProofBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "message_lane_proof_bytes",
			Help: "Size in bytes of the last constructed storage proof",
		}, laneLabel),
	}
	if registerer != nil {
		registerer.MustRegister(
			metrics.LatestGeneratedNonce,
			metrics.LatestReceivedNonce,
			metrics.LastDeliveredNonce,
			metrics.LastConfirmedNonce,
			metrics.ProofBytes,
		)
	}
	return metrics
}
