package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(artifactRetrievalsTotal) }

var artifactRetrievalsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "repodocx_artifact_retrievals_total",
		Help: "Artifact retrieval requests by result.",
	},
	[]string{"result"}, // 'ok', 'not_found', 'failed'
)

func IncRetrieval(result string) {
	artifactRetrievalsTotal.WithLabelValues(norm(result)).Inc()
}
