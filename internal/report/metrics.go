package report

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the engine's Prometheus collectors.
type Metrics struct {
	loadsTotal      *prometheus.CounterVec
	loadDuration    prometheus.Histogram
	queriesTotal    *prometheus.CounterVec
	queryDuration   *prometheus.HistogramVec
	datasetEntities *prometheus.GaugeVec
}

// NewMetrics creates the engine collectors and registers them on reg.
// A nil reg yields working but unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		loadsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sales_report_loads_total",
			Help: "Dataset loads by result",
		}, []string{"result"}),
		loadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "sales_report_load_duration_seconds",
			Help:    "Time to validate, index and persist a dataset",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		}),
		queriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sales_report_queries_total",
			Help: "Report queries by report and result",
		}, []string{"report", "result"}),
		queryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sales_report_query_duration_seconds",
			Help:    "Time to compute a report",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1.0},
		}, []string{"report"}),
		datasetEntities: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sales_report_dataset_entities",
			Help: "Entities in the published snapshot by kind",
		}, []string{"kind"}),
	}
}

func (m *Metrics) observeSnapshot(s *snapshot) {
	m.datasetEntities.WithLabelValues("customer").Set(float64(len(s.customers)))
	m.datasetEntities.WithLabelValues("order").Set(float64(len(s.orders)))
	m.datasetEntities.WithLabelValues("product").Set(float64(len(s.products)))
	m.datasetEntities.WithLabelValues("order_item").Set(float64(len(s.items)))
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
