package eventhub

// Prometheus collector for hub delivery statistics.
//
// The collector pulls via the managers' Metrics() snapshots on scrape; the
// publish path carries no extra instrumentation. Register it on any
// prometheus.Registerer:
//
//	collector := eventhub.NewPrometheusCollector(hub, "kernel_eventhub")
//	prometheus.MustRegister(collector)

import (
	"github.com/prometheus/client_golang/prometheus"
)

const defaultMetricsNamespace = "kernel_eventhub"

// PrometheusCollector implements prometheus.Collector over the hub's
// per-topic and per-queue counters. All metrics are generated as
// ConstMetrics on scrape, labelled by channel kind and name.
type PrometheusCollector struct {
	hub *EventHub

	publishedDesc *prometheus.Desc
	consumedDesc  *prometheus.Desc
	failedDesc    *prometheus.Desc
	depthDesc     *prometheus.Desc
	subsDesc      *prometheus.Desc
	avgTimeDesc   *prometheus.Desc
}

// NewPrometheusCollector creates a collector for the hub. namespace is used
// as the metric prefix (default if empty: kernel_eventhub).
func NewPrometheusCollector(hub *EventHub, namespace string) *PrometheusCollector {
	if namespace == "" {
		namespace = defaultMetricsNamespace
	}
	labels := []string{"kind", "name"}
	return &PrometheusCollector{
		hub: hub,
		publishedDesc: prometheus.NewDesc(namespace+"_published_total",
			"Messages accepted for publication.", labels, nil),
		consumedDesc: prometheus.NewDesc(namespace+"_consumed_total",
			"Messages delivered to at least one subscriber.", labels, nil),
		failedDesc: prometheus.NewDesc(namespace+"_failed_total",
			"Messages abandoned after delivery failed for every subscriber.", labels, nil),
		depthDesc: prometheus.NewDesc(namespace+"_queue_depth",
			"Messages currently waiting in the channel.", labels, nil),
		subsDesc: prometheus.NewDesc(namespace+"_subscribers",
			"Active subscribers on the channel.", labels, nil),
		avgTimeDesc: prometheus.NewDesc(namespace+"_avg_processing_ms",
			"Rolling average processing time over recent deliveries.", labels, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.publishedDesc
	ch <- c.consumedDesc
	ch <- c.failedDesc
	ch <- c.depthDesc
	ch <- c.subsDesc
	ch <- c.avgTimeDesc
}

// Collect implements prometheus.Collector.
func (c *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	topics, queues := c.hub.Metrics()
	c.collectKind(ch, "topic", topics)
	c.collectKind(ch, "queue", queues)
}

func (c *PrometheusCollector) collectKind(ch chan<- prometheus.Metric, kind string, metrics map[string]TopicMetrics) {
	for name, m := range metrics {
		ch <- prometheus.MustNewConstMetric(c.publishedDesc, prometheus.CounterValue,
			float64(m.MessagesPublished), kind, name)
		ch <- prometheus.MustNewConstMetric(c.consumedDesc, prometheus.CounterValue,
			float64(m.MessagesConsumed), kind, name)
		ch <- prometheus.MustNewConstMetric(c.failedDesc, prometheus.CounterValue,
			float64(m.FailedMessages), kind, name)
		ch <- prometheus.MustNewConstMetric(c.depthDesc, prometheus.GaugeValue,
			float64(m.MessagesInQueue), kind, name)
		ch <- prometheus.MustNewConstMetric(c.subsDesc, prometheus.GaugeValue,
			float64(m.SubscribersCount), kind, name)
		ch <- prometheus.MustNewConstMetric(c.avgTimeDesc, prometheus.GaugeValue,
			m.AvgProcessingTimeMs, kind, name)
	}
}
