// =============================================================================
// 文件: internal/metrics/collectors.go
// 描述: Prometheus 指标收集器定义
// =============================================================================
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// =============================================================================
// Sender 收集器
// =============================================================================

// SenderStats 发送端统计数据接口
type SenderStats interface {
	GetTotal() int64
	GetSent() int64
	GetAcked() int64
	GetAbandoned() int64
	GetRetries() int64
	GetPending() int
	GetQueueDepth() int
	GetOutcome() string
}

// SenderCollector 发送端指标收集器
type SenderCollector struct {
	statsProvider SenderStats

	totalDesc      *prometheus.Desc
	sentDesc       *prometheus.Desc
	ackedDesc      *prometheus.Desc
	abandonedDesc  *prometheus.Desc
	retriesDesc    *prometheus.Desc
	pendingDesc    *prometheus.Desc
	queueDepthDesc *prometheus.Desc
	outcomeDesc    *prometheus.Desc
}

// NewSenderCollector 创建发送端收集器
func NewSenderCollector(provider SenderStats) *SenderCollector {
	namespace := "courier"
	subsystem := "sender"

	return &SenderCollector{
		statsProvider: provider,

		totalDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "messages_total"),
			"Configured number of messages for this session",
			nil, nil,
		),
		sentDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "sent_total"),
			"Messages written to the transport for the first time",
			nil, nil,
		),
		ackedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "acked_total"),
			"Messages confirmed by the peer",
			nil, nil,
		),
		abandonedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "abandoned_total"),
			"Messages given up after exhausting retries",
			nil, nil,
		),
		retriesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "retries_total"),
			"Retransmissions scheduled",
			nil, nil,
		),
		pendingDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "pending"),
			"Messages awaiting acknowledgement",
			nil, nil,
		),
		queueDepthDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "queue_depth"),
			"Outbound queue depth",
			nil, nil,
		),
		outcomeDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "outcome"),
			"Session outcome (1 = active)",
			[]string{"outcome"}, nil,
		),
	}
}

// Describe 实现 prometheus.Collector 接口
func (c *SenderCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.totalDesc
	ch <- c.sentDesc
	ch <- c.ackedDesc
	ch <- c.abandonedDesc
	ch <- c.retriesDesc
	ch <- c.pendingDesc
	ch <- c.queueDepthDesc
	ch <- c.outcomeDesc
}

// Collect 实现 prometheus.Collector 接口
func (c *SenderCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.totalDesc, prometheus.GaugeValue,
		float64(c.statsProvider.GetTotal()))
	ch <- prometheus.MustNewConstMetric(c.sentDesc, prometheus.CounterValue,
		float64(c.statsProvider.GetSent()))
	ch <- prometheus.MustNewConstMetric(c.ackedDesc, prometheus.CounterValue,
		float64(c.statsProvider.GetAcked()))
	ch <- prometheus.MustNewConstMetric(c.abandonedDesc, prometheus.CounterValue,
		float64(c.statsProvider.GetAbandoned()))
	ch <- prometheus.MustNewConstMetric(c.retriesDesc, prometheus.CounterValue,
		float64(c.statsProvider.GetRetries()))
	ch <- prometheus.MustNewConstMetric(c.pendingDesc, prometheus.GaugeValue,
		float64(c.statsProvider.GetPending()))
	ch <- prometheus.MustNewConstMetric(c.queueDepthDesc, prometheus.GaugeValue,
		float64(c.statsProvider.GetQueueDepth()))

	outcome := c.statsProvider.GetOutcome()
	for _, o := range []string{"streaming", "complete", "cancelled", "disconnected"} {
		val := 0.0
		if o == outcome {
			val = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.outcomeDesc, prometheus.GaugeValue, val, o)
	}
}

// =============================================================================
// Receiver 收集器
// =============================================================================

// ReceiverStats 接收端统计数据接口
type ReceiverStats interface {
	GetReceived() int64
	GetDelivered() int64
	GetDropped() int64
	GetDuplicates() int64
	GetAcksSent() int64
}

// ReceiverCollector 接收端指标收集器
type ReceiverCollector struct {
	statsProvider ReceiverStats

	receivedDesc   *prometheus.Desc
	deliveredDesc  *prometheus.Desc
	droppedDesc    *prometheus.Desc
	duplicatesDesc *prometheus.Desc
	acksSentDesc   *prometheus.Desc
}

// NewReceiverCollector 创建接收端收集器
func NewReceiverCollector(provider ReceiverStats) *ReceiverCollector {
	namespace := "courier"
	subsystem := "receiver"

	return &ReceiverCollector{
		statsProvider: provider,

		receivedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "received_total"),
			"Data frames received (including duplicates)",
			nil, nil,
		),
		deliveredDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "delivered_total"),
			"Messages delivered to the application",
			nil, nil,
		),
		droppedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "dropped_total"),
			"Messages dropped by the loss simulator",
			nil, nil,
		),
		duplicatesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "duplicates_total"),
			"Duplicate data frames (re-acked, not re-delivered)",
			nil, nil,
		),
		acksSentDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "acks_sent_total"),
			"Acknowledgement frames sent",
			nil, nil,
		),
	}
}

// Describe 实现 prometheus.Collector 接口
func (c *ReceiverCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.receivedDesc
	ch <- c.deliveredDesc
	ch <- c.droppedDesc
	ch <- c.duplicatesDesc
	ch <- c.acksSentDesc
}

// Collect 实现 prometheus.Collector 接口
func (c *ReceiverCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.receivedDesc, prometheus.CounterValue,
		float64(c.statsProvider.GetReceived()))
	ch <- prometheus.MustNewConstMetric(c.deliveredDesc, prometheus.CounterValue,
		float64(c.statsProvider.GetDelivered()))
	ch <- prometheus.MustNewConstMetric(c.droppedDesc, prometheus.CounterValue,
		float64(c.statsProvider.GetDropped()))
	ch <- prometheus.MustNewConstMetric(c.duplicatesDesc, prometheus.CounterValue,
		float64(c.statsProvider.GetDuplicates()))
	ch <- prometheus.MustNewConstMetric(c.acksSentDesc, prometheus.CounterValue,
		float64(c.statsProvider.GetAcksSent()))
}
