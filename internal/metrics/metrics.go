package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 引擎运行指标（/metrics 暴露）
var (
	// SamplesAccepted 接受并入库的定位样本数
	SamplesAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tracking",
		Name:      "samples_accepted_total",
		Help:      "Number of location samples accepted",
	})

	// SamplesRejected 按原因统计被拒绝的样本数（stale 乱序样本静默丢弃，只计数）
	SamplesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracking",
		Name:      "samples_rejected_total",
		Help:      "Number of location samples rejected by reason",
	}, []string{"reason"})

	// StoreDegraded 持久化重试耗尽、样本进入溢出缓冲的次数
	StoreDegraded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tracking",
		Name:      "store_degraded_total",
		Help:      "Number of samples diverted to the overflow buffer after store retries were exhausted",
	})

	// OverflowDropped 溢出缓冲已满被丢弃（并记日志）的样本数
	OverflowDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tracking",
		Name:      "overflow_dropped_total",
		Help:      "Number of samples dropped because the overflow buffer was full",
	})

	// ViolationsRaised 创建的违规数
	ViolationsRaised = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tracking",
		Name:      "violations_raised_total",
		Help:      "Number of geofence violations raised",
	})

	// AlertsRaised 创建的紧急报警数
	AlertsRaised = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tracking",
		Name:      "alerts_raised_total",
		Help:      "Number of emergency alerts raised",
	})

	// EventsDropped 订阅者发送队列溢出丢弃的事件数
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tracking",
		Name:      "hub_events_dropped_total",
		Help:      "Number of events dropped from subscriber send queues",
	})

	// SubscribersEvicted 投递重试耗尽被驱逐的订阅者数
	SubscribersEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tracking",
		Name:      "hub_subscribers_evicted_total",
		Help:      "Number of subscribers evicted after delivery retries were exhausted",
	})
)
