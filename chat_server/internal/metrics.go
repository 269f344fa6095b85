package internal

import "github.com/prometheus/client_golang/prometheus"

// metrics 服务器运行指标。registerer 为 nil 时指标只在内存中累计。
type metrics struct {
	connections      *prometheus.GaugeVec
	authAttempts     *prometheus.CounterVec
	messagesRouted   *prometheus.CounterVec
	deliveryFailures prometheus.Counter
	groups           prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "chat",
			Name:      "connections",
			Help:      "Open connections by phase (session = not yet authenticated, client = authenticated).",
		}, []string{"state"}),
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "auth_attempts_total",
			Help:      "Completed login attempts by result.",
		}, []string{"result"}),
		messagesRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "messages_routed_total",
			Help:      "Lines handled by the message router by kind.",
		}, []string{"kind"}),
		deliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "delivery_failures_total",
			Help:      "Outbound writes that failed or timed out.",
		}),
		groups: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chat",
			Name:      "groups",
			Help:      "Number of groups, including empty ones.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.connections, m.authAttempts, m.messagesRouted, m.deliveryFailures, m.groups)
	}
	return m
}

// 认证结果标签
const (
	authSuccess   = "success"
	authDuplicate = "duplicate"
	authFailed    = "failed"
)

// 路由消息类型标签
const (
	kindDirect    = "direct"
	kindBroadcast = "broadcast"
	kindGroup     = "group"
	kindSystem    = "system"
	kindHelp      = "help"
)
