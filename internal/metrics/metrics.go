package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	versioncollector "github.com/prometheus/client_golang/prometheus/collectors/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "handycombo"

// Collector はデーモンのメトリクスをまとめる
// 独自の Registry を持つので、テストごとに作り直せる
type Collector struct {
	registry *prometheus.Registry

	events     *prometheus.CounterVec
	forwarded  prometheus.Counter
	combos     *prometheus.CounterVec
	dispatches *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	reconnects prometheus.Counter
	connected  prometheus.Gauge
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Input events read from the physical device.",
		}, []string{"kind"}),
		forwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forwarded_total",
			Help:      "Events passed through to the virtual device.",
		}),
		combos: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "combos_fired_total",
			Help:      "Combos recognised.",
		}, []string{"combo"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Actions dispatched by kind and result.",
		}, []string{"kind", "result"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_events_total",
			Help:      "Events dropped by reason.",
		}, []string{"reason"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_reconnects_total",
			Help:      "Times the physical device was attached after a disconnect.",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_connected",
			Help:      "1 while the physical device is grabbed.",
		}),
	}
	c.registry.MustRegister(
		c.events, c.forwarded, c.combos, c.dispatches, c.dropped, c.reconnects, c.connected,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		versioncollector.NewCollector(namespace),
	)
	return c
}

// Registry は登録先の Registry を返す
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler は /metrics 用のハンドラを返す
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) Event(kind string) { c.events.WithLabelValues(kind).Inc() }

func (c *Collector) Forwarded() { c.forwarded.Inc() }

func (c *Collector) ComboFired(name string) { c.combos.WithLabelValues(name).Inc() }

// Dispatched はアクションの実行結果を数える
func (c *Collector) Dispatched(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.dispatches.WithLabelValues(kind, result).Inc()
}

func (c *Collector) Dropped(reason string) { c.dropped.WithLabelValues(reason).Inc() }

func (c *Collector) Reconnected() { c.reconnects.Inc() }

func (c *Collector) SetConnected(connected bool) {
	if connected {
		c.connected.Set(1)
		return
	}
	c.connected.Set(0)
}
