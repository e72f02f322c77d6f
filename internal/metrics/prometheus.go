package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "dx_bots"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry            *prometheus.Registry
	actionsStarted      prometheus.Counter
	actionsJoined       prometheus.Counter
	actionsFailed       prometheus.Counter
	liquiditySales      prometheus.Counter
	ordersPlaced        prometheus.Counter
	ordersFailed        prometheus.Counter
	alertsSent          prometheus.Counter
	alertsSuppressed    prometheus.Counter
	alertsFailed        prometheus.Counter
	balanceChecksFailed prometheus.Counter
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
}

func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry:            prometheus.NewRegistry(),
		actionsStarted:      newCounter("actions_started_total", "Total number of guarded actions that started fresh work."),
		actionsJoined:       newCounter("actions_joined_total", "Total number of triggers that joined an action already in flight."),
		actionsFailed:       newCounter("actions_failed_total", "Total number of guarded actions that settled with an error."),
		liquiditySales:      newCounter("liquidity_sales_total", "Total number of compensating liquidity sells."),
		ordersPlaced:        newCounter("orders_placed_total", "Total number of orders submitted."),
		ordersFailed:        newCounter("orders_failed_total", "Total number of order submission failures."),
		alertsSent:          newCounter("alerts_sent_total", "Total number of alerts dispatched."),
		alertsSuppressed:    newCounter("alerts_suppressed_total", "Total number of alerts suppressed by cooldown."),
		alertsFailed:        newCounter("alerts_failed_total", "Total number of alert transport failures."),
		balanceChecksFailed: newCounter("balance_checks_failed_total", "Total number of balance checks with at least one failed group."),
	}
	p.registry.MustRegister(
		p.actionsStarted,
		p.actionsJoined,
		p.actionsFailed,
		p.liquiditySales,
		p.ordersPlaced,
		p.ordersFailed,
		p.alertsSent,
		p.alertsSuppressed,
		p.alertsFailed,
		p.balanceChecksFailed,
	)
	p.Metrics = &Metrics{
		ActionsStarted:      promCounter{p.actionsStarted},
		ActionsJoined:       promCounter{p.actionsJoined},
		ActionsFailed:       promCounter{p.actionsFailed},
		LiquiditySales:      promCounter{p.liquiditySales},
		OrdersPlaced:        promCounter{p.ordersPlaced},
		OrdersFailed:        promCounter{p.ordersFailed},
		AlertsSent:          promCounter{p.alertsSent},
		AlertsSuppressed:    promCounter{p.alertsSuppressed},
		AlertsFailed:        promCounter{p.alertsFailed},
		BalanceChecksFailed: promCounter{p.balanceChecksFailed},
	}
	return p
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
