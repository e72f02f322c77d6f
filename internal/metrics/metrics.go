package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	ActionsStarted      Counter
	ActionsJoined       Counter
	ActionsFailed       Counter
	LiquiditySales      Counter
	OrdersPlaced        Counter
	OrdersFailed        Counter
	AlertsSent          Counter
	AlertsSuppressed    Counter
	AlertsFailed        Counter
	BalanceChecksFailed Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		ActionsStarted:      n,
		ActionsJoined:       n,
		ActionsFailed:       n,
		LiquiditySales:      n,
		OrdersPlaced:        n,
		OrdersFailed:        n,
		AlertsSent:          n,
		AlertsSuppressed:    n,
		AlertsFailed:        n,
		BalanceChecksFailed: n,
	}
}

// OrNoop lets constructors accept a nil *Metrics.
func OrNoop(m *Metrics) *Metrics {
	if m == nil {
		return NewNoop()
	}
	return m
}
