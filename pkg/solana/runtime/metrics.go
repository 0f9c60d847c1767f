package runtime

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "runtime"

type bankMetrics struct {
	transactionsProcessed prometheus.Counter
	transactionsFailed    *prometheus.CounterVec
	instructionsExecuted  prometheus.Counter
	feesCollected         prometheus.Counter
}

func newMetrics() (*prometheus.Registry, *bankMetrics, error) {
	r := prometheus.NewRegistry()

	m := &bankMetrics{
		transactionsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "transactions_processed",
			Help:      "number of transactions committed to the ledger",
		}),
		transactionsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "transactions_failed",
			Help:      "number of rejected or failed transactions",
		}, []string{"error"}),
		instructionsExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "instructions_executed",
			Help:      "number of top level instructions executed",
		}),
		feesCollected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "fees_collected",
			Help:      "lamports charged as transaction fees",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.transactionsProcessed,
		m.transactionsFailed,
		m.instructionsExecuted,
		m.feesCollected,
	} {
		if err := r.Register(c); err != nil {
			return nil, nil, err
		}
	}

	return r, m, nil
}
