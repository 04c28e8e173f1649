package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var appendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "govledger_ledger_appends_total",
	Help: "Entries appended, by ledger domain.",
}, []string{"domain"})
