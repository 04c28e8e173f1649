// Package alert tells operators and peer instances when the system state
// changes: by mail to configured recipients and by signed webhook to peer
// notify endpoints.
package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/aikewa/govledger/internal/integrity"
)

// EventStateChanged is the webhook event type for state transitions.
const EventStateChanged = "system_state_changed"

var deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "govledger_alert_deliveries_total",
	Help: "Alert deliveries by channel and result.",
}, []string{"channel", "result"})

// StatePayload is the webhook payload for EventStateChanged.
type StatePayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Notifier fans a state change out to mail recipients and peers. Either
// channel may be absent.
type Notifier struct {
	sender     Sender
	recipients []string
	peers      *Dispatcher
	now        func() time.Time
	logger     *zap.Logger
}

// NewNotifier creates a Notifier. sender may be nil when recipients is
// empty; peers may be nil.
func NewNotifier(sender Sender, recipients []string, peers *Dispatcher, logger *zap.Logger) *Notifier {
	return &Notifier{
		sender:     sender,
		recipients: recipients,
		peers:      peers,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger,
	}
}

// SetClock overrides the time source.
func (n *Notifier) SetClock(now func() time.Time) { n.now = now }

// StateChanged matches health.StateChangeFunc. The first run after startup
// (from is empty) is not announced.
func (n *Notifier) StateChanged(ctx context.Context, from, to integrity.SystemState) {
	if from == "" || from == to {
		return
	}
	at := n.now()
	subject := fmt.Sprintf("[govledger] system state %s", to)
	body := fmt.Sprintf("System state changed from %s to %s at %s.\n\nRun `ledgerctl check` for the open issues.\n",
		from, to, at.Format(time.RFC3339))

	if n.sender != nil {
		for _, to := range n.recipients {
			if err := n.sender.Send(ctx, to, subject, body); err != nil {
				deliveriesTotal.WithLabelValues("email", "failed").Inc()
				n.logger.Error("alert: mail failed", zap.Error(err))
				continue
			}
			deliveriesTotal.WithLabelValues("email", "delivered").Inc()
		}
	}

	if n.peers != nil {
		delivered, err := n.peers.Dispatch(ctx, EventStateChanged, StatePayload{From: string(from), To: string(to)}, at)
		if err != nil {
			n.logger.Error("alert: webhook dispatch", zap.Error(err))
			return
		}
		n.logger.Info("alert: peers notified", zap.Int("delivered", delivered), zap.Int("peers", len(n.peers.urls)))
	}
}
