package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grievline_notification_deliveries_total",
		Help: "Notifications delivered, by sender and kind.",
	}, []string{"sender", "kind"})

	deliveryFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grievline_notification_failures_total",
		Help: "Notification deliveries that failed, by sender.",
	}, []string{"sender"})
)
