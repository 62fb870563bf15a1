package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BookingsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduling_bookings_created_total",
		Help: "Appointments successfully booked.",
	})

	BookingConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduling_booking_conflicts_total",
		Help: "Booking attempts rejected because the interval was taken.",
	})

	SeriesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduling_series_created_total",
		Help: "Appointment series successfully booked.",
	})

	NotificationsScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifications_scheduled_total",
		Help: "Notification records handed to the dispatch queue.",
	})

	NotificationsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_dispatched_total",
		Help: "Dispatch attempts by channel and outcome.",
	}, []string{"channel", "outcome"})

	NotificationsDeferred = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifications_deferred_total",
		Help: "Dispatches deferred by recipient quiet hours.",
	})
)
