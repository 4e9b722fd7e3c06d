package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	feedbackSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feedback",
		Name:      "submitted_total",
		Help:      "Feedback items accepted, by type and origin.",
	}, []string{"type", "origin"})

	statusChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feedback",
		Name:      "status_changes_total",
		Help:      "Moderation status changes, by target status.",
	}, []string{"status"})

	aggregationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "feedback",
		Name:      "aggregation_failures_total",
		Help:      "Aggregate rating recomputations that failed.",
	})

	notificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feedback",
		Name:      "notification_failures_total",
		Help:      "Notifications dropped after retries, by event.",
	}, []string{"event"})

	rateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "feedback",
		Name:      "rate_limited_total",
		Help:      "Frontend submissions rejected by the per-IP limiter.",
	})
)
