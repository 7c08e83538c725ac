// Package metrics exposes the broker's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "judgehub"

var (
	TasksEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_enqueued_total",
		Help:      "Judge tasks added to the queue.",
	})
	TasksDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_dispatched_total",
		Help:      "Judge tasks handed to a daemon.",
	})
	TasksRequeued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_requeued_total",
		Help:      "In-flight tasks returned to the queue after a disconnect.",
	})
	ResultsMerged = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "results_merged_total",
		Help:      "Worker result frames merged into records.",
	}, []string{"key"})
	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_dropped_total",
		Help:      "Worker frames discarded before merging.",
	}, []string{"reason"})
	PostJudgeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "post_judge_failures_total",
		Help:      "Failed post-judge steps.",
	}, []string{"step"})
	Sessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions",
		Help:      "Connected judge daemons.",
	})
	InFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tasks_in_flight",
		Help:      "Tasks currently held by judge daemons.",
	})
)
