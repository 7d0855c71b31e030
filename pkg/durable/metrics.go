// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

package durable

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector records runtime activity in Prometheus. Nothing is
// recorded for replayed steps.
type MetricsCollector struct {
	executionsStarted  *prometheus.CounterVec
	executionsFinished *prometheus.CounterVec
	activitiesTotal    *prometheus.CounterVec
	activityDuration   *prometheus.HistogramVec
	signalsTotal       *prometheus.CounterVec
}

// NewMetricsCollector creates a collector and registers it with registerer.
func NewMetricsCollector(namespace string, registerer prometheus.Registerer) (*MetricsCollector, error) {
	if namespace == "" {
		namespace = "opsflow"
	}
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}

	c := &MetricsCollector{
		executionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "executions_started_total",
			Help:      "Total number of workflow executions started",
		}, []string{"workflow_type"}),
		executionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "executions_finished_total",
			Help:      "Total number of workflow executions finished, by final status",
		}, []string{"workflow_type", "status"}),
		activitiesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "activities_total",
			Help:      "Total number of activity invocations, by outcome",
		}, []string{"activity", "status"}),
		activityDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "activity_duration_seconds",
			Help:      "Duration of activity invocations including retries",
			Buckets:   prometheus.DefBuckets,
		}, []string{"activity"}),
		signalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "signals_total",
			Help:      "Total number of signals handed to workflows, by outcome",
		}, []string{"signal", "outcome"}),
	}

	for _, metric := range []prometheus.Collector{
		c.executionsStarted, c.executionsFinished, c.activitiesTotal, c.activityDuration, c.signalsTotal,
	} {
		if err := registerer.Register(metric); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return c, nil
}

func (c *MetricsCollector) recordStarted(workflowType string) {
	if c == nil {
		return
	}
	c.executionsStarted.WithLabelValues(workflowType).Inc()
}

func (c *MetricsCollector) recordFinished(workflowType string, status ExecutionStatus) {
	if c == nil {
		return
	}
	c.executionsFinished.WithLabelValues(workflowType, status.String()).Inc()
}

func (c *MetricsCollector) recordActivity(name, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.activitiesTotal.WithLabelValues(name, status).Inc()
	c.activityDuration.WithLabelValues(name).Observe(d.Seconds())
}

func (c *MetricsCollector) recordSignal(name, outcome string) {
	if c == nil {
		return
	}
	c.signalsTotal.WithLabelValues(name, outcome).Inc()
}
