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

package blueprint

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector records blueprint outcomes in Prometheus. Replayed
// steps are not recorded.
type MetricsCollector struct {
	executionsTotal    *prometheus.CounterVec
	compensationsTotal *prometheus.CounterVec
	approvalsTotal     *prometheus.CounterVec
	approvalWait       *prometheus.HistogramVec
	dispatchesTotal    *prometheus.CounterVec
	flagChecksTotal    *prometheus.CounterVec
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
		executionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "blueprint",
			Name:      "executions_total",
			Help:      "Total number of blueprint runs, by outcome",
		}, []string{"blueprint", "outcome"}),
		compensationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "blueprint",
			Name:      "compensations_total",
			Help:      "Total number of compensation actions run, by outcome",
		}, []string{"blueprint", "outcome"}),
		approvalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "blueprint",
			Name:      "approvals_total",
			Help:      "Total number of approval cycles, by final status",
		}, []string{"blueprint", "status"}),
		approvalWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "blueprint",
			Name:      "approval_wait_seconds",
			Help:      "Time from approval request to resolution",
			Buckets:   []float64{30, 60, 300, 900, 1800, 3600, 4 * 3600, 24 * 3600},
		}, []string{"blueprint", "status"}),
		dispatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "blueprint",
			Name:      "capability_dispatches_total",
			Help:      "Total number of capability dispatches, by outcome",
		}, []string{"capability", "outcome"}),
		flagChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "blueprint",
			Name:      "flag_checks_total",
			Help:      "Total number of feature flag checks, by result",
		}, []string{"result"}),
	}

	for _, metric := range []prometheus.Collector{
		c.executionsTotal, c.compensationsTotal, c.approvalsTotal,
		c.approvalWait, c.dispatchesTotal, c.flagChecksTotal,
	} {
		if err := registerer.Register(metric); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return c, nil
}

func (c *MetricsCollector) recordExecution(blueprint, outcome string) {
	if c == nil {
		return
	}
	c.executionsTotal.WithLabelValues(blueprint, outcome).Inc()
}

func (c *MetricsCollector) recordCompensations(blueprint string, total, failed int) {
	if c == nil {
		return
	}
	c.compensationsTotal.WithLabelValues(blueprint, "succeeded").Add(float64(total - failed))
	c.compensationsTotal.WithLabelValues(blueprint, "failed").Add(float64(failed))
}

func (c *MetricsCollector) recordApproval(blueprint string, status ApprovalStatus, waitedMs int64) {
	if c == nil {
		return
	}
	c.approvalsTotal.WithLabelValues(blueprint, string(status)).Inc()
	c.approvalWait.WithLabelValues(blueprint, string(status)).Observe(float64(waitedMs) / 1000)
}

func (c *MetricsCollector) recordDispatch(capability, outcome string) {
	if c == nil {
		return
	}
	c.dispatchesTotal.WithLabelValues(capability, outcome).Inc()
}

func (c *MetricsCollector) recordFlagCheck(result string) {
	if c == nil {
		return
	}
	c.flagChecksTotal.WithLabelValues(result).Inc()
}
