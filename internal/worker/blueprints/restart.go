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

// Package blueprints holds the blueprints the worker ships with.
package blueprints

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/innovationmech/opsflow/pkg/blueprint"
	"github.com/innovationmech/opsflow/pkg/durable"
)

// RestartServiceID is the blueprint id of the service restart runbook.
const RestartServiceID = "ops.restart-service"

// Capabilities used by the restart runbook.
const (
	CapServiceRestart = "ops.service.restart"
	CapServiceStatus  = "ops.service.status"
	CapTrafficDrain   = "ops.traffic.drain"
	CapTrafficRestore = "ops.traffic.restore"
)

// RequiredCapabilities lists every capability a shipped blueprint dispatches.
var RequiredCapabilities = []string{CapServiceRestart, CapServiceStatus, CapTrafficDrain, CapTrafficRestore}

// ErrServiceUnhealthy is returned when the service does not come back healthy.
var ErrServiceUnhealthy = errors.New("service unhealthy after restart")

// RestartServiceInput is the start input of the runbook.
type RestartServiceInput struct {
	Service string `json:"service"`
	Reason  string `json:"reason"`
	Target  string `json:"target,omitempty"`
}

// RestartServiceConfig tunes the runbook per invocation.
type RestartServiceConfig struct {
	ApprovalRoles       []string `json:"approvalRoles,omitempty"`
	ApprovalTimeout     string   `json:"approvalTimeout,omitempty"`
	NotificationChannel string   `json:"notificationChannel,omitempty"`
	DrainFirst          bool     `json:"drainFirst,omitempty"`
	SettleDelay         string   `json:"settleDelay,omitempty"`
}

// RestartServiceResult is the output of the runbook.
type RestartServiceResult struct {
	RequestID  string `json:"requestId"`
	Service    string `json:"service"`
	ApprovedBy string `json:"approvedBy"`
	RestartID  string `json:"restartId"`
	Healthy    bool   `json:"healthy"`
	Drained    bool   `json:"drained"`
}

type serviceRef struct {
	Service   string `json:"service"`
	Target    string `json:"target,omitempty"`
	RequestID string `json:"requestId"`
}

type restartOutput struct {
	RestartID string `json:"restartId"`
}

type statusOutput struct {
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

const restartInputSchema = `{
	"type": "object",
	"required": ["service", "reason"],
	"properties": {
		"service": {"type": "string", "minLength": 1},
		"reason": {"type": "string", "minLength": 1},
		"target": {"type": "string"}
	},
	"additionalProperties": false
}`

const restartConfigSchema = `{
	"type": "object",
	"properties": {
		"approvalRoles": {"type": "array", "items": {"type": "string"}},
		"approvalTimeout": {"type": "string"},
		"notificationChannel": {"type": "string"},
		"drainFirst": {"type": "boolean"},
		"settleDelay": {"type": "string"}
	}
}`

// RestartService returns the restart runbook: approval, optional traffic
// drain, restart, settle, health check. A failed health check restores
// drained traffic through the compensation stack.
func RestartService(metrics *blueprint.MetricsCollector) *blueprint.Definition[RestartServiceInput, RestartServiceConfig, RestartServiceResult] {
	return &blueprint.Definition[RestartServiceInput, RestartServiceConfig, RestartServiceResult]{
		Descriptor: blueprint.Descriptor{
			ID:          RestartServiceID,
			Version:     "1.2.0",
			Name:        "Restart service",
			Description: "Restart a service after human approval and verify it comes back healthy.",
			Owner:       "sre-platform",
			CostCenter:  "cc-ops",
			Security: blueprint.SecurityPolicy{
				RequiredRoles:      []string{"sre", "oncall"},
				DataClassification: "internal",
			},
			Operations: blueprint.OperationsPolicy{
				SLA: blueprint.SLA{TargetDuration: "10m", MaxDuration: "15m"},
			},
			Schemas: blueprint.Schemas{Input: restartInputSchema, Config: restartConfigSchema},
		},
		Logic:   restartService,
		Metrics: metrics,
	}
}

func restartService(b *blueprint.Blueprint, in RestartServiceInput, cfg RestartServiceConfig) (RestartServiceResult, error) {
	result := RestartServiceResult{RequestID: b.UUID(), Service: in.Service}
	ref := serviceRef{Service: in.Service, Target: in.Target, RequestID: result.RequestID}

	roles := cfg.ApprovalRoles
	if len(roles) == 0 {
		roles = b.Descriptor().Security.RequiredRoles
	}
	params := blueprint.ApprovalParams{
		Reason:              fmt.Sprintf("Restart %s: %s", in.Service, in.Reason),
		RequiredRoles:       roles,
		Timeout:             cfg.ApprovalTimeout,
		NotificationChannel: cfg.NotificationChannel,
	}
	if gc := b.GoldenContext(); gc != nil {
		params.IncidentID = gc.IncidentID
		params.IncidentSeverity = gc.IncidentSeverity
	}
	approval, err := b.WaitForApproval(params)
	if err != nil {
		return result, err
	}
	result.ApprovedBy = approval.Decision.ApproverID

	if cfg.DrainFirst {
		if _, err := b.ExecuteByID(CapTrafficDrain, ref, nil); err != nil {
			return result, err
		}
		result.Drained = true
		b.AddCompensation("restore traffic", func() error {
			_, err := b.ExecuteByID(CapTrafficRestore, ref, &blueprint.ExecuteOptions{SkipFlagCheck: true})
			return err
		})
	}

	restarted, err := blueprint.ExecuteTyped[restartOutput](b, CapServiceRestart, ref, nil)
	if err != nil {
		return result, err
	}
	result.RestartID = restarted.RestartID

	if cfg.SettleDelay != "" {
		if err := b.Sleep(blueprint.ParseTimeout(cfg.SettleDelay)); err != nil {
			return result, err
		}
	}

	status, err := blueprint.ExecuteTyped[statusOutput](b, CapServiceStatus, ref, nil)
	if err != nil {
		return result, err
	}
	if !status.Healthy {
		b.Logger().Warn("service did not recover", zap.String("service", in.Service), zap.String("detail", status.Detail))
		return result, fmt.Errorf("%w: %s %s", ErrServiceUnhealthy, in.Service, status.Detail)
	}
	result.Healthy = true

	if result.Drained {
		if _, err := b.ExecuteByID(CapTrafficRestore, ref, &blueprint.ExecuteOptions{SkipFlagCheck: true}); err != nil {
			return result, err
		}
	}
	return result, nil
}

// Register registers every shipped blueprint with rt.
func Register(rt *durable.Runtime, metrics *blueprint.MetricsCollector) error {
	return RestartService(metrics).Register(rt)
}
