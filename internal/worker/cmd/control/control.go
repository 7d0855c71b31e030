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

// Package control holds the commands that drive a running worker over its
// NATS control plane.
package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/innovationmech/opsflow/internal/worker"
	"github.com/innovationmech/opsflow/pkg/blueprint"
)

// Options are shared by every control command.
type Options struct {
	NATSURL string
	Prefix  string
	Timeout time.Duration
}

// AddFlags binds o to persistent flags of cmd.
func (o *Options) AddFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&o.NATSURL, "nats-url", nats.DefaultURL, "NATS server URL")
	cmd.PersistentFlags().StringVar(&o.Prefix, "subject-prefix", "opsflow", "control plane subject prefix")
	cmd.PersistentFlags().DurationVar(&o.Timeout, "timeout", 10*time.Second, "request timeout")
}

// dial connects to NATS. Replaced in tests.
var dial = func(url string) (worker.Requester, func(), error) {
	nc, err := nats.Connect(url, nats.Name("opsflow-cli"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return nc, nc.Close, nil
}

func (o *Options) client(ctx context.Context, fn func(ctx context.Context, c *worker.ControlClient) error) error {
	requester, closeFn, err := dial(o.NATSURL)
	if err != nil {
		return err
	}
	defer closeFn()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, o.Timeout)
	defer cancel()
	return fn(ctx, worker.NewControlClient(requester, o.Prefix))
}

// NewStartCmd returns the start command.
func NewStartCmd(o *Options) *cobra.Command {
	var (
		id, input, config  string
		initiator, roles   string
		appID, environment string
		incident, severity string
	)
	cmd := &cobra.Command{
		Use:   "start <blueprint-id>",
		Short: "Start a blueprint execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if initiator == "" {
				return errors.New("--initiator is required")
			}
			start := worker.StartCommand{
				ID:          id,
				BlueprintID: args[0],
				Security:    &blueprint.SecurityContext{InitiatorID: initiator, Roles: splitList(roles)},
			}
			if appID != "" || environment != "" {
				start.Golden = &blueprint.GoldenContext{
					AppID:            appID,
					Environment:      environment,
					IncidentID:       incident,
					IncidentSeverity: severity,
				}
			}
			var err error
			if start.Input, err = rawJSON("input", input); err != nil {
				return err
			}
			if start.Config, err = rawJSON("config", config); err != nil {
				return err
			}
			return o.client(cmd.Context(), func(ctx context.Context, c *worker.ControlClient) error {
				workflowID, err := c.Start(ctx, start)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), workflowID)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&id, "id", "", "execution id (generated when empty)")
	f.StringVar(&input, "input", "", "input document as JSON")
	f.StringVar(&config, "config", "", "configuration document as JSON")
	f.StringVar(&initiator, "initiator", "", "initiator id of the security context")
	f.StringVar(&roles, "roles", "", "comma separated roles of the initiator")
	f.StringVar(&appID, "app", "", "application id of the golden context")
	f.StringVar(&environment, "env", "", "environment of the golden context")
	f.StringVar(&incident, "incident", "", "incident id")
	f.StringVar(&severity, "severity", "", "incident severity")
	return cmd
}

// NewSignalCmd returns the signal command, which records an approval
// decision made outside the chat.
func NewSignalCmd(o *Options) *cobra.Command {
	var decision, approver, name, roles, reason string
	cmd := &cobra.Command{
		Use:   "signal <workflow-id>",
		Short: "Send an approval decision to an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if decision != blueprint.DecisionApproved && decision != blueprint.DecisionRejected {
				return fmt.Errorf("--decision must be %q or %q", blueprint.DecisionApproved, blueprint.DecisionRejected)
			}
			if approver == "" {
				return errors.New("--approver is required")
			}
			payload := blueprint.ApprovalDecision{
				Decision:      decision,
				ApproverID:    approver,
				ApproverName:  name,
				ApproverRoles: splitList(roles),
				Reason:        reason,
				Timestamp:     time.Now().UTC().Format(time.RFC3339),
				Source:        blueprint.SourceAPI,
			}
			return o.client(cmd.Context(), func(ctx context.Context, c *worker.ControlClient) error {
				if err := c.Signal(ctx, args[0], blueprint.ApprovalSignal, payload); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s sent to %s\n", decision, args[0])
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&decision, "decision", blueprint.DecisionApproved, "approved or rejected")
	f.StringVar(&approver, "approver", "", "approver id")
	f.StringVar(&name, "name", "", "approver display name")
	f.StringVar(&roles, "roles", "", "comma separated roles of the approver")
	f.StringVar(&reason, "reason", "", "reason recorded with the decision")
	return cmd
}

// NewQueryCmd returns the query command.
func NewQueryCmd(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "query <workflow-id> [query-name]",
		Short: "Query an execution (default: approvalState)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := blueprint.ApprovalQuery
			if len(args) == 2 {
				name = args[1]
			}
			return o.client(cmd.Context(), func(ctx context.Context, c *worker.ControlClient) error {
				result, err := c.Query(ctx, args[0], name)
				if err != nil {
					return err
				}
				var out bytes.Buffer
				if err := json.Indent(&out, result, "", "  "); err != nil {
					return fmt.Errorf("malformed query result: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), out.String())
				return nil
			})
		},
	}
}

// NewCancelCmd returns the cancel command.
func NewCancelCmd(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <workflow-id>",
		Short: "Request cancellation of an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.client(cmd.Context(), func(ctx context.Context, c *worker.ControlClient) error {
				if err := c.Cancel(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cancellation requested for %s\n", args[0])
				return nil
			})
		},
	}
}

// NewStatusCmd returns the status command.
func NewStatusCmd(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "status <workflow-id>",
		Short: "Print the lifecycle state of an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.client(cmd.Context(), func(ctx context.Context, c *worker.ControlClient) error {
				status, err := c.Status(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), status)
				return nil
			})
		},
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func rawJSON(name, s string) (json.RawMessage, error) {
	if s == "" {
		return nil, nil
	}
	if !json.Valid([]byte(s)) {
		return nil, fmt.Errorf("--%s is not valid JSON", name)
	}
	return json.RawMessage(s), nil
}
