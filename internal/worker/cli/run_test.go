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

package cli

import (
	"context"
	"errors"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
)

func TestRun(t *testing.T) {
	tests := []struct {
		name        string
		cmd         *cobra.Command
		expectError bool
	}{
		{
			name: "successful command execution",
			cmd: &cobra.Command{
				Use:  "test",
				RunE: func(cmd *cobra.Command, args []string) error { return nil },
			},
		},
		{
			name: "successful command with no run function",
			cmd: &cobra.Command{
				Use:   "test-no-run",
				Short: "A test command with no run function",
			},
		},
		{
			name: "command returning an error",
			cmd: &cobra.Command{
				Use:           "test-error",
				SilenceUsage:  true,
				SilenceErrors: true,
				RunE:          func(cmd *cobra.Command, args []string) error { return errors.New("failed") },
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cmd.SetArgs([]string{})
			err := Run(tt.cmd)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRunContext_PassesContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var seen error
	cmd := &cobra.Command{
		Use: "ctx",
		RunE: func(cmd *cobra.Command, args []string) error {
			seen = cmd.Context().Err()
			return nil
		},
	}
	cmd.SetArgs([]string{})
	assert.NoError(t, RunContext(ctx, cmd))
	assert.ErrorIs(t, seen, context.Canceled)
}
