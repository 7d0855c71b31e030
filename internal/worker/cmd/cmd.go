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

// Package cmd assembles the opsflow-worker command line.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/innovationmech/opsflow/internal/worker/cmd/control"
	"github.com/innovationmech/opsflow/internal/worker/cmd/serve"
	"github.com/innovationmech/opsflow/internal/worker/cmd/version"
)

// NewRootCommand returns the opsflow-worker root command.
func NewRootCommand() *cobra.Command {
	opts := &control.Options{}
	cmd := &cobra.Command{
		Use:           "opsflow-worker",
		Short:         "opsflow blueprint worker",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	opts.AddFlags(cmd)

	cmd.AddCommand(serve.NewServeCmd())
	cmd.AddCommand(version.NewVersionCommand())
	cmd.AddCommand(
		control.NewStartCmd(opts),
		control.NewSignalCmd(opts),
		control.NewQueryCmd(opts),
		control.NewCancelCmd(opts),
		control.NewStatusCmd(opts),
	)
	return cmd
}
