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

// Package durable is the execution substrate blueprints run on.
//
// A workflow is ordinary Go code that receives a Context. Everything that
// is not a pure function of the workflow input (wall time, random ids,
// timers, activity results, delivered signals) goes through that Context
// and is appended to the execution history. Resume re-runs the same code
// against a stored history: recorded values are handed back instead of
// being produced again, and any divergence fails the execution with a
// *NondeterminismError.
//
// Scheduling is cooperative. The workflow goroutine holds its execution
// lock except while it is suspended in ExecuteActivity, Sleep, Await or
// AwaitWithTimeout. Signals are queued in an inbox and handed to their
// handlers only while the workflow is suspended, and queries run under
// the same lock, so handler code never races with workflow code.
//
// Workflow code must not start goroutines that call Context methods.
package durable
