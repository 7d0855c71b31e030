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
	"encoding/json"
	"sync"
)

type pendingSignal struct {
	name    string
	payload json.RawMessage
}

// signalInbox is an unbounded FIFO of signals for one execution. Any
// goroutine may push; only the holder of the execution lock drains.
type signalInbox struct {
	mu      sync.Mutex
	signals []pendingSignal
	wake    chan struct{}
}

func newSignalInbox() *signalInbox {
	return &signalInbox{wake: make(chan struct{}, 1)}
}

func (q *signalInbox) push(name string, payload json.RawMessage) {
	q.mu.Lock()
	q.signals = append(q.signals, pendingSignal{name: name, payload: payload})
	q.mu.Unlock()

	// Buffer of one coalesces wakeups.
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *signalInbox) drain() []pendingSignal {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.signals) == 0 {
		return nil
	}
	out := q.signals
	q.signals = nil
	return out
}
