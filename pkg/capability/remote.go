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

package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/innovationmech/opsflow/pkg/blueprint"
	"github.com/innovationmech/opsflow/pkg/logger"
)

// DefaultRemoteTimeout bounds a remote call when ctx carries no deadline.
const DefaultRemoteTimeout = 30 * time.Second

// SubjectPrefix is the default NATS subject prefix for remote capabilities.
const SubjectPrefix = "opsflow.capability."

// Requester is the NATS request/reply surface used by remote capabilities.
// *nats.Conn satisfies it.
type Requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

// Reply is the wire format a capability endpoint answers with.
type Reply struct {
	Output json.RawMessage `json:"output,omitempty"`
	Error  *ReplyError     `json:"error,omitempty"`
}

// ReplyError carries a remote failure.
type ReplyError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Subject returns the default subject for capability id.
func Subject(id string) string {
	return SubjectPrefix + id
}

// Remote forwards envelopes to a NATS endpoint.
type Remote struct {
	id        string
	subject   string
	requester Requester
	timeout   time.Duration
}

// NewRemote creates a remote capability. An empty subject uses Subject(id).
func NewRemote(id, subject string, requester Requester, timeout time.Duration) *Remote {
	if subject == "" {
		subject = Subject(id)
	}
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	return &Remote{id: id, subject: subject, requester: requester, timeout: timeout}
}

// ID implements Capability.
func (r *Remote) ID() string {
	return r.id
}

// Invoke sends env as one request and decodes the reply.
func (r *Remote) Invoke(ctx context.Context, env blueprint.CapabilityEnvelope) (json.RawMessage, error) {
	if r.requester == nil {
		return nil, &Error{CapabilityID: r.id, Code: CodeUnavailable, Message: "nats connection not configured"}
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("capability %s: failed to encode envelope: %w", r.id, err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	msg, err := r.requester.RequestWithContext(ctx, r.subject, data)
	if err != nil {
		switch {
		case errors.Is(err, nats.ErrNoResponders):
			return nil, &Error{CapabilityID: r.id, Code: CodeUnavailable, Message: "no responders on " + r.subject, Cause: err}
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, nats.ErrTimeout):
			return nil, &Error{CapabilityID: r.id, Code: CodeTimeout, Message: "request timed out", Cause: err}
		default:
			return nil, &Error{CapabilityID: r.id, Code: CodeFailed, Message: "request failed", Cause: err}
		}
	}

	var reply Reply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return nil, &Error{CapabilityID: r.id, Code: CodeFailed, Message: "malformed reply", Cause: err}
	}
	if reply.Error != nil {
		code := reply.Error.Code
		if code == "" {
			code = CodeFailed
		}
		return nil, &Error{CapabilityID: r.id, Code: code, Message: reply.Error.Message}
	}
	return reply.Output, nil
}

// Subscriber is the NATS subscription surface used by Serve.
// *nats.Conn satisfies it.
type Subscriber interface {
	QueueSubscribe(subj, queue string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// Serve exposes c on its default subject so remote workers can reach it.
// Replies use the Reply format.
func Serve(sub Subscriber, queue string, c Capability) (*nats.Subscription, error) {
	log := logger.GetLogger().Named("capability.server")
	return sub.QueueSubscribe(Subject(c.ID()), queue, func(msg *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultRemoteTimeout)
		defer cancel()
		if err := msg.Respond(HandleRequest(ctx, c, msg.Data)); err != nil {
			log.Warn("failed to reply to capability request",
				zap.String("capability", c.ID()), zap.Error(err))
		}
	})
}

// HandleRequest runs one encoded envelope against c and encodes the reply.
func HandleRequest(ctx context.Context, c Capability, data []byte) []byte {
	var env blueprint.CapabilityEnvelope
	var reply Reply
	if err := json.Unmarshal(data, &env); err != nil {
		reply.Error = &ReplyError{Code: CodeInvalidInput, Message: "malformed envelope: " + err.Error()}
	} else if out, err := c.Invoke(ctx, env); err != nil {
		reply.Error = toReplyError(err)
	} else {
		reply.Output = out
	}
	encoded, err := json.Marshal(reply)
	if err != nil {
		encoded, _ = json.Marshal(Reply{Error: &ReplyError{Code: CodeFailed, Message: err.Error()}})
	}
	return encoded
}

func toReplyError(err error) *ReplyError {
	var capErr *Error
	if errors.As(err, &capErr) {
		return &ReplyError{Code: capErr.Code, Message: capErr.Message}
	}
	return &ReplyError{Code: CodeFailed, Message: err.Error()}
}
