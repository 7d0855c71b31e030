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

package flags

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewFileWatcher_Validation(t *testing.T) {
	_, err := NewFileWatcher("", NewEvaluator(nil))
	assert.Error(t, err)
	_, err = NewFileWatcher("flags.yaml", nil)
	assert.Error(t, err)
}

func TestFileWatcher_StartFailsOnInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flags.yaml")
	require.NoError(t, os.WriteFile(path, []byte("flags:\n  - key: ''\n"), 0o600))

	w, err := NewFileWatcher(path, NewEvaluator(nil, WithLogger(zap.NewNop())))
	require.NoError(t, err)
	assert.ErrorIs(t, w.Start(context.Background()), ErrInvalidFlag)
}

func TestFileWatcher_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flags.yaml")
	require.NoError(t, os.WriteFile(path, []byte("flags:\n  - key: a\n    enabled: true\n    value: false\n"), 0o600))

	e := NewEvaluator(nil, WithLogger(zap.NewNop()))
	w, err := NewFileWatcher(path, e)
	require.NoError(t, err)
	w.debounce = 10 * time.Millisecond
	w.logger = zap.NewNop()

	reloads := make(chan error, 1)
	w.OnReload(func(_ *Set, err error) {
		select {
		case reloads <- err:
		default:
		}
	})

	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })
	require.NoError(t, <-reloads)

	result, err := e.Evaluate(context.Background(), request("a", true, "alice", "", ""))
	require.NoError(t, err)
	assert.False(t, result.Value)

	require.NoError(t, os.WriteFile(path, []byte("flags:\n  - key: a\n    enabled: true\n    value: true\n"), 0o600))
	require.Eventually(t, func() bool {
		result, err := e.Evaluate(context.Background(), request("a", false, "alice", "", ""))
		return err == nil && result.Value && result.Reason == ReasonFallthrough
	}, 5*time.Second, 10*time.Millisecond, "flag file was not reloaded")
}

func TestFileWatcher_KeepsPreviousSetOnBadReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flags.yaml")
	require.NoError(t, os.WriteFile(path, []byte("flags:\n  - key: a\n    enabled: true\n    value: true\n"), 0o600))

	e := NewEvaluator(nil, WithLogger(zap.NewNop()))
	w, err := NewFileWatcher(path, e)
	require.NoError(t, err)
	w.logger = zap.NewNop()
	require.NoError(t, w.Load())

	require.NoError(t, os.WriteFile(path, []byte("flags: [\n"), 0o600))
	assert.Error(t, w.Load())

	result, err := e.Evaluate(context.Background(), request("a", false, "alice", "", ""))
	require.NoError(t, err)
	assert.True(t, result.Value)
}

func TestFileWatcher_StopIsIdempotent(t *testing.T) {
	w, err := NewFileWatcher(filepath.Join(t.TempDir(), "flags.yaml"), NewEvaluator(nil))
	require.NoError(t, err)
	assert.NoError(t, w.Stop())
}
