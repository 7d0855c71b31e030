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

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHotReloader_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "opsflow.yaml", "logging:\n  level: info\n")

	m := NewManager(Options{Dir: dir})
	require.NoError(t, m.Load())

	r := NewHotReloader(m, 20*time.Millisecond)
	require.NoError(t, r.Start())
	assert.Error(t, r.Start(), "second start must fail")
	t.Cleanup(func() { _ = r.Stop() })

	writeFile(t, dir, "unrelated.txt", "ignored")
	writeFile(t, dir, "opsflow.yaml", "logging:\n  level: debug\n")

	deadline := time.After(5 * time.Second)
	for {
		select {
		case change := <-r.Events():
			require.NoError(t, change.Err)
			if m.GetString("logging.level") == "debug" {
				logging, ok := change.Settings["logging"].(map[string]interface{})
				require.True(t, ok)
				assert.Equal(t, "debug", logging["level"])
				return
			}
		case <-deadline:
			t.Fatal("configuration was not reloaded")
		}
	}
}

func TestHotReloader_StopWithoutStart(t *testing.T) {
	r := NewHotReloader(NewManager(Options{Dir: t.TempDir()}), 0)
	assert.NoError(t, r.Stop())
	assert.Equal(t, 500*time.Millisecond, r.debounce)
}
