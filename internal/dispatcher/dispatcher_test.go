// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package dispatcher

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draios/app-check-runner/internal/appconfig"
	"github.com/draios/app-check-runner/internal/ipcmsg"
	"github.com/draios/app-check-runner/internal/nsgate"
	"github.com/draios/app-check-runner/internal/probe"
	"github.com/draios/app-check-runner/internal/proberegistry"
)

func writeStore(t *testing.T, yaml string) *appconfig.Store {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "conf.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0600))
	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("app_checks: []\n"), 0600))
	return appconfig.Load(path, empty)
}

func unsupportedGate() *nsgate.Gate {
	return nsgate.Open("/this/path/does/not/exist")
}

type recordingCheck struct {
	checkErr error
	calls    int
}

func (c *recordingCheck) Check(conf map[string]any) error {
	c.calls++
	return c.checkErr
}
func (c *recordingCheck) GetMetrics() []probe.Metric {
	return []probe.Metric{{Name: "calls", Value: float64(c.calls)}}
}
func (c *recordingCheck) GetServiceChecks() []probe.ServiceCheck { return nil }
func (c *recordingCheck) GetEvents() []probe.Event               { return nil }
func (c *recordingCheck) GetServiceMetadata() map[string]any     { return nil }

func TestHandleBatchRunsRegisteredProbe(t *testing.T) {
	proberegistry.Register("dispatch-echo", func(name string, initConfig map[string]any, agentConfig probe.AgentConfig) (probe.Check, error) {
		return &recordingCheck{}, nil
	})

	store := writeStore(t, `
app_checks:
  - name: svc
    check_module: dispatch-echo
    enabled: true
`)
	d := New(nil, nil, io.Discard, store, unsupportedGate(), probe.AgentConfig{})

	results := d.HandleBatch([]ipcmsg.ProcessRequest{
		{PID: os.Getpid(), Check: "svc", Ports: []int{9000}},
	})

	require.Len(t, results, 1)
	assert.Equal(t, "svc", results[0].DisplayName)
	assert.Equal(t, []probe.Metric{{Name: "calls", Value: 1}}, results[0].Metrics)
}

func TestHandleBatchUnknownProbeNameYieldsNoResult(t *testing.T) {
	store := writeStore(t, `app_checks: []`)
	d := New(nil, nil, io.Discard, store, unsupportedGate(), probe.AgentConfig{})

	results := d.HandleBatch([]ipcmsg.ProcessRequest{
		{PID: os.Getpid(), Check: "does-not-exist"},
	})

	assert.Empty(t, results)
}

func TestHandleBatchBlacklistsAfterInitError(t *testing.T) {
	attempts := 0
	proberegistry.Register("dispatch-init-fails", func(name string, initConfig map[string]any, agentConfig probe.AgentConfig) (probe.Check, error) {
		attempts++
		return nil, assertError{}
	})

	store := writeStore(t, `
app_checks:
  - name: bad
    check_module: dispatch-init-fails
    enabled: true
`)
	d := New(nil, nil, io.Discard, store, unsupportedGate(), probe.AgentConfig{})
	pid := os.Getpid()

	results := d.HandleBatch([]ipcmsg.ProcessRequest{{PID: pid, Check: "bad"}})
	assert.Empty(t, results)
	assert.Equal(t, 1, attempts)

	// Second batch: pid is now blacklisted from a cache miss, so the
	// factory is never invoked again and the pid is silently skipped.
	results = d.HandleBatch([]ipcmsg.ProcessRequest{{PID: pid, Check: "bad"}})
	assert.Empty(t, results)
	assert.Equal(t, 1, attempts)
}

func TestHandleBatchBlacklistsOnRunErrorButKeepsRunning(t *testing.T) {
	check := &recordingCheck{checkErr: assertError{}}
	builds := 0
	proberegistry.Register("dispatch-run-fails", func(name string, initConfig map[string]any, agentConfig probe.AgentConfig) (probe.Check, error) {
		builds++
		return check, nil
	})

	store := writeStore(t, `
app_checks:
  - name: flaky
    check_module: dispatch-run-fails
    enabled: true
`)
	d := New(nil, nil, io.Discard, store, unsupportedGate(), probe.AgentConfig{})
	pid := os.Getpid()

	first := d.HandleBatch([]ipcmsg.ProcessRequest{{PID: pid, Check: "flaky"}})
	require.Len(t, first, 1)
	assert.Equal(t, float64(1), first[0].Metrics[0].Value)

	// The instance survives blacklisting and is run again on the next
	// batch instead of being rebuilt.
	second := d.HandleBatch([]ipcmsg.ProcessRequest{{PID: pid, Check: "flaky"}})
	require.Len(t, second, 1)
	assert.Equal(t, float64(2), second[0].Metrics[0].Value)
	assert.Equal(t, 1, builds)
}

func TestRunCheckOnceExpandsTemplateInConf(t *testing.T) {
	proberegistry.Register("dispatch-template", func(name string, initConfig map[string]any, agentConfig probe.AgentConfig) (probe.Check, error) {
		return &recordingCheck{}, nil
	})

	store := writeStore(t, `
app_checks:
  - name: web
    check_module: dispatch-template
    conf:
      url: "http://{port}/status"
    enabled: true
`)
	d := New(nil, nil, io.Discard, store, unsupportedGate(), probe.AgentConfig{})

	conf, metrics, _, err := d.RunCheckOnce(ipcmsg.ProcessRequest{
		PID:   os.Getpid(),
		Check: "web",
		Ports: []int{8080},
	})
	require.NoError(t, err)
	assert.Equal(t, "http://8080/status", conf["url"])
	assert.Equal(t, []probe.Metric{{Name: "calls", Value: 1}}, metrics)
}

type assertError struct{}

func (assertError) Error() string { return "boom" }
