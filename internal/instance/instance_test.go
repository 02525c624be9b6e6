// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package instance

import (
	"errors"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draios/app-check-runner/internal/appconfig"
	"github.com/draios/app-check-runner/internal/ipcmsg"
	"github.com/draios/app-check-runner/internal/nsgate"
	"github.com/draios/app-check-runner/internal/probe"
)

type fakeCheck struct {
	checkErr error
	calls    int
	gotConf  map[string]any
	metrics  []probe.Metric
}

func (f *fakeCheck) Check(conf map[string]any) error {
	f.calls++
	f.gotConf = conf
	return f.checkErr
}
func (f *fakeCheck) GetMetrics() []probe.Metric             { return f.metrics }
func (f *fakeCheck) GetServiceChecks() []probe.ServiceCheck { return nil }
func (f *fakeCheck) GetEvents() []probe.Event               { return nil }
func (f *fakeCheck) GetServiceMetadata() map[string]any     { return nil }

func factoryFor(fc *fakeCheck) probe.Factory {
	return func(name string, initConfig map[string]any, agentConfig probe.AgentConfig) (probe.Check, error) {
		return fc, nil
	}
}

func unsupportedGate() *nsgate.Gate {
	return nsgate.Open("/this/path/does/not/exist")
}

func TestNewResolvesInstanceConf(t *testing.T) {
	def := appconfig.ProbeDefinition{
		Name: "web",
		Conf: map[string]any{
			"url":   "http://{port}/status",
			"other": 42,
		},
	}
	req := ipcmsg.ProcessRequest{PID: os.Getpid(), VPID: 1, Check: "web", Ports: []int{9000, 9001}}

	in, err := New(def, factoryFor(&fakeCheck{}), probe.AgentConfig{}, unsupportedGate(), req)
	require.NoError(t, err)

	want := map[string]any{
		"host":  "localhost",
		"name":  "web",
		"ports": []int{9000, 9001},
		"port":  9000,
		"url":   "http://9000/status",
		"other": 42,
	}
	if diff := cmp.Diff(want, in.InstanceConf()); diff != "" {
		t.Errorf("instance conf mismatch (-want +got):\n%s", diff)
	}
}

func TestNewNoPortsOmitsPortKey(t *testing.T) {
	def := appconfig.ProbeDefinition{Name: "noport"}
	req := ipcmsg.ProcessRequest{PID: os.Getpid(), Check: "noport"}

	in, err := New(def, factoryFor(&fakeCheck{}), probe.AgentConfig{}, unsupportedGate(), req)
	require.NoError(t, err)

	_, hasPort := in.InstanceConf()["port"]
	assert.False(t, hasPort)
}

func TestNewTemplateErrorFailsConstruction(t *testing.T) {
	def := appconfig.ProbeDefinition{
		Name: "bad",
		Conf: map[string]any{"url": "{bogus}"},
	}
	req := ipcmsg.ProcessRequest{PID: os.Getpid(), Check: "bad"}

	_, err := New(def, factoryFor(&fakeCheck{}), probe.AgentConfig{}, unsupportedGate(), req)
	require.Error(t, err)
	var initErr *InitError
	assert.ErrorAs(t, err, &initErr)
}

func TestRunReturnsMetricsAndNilError(t *testing.T) {
	fc := &fakeCheck{metrics: []probe.Metric{{Name: "up", Value: 1}}}
	def := appconfig.ProbeDefinition{Name: "echo"}
	req := ipcmsg.ProcessRequest{PID: os.Getpid(), Check: "echo", Ports: []int{8080}}

	in, err := New(def, factoryFor(fc), probe.AgentConfig{}, unsupportedGate(), req)
	require.NoError(t, err)

	metrics, checks, runErr := in.Run()
	assert.NoError(t, runErr)
	assert.Equal(t, []probe.Metric{{Name: "up", Value: 1}}, metrics)
	assert.Nil(t, checks)
	assert.Equal(t, 1, fc.calls)
}

func TestRunWrapsCheckError(t *testing.T) {
	fc := &fakeCheck{checkErr: errors.New("boom")}
	def := appconfig.ProbeDefinition{Name: "flaky"}
	req := ipcmsg.ProcessRequest{PID: os.Getpid(), Check: "flaky"}

	in, err := New(def, factoryFor(fc), probe.AgentConfig{}, unsupportedGate(), req)
	require.NoError(t, err)

	_, _, runErr := in.Run()
	require.Error(t, runErr)
	var re *RunError
	assert.ErrorAs(t, runErr, &re)
}

func TestIsForeignNamespaceFalseWithoutContainerSupport(t *testing.T) {
	def := appconfig.ProbeDefinition{Name: "echo"}
	req := ipcmsg.ProcessRequest{PID: os.Getpid(), Check: "echo"}

	in, err := New(def, factoryFor(&fakeCheck{}), probe.AgentConfig{}, unsupportedGate(), req)
	require.NoError(t, err)
	assert.False(t, in.IsForeignNamespace())
}
