// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package proberegistry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draios/app-check-runner/internal/probe"
)

func dummyFactory(name string, initConfig map[string]any, agentConfig probe.AgentConfig) (probe.Check, error) {
	return nil, nil
}

func TestLoadPrefersCustomOverBuiltin(t *testing.T) {
	defer reset()
	reset()

	Register("redis", dummyFactory)
	customCalled := false
	custom := func(name string, initConfig map[string]any, agentConfig probe.AgentConfig) (probe.Check, error) {
		customCalled = true
		return nil, nil
	}
	RegisterCustom("redis", custom)

	f, err := Load("redis", "redis")
	require.NoError(t, err)
	assert.NotNil(t, f)
	_, _ = f("redis", nil, probe.AgentConfig{})
	assert.True(t, customCalled)
}

func TestLoadUnknownModuleFails(t *testing.T) {
	defer reset()
	reset()

	_, err := Load("missing", "missing")
	require.Error(t, err)
	var loadErr *LoadError
	assert.ErrorAs(t, err, &loadErr)
}

func TestLoadFallsBackToBuiltin(t *testing.T) {
	defer reset()
	reset()

	Register("redis", dummyFactory)

	f, err := Load("redis", "redis")
	require.NoError(t, err)
	assert.NotNil(t, f)
}
