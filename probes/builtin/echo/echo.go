// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package echo is a trivial built-in probe used for liveness checks: it
// reports one metric, "up"=1, and never touches any namespace.
package echo

import (
	"github.com/draios/app-check-runner/internal/probe"
	"github.com/draios/app-check-runner/internal/proberegistry"
)

func init() {
	proberegistry.Register("echo", New)
}

// Probe is the echo check instance.
type Probe struct {
	metrics []probe.Metric
}

// New constructs an echo probe. initConfig and agentConfig are accepted
// but unused: the check never varies its behavior with either.
func New(name string, initConfig map[string]any, agentConfig probe.AgentConfig) (probe.Check, error) {
	return &Probe{}, nil
}

// Check records a single "up"=1 metric.
func (p *Probe) Check(instanceConf map[string]any) error {
	p.metrics = append(p.metrics, probe.Metric{Name: "up", Value: 1})
	return nil
}

func (p *Probe) GetMetrics() []probe.Metric {
	m := p.metrics
	p.metrics = nil
	return m
}

func (p *Probe) GetServiceChecks() []probe.ServiceCheck { return nil }
func (p *Probe) GetEvents() []probe.Event               { return nil }
func (p *Probe) GetServiceMetadata() map[string]any     { return nil }
