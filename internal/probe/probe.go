// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package probe defines the capability every application probe module
// implements and the small value types a probe run produces.
package probe

// ServiceCheckStatus is the health verdict a probe emits for a dependency.
type ServiceCheckStatus int

const (
	StatusOK ServiceCheckStatus = iota
	StatusWarning
	StatusCritical
	StatusUnknown
)

// Metric is a single measurement emitted by a probe run.
type Metric struct {
	Name  string
	Value float64
	Tags  []string
}

// ServiceCheck is a single health verdict emitted by a probe run.
type ServiceCheck struct {
	Name    string
	Status  ServiceCheckStatus
	Message string
}

// Event is a discrete, timestamped occurrence a probe may buffer internally.
// The engine drains but discards these every run to bound memory growth.
type Event struct {
	Title string
	Text  string
}

// AgentConfig mirrors the fixed AGENT_CONFIG passed to every probe instance.
type AgentConfig struct {
	IsDeveloperMode bool
	Version         float64
	Hostname        string
	APIKey          string
}

// Check is the capability every probe module implements. A Check is
// constructed once per (probe name, target process) pair and reused across
// requests until its instance is evicted; blacklisting its pid does not
// discard it.
type Check interface {
	// Check runs one probe iteration against the resolved instance
	// configuration. Any error aborts the run but is not fatal to the
	// engine; the caller blacklists the instance's pid.
	Check(instanceConf map[string]any) error

	// GetMetrics returns (and clears) metrics buffered since the last call.
	GetMetrics() []Metric

	// GetServiceChecks returns (and clears) service checks buffered since
	// the last call.
	GetServiceChecks() []ServiceCheck

	// GetEvents returns (and clears) events buffered since the last call.
	// The engine calls this every run and discards the result.
	GetEvents() []Event

	// GetServiceMetadata returns (and clears) service metadata buffered
	// since the last call. The engine calls this every run and discards
	// the result.
	GetServiceMetadata() map[string]any
}

// NamespaceAware is implemented by probes that must run inside the target
// process's namespaces. A probe that does not implement it never triggers
// namespace crossing, regardless of instance.is_foreign_namespace.
type NamespaceAware interface {
	// NeededNS lists the namespace kinds (subset of "mnt", "net", "uts")
	// the probe body must be attached to while Check runs.
	NeededNS() []string
}

// Factory constructs a fresh Check bound to an init config and the fixed
// agent config. The init config is always empty; AgentConfig is fixed per
// process.
type Factory func(name string, initConfig map[string]any, agentConfig AgentConfig) (Check, error)
