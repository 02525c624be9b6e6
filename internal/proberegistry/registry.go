// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package proberegistry resolves a probe module name to its Factory.
//
// Probe packages register themselves at init time via Register or
// RegisterCustom, and resolution is a plain map lookup: the custom
// registry is consulted first, the built-in registry second, so a custom
// probe of the same module name always shadows a built-in one.
package proberegistry

import (
	"fmt"
	"sort"

	"github.com/draios/app-check-runner/internal/probe"
)

// LoadError reports a module_name that could not be resolved to a
// registered probe Factory, in either the custom or built-in registry.
type LoadError struct {
	ModuleName string
	Reason     string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load probe module %q: %s", e.ModuleName, e.Reason)
}

var (
	builtin = map[string]probe.Factory{}
	custom  = map[string]probe.Factory{}
)

// Register adds a built-in probe factory under moduleName. Called from
// probe package init() functions via blank import.
func Register(moduleName string, f probe.Factory) {
	builtin[moduleName] = f
}

// RegisterCustom adds a probe factory that shadows any built-in factory of
// the same moduleName.
func RegisterCustom(moduleName string, f probe.Factory) {
	custom[moduleName] = f
}

// Load resolves moduleName to a Factory, preferring the custom registry.
func Load(name, moduleName string) (probe.Factory, error) {
	if f, ok := custom[moduleName]; ok {
		return f, nil
	}
	if f, ok := builtin[moduleName]; ok {
		return f, nil
	}
	return nil, &LoadError{ModuleName: moduleName, Reason: "no probe class registered for this module"}
}

// Names returns the sorted union of registered module names, for
// diagnostics and tests.
func Names() []string {
	seen := map[string]struct{}{}
	for n := range builtin {
		seen[n] = struct{}{}
	}
	for n := range custom {
		seen[n] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// reset clears both registries; used only by tests that need a clean slate.
func reset() {
	builtin = map[string]probe.Factory{}
	custom = map[string]probe.Factory{}
}
