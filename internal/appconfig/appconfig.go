// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package appconfig is the merged view over the two layered YAML
// configuration documents (baseline defaults, user overlay) that name the
// enabled probe definitions and a handful of scalar settings.
package appconfig

import (
	"os"
	"time"

	"github.com/spf13/cast"
	yaml "gopkg.in/yaml.v2"

	"github.com/draios/app-check-runner/internal/ddlog"
)

const defaultInterval = time.Second

// ProbeDefinition is one entry of the app_checks configuration list.
type ProbeDefinition struct {
	Name       string
	ModuleName string
	Conf       map[string]any
	Interval   time.Duration
	Enabled    bool
}

// Store is the merged view over the default and overlay YAML documents.
type Store struct {
	defaults map[string]any
	overlay  map[string]any
}

// Load reads the baseline and overlay YAML documents from disk. A read or
// parse failure on either file is logged and treated as an empty document;
// Load never returns an error, so a missing or malformed config file never
// aborts startup.
func Load(defaultPath, overlayPath string) *Store {
	return &Store{
		defaults: readYAMLDoc(defaultPath),
		overlay:  readYAMLDoc(overlayPath),
	}
}

func readYAMLDoc(path string) map[string]any {
	raw, err := os.ReadFile(path)
	if err != nil {
		ddlog.Errorf("cannot read config file %s: %v", path, err)
		return map[string]any{}
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		ddlog.Errorf("cannot parse config file %s: %v", path, err)
		return map[string]any{}
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc
}

// EnabledProbes returns the enabled app_checks entries, overlay entries
// winning over baseline entries of the same name: baseline is ingested
// first and the overlay is layered on top, overwriting by name.
func (s *Store) EnabledProbes() []ProbeDefinition {
	byName := map[string]ProbeDefinition{}
	order := []string{}

	ingest := func(doc map[string]any) {
		seq, _ := doc["app_checks"].([]any)
		for _, item := range seq {
			node, ok := item.(map[any]any)
			if !ok {
				continue
			}
			def := parseProbeDefinition(node)
			if _, exists := byName[def.Name]; !exists {
				order = append(order, def.Name)
			}
			byName[def.Name] = def
		}
	}
	ingest(s.defaults)
	ingest(s.overlay)

	out := make([]ProbeDefinition, 0, len(order))
	for _, name := range order {
		def := byName[name]
		if def.Enabled {
			out = append(out, def)
		}
	}
	return out
}

func parseProbeDefinition(node map[any]any) ProbeDefinition {
	name := cast.ToString(node["name"])
	moduleName := cast.ToString(node["check_module"])
	if moduleName == "" {
		moduleName = name
	}
	conf := map[string]any{}
	if rawConf, ok := node["conf"].(map[any]any); ok {
		for k, v := range rawConf {
			conf[cast.ToString(k)] = v
		}
	}
	interval := defaultInterval
	if raw, ok := node["interval"]; ok {
		interval = time.Duration(cast.ToInt(raw)) * time.Second
	}
	enabled := true
	if raw, ok := node["enabled"]; ok {
		enabled = cast.ToBool(raw)
	}
	return ProbeDefinition{
		Name:       name,
		ModuleName: moduleName,
		Conf:       conf,
		Interval:   interval,
		Enabled:    enabled,
	}
}

// Setting resolves a two-level (section, key) lookup: overlay value if
// present, else baseline value, else def.
func (s *Store) Setting(section, key string, def any) any {
	if v, ok := lookup(s.overlay, section, key); ok {
		return v
	}
	if v, ok := lookup(s.defaults, section, key); ok {
		return v
	}
	return def
}

func lookup(doc map[string]any, section, key string) (any, bool) {
	sub, ok := doc[section].(map[any]any)
	if !ok {
		return nil, false
	}
	v, ok := sub[key]
	return v, ok
}

// LogLevel resolves log.file_priority to a ddlog level, defaulting to info.
func (s *Store) LogLevel() string {
	return cast.ToString(s.Setting("log", "file_priority", "info"))
}
