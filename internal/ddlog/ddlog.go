// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package ddlog is the package-level logger used across appchecksd,
// backed by github.com/cihub/seelog the way the rest of the agent family
// wires its loggers. It intentionally writes to stderr, never stdout,
// so log lines never mix into runCheck's printed result on stdout; they
// share stderr with the heartbeat line.
package ddlog

import (
	"fmt"
	"os"
	"sync"

	log "github.com/cihub/seelog"
)

var (
	mu sync.Mutex
	// current starts life as an Info-level stderr logger rather than
	// log.Disabled: appconfig.Load runs before Configure (the config
	// level is itself read from the files being loaded), and any error
	// reading or parsing those files must still reach stderr instead of
	// being swallowed during the bootstrap window.
	current log.LoggerInterface = newLogger(log.InfoLvl)
)

func newLogger(lvl log.LogLevel) log.LoggerInterface {
	l, err := log.LoggerFromWriterWithMinLevelAndFormat(os.Stderr, lvl, "%Pid:%Level:%Msg%n")
	if err != nil {
		fmt.Fprintf(os.Stderr, "ddlog: cannot configure logger: %v\n", err)
		return log.Disabled
	}
	return l
}

// Configure rebuilds the package logger at the given minimum level
// ("error", "warning", "info", "debug"). Unrecognized levels fall back to
// info.
func Configure(level string) {
	// seelog spells the warning level "warn".
	if level == "warning" {
		level = "warn"
	}
	lvl, ok := log.LogLevelFromString(level)
	if !ok {
		lvl = log.InfoLvl
	}
	l := newLogger(lvl)
	mu.Lock()
	current = l
	mu.Unlock()
}

func logger() log.LoggerInterface {
	mu.Lock()
	defer mu.Unlock()
	return current
}

func Debugf(format string, args ...any) { logger().Debugf(format, args...) }
func Infof(format string, args ...any)  { logger().Infof(format, args...) }
func Warnf(format string, args ...any)  { logger().Warnf(format, args...) }
func Errorf(format string, args ...any) { logger().Errorf(format, args...) }
