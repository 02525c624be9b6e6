// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package instance binds a probe Check to one target process: resolving
// its configuration once at construction time and, on each Run, crossing
// into the target's namespaces when required.
package instance

import (
	"fmt"
	"runtime"
	"time"

	"github.com/draios/app-check-runner/internal/appconfig"
	"github.com/draios/app-check-runner/internal/ipcmsg"
	"github.com/draios/app-check-runner/internal/nsgate"
	"github.com/draios/app-check-runner/internal/probe"
	"github.com/draios/app-check-runner/internal/template"
)

// InitError reports that a ProbeInstance could not be constructed; the
// caller blacklists the pid on this error.
type InitError struct {
	Name string
	Pid  int
	Err  error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("cannot init probe %s for pid %d: %v", e.Name, e.Pid, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// RunError wraps any error returned by the probe body. It never aborts
// the engine; the caller blacklists the pid unless already blacklisted.
type RunError struct {
	Name string
	Pid  int
	Err  error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("probe %s run for pid %d: %v", e.Name, e.Pid, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Instance is a probe class bound to one target pid with resolved
// configuration. Once created it is never reconfigured: the cache keeps
// reusing it for its pid, even when a later request lists different
// ports, until the instance is evicted.
type Instance struct {
	Name     string
	Pid      int
	Vpid     int
	Interval time.Duration

	isForeignNamespace bool
	instanceConf       map[string]any

	check    probe.Check
	neededNS []nsgate.Kind
	gate     *nsgate.Gate
}

// New constructs a probe instance bound to req.
func New(def appconfig.ProbeDefinition, factory probe.Factory, agentCfg probe.AgentConfig, gate *nsgate.Gate, req ipcmsg.ProcessRequest) (*Instance, error) {
	check, err := factory(def.Name, map[string]any{}, agentCfg)
	if err != nil {
		return nil, &InitError{Name: def.Name, Pid: req.PID, Err: err}
	}

	isForeign := false
	if gate.Supported {
		targetInode, err := gate.TargetMountInode(req.PID)
		if err != nil {
			return nil, &InitError{Name: def.Name, Pid: req.PID, Err: fmt.Errorf("stat mount namespace: %w", err)}
		}
		isForeign = targetInode != gate.MountInode()
	}

	conf := map[string]any{
		"host":  "localhost",
		"name":  def.Name,
		"ports": req.Ports,
	}
	if len(req.Ports) > 0 {
		conf["port"] = req.Ports[0]
	}

	proc := template.ProcData{PID: req.PID, VPID: req.VPID, Ports: req.Ports}
	for key, value := range def.Conf {
		if s, ok := value.(string); ok {
			expanded, err := template.Expand(s, proc)
			if err != nil {
				return nil, &InitError{Name: def.Name, Pid: req.PID, Err: err}
			}
			conf[key] = expanded
		} else {
			conf[key] = value
		}
	}

	var neededNS []nsgate.Kind
	if aware, ok := check.(probe.NamespaceAware); ok {
		for _, k := range aware.NeededNS() {
			neededNS = append(neededNS, nsgate.Kind(k))
		}
	}

	return &Instance{
		Name:               def.Name,
		Pid:                req.PID,
		Vpid:               req.VPID,
		Interval:           def.Interval,
		isForeignNamespace: isForeign,
		instanceConf:       conf,
		check:              check,
		neededNS:           neededNS,
		gate:               gate,
	}, nil
}

// InstanceConf returns the resolved instance configuration, for the
// runCheck debug command.
func (in *Instance) InstanceConf() map[string]any { return in.instanceConf }

// IsForeignNamespace reports whether this instance's target process lives
// in a different mount namespace than the worker.
func (in *Instance) IsForeignNamespace() bool { return in.isForeignNamespace }

// Run executes one probe iteration:
//  1. if isForeignNamespace, enter the probe's needed namespaces;
//  2. invoke check.Check(instanceConf), capturing any error;
//  3. always: close opened namespace handles and restore the worker's
//     own namespaces, regardless of outcome;
//  4. drain (and discard) GetEvents/GetServiceMetadata;
//  5. return metrics, service checks, and the captured error.
func (in *Instance) Run() ([]probe.Metric, []probe.ServiceCheck, error) {
	var runErr error

	if in.isForeignNamespace && len(in.neededNS) > 0 {
		runErr = func() (err error) {
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()

			session, enterErr := in.gate.Enter(in.Pid, in.neededNS)
			defer func() {
				if closeErr := session.Close(); closeErr != nil && err == nil {
					err = &RunError{Name: in.Name, Pid: in.Pid, Err: closeErr}
				}
			}()

			if enterErr != nil {
				return &RunError{Name: in.Name, Pid: in.Pid, Err: enterErr}
			}
			if checkErr := in.check.Check(in.instanceConf); checkErr != nil {
				return &RunError{Name: in.Name, Pid: in.Pid, Err: checkErr}
			}
			return nil
		}()
	} else {
		if err := in.check.Check(in.instanceConf); err != nil {
			runErr = &RunError{Name: in.Name, Pid: in.Pid, Err: err}
		}
	}

	// Drain internal buffers to bound memory growth; results discarded.
	in.check.GetEvents()
	in.check.GetServiceMetadata()

	return in.check.GetMetrics(), in.check.GetServiceChecks(), runErr
}
