// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package dispatcher is the main request/response loop: read one request,
// resolve or create a probe instance per listed pid, run each probe,
// aggregate results, write one response, perform periodic cache
// maintenance, and emit a heartbeat line.
package dispatcher

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/draios/app-check-runner/internal/appconfig"
	"github.com/draios/app-check-runner/internal/cache"
	"github.com/draios/app-check-runner/internal/ddlog"
	"github.com/draios/app-check-runner/internal/instance"
	"github.com/draios/app-check-runner/internal/ipc"
	"github.com/draios/app-check-runner/internal/ipcmsg"
	"github.com/draios/app-check-runner/internal/nsgate"
	"github.com/draios/app-check-runner/internal/probe"
	"github.com/draios/app-check-runner/internal/proberegistry"
)

// ReceiveTimeout is how long the dispatcher blocks waiting for the next
// inbound message before running periodic maintenance and emitting a
// heartbeat.
const ReceiveTimeout = time.Second

// Dispatcher wires the instance cache to the IPC endpoints and probe
// configuration. It is strictly single-threaded: one batch is processed
// to completion before the next is read.
type Dispatcher struct {
	in       *ipc.Queue
	out      *ipc.Queue
	hb       io.Writer
	cache    *cache.Cache
	gate     *nsgate.Gate
	agentCfg probe.AgentConfig
	probes   map[string]resolvedProbe
	pid      int
}

// resolvedProbe pairs a ProbeDefinition with the Factory its module_name
// resolved to at startup. Resolution happens once, when the
// configuration is parsed, rather than on every per-pid instantiation.
type resolvedProbe struct {
	def     appconfig.ProbeDefinition
	factory probe.Factory
}

// New builds a Dispatcher over the given inbound/outbound queues. agentCfg
// is the fixed agent configuration passed to every probe instance
// constructed through this dispatcher. The enabled probe definitions are
// snapshotted and their modules resolved once here: the config store is
// immutable after startup, and a module that fails to load is logged and
// dropped from the enabled set rather than retried per request.
func New(in, out *ipc.Queue, hb io.Writer, store *appconfig.Store, gate *nsgate.Gate, agentCfg probe.AgentConfig) *Dispatcher {
	probes := map[string]resolvedProbe{}
	for _, def := range store.EnabledProbes() {
		factory, err := proberegistry.Load(def.Name, def.ModuleName)
		if err != nil {
			ddlog.Errorf("configuration error for check %s: %v", def.Name, err)
			continue
		}
		probes[def.Name] = resolvedProbe{def: def, factory: factory}
	}
	return &Dispatcher{
		in:       in,
		out:      out,
		hb:       hb,
		cache:    cache.New(time.Now()),
		gate:     gate,
		agentCfg: agentCfg,
		probes:   probes,
		pid:      os.Getpid(),
	}
}

// RunOnce processes at most one inbound message (if any is available
// within ReceiveTimeout) and always performs periodic maintenance plus a
// heartbeat emission. The main loop is `for { d.RunOnce() }`.
func (d *Dispatcher) RunOnce() error {
	msg, ok, err := d.in.Receive(ReceiveTimeout)
	if err != nil {
		return fmt.Errorf("inbound queue receive: %w", err)
	}
	if ok {
		d.handleRequest(msg)
	}

	now := time.Now()
	d.cache.MaintainPeriodic(now)
	d.heartbeat(now)
	return nil
}

func (d *Dispatcher) handleRequest(msg []byte) {
	var reqs []ipcmsg.ProcessRequest
	if err := json.Unmarshal(msg, &reqs); err != nil {
		ddlog.Errorf("cannot decode inbound request: %v", err)
		return
	}

	results := d.HandleBatch(reqs)

	body, err := json.Marshal(results)
	if err != nil {
		ddlog.Errorf("cannot encode outbound response: %v", err)
		return
	}
	ddlog.Debugf("response size is %d", len(body))
	sent, err := d.out.Send(body)
	if err != nil {
		ddlog.Errorf("outbound queue send failed: %v", err)
		return
	}
	if !sent {
		ddlog.Errorf("outbound queue full, dropping response")
	}
}

// HandleBatch runs one full request/response cycle over reqs without
// touching the IPC queues. It is the core of handleRequest, split out so
// it can be driven directly by tests.
func (d *Dispatcher) HandleBatch(reqs []ipcmsg.ProcessRequest) []ipcmsg.ProcessResult {
	d.cache.BeginRequest()
	results := make([]ipcmsg.ProcessResult, 0, len(reqs))

	for _, req := range reqs {
		d.cache.Touch(req.PID)

		in, ok := d.cache.Get(req.PID)
		if !ok {
			if d.cache.IsBlacklisted(req.PID) {
				ddlog.Debugf("process with pid=%d is blacklisted", req.PID)
				continue
			}
			var err error
			in, err = d.createInstance(req)
			if err != nil {
				var initErr *instance.InitError
				if errors.As(err, &initErr) {
					ddlog.Errorf("exception on creating check for pid=%d: %v", req.PID, err)
					d.cache.Blacklist(req.PID)
					continue
				}
				ddlog.Errorf("cannot find check configuration for name: %s", req.Check)
				continue
			}
			d.cache.Put(req.PID, in)
		}

		metrics, serviceChecks, runErr := in.Run()
		if runErr != nil && !d.cache.IsBlacklisted(req.PID) {
			ddlog.Errorf("exception on running check %s: %v", in.Name, runErr)
			d.cache.Blacklist(req.PID)
		}

		expiration := time.Now().Add(in.Interval).Unix()
		results = append(results, ipcmsg.ProcessResult{
			PID:           req.PID,
			DisplayName:   in.Name,
			Metrics:       metrics,
			ServiceChecks: serviceChecks,
			ExpirationTS:  expiration,
		})
	}

	return results
}

// missingProbeError marks "probe name not found in config", which is not
// an InitError: the pid is skipped but never blacklisted.
type missingProbeError struct{ name string }

func (e *missingProbeError) Error() string { return fmt.Sprintf("unknown check: %s", e.name) }

func (d *Dispatcher) createInstance(req ipcmsg.ProcessRequest) (*instance.Instance, error) {
	resolved, ok := d.probes[req.Check]
	if !ok {
		return nil, &missingProbeError{name: req.Check}
	}
	return instance.New(resolved.def, resolved.factory, d.agentCfg, d.gate, req)
}

// RunCheckOnce constructs the named probe for req's target process and
// runs it exactly once, bypassing the instance cache entirely. This backs
// the `run-check` debug CLI.
func (d *Dispatcher) RunCheckOnce(req ipcmsg.ProcessRequest) (map[string]any, []probe.Metric, []probe.ServiceCheck, error) {
	in, err := d.createInstance(req)
	if err != nil {
		return nil, nil, nil, err
	}
	metrics, serviceChecks, runErr := in.Run()
	return in.InstanceConf(), metrics, serviceChecks, runErr
}

func (d *Dispatcher) heartbeat(now time.Time) {
	rssKB := int64(0)
	if proc, err := process.NewProcess(int32(d.pid)); err == nil {
		if mem, err := proc.MemoryInfo(); err == nil {
			rssKB = int64(mem.RSS / 1024)
		}
	}
	fmt.Fprintf(d.hb, "HB,%d,%d,%d\n", d.pid, rssKB, now.Unix())
	if flusher, ok := d.hb.(interface{ Flush() error }); ok {
		_ = flusher.Flush()
	}
}
