// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Command appchecksd is the sidecar application check runner: on demand
// from the host agent it probes co-located application processes and
// returns metrics and service-health verdicts over a pair of local POSIX
// message queues.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/draios/app-check-runner/internal/appconfig"
	"github.com/draios/app-check-runner/internal/ddlog"
	"github.com/draios/app-check-runner/internal/dispatcher"
	"github.com/draios/app-check-runner/internal/ipc"
	"github.com/draios/app-check-runner/internal/ipcmsg"
	"github.com/draios/app-check-runner/internal/nsgate"
	"github.com/draios/app-check-runner/internal/probe"

	_ "github.com/draios/app-check-runner/probes/builtin/echo"
	_ "github.com/draios/app-check-runner/probes/custom"
)

const (
	defaultConfigPath  = "/opt/draios/etc/dragent.default.yaml"
	overlayConfigPath  = "/opt/draios/etc/dragent.yaml"
	inboundQueueName   = "/sdc_app_checks_in"
	outboundQueueName  = "/sdc_app_checks_out"
	agentConfigVersion = 1.0
)

func main() {
	root := &cobra.Command{
		Use:           "appchecksd",
		Short:         "Sidecar application check runner",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMainLoop()
		},
	}
	root.AddCommand(newRunCheckCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func hostRoot() string {
	return os.Getenv("SYSDIG_HOST_ROOT")
}

func newAgentConfig() (probe.AgentConfig, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return probe.AgentConfig{}, fmt.Errorf("resolve hostname: %w", err)
	}
	return probe.AgentConfig{
		IsDeveloperMode: false,
		Version:         agentConfigVersion,
		Hostname:        hostname,
		APIKey:          "",
	}, nil
}

func runMainLoop() error {
	store := appconfig.Load(defaultConfigPath, overlayConfigPath)
	ddlog.Configure(store.LogLevel())
	ddlog.Infof("starting")

	gate := nsgate.Open(hostRoot())
	ddlog.Infof("container support: %v", gate.Supported)

	if err := ipc.RaiseMsgQueueLimit(); err != nil {
		ddlog.Errorf("cannot raise RLIMIT_MSGQUEUE: %v", err)
	}

	in, err := ipc.Open(inboundQueueName, ipc.Receive, 1)
	if err != nil {
		return fmt.Errorf("open inbound queue: %w", err)
	}
	defer in.Close()

	out, err := ipc.Open(outboundQueueName, ipc.Send, 1)
	if err != nil {
		return fmt.Errorf("open outbound queue: %w", err)
	}
	defer out.Close()

	agentCfg, err := newAgentConfig()
	if err != nil {
		return err
	}

	d := dispatcher.New(in, out, os.Stderr, store, gate, agentCfg)

	installStackTraceHandler()

	for {
		if err := d.RunOnce(); err != nil {
			return err
		}
	}
}

// installStackTraceHandler registers SIGUSR1 to dump the stacks of all
// goroutines to stderr, for diagnosing a hung worker without killing it.
func installStackTraceHandler() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1)
	go func() {
		buf := make([]byte, 1<<16)
		for range sigCh {
			n := runtime.Stack(buf, true)
			os.Stderr.Write(buf[:n])
		}
	}()
}

func newRunCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-check <check_name> <pid> [vpid] [port]",
		Short: "Construct and run one probe against a target process once",
		Args:  cobra.RangeArgs(2, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			runCheck(args)
			return nil
		},
	}
}

// runCheck constructs the named probe for the given target process once,
// executes it once, and prints the resolved instance config, metrics,
// service checks, and error. It always exits 0, regardless of probe
// outcome.
func runCheck(args []string) {
	checkName := args[0]
	pid, err := strconv.Atoi(args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid pid %q: %v\n", args[1], err)
		return
	}
	vpid := 1
	if len(args) >= 3 {
		if vpid, err = strconv.Atoi(args[2]); err != nil {
			fmt.Fprintf(os.Stderr, "invalid vpid %q: %v\n", args[2], err)
			return
		}
	}
	var ports []int
	if len(args) >= 4 {
		port, err := strconv.Atoi(args[3])
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid port %q: %v\n", args[3], err)
			return
		}
		ports = []int{port}
	}

	store := appconfig.Load(defaultConfigPath, overlayConfigPath)
	ddlog.Configure(store.LogLevel())

	gate := nsgate.Open(hostRoot())
	agentCfg, err := newAgentConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return
	}

	d := dispatcher.New(nil, nil, os.Stderr, store, gate, agentCfg)
	conf, metrics, serviceChecks, runErr := d.RunCheckOnce(ipcmsg.ProcessRequest{
		PID:   pid,
		VPID:  vpid,
		Check: checkName,
		Ports: ports,
	})

	fmt.Printf("Conf: %#v\n", conf)
	fmt.Printf("Metrics: %#v\n", metrics)
	fmt.Printf("Checks: %#v\n", serviceChecks)
	fmt.Printf("Exception: %v\n", runErr)
}
