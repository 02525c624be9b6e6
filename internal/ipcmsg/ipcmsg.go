// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package ipcmsg defines the wire shapes exchanged with the host agent
// over the two IPC queues.
package ipcmsg

import "github.com/draios/app-check-runner/internal/probe"

// ProcessRequest is one element of the inbound JSON array.
type ProcessRequest struct {
	PID   int    `json:"pid"`
	VPID  int    `json:"vpid"`
	Check string `json:"check"`
	Ports []int  `json:"ports"`
}

// ProcessResult is one element of the outbound JSON array.
type ProcessResult struct {
	PID           int                  `json:"pid"`
	DisplayName   string               `json:"display_name"`
	Metrics       []probe.Metric       `json:"metrics"`
	ServiceChecks []probe.ServiceCheck `json:"service_checks"`
	ExpirationTS  int64                `json:"expiration_ts"`
}
