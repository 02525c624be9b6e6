// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package cache is the per-process probe instance cache: a pid->Instance
// map, a time-windowed blacklist of pids whose probe failed to construct
// or raised on run, and the periodic maintenance that evicts stale
// entries and flushes the blacklist. Touched only by the dispatcher's
// single-threaded main loop, so no locking is required.
package cache

import (
	"time"

	"github.com/draios/app-check-runner/internal/instance"
)

const (
	// KnownInstancesCleanupInterval is how often untouched cached
	// instances are evicted.
	KnownInstancesCleanupInterval = 10 * time.Minute
	// BlacklistRetryWindow is how often the whole blacklist is flushed,
	// letting every blacklisted pid retry.
	BlacklistRetryWindow = 30 * time.Minute
)

// Cache holds the per-pid instance map, blacklist, and cleanup clocks.
type Cache struct {
	known       map[int]*instance.Instance
	blacklisted map[int]struct{}
	lastRequest map[int]struct{}

	lastKnownCleanup     time.Time
	lastBlacklistCleanup time.Time
}

// New returns an empty cache with both cleanup clocks started at now.
func New(now time.Time) *Cache {
	return &Cache{
		known:                map[int]*instance.Instance{},
		blacklisted:          map[int]struct{}{},
		lastRequest:          map[int]struct{}{},
		lastKnownCleanup:     now,
		lastBlacklistCleanup: now,
	}
}

// BeginRequest clears the set of pids touched by the batch about to be
// processed. Call once per inbound message, before iterating its records.
func (c *Cache) BeginRequest() {
	c.lastRequest = map[int]struct{}{}
}

// Touch records pid as seen in the request currently being processed.
func (c *Cache) Touch(pid int) {
	c.lastRequest[pid] = struct{}{}
}

// Get returns the cached instance for pid, if any.
func (c *Cache) Get(pid int) (*instance.Instance, bool) {
	in, ok := c.known[pid]
	return in, ok
}

// Put installs a freshly constructed instance for pid.
func (c *Cache) Put(pid int, in *instance.Instance) {
	c.known[pid] = in
}

// IsBlacklisted reports whether pid is currently blacklisted.
func (c *Cache) IsBlacklisted(pid int) bool {
	_, ok := c.blacklisted[pid]
	return ok
}

// Blacklist adds pid to the blacklist. The pid's cached instance, if any,
// is retained: a probe that raises repeatedly is still run every batch so
// it can keep draining whatever side-channel metrics it accumulates.
func (c *Cache) Blacklist(pid int) {
	c.blacklisted[pid] = struct{}{}
}

// CleanKnownInstances removes every cached instance whose pid was not
// touched by the most recent request. The key set is snapshotted before
// any deletion, per the design note resolving the "mutating a live
// mapping while iterating it" open question.
func (c *Cache) CleanKnownInstances() {
	stale := make([]int, 0, len(c.known))
	for pid := range c.known {
		if _, touched := c.lastRequest[pid]; !touched {
			stale = append(stale, pid)
		}
	}
	for _, pid := range stale {
		delete(c.known, pid)
	}
}

// ClearBlacklist empties the blacklist, letting previously failing pids
// retry.
func (c *Cache) ClearBlacklist() {
	c.blacklisted = map[int]struct{}{}
}

// MaintainPeriodic runs the two periodic cleanups if their interval has
// elapsed as of now, updating the corresponding clock whenever it does.
func (c *Cache) MaintainPeriodic(now time.Time) {
	if now.Sub(c.lastKnownCleanup) > KnownInstancesCleanupInterval {
		c.CleanKnownInstances()
		c.lastKnownCleanup = now
	}
	if now.Sub(c.lastBlacklistCleanup) > BlacklistRetryWindow {
		c.ClearBlacklist()
		c.lastBlacklistCleanup = now
	}
}
