// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package nsgate owns the worker's own mount/network/UTS namespace handles
// and offers scoped entry into a target process's namespaces with
// guaranteed restoration.
package nsgate

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Kind enumerates the namespace kinds a probe may need entry into.
type Kind string

const (
	Mnt Kind = "mnt"
	Net Kind = "net"
	Uts Kind = "uts"
)

// restoreOrder is the fixed order namespaces are restored in on the way
// out of a probe run: net before mnt (net attachment doesn't depend on
// the current mount view), uts last.
var restoreOrder = []Kind{Net, Mnt, Uts}

// EnterError reports a failed setns(2) call while attaching to a target
// process's namespace.
type EnterError struct {
	Pid  int
	Kind Kind
	Err  error
}

func (e *EnterError) Error() string {
	return fmt.Sprintf("cannot setns %s to pid %d: %v", e.Kind, e.Pid, e.Err)
}

func (e *EnterError) Unwrap() error { return e.Err }

// Gate holds the worker's own namespace file handles, opened once at
// startup, plus the mount namespace's inode for identity comparisons.
type Gate struct {
	hostRoot string

	mnt, net, uts *os.File
	mntInode      uint64

	// Supported is true when all three of the worker's own namespaces
	// could be opened. When false, every instance runs with
	// isForeignNamespace=false and no namespace crossing is attempted.
	Supported bool
}

// Open opens the worker's own mnt/net/uts namespace handles under
// hostRoot (the SYSDIG_HOST_ROOT prefix, "" when unset).
func Open(hostRoot string) *Gate {
	g := &Gate{hostRoot: hostRoot}

	mnt, err1 := os.Open(selfNsPath(hostRoot, Mnt))
	net, err2 := os.Open(selfNsPath(hostRoot, Net))
	uts, err3 := os.Open(selfNsPath(hostRoot, Uts))
	if err1 != nil || err2 != nil || err3 != nil {
		closeAll(mnt, net, uts)
		return g
	}

	var st unix.Stat_t
	if err := unix.Fstat(int(mnt.Fd()), &st); err != nil {
		closeAll(mnt, net, uts)
		return g
	}

	g.mnt, g.net, g.uts = mnt, net, uts
	g.mntInode = st.Ino
	g.Supported = true
	return g
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			f.Close()
		}
	}
}

// MountInode returns the worker's own mount namespace inode, used as the
// identity to compare against a target process's mount namespace.
func (g *Gate) MountInode() uint64 { return g.mntInode }

// TargetMountInode stats /proc/<pid>/ns/mnt under the configured host
// root and returns its inode.
func (g *Gate) TargetMountInode(pid int) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Stat(targetNsPath(g.hostRoot, pid, Mnt), &st); err != nil {
		return 0, err
	}
	return st.Ino, nil
}

// Session is one scoped entry into a target process's namespaces. Enter
// opens fresh handles for each needed kind, attaches in the order opened;
// Close restores the worker's own net, mnt, uts namespaces in that exact
// order and closes the opened handles, regardless of how Enter finished.
//
// The caller must keep the current goroutine pinned to its OS thread
// (runtime.LockOSThread) for the session's entire lifetime: setns(2) is a
// per-OS-thread property, and the Go scheduler is otherwise free to
// migrate the goroutine mid-probe.
type Session struct {
	gate    *Gate
	pid     int
	opened  []*os.File
	entered bool
}

// Enter attaches the calling OS thread to pid's namespaces of the given
// kinds, in order. Enter always returns a non-nil *Session: the caller
// must defer session.Close() on every path, including a failed Enter,
// because a setns that fails partway through the list can still leave the
// calling thread attached to one or more target namespaces, and only
// Close's unconditional restore sequence can undo that. The returned
// error is non-nil on any open or setns failure.
func (g *Gate) Enter(pid int, kinds []Kind) (*Session, error) {
	s := &Session{gate: g, pid: pid}
	for _, k := range kinds {
		f, err := os.Open(targetNsPath(g.hostRoot, pid, k))
		if err != nil {
			return s, &EnterError{Pid: pid, Kind: k, Err: err}
		}
		s.opened = append(s.opened, f)
	}
	for i, f := range s.opened {
		// Once the first setns succeeds the thread is already attached to
		// a foreign namespace, so every subsequent exit path -- including
		// this one -- must still go through Close's restore sequence.
		s.entered = true
		if err := unix.Setns(int(f.Fd()), 0); err != nil {
			return s, &EnterError{Pid: pid, Kind: kinds[i], Err: err}
		}
	}
	return s, nil
}

func (s *Session) closeOpened() {
	for _, f := range s.opened {
		f.Close()
	}
	s.opened = nil
}

// Close closes every namespace handle this session opened, then restores
// the worker's own net, mnt, uts namespaces in that order. It is safe to
// call on every exit path, including after a failed Enter.
func (s *Session) Close() error {
	s.closeOpened()
	if !s.entered {
		return nil
	}
	var firstErr error
	for _, kind := range restoreOrder {
		f := s.gate.handleFor(kind)
		if f == nil {
			continue
		}
		if err := unix.Setns(int(f.Fd()), 0); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("restore %s namespace: %w", kind, err)
		}
	}
	return firstErr
}

func (g *Gate) handleFor(kind Kind) *os.File {
	switch kind {
	case Mnt:
		return g.mnt
	case Net:
		return g.net
	case Uts:
		return g.uts
	}
	return nil
}

func selfNsPath(hostRoot string, kind Kind) string {
	return fmt.Sprintf("%s/proc/self/ns/%s", hostRoot, kind)
}

func targetNsPath(hostRoot string, pid int, kind Kind) string {
	return fmt.Sprintf("%s/proc/%d/ns/%s", hostRoot, pid, kind)
}
