// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package ipc wraps the pair of POSIX message queues the engine uses to
// talk to the host agent: a bounded inbound queue and a bounded outbound
// queue, both non-blocking on send and timeout-bound on receive.
//
// golang.org/x/sys/unix exposes the mq_* syscall numbers for Linux
// (SYS_MQ_OPEN, SYS_MQ_TIMEDSEND, SYS_MQ_TIMEDRECEIVE, SYS_MQ_CLOSE) but,
// unlike most syscalls the package wraps, never grew typed Go wrappers
// for the POSIX message queue family or its mq_attr struct. The raw
// unix.Syscall/Syscall6 entry points are used directly below instead of a
// higher-level helper, with a hand-built mqAttr mirroring <mqueue.h>'s
// struct mq_attr.
package ipc

import (
	"strings"
	"time"
	"unsafe"

	"github.com/draios/app-check-runner/internal/ddlog"
	"golang.org/x/sys/unix"
)

const (
	// MsgSize is the fixed max message size, in bytes: 3 MiB.
	MsgSize = 3 << 20
	// MaxMessages is the queue depth.
	MaxMessages = 1
	// MaxQueues bounds the number of such queues accounted for in the
	// process's RLIMIT_MSGQUEUE headroom.
	MaxQueues = 10
)

// RaiseMsgQueueLimit raises RLIMIT_MSGQUEUE to cover MaxQueues queues at
// (MaxMessages+2)*MsgSize each, leaving headroom above the two queues
// actually opened.
func RaiseMsgQueueLimit() error {
	limit := uint64(MaxQueues * (MaxMessages + 2) * MsgSize)
	rlimit := unix.Rlimit{Cur: limit, Max: limit}
	return unix.Setrlimit(unix.RLIMIT_MSGQUEUE, &rlimit)
}

// Direction is which end of the queue this process holds.
type Direction int

const (
	Send Direction = iota
	Receive
)

// Queue is one named POSIX message queue, opened 0600, created if absent.
type Queue struct {
	dir Direction
	fd  int
}

// mqAttr mirrors struct mq_attr from <mqueue.h> on Linux: four longs
// (flags, max queue depth, max message size, current depth) plus
// reserved padding, passed to mq_open(2) to size a newly created queue.
type mqAttr struct {
	Flags    int64
	Maxmsg   int64
	Msgsize  int64
	Curmsgs  int64
	reserved [4]int64
}

// mqOpen issues mq_open(2) directly via the raw syscall number: see the
// package doc comment for why no unix.MqOpen wrapper exists to call
// instead.
func mqOpen(name string, flags int, mode uint32, attr *mqAttr) (int, error) {
	// The kernel takes the queue name without the leading "/" of the
	// POSIX form (libc's mq_open strips it before the syscall).
	namePtr, err := unix.BytePtrFromString(strings.TrimPrefix(name, "/"))
	if err != nil {
		return -1, err
	}
	fd, _, errno := unix.Syscall6(unix.SYS_MQ_OPEN,
		uintptr(unsafe.Pointer(namePtr)),
		uintptr(flags),
		uintptr(mode),
		uintptr(unsafe.Pointer(attr)),
		0, 0)
	if errno != 0 {
		return -1, errno
	}
	return int(fd), nil
}

func mqClose(fd int) error {
	_, _, errno := unix.Syscall(unix.SYS_MQ_CLOSE, uintptr(fd), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// mqTimedsend issues mq_timedsend(2): mqdes, msg_ptr, msg_len, msg_prio,
// abs_timeout.
func mqTimedsend(fd int, msg []byte, prio uint, timeout *unix.Timespec) error {
	var msgPtr unsafe.Pointer
	if len(msg) > 0 {
		msgPtr = unsafe.Pointer(&msg[0])
	}
	_, _, errno := unix.Syscall6(unix.SYS_MQ_TIMEDSEND,
		uintptr(fd),
		uintptr(msgPtr),
		uintptr(len(msg)),
		uintptr(prio),
		uintptr(unsafe.Pointer(timeout)),
		0)
	if errno != 0 {
		return errno
	}
	return nil
}

// mqTimedreceive issues mq_timedreceive(2): mqdes, msg_ptr, msg_len,
// msg_prio (an out-parameter the kernel writes the sender's priority
// into), abs_timeout. The priority is returned to the caller even though
// this queue pair doesn't use message priorities, since mq_timedreceive
// requires a valid pointer for that argument.
func mqTimedreceive(fd int, buf []byte, timeout *unix.Timespec) (int, uint, error) {
	var prio uint32
	n, _, errno := unix.Syscall6(unix.SYS_MQ_TIMEDRECEIVE,
		uintptr(fd),
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(len(buf)),
		uintptr(unsafe.Pointer(&prio)),
		uintptr(unsafe.Pointer(timeout)),
		0)
	if errno != 0 {
		return 0, 0, errno
	}
	return int(n), uint(prio), nil
}

// Open opens (creating if absent) the named queue for the given
// direction, with depth maxMessages and a fixed MsgSize message cap.
func Open(name string, dir Direction, maxMessages int) (*Queue, error) {
	flags := unix.O_CREAT
	switch dir {
	case Send:
		flags |= unix.O_WRONLY
	case Receive:
		flags |= unix.O_RDONLY
	}
	attr := &mqAttr{Maxmsg: int64(maxMessages), Msgsize: MsgSize}
	fd, err := mqOpen(name, flags, 0600, attr)
	if err != nil {
		return nil, err
	}
	return &Queue{dir: dir, fd: fd}, nil
}

// Close releases the queue descriptor. It does not unlink the queue.
func (q *Queue) Close() error {
	if q.fd < 0 {
		return nil
	}
	err := mqClose(q.fd)
	q.fd = -1
	return err
}

// Send is non-blocking. It returns (true, nil) on success. A full queue
// returns (false, nil) -- the dispatcher must never block on a slow
// consumer. An over-size message logs and returns (false, nil) too; only
// an unexpected queue-level I/O error is returned non-nil.
func (q *Queue) Send(msg []byte) (bool, error) {
	if len(msg) > MsgSize {
		ddlog.Errorf("cannot send: message too large, size=%dB", len(msg))
		return false, nil
	}
	err := mqTimedsend(q.fd, msg, 0, &unix.Timespec{Sec: 0, Nsec: 0})
	if err == nil {
		return true, nil
	}
	if err == unix.EAGAIN || err == unix.ETIMEDOUT {
		return false, nil
	}
	return false, err
}

// Receive blocks up to timeout for one message. Signal interruption and
// timeout are indistinguishable to the caller: both yield (nil, false, nil).
func (q *Queue) Receive(timeout time.Duration) ([]byte, bool, error) {
	deadline := time.Now().Add(timeout)
	ts := unix.NsecToTimespec(deadline.UnixNano())
	buf := make([]byte, MsgSize)
	n, _, err := mqTimedreceive(q.fd, buf, &ts)
	if err == nil {
		return buf[:n], true, nil
	}
	if err == unix.ETIMEDOUT || err == unix.EINTR {
		return nil, false, nil
	}
	return nil, false, err
}
