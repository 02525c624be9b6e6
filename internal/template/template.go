// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package template expands "{token}" placeholders inside probe config
// strings using per-process metadata, with an explicit tokenizer rather
// than a regex-plus-dispatch-table.
package template

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

// Error reports a token that could not be expanded.
type Error struct {
	Value string
	Token string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("cannot expand template %q: token %q: %v", e.Value, e.Token, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ProcData is the per-process metadata tokens are resolved against.
type ProcData struct {
	PID   int
	VPID  int
	Ports []int
}

type tokenFunc func(ProcData) (any, error)

var tokens = map[string]tokenFunc{
	"port": func(p ProcData) (any, error) {
		if len(p.Ports) == 0 {
			return nil, fmt.Errorf("no ports on this process")
		}
		return p.Ports[0], nil
	},
	"port.high": func(p ProcData) (any, error) {
		if len(p.Ports) == 0 {
			return nil, fmt.Errorf("no ports on this process")
		}
		return p.Ports[len(p.Ports)-1], nil
	},
}

// Expand scans value for non-overlapping "{TOKEN}" runs and substitutes
// each with the recognized token's resolution against proc. Literal text
// outside of "{...}" is copied verbatim. If the fully expanded string is
// all decimal digits, the result is coerced to an int; otherwise it stays
// a string. Unknown tokens fail with *Error.
func Expand(value string, proc ProcData) (any, error) {
	var b strings.Builder
	rest := value
	for {
		start := strings.IndexByte(rest, '{')
		if start < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.IndexByte(rest[start:], '}')
		if end < 0 {
			b.WriteString(rest)
			break
		}
		end += start
		b.WriteString(rest[:start])
		key := rest[start+1 : end]
		fn, ok := tokens[key]
		if !ok {
			return nil, &Error{Value: value, Token: key, Err: fmt.Errorf("unknown token")}
		}
		resolved, err := fn(proc)
		if err != nil {
			return nil, &Error{Value: value, Token: key, Err: err}
		}
		b.WriteString(cast.ToString(resolved))
		rest = rest[end+1:]
	}
	result := b.String()
	if isAllDigits(result) {
		if n, err := strconv.Atoi(result); err == nil {
			return n, nil
		}
	}
	return result, nil
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
