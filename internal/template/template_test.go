// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandPort(t *testing.T) {
	proc := ProcData{Ports: []int{9000, 9001}}

	result, err := Expand("http://{port}/status", proc)
	require.NoError(t, err)
	assert.Equal(t, "http://9000/status", result)
}

func TestExpandPortHigh(t *testing.T) {
	proc := ProcData{Ports: []int{9000, 9001}}

	result, err := Expand("{port.high}", proc)
	require.NoError(t, err)
	assert.Equal(t, 9001, result)
}

func TestExpandUnknownToken(t *testing.T) {
	_, err := Expand("{bogus}", ProcData{Ports: []int{1}})
	require.Error(t, err)
	var tmplErr *Error
	assert.ErrorAs(t, err, &tmplErr)
	assert.Equal(t, "bogus", tmplErr.Token)
}

func TestExpandIdempotentOnPlainStrings(t *testing.T) {
	cases := []string{"plain", "http://localhost/health", ""}
	for _, c := range cases {
		result, err := Expand(c, ProcData{})
		require.NoError(t, err)
		assert.Equal(t, c, result)
	}
}

func TestExpandAllDigitsCoercedToInt(t *testing.T) {
	result, err := Expand("007", ProcData{})
	require.NoError(t, err)
	assert.Equal(t, 7, result)
}

func TestExpandMissingPortsFails(t *testing.T) {
	_, err := Expand("{port}", ProcData{})
	require.Error(t, err)
}

func TestExpandMultipleTokens(t *testing.T) {
	proc := ProcData{Ports: []int{80}}
	result, err := Expand("{port}-{port}", proc)
	require.NoError(t, err)
	assert.Equal(t, "80-80", result)
}
