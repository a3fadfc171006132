package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandsRegistered(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"enqueue", "process", "status", "complete", "fail", "migrate", "generation"} {
		assert.Contains(t, names, want)
	}
}

func TestParseRunIDFlag(t *testing.T) {
	_, err := parseRunIDFlag("")
	require.ErrorContains(t, err, "--run-id is required")

	_, err = parseRunIDFlag("not-a-uuid")
	require.ErrorContains(t, err, "--run-id")

	id, err := parseRunIDFlag("6f1c2d3e-4b5a-4c6d-8e7f-9a0b1c2d3e4f")
	require.NoError(t, err)
	assert.Equal(t, "6f1c2d3e-4b5a-4c6d-8e7f-9a0b1c2d3e4f", id.String())
}

func TestEnqueue_RejectsUnknownFormatBeforeConnecting(t *testing.T) {
	t.Cleanup(func() { enqFormat = "video" })
	enqFormat = "hologram"
	err := runEnqueue(enqueueCmd, nil)
	require.Error(t, err)
}

func TestStatus_RequiresRunID(t *testing.T) {
	t.Cleanup(func() { statusRunID = "" })
	statusRunID = ""
	err := runStatus(statusCmd, nil)
	require.ErrorContains(t, err, "--run-id is required")
}

func TestPrintJSON_Indents(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printJSON(&buf, map[string]int{"a": 1}))
	assert.Equal(t, "{\n  \"a\": 1\n}\n", buf.String())
}
