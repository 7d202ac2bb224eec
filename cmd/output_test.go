package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	RunID string `json:"run_id"`
	Total int    `json:"total"`
}

func TestWriteOutput_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeOutput(&buf, "json", sample{RunID: "r1", Total: 3}))
	assert.Equal(t, "{\n  \"run_id\": \"r1\",\n  \"total\": 3\n}\n", buf.String())
}

func TestWriteOutput_DefaultIsJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeOutput(&buf, "", sample{RunID: "r1"}))
	assert.Contains(t, buf.String(), `"run_id": "r1"`)
}

func TestWriteOutput_YAMLUsesJSONKeys(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeOutput(&buf, "yaml", sample{RunID: "r1", Total: 3}))
	assert.Equal(t, "run_id: r1\ntotal: 3\n", buf.String())
}

func TestWriteOutput_UnknownFormat(t *testing.T) {
	err := writeOutput(&bytes.Buffer{}, "xml", sample{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "12345678", truncateID("1234567890abcdef"))
	assert.Equal(t, "short", truncateID("short"))
	assert.Equal(t, "", truncateID(""))
}
