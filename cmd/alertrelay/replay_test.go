package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/storm-alert-relay/internal/domain"
	"github.com/couchcryptid/storm-alert-relay/internal/processor"
)

func TestLoadAlerts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"alert": {"id": " A1 "}, "severity": "extreme"},
		{"alert": {}, "severity": "Severe"}
	]`), 0o600))

	alerts, err := loadAlerts(path)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, "A1", alerts[0].ID)
	assert.Equal(t, domain.SeverityExtreme, alerts[0].Severity)
	assert.Empty(t, alerts[1].ID, "invalid alerts are left for the batch run to reject")
}

func TestLoadAlerts_NotAnArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"alert": {"id": "A1"}}`), 0o600))

	_, err := loadAlerts(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode replay file")
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)

	err := printSummary(cmd, processor.BatchSummary{
		Total:     2,
		Published: 1,
		Failed:    1,
		Outcomes: []processor.Outcome{
			{AlertID: "A1", Status: processor.StatusPublished},
			{AlertID: "A2", Status: processor.StatusPublishFailed, Err: errors.New("chat api down")},
		},
	})
	require.NoError(t, err)

	var got replaySummary
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, 2, got.Total)
	assert.Equal(t, 1, got.Published)
	assert.Equal(t, 1, got.Failed)
	require.Len(t, got.Alerts, 2)
	assert.Empty(t, got.Alerts[0].Error)
	assert.Equal(t, "chat api down", got.Alerts[1].Error)
}

func TestReplayCmd_RequiresFile(t *testing.T) {
	cmd := newReplayCmd()
	cmd.SetArgs([]string{})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "file" not set`)
}
