package report

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReport_Stages(t *testing.T) {
	r := New("run-1", "https://cs01:443")

	h := r.BeginStage(" farms ")
	r.EndStage(h, "", map[string]float64{"fetched": 3, " ": 9}, []string{"", "kept"}, nil)

	h = r.BeginStage("sessions")
	r.EndStage(h, StatusOK, nil, nil, errors.New("page 2: status 500"))

	farms, ok := r.Stage("farms")
	require.True(t, ok)
	assert.Equal(t, StatusOK, farms.Status)
	assert.Equal(t, map[string]float64{"fetched": 3}, farms.Counters)
	assert.Equal(t, []string{"kept"}, farms.Notes)

	sessions, ok := r.Stage("sessions")
	require.True(t, ok)
	assert.Equal(t, StatusError, sessions.Status)
	assert.Equal(t, "page 2: status 500", sessions.Error)
}

func TestReport_SignalsAndSummary(t *testing.T) {
	r := New("run-1", "")
	r.AddSignal("unresolved_reference", "sessions", "Info", "1 reference unresolved", 1)
	r.AddSignal("fetch_truncated", "sessions", SeverityWarning, "stopped at page 2", 2)
	r.AddSignal("", "x", SeverityWarning, "dropped", 0)
	r.AddSignal("run_failed", "run", SeverityCritical, "panic", 0)
	r.EndStage(r.BeginStage("sessions"), StatusPartial, nil, nil, nil)

	assert.True(t, r.HasCritical())
	r.Finalize(map[string]int{"RDSFarm": 1}, 2, 1)

	require.Len(t, r.Signals, 3)
	assert.Equal(t, SeverityCritical, r.Signals[0].Severity)
	assert.Equal(t, SeverityWarning, r.Signals[1].Severity)
	assert.Equal(t, SeverityInfo, r.Signals[2].Severity)

	assert.Equal(t, 1, r.Summary.StageCount)
	assert.Equal(t, 1, r.Summary.FailedStages)
	assert.Equal(t, 2, r.Summary.Edges)
	assert.Equal(t, 1, r.Summary.Unresolved)
	assert.Equal(t, map[string]int{"critical": 1, "warning": 1, "info": 1}, r.Summary.SignalsBySeverity)
}

func TestReport_Save(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "report.json")
	r := New("run-2", "")
	r.Finalize(nil, 0, 0)
	require.NoError(t, r.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "run-2", decoded["run_id"])
	assert.Contains(t, decoded, "summary")
}
