package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingScenario = `name: short_stay
description: admit then discharge
events:
  - kind: admit
    patient_key: MRN-1
    encounter_key: ENC-1
    event_time: 2024-03-01T08:10:00Z
    location: ward-A
  - kind: discharge
    patient_key: MRN-1
    encounter_key: ENC-1
    event_time: 2024-03-01T08:30:00Z
statuses: [applied, applied]
assertions:
  - type: encounter
    key: ENC-1
    expect: {status: discharged, locations: 1}
`

const failingScenario = `name: wrong_status
description: expects the discharge to be ignored
events:
  - kind: admit
    patient_key: MRN-1
    encounter_key: ENC-1
    event_time: 2024-03-01T08:10:00Z
    location: ward-A
  - kind: discharge
    patient_key: MRN-1
    encounter_key: ENC-1
    event_time: 2024-03-01T08:30:00Z
statuses: [applied, ignored]
`

func TestTestCommand_MissingArgs(t *testing.T) {
	_, err := execute(t, "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommand_NonExistentDir(t *testing.T) {
	_, err := execute(t, "test", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTestCommand_EmptyDir(t *testing.T) {
	out, err := execute(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found")

	resp, err := executeJSON(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
}

func TestTestCommand_Passing(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "short_stay.yaml", passingScenario)

	out, err := execute(t, "test", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ short_stay")
	assert.Contains(t, out, "Test Summary: 1 passed, 0 failed, 1 total")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTestCommand_Failing(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "short_stay.yaml", passingScenario)
	writeFile(t, dir, "wrong_status.yaml", failingScenario)

	out, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong_status")
	assert.Contains(t, out, "events[1] (discharge): expected status ignored, got applied")
	assert.Contains(t, out, "Test Summary: 1 passed, 1 failed, 2 total")
}

func TestTestCommand_LoadError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.yaml", "name: broken\n")

	resp, err := executeJSON(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ErrCodeTestFailed, resp.Error.Code)

	var result TestResult
	decodeData(t, resp, &result)
	require.Len(t, result.Scenarios, 1)
	assert.Equal(t, "broken", result.Scenarios[0].Name)
	assert.Contains(t, result.Scenarios[0].Errors[0], "failed to load scenario")
}

func TestTestCommand_Filter(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "short_stay.yaml", passingScenario)
	writeFile(t, dir, "wrong_status.yaml", failingScenario)

	out, err := execute(t, "test", dir, "--filter", "short_*")
	require.NoError(t, err)
	assert.Contains(t, out, "1 total")
	assert.NotContains(t, out, "wrong_status")
}

func TestTestCommand_Golden(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "short_stay.yaml", passingScenario)
	golden := filepath.Join(dir, "golden", "short_stay.golden")

	out, err := execute(t, "test", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ short_stay (golden updated)")
	require.FileExists(t, golden)

	resp, err := executeJSON(t, "test", dir)
	require.NoError(t, err)
	var result TestResult
	decodeData(t, resp, &result)
	assert.Equal(t, "match", result.Scenarios[0].Golden)

	require.NoError(t, os.WriteFile(golden, []byte(`{"scenario":"short_stay"}`), 0o644))
	out, err = execute(t, "test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "snapshot does not match golden file")
}

func TestTestCommand_HarnessScenarios(t *testing.T) {
	out, err := execute(t, "test", filepath.Join("..", "harness", "testdata", "scenarios"))
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ All scenarios passed")
}
