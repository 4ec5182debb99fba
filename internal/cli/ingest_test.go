package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stayFeed = `name: ward-3 morning
source_system: PAS
events:
  - kind: admit
    patient_key: MRN-1
    encounter_key: ENC-1
    event_time: 2024-03-01T08:10:00Z
    location: ward-A
    patient_class: inpatient
  - kind: transfer
    patient_key: MRN-1
    encounter_key: ENC-1
    event_time: 2024-03-01T08:20:00Z
    location: ward-B
  - kind: discharge
    patient_key: MRN-1
    encounter_key: ENC-1
    event_time: 2024-03-01T08:30:00Z
    disposition: home
`

// ingestFeed writes feed to a temp dir and ingests it into a new store,
// returning the store path.
func ingestFeed(t *testing.T, feed string) string {
	t.Helper()
	dir := t.TempDir()
	db := filepath.Join(dir, "admitlog.db")
	path := writeFile(t, dir, "feed.yaml", feed)

	_, err := execute(t, "ingest", "--db", db, "--workers", "1", path)
	require.NoError(t, err)
	return db
}

func TestIngest_AppliesFeed(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "admitlog.db")
	path := writeFile(t, dir, "feed.yaml", stayFeed)

	out, err := execute(t, "ingest", "--db", db, path)
	require.NoError(t, err)
	assert.Contains(t, out, "Ingested 3 event(s) from 1 feed(s): 3 applied, 0 ignored, 0 failed")
	assert.FileExists(t, db)
}

func TestIngest_SecondRunIsIgnored(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "admitlog.db")
	path := writeFile(t, dir, "feed.yaml", stayFeed)

	_, err := execute(t, "ingest", "--db", db, path)
	require.NoError(t, err)

	out, err := execute(t, "ingest", "--db", db, path)
	require.NoError(t, err)
	assert.Contains(t, out, "0 applied, 3 ignored, 0 failed")
}

func TestIngest_FailedEvents(t *testing.T) {
	feed := stayFeed + `  - kind: transfer
    patient_key: MRN-1
    encounter_key: ENC-1
    event_time: 2024-03-01T08:40:00Z
    location: ward-C
`
	dir := t.TempDir()
	db := filepath.Join(dir, "admitlog.db")
	path := writeFile(t, dir, "feed.yaml", feed)

	out, err := execute(t, "ingest", "--db", db, "--workers", "1", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "events[3] transfer ENC-1")
	assert.Contains(t, out, "transfer after discharge")
	assert.Contains(t, out, "3 applied, 0 ignored, 1 failed")
}

func TestIngest_JSON(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "admitlog.db")
	path := writeFile(t, dir, "feed.yaml", stayFeed)

	resp, err := executeJSON(t, "ingest", "--db", db, path)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)

	var summary IngestSummary
	decodeData(t, resp, &summary)
	assert.Equal(t, []string{path}, summary.Files)
	assert.Equal(t, 3, summary.Events)
	assert.Equal(t, 3, summary.Applied)
	assert.Empty(t, summary.Failures)
}

func TestIngest_InvalidFeedAppliesNothing(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "admitlog.db")
	good := writeFile(t, dir, "a.yaml", stayFeed)
	bad := writeFile(t, dir, "b.yaml", "events:\n  - kind: admit\n    patient_key: MRN-1\n    event_time: 2024-03-01T08:10:00Z\n")

	out, err := execute(t, "ingest", "--db", db, good, bad)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E_INVALID_FEED]")
	assert.NoFileExists(t, db)
}

func TestIngest_UnsupportedKindFails(t *testing.T) {
	feed := `events:
  - kind: order_lab
    patient_key: MRN-1
    event_time: 2024-03-01T08:10:00Z
`
	dir := t.TempDir()
	db := filepath.Join(dir, "admitlog.db")
	path := writeFile(t, dir, "feed.yaml", feed)

	out, err := execute(t, "ingest", "--db", db, path)
	require.Error(t, err)
	assert.Contains(t, out, "warning:")
	assert.Contains(t, out, "E203")
	assert.Contains(t, out, "UNSUPPORTED_EVENT")
}

func TestIngest_Directory(t *testing.T) {
	dir := t.TempDir()
	feeds := filepath.Join(dir, "feeds")
	writeFile(t, feeds, "1.yaml", stayFeed)
	writeFile(t, feeds, "2.yml", `events:
  - kind: admit
    patient_key: MRN-2
    encounter_key: ENC-2
    event_time: 2024-03-01T09:00:00Z
    location: ward-A
`)
	writeFile(t, feeds, "notes.txt", "not a feed")

	out, err := execute(t, "ingest", "--db", filepath.Join(dir, "admitlog.db"), feeds)
	require.NoError(t, err)
	assert.Contains(t, out, "Ingested 4 event(s) from 2 feed(s)")
}

func TestIngest_DatabaseFromEnvironment(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "env.db")
	t.Setenv("ADMITLOG_DB", db)
	path := writeFile(t, dir, "feed.yaml", stayFeed)

	_, err := execute(t, "ingest", path)
	require.NoError(t, err)
	assert.FileExists(t, db)
}

func TestIngest_InvalidConfiguration(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "feed.yaml", stayFeed)

	t.Setenv("ADMITLOG_MAX_ATTEMPTS", "0")
	_, err := execute(t, "ingest", "--db", filepath.Join(dir, "x.db"), path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "max attempts must be at least 1")
}

func TestIngest_MetricsServer(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "feed.yaml", stayFeed)

	out, err := execute(t, "ingest", "--db", filepath.Join(dir, "m.db"), "--metrics-addr", "127.0.0.1:0", path)
	require.NoError(t, err)
	assert.Contains(t, out, "3 applied")
}

func TestIngest_MissingFeed(t *testing.T) {
	_, err := execute(t, "ingest", "--db", filepath.Join(t.TempDir(), "x.db"), "/nonexistent/feed.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
