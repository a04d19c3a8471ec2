package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/coincidence/internal/coincidence"
	"github.com/banshee-data/coincidence/internal/esd"
	"github.com/banshee-data/coincidence/internal/report"
	"github.com/banshee-data/coincidence/internal/testutil"
)

// run executes the command tree with args against dbPath and returns stdout.
func run(t *testing.T, dbPath string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--db", dbPath, "-q"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, dbPath string, args ...string) string {
	t.Helper()
	out, err := run(t, dbPath, args...)
	require.NoError(t, err, "coincidences %s", strings.Join(args, " "))
	return out
}

// referenceDir writes the reference stations as ESD event files.
func referenceDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for id, ts := range testutil.ReferenceStations() {
		events := make([]coincidence.Event, len(ts))
		for i, v := range ts {
			events[i] = coincidence.Event{Timestamp: v, SourceID: id, LocalIndex: uint64(i)}
		}
		f, err := os.Create(filepath.Join(dir, fmt.Sprintf("%d.tsv", id)))
		require.NoError(t, err)
		require.NoError(t, esd.WriteEvents(f, id, events))
		require.NoError(t, f.Close())
	}
	return dir
}

var runIDPattern = regexp.MustCompile(`run ([0-9a-f-]{36})`)

func TestVersion(t *testing.T) {
	out := mustRun(t, filepath.Join(t.TempDir(), "c.db"), "version")
	assert.True(t, strings.HasPrefix(out, "coincidences "), out)
}

func TestImportSearchReport(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "c.db")
	dir := referenceDir(t)

	out := mustRun(t, dbPath, "import", "--dir", dir)
	assert.Contains(t, out, "station 0: 3 events")
	assert.Contains(t, out, "station 2: 2 events")

	out = mustRun(t, dbPath, "stations")
	assert.Regexp(t, `(?m)^1\s+0\s+3$`, out)
	assert.Regexp(t, `(?m)^2\s+0\s+2$`, out)

	out = mustRun(t, dbPath, "search", "--window", "150")
	assert.Contains(t, out, "3 coincidences in 8 events from 3 stations (window 150 ns)")
	m := runIDPattern.FindStringSubmatch(out)
	require.Len(t, m, 2, out)
	runID := m[1]

	out = mustRun(t, dbPath, "runs")
	assert.Contains(t, out, runID)
	assert.Regexp(t, `raw\s+150\s+8\s+3`, out)

	// ts 100 on station 1 closes the first group and opens the second.
	out = mustRun(t, dbPath, "lookup", "1", "2")
	assert.Regexp(t, runID+`\s+0\s+4`, out)
	assert.Regexp(t, runID+`\s+1\s+0`, out)

	out = mustRun(t, dbPath, "lookup", "0", "0")
	assert.Regexp(t, runID+`\s+0\s+0`, out)
	assert.Equal(t, 1, strings.Count(out, runID))

	out = mustRun(t, dbPath, "report", "--json")
	var s report.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.Equal(t, 3, s.Coincidences)
	assert.Equal(t, 10, s.Events)
	assert.Equal(t, []report.Bin{{Value: 2, Count: 2}, {Value: 3, Count: 1}}, s.Multiplicity)

	htmlPath := filepath.Join(t.TempDir(), "r.html")
	mustRun(t, dbPath, "report", "--run", runID, "--html", htmlPath)
	b, err := os.ReadFile(htmlPath)
	require.NoError(t, err)
	assert.Contains(t, string(b), "echarts")

	mustRun(t, dbPath, "runs", "delete", runID)
	out = mustRun(t, dbPath, "runs")
	assert.Contains(t, out, "No runs stored.")

	_, err = run(t, dbPath, "report")
	assert.ErrorContains(t, err, "no stored runs")
}

func TestSearch_ESDToStdout(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "c.db")
	dir := referenceDir(t)

	out := mustRun(t, dbPath, "search", "--esd-dir", dir, "--no-store", "--window", "150", "--out", "-")
	records, err := esd.ReadCoincidences(strings.NewReader(out))
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []uint32{0, 1, 2}, records[0].Sources)
	assert.Equal(t, int64(100), records[1].Timestamp)
	assert.Equal(t, int64(51), records[2].Span)

	_, err = os.Stat(dbPath)
	assert.True(t, os.IsNotExist(err), "database should not be created")
}

func TestSearch_ShiftAndStations(t *testing.T) {
	dir := referenceDir(t)
	out := mustRun(t, filepath.Join(t.TempDir(), "c.db"),
		"search", "--esd-dir", dir, "--no-store", "--window", "150", "--out", "-",
		"--stations", "0,2", "--shift", "2=1000")
	records, err := esd.ReadCoincidences(strings.NewReader(out))
	require.NoError(t, err)
	// station 0 alone at 0 and 250,251; station 2 moved to 1015 and 1200.
	require.Len(t, records, 1)
	assert.Equal(t, int64(250), records[0].Timestamp)
	assert.Equal(t, []uint32{0}, records[0].Sources)
}

func TestSearch_Errors(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "c.db")
	_, err := run(t, dbPath, "search", "--esd-dir", t.TempDir(), "--no-store", "--out", "-")
	assert.ErrorContains(t, err, "no station event files")

	_, err = run(t, dbPath, "search", "--esd-dir", referenceDir(t), "--no-store")
	assert.ErrorContains(t, err, "nothing to do")

	_, err = run(t, dbPath, "search", "--window", "0")
	assert.Error(t, err)
}

func TestSimulateThenSearch(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "c.db")
	out := mustRun(t, dbPath, "simulate", "--duration", "10s", "--shower-rate", "1", "--seed", "7")
	assert.Regexp(t, `\d+ events on 4 stations, \d+ showers injected`, out)

	out = mustRun(t, dbPath, "search", "--window", "1us")
	assert.Regexp(t, `[1-9]\d* coincidences`, out)

	metrics := filepath.Join(t.TempDir(), "search.prom")
	mustRun(t, dbPath, "search", "--partition", "2s", "--parallel", "2", "--metrics-file", metrics)
	b, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(b), "coincidence_runs_total")

	out = mustRun(t, dbPath, "runs")
	assert.Equal(t, 2, strings.Count(out, "raw"))
}

func TestSimulate_OutDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "esd")
	mustRun(t, filepath.Join(t.TempDir(), "c.db"), "simulate", "--stations", "7,8", "--shower-size", "2",
		"--duration", "1s", "--out-dir", dir)
	files, err := esd.Discover(dir)
	require.NoError(t, err)
	assert.Len(t, files, 2)
	assert.Contains(t, files, uint32(7))
}

func TestStationsCommands(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "c.db")
	out := mustRun(t, dbPath, "stations")
	assert.Contains(t, out, "No stations.")

	mustRun(t, dbPath, "stations", "add", "501", "--name", "north", "--shift=-40")
	mustRun(t, dbPath, "stations", "shift", "501", "25")
	out = mustRun(t, dbPath, "stations")
	assert.Regexp(t, `501\s+north\s+25\s+0`, out)

	_, err := run(t, dbPath, "stations", "shift", "999", "1")
	assert.ErrorContains(t, err, "unknown station")
	_, err = run(t, dbPath, "stations", "add", "x")
	assert.ErrorContains(t, err, "invalid station id")
}

func TestMigrateStatus(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "c.db")
	out := mustRun(t, dbPath, "migrate", "status")
	assert.Contains(t, out, "Current version: 0")
	assert.Contains(t, out, "Pending: 2")

	out = mustRun(t, dbPath, "migrate", "up")
	assert.Contains(t, out, "Current version: 2 (dirty: false)")

	out = mustRun(t, dbPath, "migrate", "down")
	assert.Contains(t, out, "Current version: 1 (dirty: false)")

	out = mustRun(t, dbPath, "migrate", "status")
	assert.Contains(t, out, "Pending: 1")
	assert.NotContains(t, out, "WARNING")
}

func TestBackup(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "c.db")
	mustRun(t, dbPath, "import", "--dir", referenceDir(t))

	backup := filepath.Join(t.TempDir(), "copy.db")
	out := mustRun(t, dbPath, "backup", backup)
	assert.Contains(t, out, "Backup written to "+backup)

	out = mustRun(t, backup, "stations")
	assert.Regexp(t, `(?m)^0\s+0\s+3$`, out)
	assert.Regexp(t, `(?m)^2\s+0\s+2$`, out)

	_, err := run(t, dbPath, "backup", backup)
	assert.Error(t, err, "VACUUM INTO refuses an existing file")
}
