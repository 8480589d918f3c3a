package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"clinicore/internal/config"
	"clinicore/internal/records"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testRunner(t *testing.T, cfg config.SnapshotConfig) (*Runner, *records.Store) {
	st, err := records.Open(records.NewMemoryBackend(), records.Options{}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	return NewRunner(st, cfg, zap.NewNop()), st
}

func snapshotNames(t *testing.T, dir string) []string {
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := []string{}
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestRun_WritesDocument(t *testing.T) {
	dir := t.TempDir()
	runner, st := testRunner(t, config.SnapshotConfig{Dir: dir})

	st.AddPatient(records.Patient{FirstName: "Ana"})

	path, err := runner.Run()
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))
	assert.True(t, strings.HasPrefix(filepath.Base(path), filePrefix))
	assert.True(t, strings.HasSuffix(path, ".json"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc records.Document
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Len(t, doc.Patients, 3)
}

func TestRun_PrunesOldSnapshots(t *testing.T) {
	dir := t.TempDir()
	runner, _ := testRunner(t, config.SnapshotConfig{Dir: dir, Keep: 2})

	// Older exports with names that sort before anything Run writes.
	for _, name := range []string{
		filePrefix + "20250101-000000.json",
		filePrefix + "20250102-000000.json",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0644))
	}
	// Unrelated files are never touched.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("keep"), 0644))

	_, err := runner.Run()
	require.NoError(t, err)

	names := snapshotNames(t, dir)
	assert.Len(t, names, 3) // 2 snapshots + notes.txt
	assert.Contains(t, names, "notes.txt")
	assert.NotContains(t, names, filePrefix+"20250101-000000.json")
	assert.Contains(t, names, filePrefix+"20250102-000000.json")
}

func TestRun_KeepZeroDisablesPruning(t *testing.T) {
	dir := t.TempDir()
	runner, _ := testRunner(t, config.SnapshotConfig{Dir: dir})

	require.NoError(t, os.WriteFile(filepath.Join(dir, filePrefix+"20250101-000000.json"), []byte("{}"), 0644))

	_, err := runner.Run()
	require.NoError(t, err)
	assert.Len(t, snapshotNames(t, dir), 2)
}

func TestUpdateRetention(t *testing.T) {
	dir := t.TempDir()
	runner, _ := testRunner(t, config.SnapshotConfig{Dir: dir, Keep: 10})

	for _, name := range []string{
		filePrefix + "20250101-000000.json",
		filePrefix + "20250102-000000.json",
		filePrefix + "20250103-000000.json",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0644))
	}

	runner.UpdateRetention(1)

	_, err := runner.Run()
	require.NoError(t, err)

	// Only the snapshot Run just wrote survives.
	names := snapshotNames(t, dir)
	require.Len(t, names, 1)
	assert.NotContains(t, names, filePrefix+"20250103-000000.json")
}

func TestStart_InvalidSchedule(t *testing.T) {
	runner, _ := testRunner(t, config.SnapshotConfig{Schedule: "not a schedule"})
	assert.Error(t, runner.Start())
}

func TestStop_ReturnsDuringInFlightExports(t *testing.T) {
	dir := t.TempDir()
	runner, st := testRunner(t, config.SnapshotConfig{Dir: dir, Schedule: "@every 1ms", Keep: 2})

	// Enough records that exports overlap the schedule ticks.
	for i := 0; i < 200; i++ {
		st.AddPatient(records.Patient{FirstName: "Bulk", LastName: fmt.Sprintf("Row%03d", i)})
	}

	require.NoError(t, runner.Start())
	time.Sleep(10 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		runner.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return while an export was running")
	}
}

func TestStart_Twice(t *testing.T) {
	runner, _ := testRunner(t, config.SnapshotConfig{Schedule: "0 3 * * *"})
	require.NoError(t, runner.Start())
	defer runner.Stop()

	assert.Error(t, runner.Start())
}
