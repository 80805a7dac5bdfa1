package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/meshbatch/internal/models"
)

func newTestStore(t *testing.T, maxBackups int) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue_state.json")
	store, err := NewStore(path, maxBackups, arbor.NewLogger())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func testSnapshot(jobCount int) *models.Snapshot {
	snap := &models.Snapshot{
		Version: models.SnapshotVersion,
		SavedAt: time.Now(),
		State:   models.QueueStopped,
		Settings: models.QueueSettings{
			MaxWorkers: 2,
			MaxRetries: 2,
		},
	}
	for i := 0; i < jobCount; i++ {
		task := models.NewTask(models.TaskAnalyze, "/models/part.stl", "/output")
		job := models.NewJob(task)
		if i == 0 {
			job.State = models.JobCompleted
			job.Progress = 1.0
			job.Result = &models.HandlerResult{OutputFiles: []string{"/output/part/report.json"}}
		}
		snap.Jobs = append(snap.Jobs, job)
	}
	return snap
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t, 3)
	snap := testSnapshot(3)

	if err := store.Save(snap); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded == nil {
		t.Fatal("load returned nil for a saved snapshot")
	}
	if loaded.Version != snap.Version {
		t.Fatalf("version = %d, want %d", loaded.Version, snap.Version)
	}
	if len(loaded.Jobs) != len(snap.Jobs) {
		t.Fatalf("jobs = %d, want %d", len(loaded.Jobs), len(snap.Jobs))
	}
	if loaded.Settings != snap.Settings {
		t.Fatalf("settings = %+v, want %+v", loaded.Settings, snap.Settings)
	}
	if loaded.Jobs[0].State != models.JobCompleted {
		t.Fatalf("job state = %s, want completed", loaded.Jobs[0].State)
	}
	if loaded.Jobs[0].Result == nil || len(loaded.Jobs[0].Result.OutputFiles) != 1 {
		t.Fatalf("job result not round-tripped: %+v", loaded.Jobs[0].Result)
	}
}

func TestLoadMissingReturnsNil(t *testing.T) {
	store := newTestStore(t, 3)

	snap, err := store.Load()
	if err != nil {
		t.Fatalf("load of missing state errored: %v", err)
	}
	if snap != nil {
		t.Fatalf("load of missing state returned %+v", snap)
	}
}

func TestLoadCorruptFallsBackToBackup(t *testing.T) {
	store := newTestStore(t, 3)

	good := testSnapshot(2)
	if err := store.Save(good); err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	// Second save rotates the first file into backups/.
	if err := store.Save(testSnapshot(4)); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	// Truncate the canonical file mid-write.
	if err := os.WriteFile(store.path, []byte(`{"version":1,"jo`), 0644); err != nil {
		t.Fatalf("failed to corrupt state file: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("load errored on corrupt canonical: %v", err)
	}
	if loaded == nil {
		t.Fatal("load did not fall back to backup")
	}
	if len(loaded.Jobs) != 2 {
		t.Fatalf("recovered %d jobs, want 2 from the backup", len(loaded.Jobs))
	}
}

func TestLoadAllCorruptReturnsNil(t *testing.T) {
	store := newTestStore(t, 3)
	if err := store.Save(testSnapshot(1)); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := store.Save(testSnapshot(1)); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	if err := os.WriteFile(store.path, []byte("not json"), 0644); err != nil {
		t.Fatal(err)
	}
	for _, backup := range store.listBackups() {
		if err := os.WriteFile(backup, []byte("not json"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	snap, err := store.Load()
	if err != nil {
		t.Fatalf("load errored with everything corrupt: %v", err)
	}
	if snap != nil {
		t.Fatal("load returned a snapshot from corrupt state")
	}
}

func TestLoadRejectsUnknownVersion(t *testing.T) {
	store := newTestStore(t, 3)
	if err := os.WriteFile(store.path, []byte(`{"version":99,"jobs":[]}`), 0644); err != nil {
		t.Fatal(err)
	}

	snap, err := store.Load()
	if err != nil {
		t.Fatalf("load errored: %v", err)
	}
	if snap != nil {
		t.Fatal("snapshot with unknown version was accepted")
	}
}

func TestLoadToleratesUnknownFields(t *testing.T) {
	store := newTestStore(t, 3)
	doc := `{
		"version": 1,
		"saved_at": "2026-01-01T00:00:00Z",
		"queue_state": "stopped",
		"queue_settings": {"max_workers": 2, "max_retries": 2},
		"future_field": {"nested": true},
		"jobs": []
	}`
	if err := os.WriteFile(store.path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	snap, err := store.Load()
	if err != nil {
		t.Fatalf("load errored on unknown fields: %v", err)
	}
	if snap == nil {
		t.Fatal("forward-compatible document was rejected")
	}
}

func TestBackupRetention(t *testing.T) {
	store := newTestStore(t, 2)

	for i := 0; i < 6; i++ {
		if err := store.Save(testSnapshot(i)); err != nil {
			t.Fatalf("save %d failed: %v", i, err)
		}
		// Backup names carry millisecond timestamps; keep them distinct.
		time.Sleep(2 * time.Millisecond)
	}

	backups := store.listBackups()
	if len(backups) > 2 {
		t.Fatalf("backup count = %d, want at most 2", len(backups))
	}

	// Newest backup holds the previous save (4 jobs).
	snap, err := store.loadFile(backups[0])
	if err != nil {
		t.Fatalf("failed to read newest backup: %v", err)
	}
	if len(snap.Jobs) != 4 {
		t.Fatalf("newest backup has %d jobs, want 4", len(snap.Jobs))
	}
}

func TestSaverCoalescesWrites(t *testing.T) {
	store := newTestStore(t, 3)

	source := func() *models.Snapshot { return testSnapshot(1) }
	saver := NewSaver(store, source, 10*time.Millisecond, arbor.NewLogger())
	saver.Start()

	for i := 0; i < 50; i++ {
		saver.MarkDirty()
	}
	saver.Stop()

	snap, err := store.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if snap == nil {
		t.Fatal("saver never wrote a snapshot")
	}
}
