package taskstatus

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestFlatTrackerLoadsAndCounts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.json")
	writeFile(t, path, `[
		{"id":"1","title":"a","status":"pending"},
		{"id":"2","title":"b","status":"completed"},
		{"id":"3","title":"c","status":"completed"}
	]`)

	agg := NewAggregator(&FlatTracker{TrackerName: "flat", Path: path})
	summary := agg.Query("", "", false)
	if len(summary.Trackers) != 1 {
		t.Fatalf("expected 1 tracker result, got %d", len(summary.Trackers))
	}
	tr := summary.Trackers[0]
	if !tr.Available {
		t.Fatalf("expected available, reason=%s", tr.Reason)
	}
	if tr.Counts.Pending != 1 || tr.Counts.Completed != 2 {
		t.Fatalf("unexpected counts: %+v", tr.Counts)
	}
}

func TestHierarchicalTrackerFlattensSubtasks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hier.json")
	writeFile(t, path, `[
		{"id":"1","title":"parent","status":"in_progress","subtasks":[
			{"id":"a","title":"child-a","status":"completed"},
			{"id":"b","title":"child-b","status":"pending"}
		]}
	]`)

	agg := NewAggregator(&HierarchicalTracker{TrackerName: "hier", Path: path})
	summary := agg.Query("", "", false)
	tr := summary.Trackers[0]
	if len(tr.Tasks) != 3 {
		t.Fatalf("expected 3 flattened tasks, got %d", len(tr.Tasks))
	}

	var foundChild bool
	for _, task := range tr.Tasks {
		if task.ID == "1.a" {
			foundChild = true
			if task.ParentID != "1" {
				t.Fatalf("expected parent_id=1, got %s", task.ParentID)
			}
		}
	}
	if !foundChild {
		t.Fatal("expected synthetic id 1.a among flattened tasks")
	}
	if tr.Counts.Completed != 1 || tr.Counts.Pending != 1 || tr.Counts.InProgress != 1 {
		t.Fatalf("unexpected flattened counts: %+v", tr.Counts)
	}
}

func TestMissingTrackerIsNonFatal(t *testing.T) {
	agg := NewAggregator(&FlatTracker{TrackerName: "missing", Path: "/nonexistent/tasks.json"})
	summary := agg.Query("", "", false)
	if summary.Trackers[0].Available {
		t.Fatal("expected unavailable tracker")
	}
	if summary.Trackers[0].Reason == "" {
		t.Fatal("expected a reason for unavailability")
	}
}

func TestCombinedSummaryAcrossTrackers(t *testing.T) {
	dir := t.TempDir()
	p1 := filepath.Join(dir, "a.json")
	p2 := filepath.Join(dir, "b.json")
	writeFile(t, p1, `[{"id":"1","title":"x","status":"completed"}]`)
	writeFile(t, p2, `[{"id":"2","title":"y","status":"completed"}]`)

	agg := NewAggregator(&FlatTracker{TrackerName: "a", Path: p1}, &FlatTracker{TrackerName: "b", Path: p2})
	summary := agg.Query("", "", false)
	if summary.Combined.Completed != 2 {
		t.Fatalf("expected combined completed=2, got %d", summary.Combined.Completed)
	}
}

func TestSummaryOnlyOmitsTasks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.json")
	writeFile(t, path, `[{"id":"1","title":"a","status":"pending"}]`)

	agg := NewAggregator(&FlatTracker{TrackerName: "flat", Path: path})
	summary := agg.Query("", "", true)
	if summary.Trackers[0].Tasks != nil {
		t.Fatalf("expected no task list in summary-only mode, got %+v", summary.Trackers[0].Tasks)
	}
}
