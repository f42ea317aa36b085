package responses

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dev-console/notifybridge/internal/fsops"
)

func writeResponse(t *testing.T, dir, name string, rec Record) {
	t.Helper()
	raw, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), raw, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestListSortsDescendingAndTruncates(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	writeResponse(t, dir, "a.json", Record{ResponseID: "a", Timestamp: now.Add(-2 * time.Minute), ResponseType: "text"})
	writeResponse(t, dir, "b.json", Record{ResponseID: "b", Timestamp: now, ResponseType: "text"})
	writeResponse(t, dir, "c.json", Record{ResponseID: "c", Timestamp: now.Add(-1 * time.Minute), ResponseType: "text"})

	e := NewEngine(dir, nil)
	res, err := e.List(2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if res.Total != 3 || res.Count != 2 {
		t.Fatalf("expected total=3 count=2, got %+v", res)
	}
	if res.Responses[0].ResponseID != "b" || res.Responses[1].ResponseID != "c" {
		t.Fatalf("expected descending order b,c; got %s,%s", res.Responses[0].ResponseID, res.Responses[1].ResponseID)
	}
}

func TestListSkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	writeResponse(t, dir, "good.json", Record{ResponseID: "g", Timestamp: time.Now(), ResponseType: "text"})
	if err := os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write bad file: %v", err)
	}

	e := NewEngine(dir, nil)
	res, err := e.List(0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if res.Total != 1 {
		t.Fatalf("expected corrupt file skipped, got total=%d", res.Total)
	}
}

func TestListReportsCorrelation(t *testing.T) {
	dir := t.TempDir()
	writeResponse(t, dir, "a.json", Record{ResponseID: "a", EventID: "e1", Timestamp: time.Now(), ResponseType: "text"})

	e := NewEngine(dir, func(id string) bool { return id == "e1" })
	res, err := e.List(0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if !res.Responses[0].Correlated {
		t.Fatal("expected correlated response")
	}
}

func TestProcessPendingExtractsActionableEntries(t *testing.T) {
	dir := t.TempDir()
	writeResponse(t, dir, "approve.json", Record{
		ResponseID: "r1", UserID: "u1", ResponseType: "callback_query",
		CallbackData: "approve_task42", Timestamp: time.Now(),
	})
	writeResponse(t, dir, "deny.json", Record{
		ResponseID: "r2", UserID: "u2", ResponseType: "callback_query",
		CallbackData: "deny_task7", Timestamp: time.Now(),
	})
	writeResponse(t, dir, "text.json", Record{
		ResponseID: "r3", UserID: "u3", ResponseType: "text", Timestamp: time.Now(),
	})

	e := NewEngine(dir, nil)
	summary, entries, err := e.ProcessPending(10)
	if err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if summary.Total != 3 || summary.Actionable != 2 || summary.Approvals != 1 || summary.Denials != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 actionable entries, got %d", len(entries))
	}
}

func TestProcessPendingRejectsEmptyTaskID(t *testing.T) {
	dir := t.TempDir()
	writeResponse(t, dir, "empty.json", Record{
		ResponseID: "r1", UserID: "u1", ResponseType: "callback_query",
		CallbackData: "approve_", Timestamp: time.Now(),
	})

	e := NewEngine(dir, nil)
	summary, entries, err := e.ProcessPending(10)
	if err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if summary.Actionable != 0 || len(entries) != 0 {
		t.Fatalf("expected empty task id to be non-actionable, got %+v / %+v", summary, entries)
	}
}

func TestProcessPendingExcludesOutsideWindow(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.json")
	writeResponse(t, dir, "old.json", Record{
		ResponseID: "r1", UserID: "u1", ResponseType: "callback_query",
		CallbackData: "approve_taskX", Timestamp: time.Now().Add(-2 * time.Hour),
	})
	oldTime := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(old, oldTime, oldTime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	e := NewEngine(dir, nil)
	summary, entries, err := e.ProcessPending(10)
	if err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if summary.Total != 0 || len(entries) != 0 {
		t.Fatalf("expected record outside window excluded, got %+v / %+v", summary, entries)
	}
}

func TestClearOlderThanDeletesStaleRecords(t *testing.T) {
	dir := t.TempDir()
	fresh := filepath.Join(dir, "fresh.json")
	stale := filepath.Join(dir, "stale.json")
	writeResponse(t, dir, "fresh.json", Record{ResponseID: "fresh", Timestamp: time.Now(), ResponseType: "text"})
	writeResponse(t, dir, "stale.json", Record{ResponseID: "stale", Timestamp: time.Now(), ResponseType: "text"})

	staleTime := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(stale, staleTime, staleTime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	e := NewEngine(dir, nil)
	deleted, errs := e.ClearOlderThan(24)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("expected fresh record to survive: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatal("expected stale record removed")
	}
}

func TestClearOlderThanUsesOptimizerWhenAttached(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "stale.json")
	writeResponse(t, dir, "stale.json", Record{ResponseID: "stale", Timestamp: time.Now(), ResponseType: "text"})

	staleTime := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(stale, staleTime, staleTime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	opt := fsops.NewOptimizer()
	defer func() { _ = opt.Close() }()

	e := NewEngine(dir, nil).WithOptimizer(opt)
	deleted, errs := e.ClearOlderThan(24)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted via the optimizer, got %d", deleted)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatal("expected stale record removed")
	}
}

func TestClearOlderThanZeroHoursEmptiesList(t *testing.T) {
	dir := t.TempDir()
	writeResponse(t, dir, "a.json", Record{ResponseID: "a", Timestamp: time.Now(), ResponseType: "text"})

	e := NewEngine(dir, nil)
	if _, errs := e.ClearOlderThan(0); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	res, err := e.List(0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if res.Total != 0 {
		t.Fatalf("expected empty list after clear_old_responses(0h), got %d", res.Total)
	}
}
