// Package taskstatus implements the task-status aggregator (C17): a
// read-only view over one or two external task-tracking systems, flattening
// hierarchical subtasks into synthetic dotted ids.
package taskstatus

import (
	"encoding/json"
	"fmt"
	"os"
)

// Task is one record as surfaced by the aggregator, after any hierarchy
// flattening.
type Task struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id,omitempty"`
	Title    string `json:"title"`
	Status   string `json:"status"` // pending, in_progress, completed, blocked
}

// Counts summarizes a set of tasks by status.
type Counts struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Blocked    int `json:"blocked"`
}

// Tracker reads task records from one external system's canonical file.
// Implementations always re-read the file on every call (§9 Open Question
// resolution: live read, not a cached snapshot).
type Tracker interface {
	Name() string
	Load() ([]Task, error)
}

// flatRecord is the on-disk shape for a tracker whose tasks have no
// subtask nesting.
type flatRecord struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status"`
}

// FlatTracker reads a tracker whose canonical file is a JSON array of
// flat task records.
type FlatTracker struct {
	TrackerName string
	Path        string
}

func (f *FlatTracker) Name() string { return f.TrackerName }

func (f *FlatTracker) Load() ([]Task, error) {
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, err
	}
	var recs []flatRecord
	if err := json.Unmarshal(raw, &recs); err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.Path, err)
	}
	out := make([]Task, 0, len(recs))
	for _, r := range recs {
		out = append(out, Task{ID: r.ID, Title: r.Title, Status: r.Status})
	}
	return out, nil
}

// hierarchicalRecord is the on-disk shape for a tracker that nests
// subtasks under a parent.
type hierarchicalRecord struct {
	ID       string               `json:"id"`
	Title    string               `json:"title"`
	Status   string               `json:"status"`
	Subtasks []hierarchicalRecord `json:"subtasks,omitempty"`
}

// HierarchicalTracker reads a tracker whose canonical file nests subtasks,
// flattening them into synthetic `<parent>.<child>` ids (§4.14).
type HierarchicalTracker struct {
	TrackerName string
	Path        string
}

func (h *HierarchicalTracker) Name() string { return h.TrackerName }

func (h *HierarchicalTracker) Load() ([]Task, error) {
	raw, err := os.ReadFile(h.Path)
	if err != nil {
		return nil, err
	}
	var recs []hierarchicalRecord
	if err := json.Unmarshal(raw, &recs); err != nil {
		return nil, fmt.Errorf("parse %s: %w", h.Path, err)
	}
	var out []Task
	for _, r := range recs {
		flattenInto(&out, r, "")
	}
	return out, nil
}

func flattenInto(out *[]Task, rec hierarchicalRecord, parentID string) {
	id := rec.ID
	if parentID != "" {
		id = parentID + "." + rec.ID
	}
	*out = append(*out, Task{ID: id, ParentID: parentID, Title: rec.Title, Status: rec.Status})
	for _, child := range rec.Subtasks {
		flattenInto(out, child, id)
	}
}

// TrackerResult is one tracker's contribution to a status query.
type TrackerResult struct {
	Name      string  `json:"name"`
	Available bool    `json:"available"`
	Reason    string  `json:"reason,omitempty"`
	Counts    Counts  `json:"counts,omitzero"`
	Tasks     []Task  `json:"tasks,omitempty"`
}

// Summary is the combined result of a get_task_status call across every
// requested tracker.
type Summary struct {
	Trackers []TrackerResult `json:"trackers"`
	Combined Counts          `json:"combined"`
}

// Aggregator merges task records across zero or more registered trackers.
type Aggregator struct {
	trackers []Tracker
}

// NewAggregator constructs an Aggregator over the given trackers.
func NewAggregator(trackers ...Tracker) *Aggregator {
	return &Aggregator{trackers: trackers}
}

// Query reads every registered tracker (filtered to trackerName if
// non-empty), applies statusFilter if set, and returns a combined summary.
// summaryOnly omits the per-task list, returning only counts.
func (a *Aggregator) Query(trackerName, statusFilter string, summaryOnly bool) Summary {
	summary := Summary{}
	for _, t := range a.trackers {
		if trackerName != "" && t.Name() != trackerName {
			continue
		}
		result := a.queryOne(t, statusFilter, summaryOnly)
		summary.Trackers = append(summary.Trackers, result)
		summary.Combined.Pending += result.Counts.Pending
		summary.Combined.InProgress += result.Counts.InProgress
		summary.Combined.Completed += result.Counts.Completed
		summary.Combined.Blocked += result.Counts.Blocked
	}
	return summary
}

func (a *Aggregator) queryOne(t Tracker, statusFilter string, summaryOnly bool) TrackerResult {
	tasks, err := t.Load()
	if err != nil {
		return TrackerResult{Name: t.Name(), Available: false, Reason: err.Error()}
	}

	var filtered []Task
	var counts Counts
	for _, task := range tasks {
		if statusFilter != "" && task.Status != statusFilter {
			continue
		}
		filtered = append(filtered, task)
		switch task.Status {
		case "pending":
			counts.Pending++
		case "in_progress":
			counts.InProgress++
		case "completed":
			counts.Completed++
		case "blocked":
			counts.Blocked++
		}
	}

	result := TrackerResult{Name: t.Name(), Available: true, Counts: counts}
	if !summaryOnly {
		result.Tasks = filtered
	}
	return result
}
