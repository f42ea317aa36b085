// Package responses implements the response ingestion and correlation
// engine (C15): it polls the responses drop-zone, tolerates partial JSON
// corruption, and exposes list/actionable/cleanup views over it.
package responses

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/dev-console/notifybridge/internal/fsops"
)

// Record is a user-response file as written by the external delivery bridge
// (§3.2).
type Record struct {
	ResponseID   string    `json:"response_id"`
	EventID      string    `json:"event_id,omitempty"`
	UserID       string    `json:"user_id"`
	Username     string    `json:"username,omitempty"`
	ResponseType string    `json:"response_type"`
	CallbackData string    `json:"callback_data,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	MessageID    string    `json:"message_id,omitempty"`

	// filePath and modTime are populated from the filesystem, not the
	// JSON body, and are not re-serialized.
	filePath string
	modTime  time.Time
}

// actionableRe recognizes the approve_/deny_ callback_data grammar (§4.4).
var actionableRe = regexp.MustCompile(`^(approve|deny)_(.+)$`)

// EventExists reports whether id corresponds to a known outbound event,
// used to populate the correlation invariant on list views.
type EventExists func(eventID string) bool

// Engine reads and manages the responses drop-zone.
type Engine struct {
	dir         string
	eventExists EventExists
	optimizer   *fsops.Optimizer
}

// NewEngine constructs an Engine rooted at dir. eventExists may be nil, in
// which case no response is ever reported as correlated.
func NewEngine(dir string, eventExists EventExists) *Engine {
	if eventExists == nil {
		eventExists = func(string) bool { return false }
	}
	return &Engine{dir: dir, eventExists: eventExists}
}

// WithOptimizer attaches an fsops.Optimizer so ClearOlderThan batches its
// removals through it instead of issuing one os.Remove per file.
func (e *Engine) WithOptimizer(o *fsops.Optimizer) *Engine {
	e.optimizer = o
	return e
}

// ListResult is the shape returned by List (mirrors the get_responses tool).
type ListResult struct {
	Count     int        `json:"count"`
	Total     int        `json:"total"`
	Responses []Response `json:"responses"`
}

// Response is a Record plus its correlation flag, as surfaced to callers.
type Response struct {
	Record
	Correlated bool `json:"correlated"`
}

// MarshalJSON flattens Record's exported fields alongside Correlated.
func (r Response) MarshalJSON() ([]byte, error) {
	type alias struct {
		ResponseID   string    `json:"response_id"`
		EventID      string    `json:"event_id,omitempty"`
		UserID       string    `json:"user_id"`
		Username     string    `json:"username,omitempty"`
		ResponseType string    `json:"response_type"`
		CallbackData string    `json:"callback_data,omitempty"`
		Timestamp    time.Time `json:"timestamp"`
		MessageID    string    `json:"message_id,omitempty"`
		Correlated   bool      `json:"correlated"`
	}
	return json.Marshal(alias{
		ResponseID:   r.ResponseID,
		EventID:      r.EventID,
		UserID:       r.UserID,
		Username:     r.Username,
		ResponseType: r.ResponseType,
		CallbackData: r.CallbackData,
		Timestamp:    r.Timestamp,
		MessageID:    r.MessageID,
		Correlated:   r.Correlated,
	})
}

// List enumerates every response record, newest first, truncated to limit
// (§4.4 step 1). limit <= 0 means unbounded.
func (e *Engine) List(limit int) (ListResult, error) {
	all, err := e.loadAll()
	if err != nil {
		return ListResult{}, err
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].Timestamp.After(all[j].Timestamp)
	})

	out := make([]Response, 0, len(all))
	for _, rec := range all {
		out = append(out, Response{Record: rec, Correlated: rec.EventID != "" && e.eventExists(rec.EventID)})
	}

	total := len(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return ListResult{Count: len(out), Total: total, Responses: out}, nil
}

// ActionableEntry is a decision record derived from a callback_query
// response (§4.4 step 2).
type ActionableEntry struct {
	Action   string `json:"action"`
	TaskID   string `json:"task_id"`
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Raw      Record `json:"raw"`
}

// ActionableSummary aggregates counts over a ProcessPending call.
type ActionableSummary struct {
	Total         int `json:"total"`
	Actionable    int `json:"actionable"`
	Approvals     int `json:"approvals"`
	Denials       int `json:"denials"`
	WindowMinutes int `json:"window_minutes"`
}

// ProcessPending filters records to those within sinceMinutes whose
// callback_data matches the approve/deny grammar (§4.4 step 2). Callback
// data with an empty task id (e.g. "approve_") is not actionable (§8
// boundary behavior).
func (e *Engine) ProcessPending(sinceMinutes int) (ActionableSummary, []ActionableEntry, error) {
	all, err := e.loadAll()
	if err != nil {
		return ActionableSummary{}, nil, err
	}

	cutoff := time.Now().Add(-time.Duration(sinceMinutes) * time.Minute)
	summary := ActionableSummary{WindowMinutes: sinceMinutes}
	var entries []ActionableEntry

	for _, rec := range all {
		if rec.modTime.Before(cutoff) {
			continue
		}
		summary.Total++
		if rec.ResponseType != "callback_query" {
			continue
		}
		m := actionableRe.FindStringSubmatch(rec.CallbackData)
		if m == nil || m[2] == "" {
			continue
		}
		action, taskID := m[1], m[2]
		summary.Actionable++
		if action == "approve" {
			summary.Approvals++
		} else {
			summary.Denials++
		}
		entries = append(entries, ActionableEntry{
			Action: action, TaskID: taskID, UserID: rec.UserID, Username: rec.Username,
			Timestamp: rec.Timestamp, Raw: rec,
		})
	}
	return summary, entries, nil
}

// ClearOlderThan deletes response files whose mtime is older than hours
// (§4.4 step 3). Per-file errors are collected but do not abort the batch.
// When an Optimizer is attached (WithOptimizer), the stale files are removed
// as a single microbatch.RemoveAll call rather than one os.Remove per file.
func (e *Engine) ClearOlderThan(hours float64) (int, []error) {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		return 0, []error{err}
	}

	cutoff := time.Now().Add(-time.Duration(hours * float64(time.Hour)))
	var stale []string
	var errs []error

	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if info.ModTime().Before(cutoff) {
			stale = append(stale, filepath.Join(e.dir, de.Name()))
		}
	}
	if len(stale) == 0 {
		return 0, errs
	}

	if e.optimizer != nil {
		succeeded, err := e.optimizer.RemoveAll(context.Background(), stale)
		if err != nil {
			errs = append(errs, err)
		}
		return succeeded, errs
	}

	deleted := 0
	for _, path := range stale {
		if err := os.Remove(path); err != nil {
			errs = append(errs, err)
			continue
		}
		deleted++
	}
	return deleted, errs
}

// loadAll reads every *.json file in the drop-zone, skipping files that
// fail to parse rather than failing the whole view (§4.4: tolerate partial
// JSON corruption).
func (e *Engine) loadAll() ([]Record, error) {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []Record
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		path := filepath.Join(e.dir, de.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		rec.filePath = path
		rec.modTime = info.ModTime()
		out = append(out, rec)
	}
	return out, nil
}
