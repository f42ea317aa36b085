// Package events implements the event pipeline (C13): it turns a validated
// tool invocation into a durable, atomically-committed file in the events
// drop-zone that the external delivery bridge consumes and deletes.
package events

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/dev-console/notifybridge/internal/buffers"
)

// Type enumerates the recognized event types (§6.1's tool surface maps
// 1:1 onto these).
type Type string

const (
	TypeMessage          Type = "message"
	TypeTaskCompletion   Type = "task_completion"
	TypePerformanceAlert Type = "performance_alert"
	TypeApprovalRequest  Type = "approval_request"
	TypeSecurityEvent    Type = "security_event"
	TypeCustom           Type = "custom"
)

// Event is the unit of outbound notification (§3.1).
type Event struct {
	EventID     string         `json:"event_id"`
	TaskID      string         `json:"task_id"`
	Type        Type           `json:"type"`
	Source      string         `json:"source"`
	Timestamp   time.Time      `json:"timestamp"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Data        map[string]any `json:"data,omitempty"`
}

// sizeCutoff is the serialized-size threshold (§4.2 step 4) above which a
// pooled buffer is used for serialization instead of a direct write; equal
// to the cutoff still chooses the pooled path (§8 boundary behavior).
const sizeCutoff = 1024

// Pipeline writes events atomically into an events drop-zone directory.
type Pipeline struct {
	dir  string
	pool *buffers.Pool
}

// NewPipeline constructs a Pipeline rooted at dir. dir must already exist.
func NewPipeline(dir string, pool *buffers.Pool) *Pipeline {
	if pool == nil {
		pool = buffers.NewPool()
	}
	return &Pipeline{dir: dir, pool: pool}
}

// Result is returned by Write on success.
type Result struct {
	EventID  string `json:"event_id"`
	FilePath string `json:"file_path"`
}

// Write assigns any missing identity fields, serializes ev, and commits it
// to the drop-zone via write-then-rename (§4.2). The commit point is the
// rename: an aborted call never leaves a visible .json artifact.
func (p *Pipeline) Write(ev Event) (Result, error) {
	if ev.EventID == "" {
		if ev.TaskID != "" {
			ev.EventID = ev.TaskID
		} else {
			ev.EventID = uuid.New().String()
		}
	}
	if ev.TaskID == "" {
		ev.TaskID = ev.EventID
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.Source == "" {
		ev.Source = "agent"
	}

	payload, err := p.serialize(ev)
	if err != nil {
		return Result{}, fmt.Errorf("serialize event: %w", err)
	}

	epochMs := ev.Timestamp.UnixMilli()
	finalName := ev.EventID + "_" + strconv.FormatInt(epochMs, 10) + ".json"
	finalPath := filepath.Join(p.dir, finalName)
	tmpPath := finalPath + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return Result{}, fmt.Errorf("open temp file: %w", err)
	}
	if _, err := f.Write(payload); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return Result{}, fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return Result{}, fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return Result{}, fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return Result{}, fmt.Errorf("commit rename: %w", err)
	}

	info, err := os.Stat(finalPath)
	if err != nil || info.Size() == 0 {
		return Result{}, fmt.Errorf("post-commit verification failed for %s", finalPath)
	}

	return Result{EventID: ev.EventID, FilePath: finalPath}, nil
}

// serialize marshals ev with stable key order and 2-space indentation
// (§4.2 step 3), using a pooled buffer for payloads at or above sizeCutoff
// (§8 boundary: equal to the cutoff still chooses the pooled path).
func (p *Pipeline) serialize(ev Event) ([]byte, error) {
	direct, err := json.MarshalIndent(ev, "", "  ")
	if err != nil {
		return nil, err
	}
	if len(direct) < sizeCutoff {
		return direct, nil
	}

	buf := p.pool.Get(len(direct))
	defer p.pool.Put(buf)
	buf.Write(direct)
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}
