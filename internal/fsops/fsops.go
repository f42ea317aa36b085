// Package fsops batches filesystem housekeeping (stat/read/remove) across
// the drop-zone directories so a burst of individual calls — e.g. pruning
// hundreds of stale response files — collapses into a small number of
// directory operations instead of one syscall per file.
package fsops

import (
	"context"
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/joeycumines/go-microbatch"
)

// removeJob is one file removal request submitted to the batcher.
type removeJob struct {
	path string
	err  error
}

// Optimizer batches filesystem operations issued by the response/event
// pipelines. It is safe for concurrent use.
type Optimizer struct {
	removeBatcher *microbatch.Batcher[*removeJob]
}

// NewOptimizer constructs an Optimizer. Close must be called on shutdown.
func NewOptimizer() *Optimizer {
	o := &Optimizer{}
	o.removeBatcher = microbatch.NewBatcher(&microbatch.BatcherConfig{}, func(ctx context.Context, jobs []*removeJob) error {
		for _, job := range jobs {
			if err := ctx.Err(); err != nil {
				job.err = err
				continue
			}
			if err := os.Remove(job.path); err != nil && !os.IsNotExist(err) {
				job.err = fmt.Errorf("remove %s: %w", job.path, err)
			}
		}
		return nil
	})
	return o
}

// Remove batches a single file removal with any concurrently-submitted
// removals, returning once this file's removal has completed.
func (o *Optimizer) Remove(ctx context.Context, path string) error {
	job := &removeJob{path: path}
	result, err := o.removeBatcher.Submit(ctx, job)
	if err != nil {
		return err
	}
	if err := result.Wait(ctx); err != nil {
		return err
	}
	return result.Job.err
}

// RemoveAll batches many file removals concurrently, returning the number
// that succeeded and the first error encountered, if any, after all
// removals have completed.
func (o *Optimizer) RemoveAll(ctx context.Context, paths []string) (int, error) {
	results := make([]*microbatch.JobResult[*removeJob], 0, len(paths))
	for _, p := range paths {
		result, err := o.removeBatcher.Submit(ctx, &removeJob{path: p})
		if err != nil {
			return 0, err
		}
		results = append(results, result)
	}
	var firstErr error
	succeeded := 0
	for _, result := range results {
		if err := result.Wait(ctx); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if result.Job.err != nil {
			if firstErr == nil {
				firstErr = result.Job.err
			}
			continue
		}
		succeeded++
	}
	return succeeded, firstErr
}

// Close releases the batcher's background goroutine.
func (o *Optimizer) Close() error {
	return o.removeBatcher.Close()
}

// WatchDir starts an fsnotify watch on dir and calls onCreate for every
// Create event whose name matches suffix (e.g. ".json"). This is a latency
// optimization only: callers must still poll, since WatchDir returning an
// error (unsupported filesystem, inotify exhaustion) must never stop
// response ingestion — it only removes the low-latency fast path.
func WatchDir(ctx context.Context, dir, suffix string, onCreate func(path string)) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	go func() {
		defer func() { _ = watcher.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Create) && hasSuffix(event.Name, suffix) {
					onCreate(event.Name)
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return watcher, nil
}

func hasSuffix(name, suffix string) bool {
	if suffix == "" {
		return true
	}
	if len(name) < len(suffix) {
		return false
	}
	return name[len(name)-len(suffix):] == suffix
}
