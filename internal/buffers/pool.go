// Package buffers implements a size-tiered byte buffer pool so the event
// and response pipelines can reuse allocations for the common small-payload
// case while still handling the occasional large payload without pinning a
// huge buffer in every tier forever. A background maintenance loop trims
// idle capacity and halves the pool under memory pressure (§4.5).
package buffers

import (
	"bytes"
	"context"
	"runtime"
	"sync"
	"time"
)

// Tier boundaries, in bytes. A request for n bytes is served from the
// smallest tier whose capacity is >= n; requests larger than the largest
// tier allocate directly and are not pooled (Put drops them).
var tierSizes = []int{1 << 10, 4 << 10, 16 << 10, 64 << 10, 256 << 10}

// defaultMaxPerTier bounds how many idle buffers each tier retains
// (§4.5's `max_pool_size`, applied per tier rather than globally so one hot
// tier can't starve the others).
const defaultMaxPerTier = 64

// tier is a bounded stack of idle buffers of a single capacity class.
type tier struct {
	size int
	mu   sync.Mutex
	free []*bytes.Buffer
	max  int
}

// Pool is a size-tiered pool of *bytes.Buffer with bounded idle capacity and
// an optional background maintenance loop.
type Pool struct {
	tiers []*tier

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool constructs a Pool with the default tier ladder and per-tier
// capacity. The maintenance loop is not started; call StartMaintenance to
// enable periodic trimming and memory-pressure response.
func NewPool() *Pool {
	p := &Pool{tiers: make([]*tier, len(tierSizes))}
	for i, size := range tierSizes {
		p.tiers[i] = &tier{size: size, max: defaultMaxPerTier}
	}
	return p
}

// Get returns a buffer with at least the requested capacity. Buffers
// returned for sizes beyond the largest tier are not pooled.
func (p *Pool) Get(size int) *bytes.Buffer {
	t := p.tierFor(size)
	if t == nil {
		return bytes.NewBuffer(make([]byte, 0, size))
	}

	t.mu.Lock()
	n := len(t.free)
	if n > 0 {
		buf := t.free[n-1]
		t.free = t.free[:n-1]
		t.mu.Unlock()
		buf.Reset()
		return buf
	}
	t.mu.Unlock()

	return bytes.NewBuffer(make([]byte, 0, t.size))
}

// Put returns a buffer to its tier for reuse. Buffers whose capacity
// doesn't match a known tier boundary (including oversized ones), or that
// would exceed the tier's bounded idle capacity, are discarded rather than
// pooled, so one huge payload — or a burst — can't permanently bloat the
// pool's steady-state memory.
func (p *Pool) Put(buf *bytes.Buffer) {
	if buf == nil {
		return
	}
	for _, t := range p.tiers {
		if buf.Cap() != t.size {
			continue
		}
		buf.Reset()
		t.mu.Lock()
		if len(t.free) < t.max {
			t.free = append(t.free, buf)
		}
		t.mu.Unlock()
		return
	}
	// not a recognized tier size — let GC reclaim it.
}

func (p *Pool) tierFor(size int) *tier {
	for _, t := range p.tiers {
		if size <= t.size {
			return t
		}
	}
	return nil
}

// Idle reports how many buffers are currently sitting idle in each tier,
// largest tier last — used by tests and the pressure sentinel.
func (p *Pool) Idle() []int {
	out := make([]int, len(p.tiers))
	for i, t := range p.tiers {
		t.mu.Lock()
		out[i] = len(t.free)
		t.mu.Unlock()
	}
	return out
}

// PressureEvent is emitted by the maintenance loop when sampled process heap
// usage exceeds the configured threshold (§4.5, also referenced by §5's
// backpressure: callers may react by routing new writes to a direct,
// non-pooled path).
type PressureEvent struct {
	HeapAllocBytes uint64
	ThresholdBytes uint64
	At             time.Time
}

// StartMaintenance launches the background loop that trims idle capacity
// every interval (nominally 30s) and halves every tier's idle buffers,
// invoking onPressure, whenever sampled heap usage exceeds
// pressureThresholdBytes. Call Stop to halt it. A zero pressureThresholdBytes
// disables the memory-pressure check (trimming still runs).
func (p *Pool) StartMaintenance(ctx context.Context, interval time.Duration, pressureThresholdBytes uint64, onPressure func(PressureEvent)) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.trimIdle()
				if pressureThresholdBytes > 0 {
					p.checkPressure(pressureThresholdBytes, onPressure)
				}
			}
		}
	}()
}

// Stop halts the maintenance loop started by StartMaintenance, if any.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
		p.wg.Wait()
	}
}

// trimIdle halves each tier's idle buffer count, releasing the oldest half
// for GC — the steady-state idle pool shrinks back down between bursts
// instead of retaining peak capacity forever.
func (p *Pool) trimIdle() {
	for _, t := range p.tiers {
		t.mu.Lock()
		if n := len(t.free); n > 0 {
			keep := n / 2
			t.free = t.free[:keep]
		}
		t.mu.Unlock()
	}
}

// checkPressure samples process heap usage and, if it exceeds threshold,
// halves every tier's idle buffers and reports a PressureEvent.
func (p *Pool) checkPressure(threshold uint64, onPressure func(PressureEvent)) {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	if stats.HeapAlloc <= threshold {
		return
	}

	p.Halve()
	if onPressure != nil {
		onPressure(PressureEvent{HeapAllocBytes: stats.HeapAlloc, ThresholdBytes: threshold, At: time.Now()})
	}
}

// Halve discards half of every tier's idle buffers immediately.
func (p *Pool) Halve() {
	for _, t := range p.tiers {
		t.mu.Lock()
		if n := len(t.free); n > 0 {
			t.free = t.free[:n/2]
		}
		t.mu.Unlock()
	}
}
