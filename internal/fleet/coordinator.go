package fleet

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/soundweave/internal/soundtouch"
)

// Logger defines the logging interface used by the fleet package.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// StateFetcher reads a full state snapshot from a speaker. Satisfied by
// *soundtouch.Client.
type StateFetcher interface {
	FetchState(ctx context.Context) (*soundtouch.Snapshot, error)
}

// ChangeHandler receives published snapshots from a Coordinator.
// Handlers are invoked synchronously on the polling goroutine and must not
// block; slow consumers should hand off to their own queue.
type ChangeHandler func(snapshot *soundtouch.Snapshot)

// MetricsSink receives poll outcome measurements. Optional.
type MetricsSink interface {
	RecordPoll(speakerID string, duration time.Duration, err error)
}

// CoordinatorOptions configures a Coordinator.
type CoordinatorOptions struct {
	// SpeakerID identifies the speaker in logs and metrics.
	SpeakerID string

	// Fetcher performs the state reads. Required.
	Fetcher StateFetcher

	// Interval is the fixed polling cadence. Defaults to 15s.
	Interval time.Duration

	// RequestTimeout bounds each poll cycle. Defaults to Interval.
	RequestTimeout time.Duration

	// NotifyUnchanged makes the coordinator publish every successful poll
	// even when the snapshot is identical to the previous one. Off by
	// default: identical snapshots are deduplicated.
	NotifyUnchanged bool

	// Metrics receives poll timings when set.
	Metrics MetricsSink

	Logger Logger
}

// Coordinator polls one speaker on a fixed interval, keeps its last-known-good
// snapshot, and notifies subscribers of changes.
//
// State machine: the coordinator starts in HealthInitializing, moves to
// HealthHealthy on the first successful poll, and to HealthDegraded when a
// poll fails after at least one success. A degraded coordinator keeps serving
// the last-known-good snapshot and retries on the normal cadence; there is no
// backoff, the interval is the backoff.
//
// Concurrent polls are possible: a forced refresh can overlap an
// interval-triggered one. Each poll takes a sequence number when it starts
// and only publishes if no later-started poll has published first, so a slow
// stale read can never overwrite a fresher snapshot.
type Coordinator struct {
	speakerID       string
	fetcher         StateFetcher
	interval        time.Duration
	requestTimeout  time.Duration
	notifyUnchanged bool
	metrics         MetricsSink
	logger          Logger

	seq atomic.Uint64 // poll sequence, taken at poll start

	mu           sync.RWMutex
	snapshot     *soundtouch.Snapshot
	health       Health
	lastPoll     time.Time
	lastErr      error
	publishedSeq uint64

	subMu       sync.RWMutex
	subscribers map[string]ChangeHandler

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCoordinator creates a coordinator. Call Start to begin polling.
func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	interval := opts.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = interval
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Coordinator{
		speakerID:       opts.SpeakerID,
		fetcher:         opts.Fetcher,
		interval:        interval,
		requestTimeout:  timeout,
		notifyUnchanged: opts.NotifyUnchanged,
		metrics:         opts.Metrics,
		logger:          logger,
		health:          HealthInitializing,
		subscribers:     make(map[string]ChangeHandler),
		done:            make(chan struct{}),
	}
}

// Start launches the polling loop. An immediate poll runs before the first
// tick so state becomes available without waiting a full interval.
func (c *Coordinator) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.run(ctx)
}

// Stop terminates the polling loop and waits for in-flight polls to finish.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
	c.wg.Wait()
}

func (c *Coordinator) run(ctx context.Context) {
	defer c.wg.Done()

	if err := c.poll(ctx); err != nil {
		c.logger.Warn("initial poll failed", "speaker", c.speakerID, "error", err)
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.poll(ctx); err != nil {
				c.logger.Warn("poll failed", "speaker", c.speakerID, "error", err)
			}
		}
	}
}

// Refresh performs one poll cycle immediately, outside the interval schedule.
// It is safe to call while an interval poll is in flight.
func (c *Coordinator) Refresh(ctx context.Context) error {
	return c.poll(ctx)
}

// RequestRefresh schedules an asynchronous poll and returns without waiting
// for it. Used after mutations so observed state converges quickly.
func (c *Coordinator) RequestRefresh() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		select {
		case <-c.done:
			return
		default:
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.requestTimeout)
		defer cancel()
		if err := c.poll(ctx); err != nil {
			c.logger.Debug("forced refresh failed", "speaker", c.speakerID, "error", err)
		}
	}()
}

// poll runs one fetch cycle and publishes the result under the sequence
// number discipline described on Coordinator.
func (c *Coordinator) poll(ctx context.Context) error {
	seq := c.seq.Add(1)

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	started := time.Now()
	snap, err := c.fetcher.FetchState(ctx)
	elapsed := time.Since(started)

	if c.metrics != nil {
		c.metrics.RecordPoll(c.speakerID, elapsed, err)
	}

	if err != nil {
		c.mu.Lock()
		if seq > c.publishedSeq {
			// Same discipline as success: a failure from a poll that
			// started before the published snapshot is stale news and
			// must not mark the fresher state degraded.
			c.lastPoll = time.Now().UTC()
			c.lastErr = err
			if c.snapshot != nil {
				c.health = HealthDegraded
			}
		}
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	c.mu.Lock()
	if seq <= c.publishedSeq {
		// A poll that started later already published. Discard this
		// result rather than moving state backwards.
		c.mu.Unlock()
		c.logger.Debug("discarding stale poll result", "speaker", c.speakerID, "seq", seq)
		return nil
	}
	changed := !snap.Equal(c.snapshot)
	c.snapshot = snap
	c.publishedSeq = seq
	c.health = HealthHealthy
	c.lastPoll = time.Now().UTC()
	c.lastErr = nil
	c.mu.Unlock()

	if changed || c.notifyUnchanged {
		c.notify(snap)
	}
	return nil
}

func (c *Coordinator) notify(snap *soundtouch.Snapshot) {
	c.subMu.RLock()
	handlers := make([]ChangeHandler, 0, len(c.subscribers))
	for _, h := range c.subscribers {
		handlers = append(handlers, h)
	}
	c.subMu.RUnlock()

	for _, h := range handlers {
		h(snap)
	}
}

// Subscribe registers a change handler and returns its subscription ID.
func (c *Coordinator) Subscribe(handler ChangeHandler) string {
	id := uuid.New().String()
	c.subMu.Lock()
	c.subscribers[id] = handler
	c.subMu.Unlock()
	return id
}

// Unsubscribe removes a previously registered handler.
func (c *Coordinator) Unsubscribe(id string) {
	c.subMu.Lock()
	delete(c.subscribers, id)
	c.subMu.Unlock()
}

// Latest returns the most recently published snapshot. The boolean is false
// before the first successful poll. The snapshot is shared and must not be
// mutated by callers.
func (c *Coordinator) Latest() (*soundtouch.Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snapshot == nil {
		return nil, false
	}
	return c.snapshot, true
}

// Status reports the coordinator's health for API consumers.
func (c *Coordinator) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Status{Health: c.health, LastPoll: c.lastPoll}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}
