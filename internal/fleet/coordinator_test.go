package fleet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/soundweave/internal/soundtouch"
)

// scriptedFetcher returns whatever the per-call script says. The call number
// starts at 1.
type scriptedFetcher struct {
	mu     sync.Mutex
	calls  int
	script func(call int) (*soundtouch.Snapshot, error)
}

func (f *scriptedFetcher) FetchState(_ context.Context) (*soundtouch.Snapshot, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.script(call)
}

func (f *scriptedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testSnapshot(volume int) *soundtouch.Snapshot {
	return &soundtouch.Snapshot{
		DeviceID:  "aa:bb:cc:dd:ee:ff",
		Name:      "Kitchen",
		Model:     "SoundTouch 20",
		PowerOn:   true,
		Volume:    volume,
		Source:    soundtouch.SourceSelection{Source: "SPOTIFY"},
		Status:    soundtouch.StatusPlaying,
		FetchedAt: time.Now().UTC(),
	}
}

func newTestCoordinator(fetcher StateFetcher, notifyUnchanged bool) *Coordinator {
	return NewCoordinator(CoordinatorOptions{
		SpeakerID:       "kitchen",
		Fetcher:         fetcher,
		Interval:        time.Hour, // tests drive Refresh directly
		RequestTimeout:  5 * time.Second,
		NotifyUnchanged: notifyUnchanged,
	})
}

func TestCoordinatorStartsInitializing(t *testing.T) {
	c := newTestCoordinator(&scriptedFetcher{script: func(int) (*soundtouch.Snapshot, error) {
		return testSnapshot(10), nil
	}}, false)

	if got := c.Status().Health; got != HealthInitializing {
		t.Errorf("health = %q, want %q", got, HealthInitializing)
	}
	if _, ok := c.Latest(); ok {
		t.Error("Latest() reported a snapshot before any poll")
	}
}

func TestCoordinatorRefreshPublishes(t *testing.T) {
	c := newTestCoordinator(&scriptedFetcher{script: func(int) (*soundtouch.Snapshot, error) {
		return testSnapshot(42), nil
	}}, false)

	var notified []*soundtouch.Snapshot
	c.Subscribe(func(snap *soundtouch.Snapshot) {
		notified = append(notified, snap)
	})

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	snap, ok := c.Latest()
	if !ok {
		t.Fatal("Latest() reported no snapshot after a successful poll")
	}
	if snap.Volume != 42 {
		t.Errorf("snapshot volume = %d, want 42", snap.Volume)
	}
	if got := c.Status().Health; got != HealthHealthy {
		t.Errorf("health = %q, want %q", got, HealthHealthy)
	}
	if len(notified) != 1 {
		t.Errorf("subscriber called %d times, want 1", len(notified))
	}
}

func TestCoordinatorFailureBeforeFirstSuccessStaysInitializing(t *testing.T) {
	c := newTestCoordinator(&scriptedFetcher{script: func(int) (*soundtouch.Snapshot, error) {
		return nil, errors.New("connection refused")
	}}, false)

	err := c.Refresh(context.Background())
	if !errors.Is(err, ErrRefreshFailed) {
		t.Fatalf("Refresh() error = %v, want ErrRefreshFailed", err)
	}
	if got := c.Status().Health; got != HealthInitializing {
		t.Errorf("health = %q, want %q", got, HealthInitializing)
	}
	if _, ok := c.Latest(); ok {
		t.Error("Latest() reported a snapshot after a failed first poll")
	}
}

func TestCoordinatorDegradedKeepsLastKnownGood(t *testing.T) {
	fetcher := &scriptedFetcher{script: func(call int) (*soundtouch.Snapshot, error) {
		if call == 1 {
			return testSnapshot(30), nil
		}
		return nil, errors.New("timeout")
	}}
	c := newTestCoordinator(fetcher, false)

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("first Refresh() error = %v", err)
	}
	if err := c.Refresh(context.Background()); !errors.Is(err, ErrRefreshFailed) {
		t.Fatalf("second Refresh() error = %v, want ErrRefreshFailed", err)
	}

	status := c.Status()
	if status.Health != HealthDegraded {
		t.Errorf("health = %q, want %q", status.Health, HealthDegraded)
	}
	if status.LastError == "" {
		t.Error("degraded status carries no last error")
	}

	snap, ok := c.Latest()
	if !ok {
		t.Fatal("last-known-good snapshot was dropped on failure")
	}
	if snap.Volume != 30 {
		t.Errorf("snapshot volume = %d, want 30", snap.Volume)
	}
}

func TestCoordinatorRecoversFromDegraded(t *testing.T) {
	fetcher := &scriptedFetcher{script: func(call int) (*soundtouch.Snapshot, error) {
		if call == 2 {
			return nil, errors.New("timeout")
		}
		return testSnapshot(30 + call), nil
	}}
	c := newTestCoordinator(fetcher, false)

	_ = c.Refresh(context.Background())
	_ = c.Refresh(context.Background())
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("recovery Refresh() error = %v", err)
	}
	if got := c.Status().Health; got != HealthHealthy {
		t.Errorf("health = %q, want %q", got, HealthHealthy)
	}
}

func TestCoordinatorSuppressesUnchangedSnapshots(t *testing.T) {
	fetcher := &scriptedFetcher{script: func(int) (*soundtouch.Snapshot, error) {
		return testSnapshot(50), nil
	}}
	c := newTestCoordinator(fetcher, false)

	var count int
	c.Subscribe(func(*soundtouch.Snapshot) { count++ })

	for i := 0; i < 3; i++ {
		if err := c.Refresh(context.Background()); err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}
	}
	if count != 1 {
		t.Errorf("subscriber called %d times for identical snapshots, want 1", count)
	}
}

func TestCoordinatorNotifyUnchangedOption(t *testing.T) {
	fetcher := &scriptedFetcher{script: func(int) (*soundtouch.Snapshot, error) {
		return testSnapshot(50), nil
	}}
	c := newTestCoordinator(fetcher, true)

	var count int
	c.Subscribe(func(*soundtouch.Snapshot) { count++ })

	for i := 0; i < 3; i++ {
		if err := c.Refresh(context.Background()); err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}
	}
	if count != 3 {
		t.Errorf("subscriber called %d times with NotifyUnchanged, want 3", count)
	}
}

func TestCoordinatorUnsubscribeStopsNotifications(t *testing.T) {
	fetcher := &scriptedFetcher{script: func(call int) (*soundtouch.Snapshot, error) {
		return testSnapshot(call), nil
	}}
	c := newTestCoordinator(fetcher, false)

	var count int
	id := c.Subscribe(func(*soundtouch.Snapshot) { count++ })

	_ = c.Refresh(context.Background())
	c.Unsubscribe(id)
	_ = c.Refresh(context.Background())

	if count != 1 {
		t.Errorf("subscriber called %d times after unsubscribe, want 1", count)
	}
}

// A slow poll that started earlier must not overwrite the result of a poll
// that started later and finished first.
func TestCoordinatorStalePollDoesNotOverwriteNewer(t *testing.T) {
	firstStarted := make(chan struct{})
	release := make(chan struct{})
	fetcher := &scriptedFetcher{script: func(call int) (*soundtouch.Snapshot, error) {
		if call == 1 {
			close(firstStarted)
			<-release
			return testSnapshot(11), nil
		}
		return testSnapshot(22), nil
	}}
	c := newTestCoordinator(fetcher, false)

	done := make(chan error, 1)
	go func() { done <- c.Refresh(context.Background()) }()
	<-firstStarted

	// Second poll starts after the first and completes immediately.
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("second Refresh() error = %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first Refresh() error = %v", err)
	}

	snap, ok := c.Latest()
	if !ok {
		t.Fatal("Latest() reported no snapshot")
	}
	if snap.Volume != 22 {
		t.Errorf("stale poll overwrote newer snapshot: volume = %d, want 22", snap.Volume)
	}
}

func TestCoordinatorRequestRefreshIsAsynchronous(t *testing.T) {
	published := make(chan struct{})
	fetcher := &scriptedFetcher{script: func(int) (*soundtouch.Snapshot, error) {
		return testSnapshot(77), nil
	}}
	c := newTestCoordinator(fetcher, false)
	c.Subscribe(func(*soundtouch.Snapshot) { close(published) })

	c.RequestRefresh()

	select {
	case <-published:
	case <-time.After(2 * time.Second):
		t.Fatal("forced refresh never published")
	}
	c.Stop()
}

func TestCoordinatorStartPollsImmediately(t *testing.T) {
	published := make(chan struct{})
	fetcher := &scriptedFetcher{script: func(int) (*soundtouch.Snapshot, error) {
		return testSnapshot(5), nil
	}}
	c := NewCoordinator(CoordinatorOptions{
		SpeakerID: "kitchen",
		Fetcher:   fetcher,
		Interval:  time.Hour,
	})
	c.Subscribe(func(*soundtouch.Snapshot) { close(published) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Stop()

	select {
	case <-published:
	case <-time.After(2 * time.Second):
		t.Fatal("no poll ran at startup")
	}
	if fetcher.callCount() != 1 {
		t.Errorf("fetch calls = %d, want 1", fetcher.callCount())
	}
}

func TestCoordinatorStaleFailureDoesNotDegradeNewer(t *testing.T) {
	firstStarted := make(chan struct{})
	release := make(chan struct{})
	fetcher := &scriptedFetcher{script: func(call int) (*soundtouch.Snapshot, error) {
		if call == 1 {
			close(firstStarted)
			<-release
			return nil, errors.New("speaker unreachable")
		}
		return testSnapshot(22), nil
	}}
	c := newTestCoordinator(fetcher, false)

	done := make(chan error, 1)
	go func() { done <- c.Refresh(context.Background()) }()
	<-firstStarted

	// Second poll starts after the first and publishes before it fails.
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("second Refresh() error = %v", err)
	}

	close(release)
	if err := <-done; err == nil {
		t.Fatal("first Refresh() should fail")
	}

	status := c.Status()
	if status.Health != HealthHealthy {
		t.Errorf("stale failure degraded newer state: health = %q, want %q", status.Health, HealthHealthy)
	}
	if status.LastError != "" {
		t.Errorf("stale failure recorded: LastError = %q, want empty", status.LastError)
	}
}
