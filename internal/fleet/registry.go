package fleet

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/soundweave/internal/soundtouch"
)

// Entry is one managed speaker: its persistent record, protocol client, and
// polling coordinator. Entries are created by the Registry and live for the
// process lifetime.
type Entry struct {
	mu          sync.RWMutex
	record      Speaker
	client      *soundtouch.Client
	coordinator *Coordinator
}

// ID returns the speaker's registry identifier.
func (e *Entry) ID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.record.ID
}

// SpeakerID returns the registry identifier. Same as ID; this name satisfies
// the zone participant interface.
func (e *Entry) SpeakerID() string { return e.ID() }

// Record returns a copy of the persistent speaker record.
func (e *Entry) Record() Speaker {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.record
}

// Client returns the speaker's protocol client.
func (e *Entry) Client() *soundtouch.Client { return e.client }

// Coordinator returns the speaker's polling coordinator.
func (e *Entry) Coordinator() *Coordinator { return e.coordinator }

// DeviceID returns the speaker's hardware address. It prefers the identity
// resolved this session and falls back to the address persisted from an
// earlier run. The boolean is false if neither is known.
func (e *Entry) DeviceID() (string, bool) {
	if id, ok := e.client.CachedIdentity(); ok {
		return id.DeviceID, true
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.record.DeviceID != "" {
		return e.record.DeviceID, true
	}
	return "", false
}

// ControlAddress returns the IP address peer speakers use to reach this one.
func (e *Entry) ControlAddress() string { return e.client.ControlAddress() }

// Latest returns the most recent state snapshot, if any.
func (e *Entry) Latest() (*soundtouch.Snapshot, bool) { return e.coordinator.Latest() }

// RequestRefresh schedules an asynchronous poll.
func (e *Entry) RequestRefresh() { e.coordinator.RequestRefresh() }

// Status returns the coordinator's health summary.
func (e *Entry) Status() Status { return e.coordinator.Status() }

// Sources fetches the speaker's selectable source catalog.
func (e *Entry) Sources(ctx context.Context) ([]soundtouch.SourceDescriptor, error) {
	return e.client.Sources(ctx)
}

// SetVolume sends an absolute volume command to the speaker.
func (e *Entry) SetVolume(ctx context.Context, level int) error {
	return e.client.SetVolume(ctx, level)
}

// Power toggles the speaker's power state.
func (e *Entry) Power(ctx context.Context) error {
	return e.client.Power(ctx)
}

// SelectSource switches the speaker to the named source.
func (e *Entry) SelectSource(ctx context.Context, request string) error {
	return e.client.SelectSource(ctx, request)
}

// SetZone replaces the speaker's zone with the given member list.
func (e *Entry) SetZone(ctx context.Context, members []soundtouch.ZoneMember) error {
	return e.client.SetZone(ctx, members)
}

// RemoveZoneMember detaches one member from the speaker's zone.
func (e *Entry) RemoveZoneMember(ctx context.Context, member soundtouch.ZoneMember) error {
	return e.client.RemoveZoneMember(ctx, member)
}

func (e *Entry) setRecord(record Speaker) {
	e.mu.Lock()
	e.record = record
	e.mu.Unlock()
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// Repo persists speaker records. Required.
	Repo Repository

	// HTTPClient is shared across all protocol clients so connections are
	// pooled per speaker. When nil the registry builds one.
	HTTPClient *http.Client

	// PollInterval is the coordinator cadence applied to every speaker.
	PollInterval time.Duration

	// RequestTimeout bounds each poll cycle.
	RequestTimeout time.Duration

	// NotifyUnchanged is passed through to every coordinator.
	NotifyUnchanged bool

	// Metrics receives poll timings when set.
	Metrics MetricsSink

	Logger Logger
}

// Registry owns the runtime entry for every managed speaker. It seeds records
// from configuration, builds a client and coordinator per speaker, maintains a
// hardware-address index for zone resolution, and persists identities learned
// from the speakers themselves.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	http    *http.Client
	opts    RegistryOptions
	logger  Logger
	mu      sync.RWMutex
	entries map[string]*Entry
	byMAC   map[string]string // normalized device ID -> speaker ID
}

// defaultHTTPClient builds the transport shared by every protocol client.
// Idle connections are kept per speaker so the fixed-interval poll cycle
// reuses them instead of redialing.
func defaultHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        64,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// NewRegistry creates a registry. Call Seed and then Start.
func NewRegistry(opts RegistryOptions) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = defaultHTTPClient()
	}
	return &Registry{
		repo:    opts.Repo,
		http:    httpClient,
		opts:    opts,
		logger:  logger,
		entries: make(map[string]*Entry),
		byMAC:   make(map[string]string),
	}
}

// Seed reconciles configured speakers against the persistent store and builds
// a runtime entry for each. Records already present keep their learned
// identity; host and port always follow configuration. Persisted speakers not
// present in the given list are left in the store but get no runtime entry.
func (r *Registry) Seed(ctx context.Context, speakers []Speaker) error {
	for i := range speakers {
		cfg := speakers[i]
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("speaker %q: %w", cfg.ID, err)
		}

		record, err := r.repo.GetByID(ctx, cfg.ID)
		switch {
		case errors.Is(err, ErrSpeakerNotFound):
			record = &cfg
			if err := r.repo.Create(ctx, record); err != nil {
				return fmt.Errorf("creating speaker %q: %w", cfg.ID, err)
			}
			r.logger.Info("speaker registered", "id", record.ID, "host", record.Host)
		case err != nil:
			return fmt.Errorf("loading speaker %q: %w", cfg.ID, err)
		default:
			if record.Host != cfg.Host || record.Port != cfg.Port || (cfg.Name != "" && record.Name != cfg.Name) {
				record.Host = cfg.Host
				record.Port = cfg.Port
				if cfg.Name != "" {
					record.Name = cfg.Name
				}
				if err := r.repo.Update(ctx, record); err != nil {
					return fmt.Errorf("updating speaker %q: %w", cfg.ID, err)
				}
			}
		}

		if err := r.addEntry(*record); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) addEntry(record Speaker) error {
	client, err := soundtouch.NewClient(soundtouch.ClientOptions{
		Host:       record.Host,
		Port:       record.Port,
		HTTPClient: r.http,
	})
	if err != nil {
		return fmt.Errorf("building client for %q: %w", record.ID, err)
	}

	entry := &Entry{record: record, client: client}
	entry.coordinator = NewCoordinator(CoordinatorOptions{
		SpeakerID:       record.ID,
		Fetcher:         client,
		Interval:        r.opts.PollInterval,
		RequestTimeout:  r.opts.RequestTimeout,
		NotifyUnchanged: r.opts.NotifyUnchanged,
		Metrics:         r.opts.Metrics,
		Logger:          r.logger,
	})
	entry.coordinator.Subscribe(func(snap *soundtouch.Snapshot) {
		r.recordIdentity(entry, snap)
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[record.ID]; exists {
		return fmt.Errorf("%w: %s", ErrSpeakerExists, record.ID)
	}
	r.entries[record.ID] = entry
	if record.DeviceID != "" {
		r.byMAC[normalizeDeviceID(record.DeviceID)] = record.ID
	}
	return nil
}

// recordIdentity persists the hardware identity the first time it is observed
// (or if it changed, which means the hardware behind the host moved).
func (r *Registry) recordIdentity(entry *Entry, snap *soundtouch.Snapshot) {
	if snap.DeviceID == "" {
		return
	}
	record := entry.Record()
	deviceID := normalizeDeviceID(snap.DeviceID)
	if normalizeDeviceID(record.DeviceID) == deviceID && record.Model == snap.Model {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	name := record.Name
	if name == "" {
		name = snap.Name
	}
	if err := r.repo.UpdateIdentity(ctx, record.ID, deviceID, name, snap.Model); err != nil {
		r.logger.Warn("persisting speaker identity failed", "id", record.ID, "error", err)
		return
	}

	record.DeviceID = deviceID
	record.Name = name
	record.Model = snap.Model
	entry.setRecord(record)

	r.mu.Lock()
	r.byMAC[deviceID] = record.ID
	r.mu.Unlock()

	r.logger.Info("speaker identity resolved",
		"id", record.ID, "device_id", deviceID, "model", snap.Model)
}

// Start launches every coordinator.
func (r *Registry) Start(ctx context.Context) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, entry := range r.entries {
		entry.coordinator.Start(ctx)
	}
	r.logger.Info("fleet polling started", "speakers", len(r.entries))
}

// Stop terminates every coordinator and waits for in-flight polls.
func (r *Registry) Stop() {
	r.mu.RLock()
	entries := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	for _, e := range entries {
		e.coordinator.Stop()
	}
}

// Get returns the entry for a speaker ID.
// Returns ErrSpeakerNotFound if the speaker is not managed.
func (r *Registry) Get(id string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSpeakerNotFound, id)
	}
	return entry, nil
}

// Resolve looks a speaker up by registry ID or hardware address.
// Returns ErrSpeakerNotFound if neither matches.
func (r *Registry) Resolve(identifier string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry, ok := r.entries[identifier]; ok {
		return entry, nil
	}
	if id, ok := r.byMAC[normalizeDeviceID(identifier)]; ok {
		return r.entries[id], nil
	}
	return nil, fmt.Errorf("%w: %s", ErrSpeakerNotFound, identifier)
}

// List returns all entries sorted by speaker ID.
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID() < entries[j].ID() })
	return entries
}

// SubscribeAll attaches the handler to every speaker's coordinator. The
// speaker ID is passed alongside each snapshot.
func (r *Registry) SubscribeAll(handler func(speakerID string, snap *soundtouch.Snapshot)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, entry := range r.entries {
		speakerID := id
		entry.coordinator.Subscribe(func(snap *soundtouch.Snapshot) {
			handler(speakerID, snap)
		})
	}
}

func normalizeDeviceID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
