package zone

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/nerrad567/soundweave/internal/soundtouch"
)

// Logger defines the logging interface used by the Reconciler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Participant is one speaker the reconciler can act on. Satisfied by
// *fleet.Entry.
type Participant interface {
	// SpeakerID is the registry identifier.
	SpeakerID() string

	// DeviceID is the hardware address, false when not yet resolved.
	DeviceID() (string, bool)

	// ControlAddress is the IP peer speakers use to reach this one.
	ControlAddress() string

	// Latest is the most recent observed state, false before the first
	// successful poll.
	Latest() (*soundtouch.Snapshot, bool)

	// RequestRefresh schedules an asynchronous state re-read.
	RequestRefresh()

	// SelectSource switches the speaker's input.
	SelectSource(ctx context.Context, request string) error

	// SetZone replaces the speaker's zone with the given members.
	SetZone(ctx context.Context, members []soundtouch.ZoneMember) error

	// RemoveZoneMember detaches one member from the speaker's zone.
	RemoveZoneMember(ctx context.Context, member soundtouch.ZoneMember) error
}

// Fleet resolves speaker identifiers to participants.
type Fleet interface {
	// Resolve accepts a registry ID or a hardware address.
	Resolve(identifier string) (Participant, error)

	// Participants returns every managed speaker.
	Participants() []Participant
}

// Reconciler turns requested zone topologies into the minimal device
// mutations. All comparisons against current topology use the master's
// observed state, never a fresh read: decisions are cheap and the poll loop
// converges observed state afterwards.
//
// Operations are act-then-refresh: the device mutation is issued first, then
// an asynchronous refresh is requested for every speaker whose membership
// changed. A no-op request (target topology already in place) issues no
// device traffic and reports success.
type Reconciler struct {
	fleet  Fleet
	logger Logger

	// lastSources remembers the source re-selected for each master after a
	// zone create, keyed by normalized MAC. Grouping can drop the master's
	// input; re-selecting restores playback for the new zone.
	mu          sync.Mutex
	lastSources map[string]string
}

// defaultZoneSource is selected after a zone create for masters with no
// remembered source.
const defaultZoneSource = "AUX"

// NewReconciler creates a reconciler over the given fleet.
func NewReconciler(fleet Fleet, logger Logger) *Reconciler {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Reconciler{
		fleet:       fleet,
		logger:      logger,
		lastSources: make(map[string]string),
	}
}

// request is a validated, resolved zone operation.
type request struct {
	master    Participant
	masterMAC string
	members   []Participant // deduplicated, master excluded
}

// resolve validates identifiers and resolves them against the fleet. A member
// that resolves to the master itself fails with ErrInvalidRequest before any
// device traffic.
func (r *Reconciler) resolve(master string, members []string) (*request, error) {
	if strings.TrimSpace(master) == "" {
		return nil, fmt.Errorf("%w: empty master identifier", ErrInvalidRequest)
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("%w: empty member list", ErrInvalidRequest)
	}

	mp, err := r.fleet.Resolve(master)
	if err != nil {
		return nil, fmt.Errorf("%w: master %q", ErrUnknownSpeaker, master)
	}
	masterMAC, ok := mp.DeviceID()
	if !ok {
		return nil, fmt.Errorf("%w: master %q", soundtouch.ErrIdentityUnresolved, master)
	}

	req := &request{master: mp, masterMAC: normalizeMAC(masterMAC)}
	seen := make(map[string]bool)
	for _, id := range members {
		if strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("%w: empty member identifier", ErrInvalidRequest)
		}
		p, err := r.fleet.Resolve(id)
		if err != nil {
			return nil, fmt.Errorf("%w: member %q", ErrUnknownSpeaker, id)
		}
		if p.SpeakerID() == mp.SpeakerID() {
			return nil, fmt.Errorf("%w: speaker %q cannot join its own zone", ErrInvalidRequest, master)
		}
		if seen[p.SpeakerID()] {
			continue
		}
		seen[p.SpeakerID()] = true
		req.members = append(req.members, p)
	}
	return req, nil
}

// memberMAC returns a participant's normalized hardware address.
func memberMAC(p Participant) (string, error) {
	mac, ok := p.DeviceID()
	if !ok {
		return "", fmt.Errorf("%w: member %q", soundtouch.ErrIdentityUnresolved, p.SpeakerID())
	}
	return normalizeMAC(mac), nil
}

// currentMembers returns the master's observed member set, excluding the
// master's own address when the device lists itself.
func (r *Reconciler) currentMembers(req *request) (map[string]bool, *soundtouch.Snapshot, error) {
	snap, ok := req.master.Latest()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrStateUnavailable, req.master.SpeakerID())
	}
	current := snap.Zone.MemberSet()
	delete(current, req.masterMAC)
	return current, snap, nil
}

// CreateZone makes master lead a zone whose members are exactly the given
// speakers. An existing zone on the master is replaced. If the requested
// topology is already in place the call succeeds without device traffic.
func (r *Reconciler) CreateZone(ctx context.Context, master string, members []string) error {
	req, err := r.resolve(master, members)
	if err != nil {
		return err
	}

	target := make(map[string]bool, len(req.members))
	zoneMembers := make([]soundtouch.ZoneMember, 0, len(req.members))
	for _, p := range req.members {
		mac, err := memberMAC(p)
		if err != nil {
			return err
		}
		target[mac] = true
		zoneMembers = append(zoneMembers, soundtouch.ZoneMember{
			IP:       p.ControlAddress(),
			DeviceID: mac,
		})
	}

	current, snap, err := r.currentMembers(req)
	if err != nil {
		return err
	}

	if setsEqual(current, target) {
		r.logger.Debug("zone already in requested shape",
			"master", req.master.SpeakerID(), "members", len(target))
		return nil
	}

	r.rememberSource(req.masterMAC, snap)

	if err := req.master.SetZone(ctx, zoneMembers); err != nil {
		return fmt.Errorf("creating zone on %s: %w", req.master.SpeakerID(), err)
	}

	r.logger.Info("zone created",
		"master", req.master.SpeakerID(), "members", len(zoneMembers))

	r.selectZoneSource(ctx, req)
	r.refreshAffected(req, current, target)
	return nil
}

// rememberSource records the master's observed input so the post-create
// select can restore it. STANDBY and empty sources are not selectable.
func (r *Reconciler) rememberSource(mac string, snap *soundtouch.Snapshot) {
	src := strings.TrimSpace(snap.Source.Source)
	if src == "" || strings.EqualFold(src, "STANDBY") {
		return
	}
	r.mu.Lock()
	r.lastSources[mac] = src
	r.mu.Unlock()
}

// selectZoneSource re-selects the master's input after a zone create. The
// select is best-effort: a failure is logged and does not fail the create.
// A successfully selected source is remembered for the next create led by
// the same master.
func (r *Reconciler) selectZoneSource(ctx context.Context, req *request) {
	r.mu.Lock()
	source, ok := r.lastSources[req.masterMAC]
	r.mu.Unlock()
	if !ok {
		source = defaultZoneSource
	}

	if err := req.master.SelectSource(ctx, source); err != nil {
		r.logger.Debug("source re-select after zone create failed",
			"master", req.master.SpeakerID(), "source", source, "error", err)
		return
	}

	r.mu.Lock()
	r.lastSources[req.masterMAC] = source
	r.mu.Unlock()
}

// JoinZone adds the given speakers to master's zone, keeping existing
// members. Joining an ungrouped master creates the zone. Members already in
// the zone are ignored; if every member already belongs the call succeeds
// without device traffic.
func (r *Reconciler) JoinZone(ctx context.Context, master string, members []string) error {
	req, err := r.resolve(master, members)
	if err != nil {
		return err
	}

	current, snap, err := r.currentMembers(req)
	if err != nil {
		return err
	}

	// Keep existing members as reported by the device, then append the
	// genuinely new ones.
	target := make(map[string]bool, len(current)+len(req.members))
	zoneMembers := make([]soundtouch.ZoneMember, 0, len(current)+len(req.members))
	for _, m := range snap.Zone.Members {
		mac := normalizeMAC(m.DeviceID)
		if mac == "" || mac == req.masterMAC || target[mac] {
			continue
		}
		target[mac] = true
		zoneMembers = append(zoneMembers, soundtouch.ZoneMember{IP: m.IP, DeviceID: mac})
	}
	added := 0
	for _, p := range req.members {
		mac, err := memberMAC(p)
		if err != nil {
			return err
		}
		if target[mac] {
			continue
		}
		target[mac] = true
		added++
		zoneMembers = append(zoneMembers, soundtouch.ZoneMember{
			IP:       p.ControlAddress(),
			DeviceID: mac,
		})
	}

	if added == 0 {
		r.logger.Debug("all members already in zone", "master", req.master.SpeakerID())
		return nil
	}

	if err := req.master.SetZone(ctx, zoneMembers); err != nil {
		return fmt.Errorf("joining zone on %s: %w", req.master.SpeakerID(), err)
	}

	r.logger.Info("zone members added",
		"master", req.master.SpeakerID(), "added", added, "total", len(zoneMembers))

	r.refreshAffected(req, current, target)
	return nil
}

// LeaveZone detaches the given speakers from master's zone. Members not in
// the zone are skipped; if none of the given speakers belong the call
// succeeds without device traffic. Each departure is issued separately, so a
// mid-list failure leaves earlier departures in effect.
func (r *Reconciler) LeaveZone(ctx context.Context, master string, members []string) error {
	req, err := r.resolve(master, members)
	if err != nil {
		return err
	}

	current, _, err := r.currentMembers(req)
	if err != nil {
		return err
	}

	var removed []Participant
	for _, p := range req.members {
		mac, err := memberMAC(p)
		if err != nil {
			r.refreshRemoved(req, removed)
			return err
		}
		if !current[mac] {
			continue
		}
		member := soundtouch.ZoneMember{IP: p.ControlAddress(), DeviceID: mac}
		if err := req.master.RemoveZoneMember(ctx, member); err != nil {
			r.refreshRemoved(req, removed)
			return fmt.Errorf("removing %s from zone: %w", p.SpeakerID(), err)
		}
		removed = append(removed, p)
	}

	if len(removed) == 0 {
		r.logger.Debug("no members to remove", "master", req.master.SpeakerID())
		return nil
	}

	r.logger.Info("zone members removed",
		"master", req.master.SpeakerID(), "removed", len(removed))

	r.refreshRemoved(req, removed)
	return nil
}

// refreshAffected schedules refreshes for the master and every speaker whose
// membership changed between the current and target sets.
func (r *Reconciler) refreshAffected(req *request, current, target map[string]bool) {
	req.master.RequestRefresh()
	for mac := range target {
		if !current[mac] {
			r.refreshByMAC(mac)
		}
	}
	for mac := range current {
		if !target[mac] {
			r.refreshByMAC(mac)
		}
	}
}

func (r *Reconciler) refreshRemoved(req *request, removed []Participant) {
	if len(removed) == 0 {
		return
	}
	req.master.RequestRefresh()
	for _, p := range removed {
		p.RequestRefresh()
	}
}

// refreshByMAC refreshes the speaker behind a hardware address, if managed.
// Unmanaged zone members (paired by another controller) are ignored.
func (r *Reconciler) refreshByMAC(mac string) {
	p, err := r.fleet.Resolve(mac)
	if err != nil {
		r.logger.Debug("zone member not managed, skipping refresh", "device_id", mac)
		return
	}
	p.RequestRefresh()
}

// Group is one observed zone in the fleet.
type Group struct {
	Master  string   `json:"master"`
	Members []string `json:"members"`
}

// Topology derives the fleet's zone groups from observed state. Only speakers
// that report themselves as zone masters contribute a group. Member hardware
// addresses are mapped back to registry IDs where possible; members managed
// by another controller appear as raw addresses.
func (r *Reconciler) Topology() []Group {
	var groups []Group
	for _, p := range r.fleet.Participants() {
		snap, ok := p.Latest()
		if !ok || !snap.IsMaster() {
			continue
		}
		selfMAC := ""
		if mac, ok := p.DeviceID(); ok {
			selfMAC = normalizeMAC(mac)
		}
		group := Group{Master: p.SpeakerID()}
		seen := make(map[string]bool)
		for _, m := range snap.Zone.Members {
			mac := normalizeMAC(m.DeviceID)
			if mac == "" || mac == selfMAC || seen[mac] {
				continue
			}
			seen[mac] = true
			name := mac
			if mp, err := r.fleet.Resolve(mac); err == nil {
				name = mp.SpeakerID()
			}
			group.Members = append(group.Members, name)
		}
		if len(group.Members) == 0 {
			continue
		}
		sort.Strings(group.Members)
		groups = append(groups, group)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Master < groups[j].Master })
	return groups
}

func normalizeMAC(mac string) string {
	return strings.ToLower(strings.TrimSpace(mac))
}

func setsEqual(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}
