package soundtouch

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Volume bounds accepted by the device.
const (
	MinVolume = 0
	MaxVolume = 100
)

// maxResponseSize bounds response bodies read from a speaker (1MB).
const maxResponseSize = 1 << 20

// Client speaks the XML-over-HTTP control protocol of one speaker.
//
// A Client is pure transport: it performs no polling and caches no playback
// state. The only thing memoized is the device identity, which zone commands
// require and which never changes for a device's lifetime.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	http *http.Client
	host string
	base string

	// Identity is memoized on first successful fetch. The control IP is
	// learned from /info and /getZone responses; until a device reports
	// one, the configured host is used.
	mu        sync.Mutex
	identity  *Identity
	controlIP string
}

// ClientOptions holds configuration for creating a client.
type ClientOptions struct {
	// Host is the speaker's network address (IP or hostname). Required.
	Host string

	// Port is the control port. Defaults to 8090.
	Port int

	// HTTPClient is the transport to use. Sharing one client across the
	// fleet pools connections per host. Required.
	HTTPClient *http.Client
}

// NewClient creates a client for one speaker.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if opts.HTTPClient == nil {
		return nil, fmt.Errorf("HTTP client is required")
	}
	port := opts.Port
	if port == 0 {
		port = 8090
	}
	return &Client{
		http: opts.HTTPClient,
		host: opts.Host,
		base: fmt.Sprintf("http://%s:%d", opts.Host, port),
	}, nil
}

// Host returns the configured network address.
func (c *Client) Host() string {
	return c.host
}

// ControlAddress returns the address zone commands should reference this
// speaker by: the device-reported IP when known, the configured host
// otherwise.
func (c *Client) ControlAddress() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.controlIP != "" {
		return c.controlIP
	}
	return c.host
}

// CachedIdentity returns the memoized identity, if resolved.
// It never performs network I/O.
func (c *Client) CachedIdentity() (Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity == nil {
		return Identity{}, false
	}
	return *c.identity, true
}

// Identity returns the speaker's identity, fetching it on first use.
// The result is memoized on success only, so a failed fetch can be retried.
func (c *Client) Identity(ctx context.Context) (Identity, error) {
	if id, ok := c.CachedIdentity(); ok {
		return id, nil
	}
	if _, err := c.fetchInfo(ctx); err != nil {
		return Identity{}, err
	}
	id, _ := c.CachedIdentity()
	return id, nil
}

// FetchState reads the four state endpoints concurrently and assembles a
// Snapshot. All four reads must succeed; the first failure aborts the fetch
// and no partial snapshot is produced. Overall latency is the slowest of
// the four reads, not their sum.
func (c *Client) FetchState(ctx context.Context) (*Snapshot, error) {
	var (
		info       *infoResponse
		volume     *volumeResponse
		nowPlaying *nowPlayingResponse
		zone       *zoneResponse
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		info, err = c.fetchInfo(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		volume, err = c.fetchVolume(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		nowPlaying, err = c.fetchNowPlaying(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		zone, err = c.fetchZone(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// The zone document lists every member by IP, ourselves included; it is
	// the authoritative place to learn our own control address. Applied
	// here, after the fan-in, so the info read is guaranteed to have
	// completed first.
	c.mu.Lock()
	for _, m := range zone.Members {
		if normalizeMAC(m.DeviceID) == normalizeMAC(info.DeviceID) && m.IPAddress != "" {
			c.controlIP = m.IPAddress
		}
	}
	c.mu.Unlock()

	raw := nowPlaying.rawStatus()
	snapshot := &Snapshot{
		DeviceID:     info.DeviceID,
		Name:         info.Name,
		Model:        info.Type,
		Host:         c.ControlAddress(),
		PowerOn:      powerOn(raw),
		Volume:       volume.Actual,
		TargetVolume: volume.Target,
		Muted:        volume.muted(),
		Status:       NormalizePlayStatus(raw),
		FetchedAt:    time.Now().UTC(),
	}

	snapshot.Source = SourceSelection{
		ContentItem: nowPlaying.ContentItem.toContentItem(),
	}
	if item := snapshot.Source.ContentItem; item != nil {
		snapshot.Source.Source = item.Source
		snapshot.Source.Account = item.Account
	} else if nowPlaying.Source != "" {
		snapshot.Source.Source = nowPlaying.Source
	}

	snapshot.Zone = ZoneState{Master: zone.Master}
	for _, m := range zone.Members {
		member := ZoneMember{IP: m.IPAddress, DeviceID: normalizeMAC(m.DeviceID)}
		if member.DeviceID == "" {
			continue
		}
		snapshot.Zone.Members = append(snapshot.Zone.Members, member)
	}

	return snapshot, nil
}

// SetVolume sets the speaker volume, clamping level to [0,100] before
// transmission. It does not trigger a refresh.
func (c *Client) SetVolume(ctx context.Context, level int) error {
	if level < MinVolume {
		level = MinVolume
	}
	if level > MaxVolume {
		level = MaxVolume
	}
	_, err := c.post(ctx, pathVolume, &volumeCommandXML{Level: strconv.Itoa(level)})
	return err
}

// Power toggles the speaker's power by sending the POWER key press
// immediately followed by its release. Both legs are required: a press
// without a release is ignored by real hardware. If either leg fails, the
// device's actual power state is left for the next poll to reveal.
func (c *Client) Power(ctx context.Context) error {
	if err := c.pressKey(ctx, "POWER", "press"); err != nil {
		return err
	}
	return c.pressKey(ctx, "POWER", "release")
}

func (c *Client) pressKey(ctx context.Context, key, state string) error {
	_, err := c.post(ctx, pathKey, &keyCommandXML{
		State:  state,
		Sender: keySender,
		Value:  key,
	})
	return err
}

// SetZone redefines this speaker's zone as master of the given members.
// The identity must already be resolved; otherwise ErrIdentityUnresolved is
// returned without any network I/O. The speaker itself is always included
// as the first member, per the device protocol.
func (c *Client) SetZone(ctx context.Context, members []ZoneMember) error {
	id, ok := c.CachedIdentity()
	if !ok {
		return ErrIdentityUnresolved
	}

	cmd := &zoneCommandXML{
		Master: id.DeviceID,
		Members: []zoneMemberXML{
			{IPAddress: c.ControlAddress(), DeviceID: id.DeviceID},
		},
	}
	for _, m := range members {
		cmd.Members = append(cmd.Members, zoneMemberXML{IPAddress: m.IP, DeviceID: m.DeviceID})
	}

	_, err := c.post(ctx, pathSetZone, cmd)
	return err
}

// RemoveZoneMember removes one member from the zone this speaker leads.
// Requires a resolved identity, like SetZone.
func (c *Client) RemoveZoneMember(ctx context.Context, member ZoneMember) error {
	id, ok := c.CachedIdentity()
	if !ok {
		return ErrIdentityUnresolved
	}

	cmd := &zoneCommandXML{
		Master:  id.DeviceID,
		Members: []zoneMemberXML{{IPAddress: member.IP, DeviceID: member.DeviceID}},
	}

	_, err := c.post(ctx, pathRemoveZoneSlave, cmd)
	return err
}

func (c *Client) fetchInfo(ctx context.Context) (*infoResponse, error) {
	body, err := c.get(ctx, pathInfo)
	if err != nil {
		return nil, err
	}
	var info infoResponse
	if err := xml.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedResponse, pathInfo, err)
	}
	if info.DeviceID == "" {
		return nil, fmt.Errorf("%w: %s: missing deviceID", ErrMalformedResponse, pathInfo)
	}

	c.mu.Lock()
	if ip := info.controlIP(); ip != "" {
		c.controlIP = ip
	}
	if c.identity == nil {
		c.identity = &Identity{
			DeviceID:       normalizeMAC(info.DeviceID),
			Name:           info.Name,
			Model:          info.Type,
			ControlAddress: c.controlIP,
		}
		if c.identity.ControlAddress == "" {
			c.identity.ControlAddress = c.host
		}
	}
	c.mu.Unlock()

	return &info, nil
}

func (c *Client) fetchVolume(ctx context.Context) (*volumeResponse, error) {
	body, err := c.get(ctx, pathVolume)
	if err != nil {
		return nil, err
	}
	var volume volumeResponse
	if err := xml.Unmarshal(body, &volume); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedResponse, pathVolume, err)
	}
	return &volume, nil
}

func (c *Client) fetchNowPlaying(ctx context.Context) (*nowPlayingResponse, error) {
	body, err := c.get(ctx, pathNowPlaying)
	if err != nil {
		return nil, err
	}
	var nowPlaying nowPlayingResponse
	if err := xml.Unmarshal(body, &nowPlaying); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedResponse, pathNowPlaying, err)
	}
	return &nowPlaying, nil
}

func (c *Client) fetchZone(ctx context.Context) (*zoneResponse, error) {
	body, err := c.get(ctx, pathZone)
	if err != nil {
		return nil, err
	}
	var zone zoneResponse
	if err := xml.Unmarshal(body, &zone); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedResponse, pathZone, err)
	}
	return &zone, nil
}

// get issues a GET request to the given protocol path.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// post marshals payload as XML and issues a POST request.
func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := xml.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding %s request: %w", ErrRequestFailed, path, err)
	}
	return c.do(ctx, http.MethodPost, path, data)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrRequestFailed, method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/xml")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrRequestFailed, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s response: %w", ErrRequestFailed, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s %s: status %d", ErrRequestFailed, method, path, resp.StatusCode)
	}

	if err := deviceFault(data); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return data, nil
}
