package soundtouch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
)

const (
	testInfoXML = `<?xml version="1.0" encoding="UTF-8" ?>
<info deviceID="AA:BB:CC:11:22:33">
  <name>Living Room</name>
  <type>SoundTouch 20</type>
  <networkInfo><ipAddress>192.168.1.40</ipAddress></networkInfo>
</info>`

	testVolumeXML = `<?xml version="1.0" encoding="UTF-8" ?>
<volume deviceID="AA:BB:CC:11:22:33">
  <targetvolume>70</targetvolume>
  <actualvolume>70</actualvolume>
  <muteenabled>false</muteenabled>
</volume>`

	testNowPlayingXML = `<?xml version="1.0" encoding="UTF-8" ?>
<nowPlaying deviceID="AA:BB:CC:11:22:33" source="SPOTIFY">
  <ContentItem source="SPOTIFY" sourceAccount="alice" isPresetable="true">
    <itemName>Morning Mix</itemName>
  </ContentItem>
  <playStatus>PLAY_STATE</playStatus>
</nowPlaying>`

	testZoneXML = `<?xml version="1.0" encoding="UTF-8" ?>
<zone master="AA:BB:CC:11:22:33">
  <member ipaddress="192.168.1.40">AA:BB:CC:11:22:33</member>
  <member ipaddress="192.168.1.41">DD:EE:FF:44:55:66</member>
</zone>`

	testSourcesXML = `<?xml version="1.0" encoding="UTF-8" ?>
<sources deviceID="AA:BB:CC:11:22:33">
  <sourceItem source="SPOTIFY" sourceAccount="alice" status="READY" isPresetable="true">Spotify</sourceItem>
  <sourceItem source="BLUETOOTH" status="READY">Bluetooth</sourceItem>
  <sourceItem source="UPNP" sourceAccount="server" status="UNAVAILABLE">Media Server</sourceItem>
</sources>`
)

// speakerStub is an httptest-backed fake speaker. It serves canned XML for
// read paths and records write requests for assertions.
type speakerStub struct {
	t *testing.T

	mu        sync.Mutex
	requests  []recordedRequest
	responses map[string]string
	failPaths map[string]int // path -> status code to fail with

	server *httptest.Server
}

type recordedRequest struct {
	Method string
	Path   string
	Body   string
}

func newSpeakerStub(t *testing.T) *speakerStub {
	t.Helper()
	s := &speakerStub{
		t: t,
		responses: map[string]string{
			pathInfo:       testInfoXML,
			pathVolume:     testVolumeXML,
			pathNowPlaying: testNowPlayingXML,
			pathZone:       testZoneXML,
			pathSources:    testSourcesXML,
		},
		failPaths: make(map[string]int),
	}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.server.Close)
	return s
}

func (s *speakerStub) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	s.requests = append(s.requests, recordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Body:   string(body),
	})
	status, failed := s.failPaths[r.URL.Path]
	response := s.responses[r.URL.Path]
	s.mu.Unlock()

	if failed {
		w.WriteHeader(status)
		return
	}
	if response == "" {
		response = `<?xml version="1.0" encoding="UTF-8" ?><status>ok</status>`
	}
	w.Header().Set("Content-Type", "text/xml")
	io.WriteString(w, response)
}

func (s *speakerStub) fail(path string, status int) {
	s.mu.Lock()
	s.failPaths[path] = status
	s.mu.Unlock()
}

func (s *speakerStub) setResponse(path, body string) {
	s.mu.Lock()
	s.responses[path] = body
	s.mu.Unlock()
}

func (s *speakerStub) recorded(path string) []recordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []recordedRequest
	for _, r := range s.requests {
		if r.Path == path {
			matched = append(matched, r)
		}
	}
	return matched
}

func (s *speakerStub) requestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *speakerStub) client(t *testing.T) *Client {
	t.Helper()
	u, err := url.Parse(s.server.URL)
	if err != nil {
		t.Fatalf("parsing stub URL: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parsing stub port: %v", err)
	}
	c, err := NewClient(ClientOptions{
		Host:       u.Hostname(),
		Port:       port,
		HTTPClient: s.server.Client(),
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}

func TestFetchState_AssemblesSnapshot(t *testing.T) {
	stub := newSpeakerStub(t)
	client := stub.client(t)

	snapshot, err := client.FetchState(context.Background())
	if err != nil {
		t.Fatalf("FetchState() error = %v", err)
	}

	if snapshot.DeviceID != "AA:BB:CC:11:22:33" {
		t.Errorf("DeviceID = %q", snapshot.DeviceID)
	}
	if snapshot.Name != "Living Room" {
		t.Errorf("Name = %q", snapshot.Name)
	}
	if snapshot.Volume != 70 {
		t.Errorf("Volume = %d, want 70", snapshot.Volume)
	}
	if snapshot.TargetVolume == nil || *snapshot.TargetVolume != 70 {
		t.Errorf("TargetVolume = %v, want 70", snapshot.TargetVolume)
	}
	if snapshot.Muted {
		t.Error("Muted = true, want false")
	}
	if snapshot.Status != StatusPlaying {
		t.Errorf("Status = %q, want %q (raw PLAY_STATE)", snapshot.Status, StatusPlaying)
	}
	if !snapshot.PowerOn {
		t.Error("PowerOn = false, want true")
	}
	if snapshot.Source.Source != "SPOTIFY" || snapshot.Source.Account != "alice" {
		t.Errorf("Source = %+v", snapshot.Source)
	}
	if snapshot.Source.ContentItem == nil || snapshot.Source.ContentItem.Name != "Morning Mix" {
		t.Errorf("ContentItem = %+v", snapshot.Source.ContentItem)
	}
	if !snapshot.IsMaster() {
		t.Error("IsMaster() = false, want true")
	}
	if len(snapshot.Zone.Members) != 2 {
		t.Fatalf("len(Zone.Members) = %d, want 2", len(snapshot.Zone.Members))
	}
	if snapshot.Zone.Members[1].DeviceID != "dd:ee:ff:44:55:66" {
		t.Errorf("Zone.Members[1].DeviceID = %q", snapshot.Zone.Members[1].DeviceID)
	}
}

func TestFetchState_OneReadFails(t *testing.T) {
	stub := newSpeakerStub(t)
	stub.fail(pathZone, http.StatusInternalServerError)
	client := stub.client(t)

	snapshot, err := client.FetchState(context.Background())
	if err == nil {
		t.Fatal("FetchState() expected error when one read fails")
	}
	if snapshot != nil {
		t.Error("FetchState() returned a partial snapshot on failure")
	}
	if !IsProtocolError(err) {
		t.Errorf("error %v is not a protocol error", err)
	}
}

func TestFetchState_MalformedResponse(t *testing.T) {
	stub := newSpeakerStub(t)
	stub.setResponse(pathVolume, "not xml at all <<")
	client := stub.client(t)

	_, err := client.FetchState(context.Background())
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("FetchState() error = %v, want ErrMalformedResponse", err)
	}
}

func TestFetchState_DeviceFault(t *testing.T) {
	stub := newSpeakerStub(t)
	stub.setResponse(pathNowPlaying,
		`<?xml version="1.0"?><errors deviceID="AA:BB:CC:11:22:33"><error value="409" name="HTTP_STATUS_CONFLICT" severity="Unknown">request not supported while device is in standby</error></errors>`)
	client := stub.client(t)

	_, err := client.FetchState(context.Background())
	if !errors.Is(err, ErrDeviceFault) {
		t.Fatalf("FetchState() error = %v, want ErrDeviceFault", err)
	}
	if !strings.Contains(err.Error(), "standby") {
		t.Errorf("error should carry the device message, got %v", err)
	}
}

func TestIdentity_MemoizedOnSuccess(t *testing.T) {
	stub := newSpeakerStub(t)
	client := stub.client(t)

	id, err := client.Identity(context.Background())
	if err != nil {
		t.Fatalf("Identity() error = %v", err)
	}
	if id.DeviceID != "aa:bb:cc:11:22:33" {
		t.Errorf("DeviceID = %q", id.DeviceID)
	}
	if id.ControlAddress != "192.168.1.40" {
		t.Errorf("ControlAddress = %q, want device-reported IP", id.ControlAddress)
	}

	// Second call must not touch the network.
	before := stub.requestCount()
	if _, err := client.Identity(context.Background()); err != nil {
		t.Fatalf("Identity() second call error = %v", err)
	}
	if stub.requestCount() != before {
		t.Error("Identity() re-fetched despite memoized result")
	}
}

func TestIdentity_FailureIsRetryable(t *testing.T) {
	stub := newSpeakerStub(t)
	stub.fail(pathInfo, http.StatusBadGateway)
	client := stub.client(t)

	if _, err := client.Identity(context.Background()); err == nil {
		t.Fatal("Identity() expected error")
	}

	// Device recovers; the failed attempt must not have been memoized.
	stub.mu.Lock()
	delete(stub.failPaths, pathInfo)
	stub.mu.Unlock()

	id, err := client.Identity(context.Background())
	if err != nil {
		t.Fatalf("Identity() after recovery error = %v", err)
	}
	if id.DeviceID == "" {
		t.Error("Identity() returned empty DeviceID after recovery")
	}
}

func TestSetVolume_Clamps(t *testing.T) {
	tests := []struct {
		name  string
		level int
		want  string
	}{
		{name: "above maximum", level: 150, want: "100"},
		{name: "below minimum", level: -10, want: "0"},
		{name: "in range", level: 42, want: "42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := newSpeakerStub(t)
			client := stub.client(t)

			if err := client.SetVolume(context.Background(), tt.level); err != nil {
				t.Fatalf("SetVolume() error = %v", err)
			}

			posts := stub.recorded(pathVolume)
			if len(posts) != 1 {
				t.Fatalf("got %d volume writes, want 1", len(posts))
			}
			if !strings.Contains(posts[0].Body, ">"+tt.want+"<") {
				t.Errorf("volume body = %q, want level %s", posts[0].Body, tt.want)
			}
		})
	}
}

func TestPower_PressThenRelease(t *testing.T) {
	stub := newSpeakerStub(t)
	client := stub.client(t)

	if err := client.Power(context.Background()); err != nil {
		t.Fatalf("Power() error = %v", err)
	}

	presses := stub.recorded(pathKey)
	if len(presses) != 2 {
		t.Fatalf("got %d key commands, want 2", len(presses))
	}
	if !strings.Contains(presses[0].Body, `state="press"`) {
		t.Errorf("first leg body = %q, want press", presses[0].Body)
	}
	if !strings.Contains(presses[1].Body, `state="release"`) {
		t.Errorf("second leg body = %q, want release", presses[1].Body)
	}
	for _, p := range presses {
		if !strings.Contains(p.Body, "POWER") {
			t.Errorf("key body = %q, want POWER", p.Body)
		}
	}
}

func TestPower_PressFailureSkipsRelease(t *testing.T) {
	stub := newSpeakerStub(t)
	stub.fail(pathKey, http.StatusInternalServerError)
	client := stub.client(t)

	if err := client.Power(context.Background()); err == nil {
		t.Fatal("Power() expected error when press fails")
	}
	if got := len(stub.recorded(pathKey)); got != 1 {
		t.Errorf("got %d key commands after failed press, want 1", got)
	}
}

func TestSetZone_RequiresResolvedIdentity(t *testing.T) {
	stub := newSpeakerStub(t)
	client := stub.client(t)

	err := client.SetZone(context.Background(), []ZoneMember{
		{IP: "192.168.1.41", DeviceID: "dd:ee:ff:44:55:66"},
	})
	if !errors.Is(err, ErrIdentityUnresolved) {
		t.Fatalf("SetZone() error = %v, want ErrIdentityUnresolved", err)
	}
	if stub.requestCount() != 0 {
		t.Errorf("SetZone() issued %d network calls before identity resolution, want 0", stub.requestCount())
	}

	err = client.RemoveZoneMember(context.Background(), ZoneMember{
		IP: "192.168.1.41", DeviceID: "dd:ee:ff:44:55:66",
	})
	if !errors.Is(err, ErrIdentityUnresolved) {
		t.Fatalf("RemoveZoneMember() error = %v, want ErrIdentityUnresolved", err)
	}
	if stub.requestCount() != 0 {
		t.Errorf("RemoveZoneMember() issued network calls before identity resolution")
	}
}

func TestSetZone_IncludesSelfAsFirstMember(t *testing.T) {
	stub := newSpeakerStub(t)
	client := stub.client(t)

	if _, err := client.Identity(context.Background()); err != nil {
		t.Fatalf("Identity() error = %v", err)
	}

	err := client.SetZone(context.Background(), []ZoneMember{
		{IP: "192.168.1.41", DeviceID: "dd:ee:ff:44:55:66"},
	})
	if err != nil {
		t.Fatalf("SetZone() error = %v", err)
	}

	posts := stub.recorded(pathSetZone)
	if len(posts) != 1 {
		t.Fatalf("got %d setZone writes, want 1", len(posts))
	}
	body := posts[0].Body
	if !strings.Contains(body, `master="aa:bb:cc:11:22:33"`) {
		t.Errorf("setZone body = %q, want master attribute", body)
	}
	selfIdx := strings.Index(body, "aa:bb:cc:11:22:33</member>")
	memberIdx := strings.Index(body, "dd:ee:ff:44:55:66</member>")
	if selfIdx == -1 || memberIdx == -1 || selfIdx > memberIdx {
		t.Errorf("setZone body = %q, want self listed before members", body)
	}
}

func TestRemoveZoneMember_SingleMemberPayload(t *testing.T) {
	stub := newSpeakerStub(t)
	client := stub.client(t)

	if _, err := client.Identity(context.Background()); err != nil {
		t.Fatalf("Identity() error = %v", err)
	}

	err := client.RemoveZoneMember(context.Background(), ZoneMember{
		IP: "192.168.1.41", DeviceID: "dd:ee:ff:44:55:66",
	})
	if err != nil {
		t.Fatalf("RemoveZoneMember() error = %v", err)
	}

	posts := stub.recorded(pathRemoveZoneSlave)
	if len(posts) != 1 {
		t.Fatalf("got %d removeZoneSlave writes, want 1", len(posts))
	}
	if strings.Contains(posts[0].Body, "aa:bb:cc:11:22:33</member>") {
		t.Errorf("removal payload should not list the master itself: %q", posts[0].Body)
	}
}

func TestControlAddress_LearnedFromZoneRead(t *testing.T) {
	stub := newSpeakerStub(t)
	stub.setResponse(pathInfo, `<?xml version="1.0"?>
<info deviceID="AA:BB:CC:11:22:33"><name>Living Room</name><type>SoundTouch 20</type></info>`)
	stub.setResponse(pathZone, `<?xml version="1.0"?>
<zone master="AA:BB:CC:11:22:33">
  <member ipaddress="10.0.0.9">AA:BB:CC:11:22:33</member>
</zone>`)
	client := stub.client(t)

	if _, err := client.FetchState(context.Background()); err != nil {
		t.Fatalf("FetchState() error = %v", err)
	}
	if got := client.ControlAddress(); got != "10.0.0.9" {
		t.Errorf("ControlAddress() = %q, want 10.0.0.9 learned from zone read", got)
	}
}

func TestFetchState_MuteElementVariants(t *testing.T) {
	tests := []struct {
		name      string
		volumeXML string
		want      bool
	}{
		{
			name: "muteenabled element",
			volumeXML: `<volume>
  <actualvolume>70</actualvolume>
  <muteenabled>true</muteenabled>
</volume>`,
			want: true,
		},
		{
			name: "mute element",
			volumeXML: `<volume>
  <actualvolume>70</actualvolume>
  <mute>true</mute>
</volume>`,
			want: true,
		},
		{
			name:      "unmuted",
			volumeXML: testVolumeXML,
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := newSpeakerStub(t)
			stub.setResponse(pathVolume, tt.volumeXML)
			client := stub.client(t)

			snapshot, err := client.FetchState(context.Background())
			if err != nil {
				t.Fatalf("FetchState() error = %v", err)
			}
			if snapshot.Muted != tt.want {
				t.Errorf("Muted = %v, want %v", snapshot.Muted, tt.want)
			}
		})
	}
}
