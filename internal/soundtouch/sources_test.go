package soundtouch

import (
	"context"
	"strings"
	"testing"
)

func testCatalog() []SourceDescriptor {
	return []SourceDescriptor{
		{Name: "Spotify", Source: "SPOTIFY", Account: "alice"},
		{Name: "Bluetooth", Source: "BLUETOOTH"},
		{Name: "TuneIn", Source: "TUNEIN", Account: "radio"},
	}
}

func TestResolveSource(t *testing.T) {
	tests := []struct {
		name       string
		request    string
		wantSource string
		wantOK     bool
	}{
		{name: "by human name", request: "Spotify", wantSource: "SPOTIFY", wantOK: true},
		{name: "by name case insensitive", request: "spotify", wantSource: "SPOTIFY", wantOK: true},
		{name: "by source key", request: "TUNEIN", wantSource: "TUNEIN", wantOK: true},
		{name: "by source account pair", request: "tunein:radio", wantSource: "TUNEIN", wantOK: true},
		{name: "by account key", request: "alice", wantSource: "SPOTIFY", wantOK: true},
		{name: "no match", request: "AUX", wantOK: false},
		{name: "empty request", request: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ResolveSource(testCatalog(), tt.request)
			if ok != tt.wantOK {
				t.Fatalf("ResolveSource(%q) ok = %v, want %v", tt.request, ok, tt.wantOK)
			}
			if ok && got.Source != tt.wantSource {
				t.Errorf("ResolveSource(%q) = %q, want %q", tt.request, got.Source, tt.wantSource)
			}
		})
	}
}

func TestFallbackContentItem(t *testing.T) {
	tests := []struct {
		name        string
		request     string
		wantSource  string
		wantAccount string
	}{
		{name: "bare source", request: "aux", wantSource: "AUX"},
		{name: "source with account", request: "UPNP:server", wantSource: "UPNP", wantAccount: "server"},
		{name: "empty defaults to aux", request: "", wantSource: "AUX"},
		{name: "bluetooth", request: "bluetooth", wantSource: "BLUETOOTH"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := fallbackContentItem(tt.request)
			if item.Source != tt.wantSource {
				t.Errorf("Source = %q, want %q", item.Source, tt.wantSource)
			}
			if item.Account != tt.wantAccount {
				t.Errorf("Account = %q, want %q", item.Account, tt.wantAccount)
			}
		})
	}
}

func TestSources_FiltersUnavailable(t *testing.T) {
	stub := newSpeakerStub(t)
	client := stub.client(t)

	catalog, err := client.Sources(context.Background())
	if err != nil {
		t.Fatalf("Sources() error = %v", err)
	}

	if len(catalog) != 2 {
		t.Fatalf("len(catalog) = %d, want 2 (UNAVAILABLE entry filtered)", len(catalog))
	}
	for _, d := range catalog {
		if d.Source == "UPNP" {
			t.Error("unavailable source present in catalog")
		}
	}
}

func TestSelectSource_CatalogMatch(t *testing.T) {
	stub := newSpeakerStub(t)
	client := stub.client(t)

	if err := client.SelectSource(context.Background(), "Spotify"); err != nil {
		t.Fatalf("SelectSource() error = %v", err)
	}

	posts := stub.recorded(pathSelect)
	if len(posts) != 1 {
		t.Fatalf("got %d select writes, want 1", len(posts))
	}
	body := posts[0].Body
	if !strings.Contains(body, `source="SPOTIFY"`) || !strings.Contains(body, `sourceAccount="alice"`) {
		t.Errorf("select body = %q, want resolved catalog pair", body)
	}
}

func TestSelectSource_RawFallback(t *testing.T) {
	stub := newSpeakerStub(t)
	client := stub.client(t)

	if err := client.SelectSource(context.Background(), "upnp:server"); err != nil {
		t.Fatalf("SelectSource() error = %v", err)
	}

	posts := stub.recorded(pathSelect)
	if len(posts) != 1 {
		t.Fatalf("got %d select writes, want 1", len(posts))
	}
	body := posts[0].Body
	if !strings.Contains(body, `source="UPNP"`) || !strings.Contains(body, `sourceAccount="server"`) {
		t.Errorf("select body = %q, want raw pass-through pair", body)
	}
}

func TestSelectSource_BluetoothEmptyAccount(t *testing.T) {
	stub := newSpeakerStub(t)
	client := stub.client(t)

	if err := client.SelectDescriptor(context.Background(), SourceDescriptor{
		Name:   "Bluetooth",
		Source: "BLUETOOTH",
	}); err != nil {
		t.Fatalf("SelectDescriptor() error = %v", err)
	}

	posts := stub.recorded(pathSelect)
	if len(posts) != 1 {
		t.Fatalf("got %d select writes, want 1", len(posts))
	}
	if !strings.Contains(posts[0].Body, `sourceAccount=""`) {
		t.Errorf("select body = %q, want explicit empty sourceAccount for BLUETOOTH", posts[0].Body)
	}
}

func TestSelectSource_CatalogUnavailableFallsThrough(t *testing.T) {
	stub := newSpeakerStub(t)
	stub.fail(pathSources, 500)
	client := stub.client(t)

	if err := client.SelectSource(context.Background(), "aux"); err != nil {
		t.Fatalf("SelectSource() error = %v", err)
	}

	posts := stub.recorded(pathSelect)
	if len(posts) != 1 {
		t.Fatalf("got %d select writes, want 1", len(posts))
	}
	if !strings.Contains(posts[0].Body, `source="AUX"`) {
		t.Errorf("select body = %q, want AUX fallback", posts[0].Body)
	}
}
