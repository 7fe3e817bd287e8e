package soundtouch

import (
	"testing"
	"time"
)

func testSnapshot() *Snapshot {
	target := 70
	return &Snapshot{
		DeviceID:     "AA:BB:CC:11:22:33",
		Name:         "Living Room",
		Model:        "SoundTouch 20",
		Host:         "192.168.1.40",
		PowerOn:      true,
		Volume:       70,
		TargetVolume: &target,
		Source:       SourceSelection{Source: "SPOTIFY", Account: "alice"},
		Status:       StatusPlaying,
		Zone: ZoneState{
			Master: "AA:BB:CC:11:22:33",
			Members: []ZoneMember{
				{IP: "192.168.1.40", DeviceID: "aa:bb:cc:11:22:33"},
				{IP: "192.168.1.41", DeviceID: "dd:ee:ff:44:55:66"},
			},
		},
		FetchedAt: time.Now().UTC(),
	}
}

func TestSnapshot_Equal_IgnoresFetchTime(t *testing.T) {
	a := testSnapshot()
	b := testSnapshot()
	b.FetchedAt = b.FetchedAt.Add(time.Minute)

	if !a.Equal(b) {
		t.Error("snapshots with identical logical content should be equal regardless of fetch time")
	}
}

func TestSnapshot_Equal_DetectsChanges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Snapshot)
	}{
		{name: "volume", mutate: func(s *Snapshot) { s.Volume = 30 }},
		{name: "status", mutate: func(s *Snapshot) { s.Status = StatusPaused }},
		{name: "power", mutate: func(s *Snapshot) { s.PowerOn = false }},
		{name: "mute", mutate: func(s *Snapshot) { s.Muted = true }},
		{name: "source", mutate: func(s *Snapshot) { s.Source.Source = "BLUETOOTH" }},
		{name: "target volume absent", mutate: func(s *Snapshot) { s.TargetVolume = nil }},
		{name: "zone master", mutate: func(s *Snapshot) { s.Zone.Master = "dd:ee:ff:44:55:66" }},
		{name: "zone member added", mutate: func(s *Snapshot) {
			s.Zone.Members = append(s.Zone.Members, ZoneMember{DeviceID: "11:22:33:44:55:66"})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := testSnapshot()
			b := testSnapshot()
			tt.mutate(b)
			if a.Equal(b) {
				t.Error("mutated snapshot compared equal")
			}
		})
	}
}

func TestZoneState_Equal_OrderIndependent(t *testing.T) {
	a := ZoneState{
		Master: "AA:BB:CC:11:22:33",
		Members: []ZoneMember{
			{DeviceID: "dd:ee:ff:44:55:66"},
			{DeviceID: "11:22:33:aa:bb:cc"},
		},
	}
	b := ZoneState{
		Master: "aa:bb:cc:11:22:33",
		Members: []ZoneMember{
			{DeviceID: "11:22:33:AA:BB:CC", IP: "10.0.0.5"},
			{DeviceID: "DD:EE:FF:44:55:66"},
		},
	}

	if !a.Equal(b) {
		t.Error("zone states with the same member set should be equal regardless of order, case, or IPs")
	}
}

func TestZoneState_Equal_DifferentMembers(t *testing.T) {
	a := ZoneState{Master: "aa", Members: []ZoneMember{{DeviceID: "bb"}}}
	b := ZoneState{Master: "aa", Members: []ZoneMember{{DeviceID: "cc"}}}

	if a.Equal(b) {
		t.Error("zone states with different members compared equal")
	}
}

func TestZoneState_Equal_Ungrouped(t *testing.T) {
	a := ZoneState{}
	b := ZoneState{}
	if !a.Equal(b) {
		t.Error("two ungrouped zone states should be equal")
	}

	c := ZoneState{Master: "aa:bb:cc:11:22:33"}
	if a.Equal(c) {
		t.Error("ungrouped should not equal a mastered zone")
	}
}

func TestSnapshot_IsMaster(t *testing.T) {
	s := testSnapshot()
	if !s.IsMaster() {
		t.Error("IsMaster() = false for a snapshot whose zone master is itself")
	}

	s.Zone.Master = "dd:ee:ff:44:55:66"
	if s.IsMaster() {
		t.Error("IsMaster() = true when another speaker leads the zone")
	}

	s.Zone = ZoneState{}
	if s.IsMaster() {
		t.Error("IsMaster() = true for an ungrouped speaker")
	}
}
