package soundtouch

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
)

// Wire protocol documents. The speaker speaks XML over HTTP on a fixed set
// of paths; these structs mirror the request and response bodies.

// Read paths.
const (
	pathInfo       = "/info"
	pathVolume     = "/volume"
	pathNowPlaying = "/now_playing"
	pathZone       = "/getZone"
	pathSources    = "/sources"
)

// Write paths.
const (
	pathSelect          = "/select"
	pathKey             = "/key"
	pathSetZone         = "/setZone"
	pathRemoveZoneSlave = "/removeZoneSlave"
)

// keySender identifies this controller in key press commands.
const keySender = "soundweave"

type infoResponse struct {
	XMLName     xml.Name `xml:"info"`
	DeviceID    string   `xml:"deviceID,attr"`
	Name        string   `xml:"name"`
	Type        string   `xml:"type"`
	NetworkInfo []struct {
		IPAddress string `xml:"ipAddress"`
	} `xml:"networkInfo"`
}

// controlIP returns the first IP address the speaker reports for itself.
func (r *infoResponse) controlIP() string {
	for _, ni := range r.NetworkInfo {
		if ip := strings.TrimSpace(ni.IPAddress); ip != "" {
			return ip
		}
	}
	return ""
}

type volumeResponse struct {
	XMLName xml.Name `xml:"volume"`
	Target  *int     `xml:"targetvolume"`
	Actual  int      `xml:"actualvolume"`
	// Firmware revisions disagree on the mute element name.
	MuteEnabled bool `xml:"muteenabled"`
	Mute        bool `xml:"mute"`
}

// muted folds the two mute spellings into one flag.
func (r *volumeResponse) muted() bool {
	return r.MuteEnabled || r.Mute
}

type nowPlayingResponse struct {
	XMLName     xml.Name        `xml:"nowPlaying"`
	Source      string          `xml:"source,attr"`
	ContentItem *contentItemXML `xml:"ContentItem"`
	PlayStatus  string          `xml:"playStatus"`
	Status      string          `xml:"status"`
}

// rawStatus returns the raw playback status, preferring playStatus over the
// legacy status element.
func (r *nowPlayingResponse) rawStatus() string {
	if r.PlayStatus != "" {
		return r.PlayStatus
	}
	return r.Status
}

type zoneResponse struct {
	XMLName xml.Name        `xml:"zone"`
	Master  string          `xml:"master,attr"`
	Members []zoneMemberXML `xml:"member"`
}

type zoneMemberXML struct {
	XMLName   xml.Name `xml:"member"`
	IPAddress string   `xml:"ipaddress,attr"`
	DeviceID  string   `xml:",chardata"`
}

type sourcesResponse struct {
	XMLName xml.Name        `xml:"sources"`
	Items   []sourceItemXML `xml:"sourceItem"`
}

type sourceItemXML struct {
	Source        string `xml:"source,attr"`
	SourceAccount string `xml:"sourceAccount,attr"`
	Status        string `xml:"status,attr"`
	ContentType   string `xml:"type,attr"`
	Location      string `xml:"location,attr"`
	IsPresetable  string `xml:"isPresetable,attr"`
	Name          string `xml:",chardata"`
}

type contentItemXML struct {
	XMLName xml.Name `xml:"ContentItem"`
	Source  string   `xml:"source,attr,omitempty"`
	// Account is a pointer so an explicit empty sourceAccount attribute can
	// be emitted (required for BLUETOOTH selection) while omitting it
	// entirely when absent.
	Account    *string `xml:"sourceAccount,attr"`
	Type       string  `xml:"type,attr,omitempty"`
	Location   string  `xml:"location,attr,omitempty"`
	Presetable string  `xml:"isPresetable,attr,omitempty"`
	ItemName   string  `xml:"itemName,omitempty"`
}

func (x *contentItemXML) toContentItem() *ContentItem {
	if x == nil {
		return nil
	}
	item := &ContentItem{
		Source:     x.Source,
		Type:       x.Type,
		Location:   x.Location,
		Presetable: strings.EqualFold(x.Presetable, "true"),
		Name:       strings.TrimSpace(x.ItemName),
	}
	if x.Account != nil {
		item.Account = *x.Account
	}
	return item
}

func contentItemToXML(item ContentItem) *contentItemXML {
	x := &contentItemXML{
		Source:   item.Source,
		Type:     item.Type,
		Location: item.Location,
		ItemName: item.Name,
	}
	if item.Account != "" || item.Source == sourceBluetooth {
		account := item.Account
		x.Account = &account
	}
	if item.Presetable {
		x.Presetable = "true"
	}
	return x
}

type volumeCommandXML struct {
	XMLName xml.Name `xml:"volume"`
	Level   string   `xml:",chardata"`
}

type keyCommandXML struct {
	XMLName xml.Name `xml:"key"`
	State   string   `xml:"state,attr"`
	Sender  string   `xml:"sender,attr"`
	Value   string   `xml:",chardata"`
}

type zoneCommandXML struct {
	XMLName xml.Name        `xml:"zone"`
	Master  string          `xml:"master,attr"`
	Members []zoneMemberXML `xml:"member"`
}

// deviceFault scans a response body for an <errors> element, either as the
// document root or as a direct child of it. Speakers report faults inside
// an HTTP 200 response, so status codes alone are not enough.
func deviceFault(body []byte) error {
	decoder := xml.NewDecoder(bytes.NewReader(body))
	depth := 0
	for {
		token, err := decoder.Token()
		if err != nil {
			return nil
		}
		switch t := token.(type) {
		case xml.StartElement:
			depth++
			if t.Name.Local == "errors" {
				var fault struct {
					Messages []string `xml:"error"`
				}
				if decodeErr := decoder.DecodeElement(&fault, &t); decodeErr == nil && len(fault.Messages) > 0 {
					return fmt.Errorf("%w: %s", ErrDeviceFault, strings.Join(fault.Messages, "; "))
				}
				return ErrDeviceFault
			}
			// Only the root and its direct children can carry the fault
			// payload; skip deeper subtrees wholesale.
			if depth == 2 {
				if err := decoder.Skip(); err != nil {
					return nil
				}
				depth--
			}
		case xml.EndElement:
			depth--
		}
	}
}
