package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// RecordPoll records one poll cycle. The polling coordinator calls this
// after every state fetch, successful or not; the point is buffered and
// sent asynchronously.
func (c *Client) RecordPoll(speakerID string, duration time.Duration, err error) {
	if !c.IsConnected() {
		return
	}
	success := "true"
	if err != nil {
		success = "false"
	}
	c.writeAPI.WritePoint(write.NewPoint("poll",
		map[string]string{"speaker_id": speakerID, "success": success},
		map[string]interface{}{
			"duration_ms": float64(duration) / float64(time.Millisecond),
		},
		time.Now()))
}

// WritePlaybackMetric records a speaker's playback state. Written on
// observed transitions rather than at a fixed sample rate.
func (c *Client) WritePlaybackMetric(speakerID string, volume int, playing bool) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint("playback",
		map[string]string{"speaker_id": speakerID},
		map[string]interface{}{"volume": volume, "playing": playing},
		time.Now()))
}

// WriteZoneMetric records the fleet's grouping state.
func (c *Client) WriteZoneMetric(zoneCount int, groupedSpeakers int) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint("zones",
		nil,
		map[string]interface{}{
			"zone_count":       zoneCount,
			"grouped_speakers": groupedSpeakers,
		},
		time.Now()))
}
