// Package soundtouch implements the XML-over-HTTP control protocol spoken
// by SoundTouch-family multi-room speakers.
//
// Each Client talks to one speaker on its local control port (8090). Reads
// cover device info, volume, now-playing, zone topology, and the source
// catalog; writes cover volume, power key presses, source selection, and
// zone mutations. FetchState performs the four state reads concurrently and
// assembles an immutable Snapshot, failing wholesale if any read fails.
//
// The client holds no playback state between calls. Polling cadence, stale
// state handling, and change notification live in the fleet package; zone
// reconciliation lives in the zone package.
//
// # Identity
//
// Zone commands reference speakers by hardware address, not IP, so the
// device identity must be resolved (once) before any zone mutation.
// SetZone and RemoveZoneMember return ErrIdentityUnresolved rather than
// fetching it implicitly; the caller controls when that network round-trip
// happens.
//
// # Errors
//
// ErrRequestFailed, ErrMalformedResponse, and ErrDeviceFault form the
// recoverable protocol-error family (see IsProtocolError); all are safe to
// retry on the next poll cycle. Speakers report faults as an <errors>
// payload inside an HTTP 200 response, which the client surfaces as
// ErrDeviceFault.
package soundtouch
